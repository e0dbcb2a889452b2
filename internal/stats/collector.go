package stats

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates counters for one capture pipeline.
type Collector struct {
	StartTime time.Time
	EndTime   time.Time

	Frames           uint64 // frames read from the capture container
	Filtered         uint64 // frames rejected by the port prefilter
	NonUDP           uint64 // frames that were not Ethernet/IPv4/UDP
	Datagrams        uint64 // UDP datagrams handed to the BCUDP decoder
	UnknownMagic     uint64
	Undecodable      uint64 // magic matched but the header was short
	LengthMismatches uint64
	Truncated        bool

	KindCounts map[string]uint64

	mu sync.Mutex
}

// NewCollector creates a new statistics collector.
func NewCollector() *Collector {
	return &Collector{
		StartTime:  time.Now(),
		KindCounts: make(map[string]uint64),
	}
}

// RecordFrame records a frame read from the container.
func (c *Collector) RecordFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames++
}

// RecordFiltered records a frame dropped by the prefilter.
func (c *Collector) RecordFiltered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Filtered++
}

// RecordNonUDP records a frame that carried no IPv4/UDP datagram.
func (c *Collector) RecordNonUDP() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NonUDP++
}

// RecordDatagram records a UDP datagram reaching the BCUDP decoder.
func (c *Collector) RecordDatagram() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Datagrams++
}

// RecordUnknownMagic records a datagram that is not BCUDP.
func (c *Collector) RecordUnknownMagic() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UnknownMagic++
}

// RecordUndecodable records a BCUDP datagram with a short header.
func (c *Collector) RecordUndecodable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Undecodable++
}

// RecordPacket records a decoded BCUDP packet of the given kind.
func (c *Collector) RecordPacket(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.KindCounts[kind]++
}

// RecordReader copies the container reader's warnings into the collector.
func (c *Collector) RecordReader(truncated bool, mismatches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Truncated = truncated
	c.LengthMismatches = uint64(mismatches)
}

// Finish marks the end of the collection period.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
}

// Duration returns the elapsed processing time.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// TotalPackets returns the number of decoded BCUDP packets.
func (c *Collector) TotalPackets() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, n := range c.KindCounts {
		total += n
	}
	return total
}

// Kinds returns the recorded kind names in sorted order.
func (c *Collector) Kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.KindCounts))
	for name := range c.KindCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot is a point-in-time copy of a Collector's counters.
type Snapshot struct {
	Frames           uint64            `json:"frames" yaml:"frames"`
	Filtered         uint64            `json:"filtered" yaml:"filtered"`
	NonUDP           uint64            `json:"non_udp" yaml:"non_udp"`
	Datagrams        uint64            `json:"datagrams" yaml:"datagrams"`
	UnknownMagic     uint64            `json:"unknown_magic" yaml:"unknown_magic"`
	Undecodable      uint64            `json:"undecodable" yaml:"undecodable"`
	LengthMismatches uint64            `json:"length_mismatches" yaml:"length_mismatches"`
	Truncated        bool              `json:"truncated" yaml:"truncated"`
	Packets          map[string]uint64 `json:"packets" yaml:"packets"`
	ElapsedMs        float64           `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// Snapshot returns a copy of the current statistics (thread-safe).
func (c *Collector) Snapshot() Snapshot {
	elapsed := c.Duration()

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Frames:           c.Frames,
		Filtered:         c.Filtered,
		NonUDP:           c.NonUDP,
		Datagrams:        c.Datagrams,
		UnknownMagic:     c.UnknownMagic,
		Undecodable:      c.Undecodable,
		LengthMismatches: c.LengthMismatches,
		Truncated:        c.Truncated,
		Packets:          make(map[string]uint64, len(c.KindCounts)),
		ElapsedMs:        float64(elapsed) / float64(time.Millisecond),
	}
	for k, v := range c.KindCounts {
		snap.Packets[k] = v
	}
	return snap
}
