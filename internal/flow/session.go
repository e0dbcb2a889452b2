// Package flow turns the decoded BCUDP packets of one capture into a Session:
// the ordered packet sequence partitioned by direction and kind, with per
// stream rate, gap and timing statistics.
package flow

import (
	"fmt"
	"time"

	"bcudp-compare/internal/bcudp"
	"bcudp-compare/internal/stats"
	"bcudp-compare/pkg/types"
)

// Direction tells which endpoint sent a packet, relative to the local subnet
// predicate.
type Direction int

const (
	FromLocal Direction = iota + 1
	FromRemote
)

// Directions lists every direction in report order.
var Directions = [...]Direction{FromLocal, FromRemote}

func (d Direction) String() string {
	switch d {
	case FromLocal:
		return "from_local"
	case FromRemote:
		return "from_remote"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Record is a datagram with its decoded BCUDP packet, the input of Build.
type Record struct {
	Datagram types.Datagram
	Packet   bcudp.Packet
}

// Entry is one packet of a Session.
type Entry struct {
	Index     int
	Datagram  types.Datagram
	Packet    bcudp.Packet
	Direction Direction
}

// Kind returns the packet's variant.
func (e Entry) Kind() bcudp.Kind { return e.Packet.Kind() }

// Gap is an inclusive range of missing packet ids.
type Gap struct {
	From uint32 `json:"from" yaml:"from"`
	To   uint32 `json:"to" yaml:"to"`
}

// Size returns the number of missing ids.
func (g Gap) Size() uint64 { return uint64(g.To) - uint64(g.From) + 1 }

func (g Gap) String() string {
	if g.From == g.To {
		return fmt.Sprintf("%d", g.From)
	}
	return fmt.Sprintf("%d..%d", g.From, g.To)
}

// Timing summarizes inter-arrival times of a stream, in seconds.
type Timing struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	P50    float64 `json:"p50" yaml:"p50"`
	P95    float64 `json:"p95" yaml:"p95"`
	Max    float64 `json:"max" yaml:"max"`
}

// StreamStats describes the packets of one kind sent in one direction.
type StreamStats struct {
	Direction   Direction  `json:"direction" yaml:"direction"`
	Kind        bcudp.Kind `json:"kind" yaml:"kind"`
	Count       int        `json:"count" yaml:"count"`
	First       time.Time  `json:"first" yaml:"first,omitempty"`
	Last        time.Time  `json:"last" yaml:"last,omitempty"`
	DurationSec float64    `json:"duration_sec" yaml:"duration_sec"`
	Rate        float64    `json:"rate" yaml:"rate"`
	// Packet ids of the first and last packet in arrival order; Data and Ack only.
	FirstPacketID *uint32 `json:"first_packet_id,omitempty" yaml:"first_packet_id,omitempty"`
	LastPacketID  *uint32 `json:"last_packet_id,omitempty" yaml:"last_packet_id,omitempty"`
	// Gaps in the sorted packet ids; Data only.
	Gaps    []Gap   `json:"gaps,omitempty" yaml:"gaps,omitempty"`
	Missing uint64  `json:"missing,omitempty" yaml:"missing,omitempty"`
	Timing  *Timing `json:"timing,omitempty" yaml:"timing,omitempty"`
}

// ConnectionStats breaks one direction of a BCUDP connection down.
type ConnectionStats struct {
	ConnectionID int32     `json:"connection_id" yaml:"connection_id"`
	Direction    Direction `json:"direction" yaml:"direction"`
	Data         int       `json:"data" yaml:"data"`
	Ack          int       `json:"ack" yaml:"ack"`
	Gaps         []Gap     `json:"gaps,omitempty" yaml:"gaps,omitempty"`
	Missing      uint64    `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// Session is the analyzed packet sequence of one capture. It is not modified
// after Build returns.
type Session struct {
	Name    string  `json:"name" yaml:"name"`
	Entries []Entry `json:"-" yaml:"-"`
	// Streams holds one entry per direction and kind, including empty ones.
	Streams     []StreamStats     `json:"streams" yaml:"streams"`
	Connections []ConnectionStats `json:"connections,omitempty" yaml:"connections,omitempty"`
	// DiscoveryIndex is the entry index of the first Discovery packet sent
	// from the local side, or -1.
	DiscoveryIndex int            `json:"discovery_index" yaml:"discovery_index"`
	Counters       stats.Snapshot `json:"counters" yaml:"counters"`
}

// Stream returns the statistics for one direction and kind.
func (s *Session) Stream(dir Direction, kind bcudp.Kind) StreamStats {
	for _, st := range s.Streams {
		if st.Direction == dir && st.Kind == kind {
			return st
		}
	}
	return StreamStats{Direction: dir, Kind: kind}
}

// Count returns the number of packets of kind in either direction.
func (s *Session) Count(kind bcudp.Kind) int {
	n := 0
	for _, st := range s.Streams {
		if st.Kind == kind {
			n += st.Count
		}
	}
	return n
}

// First returns the first entry of the given kind.
func (s *Session) First(kind bcudp.Kind) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Kind() == kind {
			return e, true
		}
	}
	return Entry{}, false
}

// After returns up to n entries following index. An index of -1 starts at the
// first entry.
func (s *Session) After(index, n int) []Entry {
	start := index + 1
	if start < 0 || start >= len(s.Entries) || n <= 0 {
		return nil
	}
	end := start + n
	if end > len(s.Entries) {
		end = len(s.Entries)
	}
	return s.Entries[start:end]
}
