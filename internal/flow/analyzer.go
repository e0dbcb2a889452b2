package flow

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"bcudp-compare/internal/bcudp"
	"bcudp-compare/internal/pcap"
	"bcudp-compare/internal/stats"
)

// Analyzer builds Sessions, classifying each packet's direction with a local
// predicate.
type Analyzer struct {
	local Predicate
}

// NewAnalyzer creates an analyzer. A nil predicate treats every address as remote.
func NewAnalyzer(local Predicate) *Analyzer {
	if local == nil {
		local = func(netip.Addr) bool { return false }
	}
	return &Analyzer{local: local}
}

// Direction returns the direction of a packet sent from src.
func (a *Analyzer) Direction(src netip.Addr) Direction {
	if a.local(src) {
		return FromLocal
	}
	return FromRemote
}

// Analyze drains src, decodes every datagram and builds the session. Datagrams
// that are not BCUDP, or whose header is short, are counted and skipped.
func (a *Analyzer) Analyze(name string, src pcap.DatagramSource, collector *stats.Collector) (*Session, error) {
	if collector == nil {
		collector = stats.NewCollector()
	}

	var records []Record
	for {
		dg, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read datagram: %w", name, err)
		}

		pkt, err := bcudp.Decode(dg.Payload)
		switch {
		case errors.Is(err, bcudp.ErrUnknownMagic):
			collector.RecordUnknownMagic()
			continue
		case errors.Is(err, bcudp.ErrShortPacket):
			collector.RecordUndecodable()
			log.WithFields(log.Fields{
				"capture": name,
				"frame":   dg.Frame,
				"length":  len(dg.Payload),
			}).Debug("Undecodable BCUDP header, skipping")
			continue
		case err != nil:
			return nil, err
		}

		collector.RecordPacket(pkt.Kind().String())
		records = append(records, Record{Datagram: dg, Packet: pkt})
	}
	collector.Finish()

	session := a.Build(name, records)
	session.Counters = collector.Snapshot()

	log.WithFields(log.Fields{
		"capture":   name,
		"frames":    session.Counters.Frames,
		"datagrams": session.Counters.Datagrams,
		"discovery": session.Count(bcudp.KindDiscovery),
		"data":      session.Count(bcudp.KindData),
		"ack":       session.Count(bcudp.KindAck),
		"truncated": session.Counters.Truncated,
	}).Info("Capture analysis complete")

	return session, nil
}

type streamKey struct {
	dir  Direction
	kind bcudp.Kind
}

type connKey struct {
	id  int32
	dir Direction
}

// Build partitions records, already in capture order, into a Session.
func (a *Analyzer) Build(name string, records []Record) *Session {
	s := &Session{
		Name:           name,
		Entries:        make([]Entry, 0, len(records)),
		DiscoveryIndex: -1,
	}

	streams := make(map[streamKey][]Entry)
	conns := make(map[connKey]*ConnectionStats)
	connIDs := make(map[connKey][]uint32)

	for i, r := range records {
		e := Entry{
			Index:     i,
			Datagram:  r.Datagram,
			Packet:    r.Packet,
			Direction: a.Direction(r.Datagram.SrcIP),
		}
		s.Entries = append(s.Entries, e)

		key := streamKey{dir: e.Direction, kind: e.Kind()}
		streams[key] = append(streams[key], e)

		if e.Kind() == bcudp.KindDiscovery && e.Direction == FromLocal && s.DiscoveryIndex < 0 {
			s.DiscoveryIndex = i
		}

		id, ok := bcudp.ConnectionID(e.Packet)
		if !ok {
			continue
		}
		ck := connKey{id: id, dir: e.Direction}
		cs := conns[ck]
		if cs == nil {
			cs = &ConnectionStats{ConnectionID: id, Direction: e.Direction}
			conns[ck] = cs
		}
		switch p := e.Packet.(type) {
		case *bcudp.Data:
			cs.Data++
			connIDs[ck] = append(connIDs[ck], p.PacketID)
		case *bcudp.Ack:
			cs.Ack++
		}
	}

	for _, dir := range Directions {
		for _, kind := range bcudp.Kinds {
			s.Streams = append(s.Streams, streamStats(dir, kind, streams[streamKey{dir: dir, kind: kind}]))
		}
	}

	for ck, cs := range conns {
		cs.Gaps = FindGaps(connIDs[ck])
		cs.Missing = missing(cs.Gaps)
		s.Connections = append(s.Connections, *cs)
	}
	sort.Slice(s.Connections, func(i, j int) bool {
		ci, cj := s.Connections[i], s.Connections[j]
		if ci.Direction != cj.Direction {
			return ci.Direction < cj.Direction
		}
		return ci.ConnectionID < cj.ConnectionID
	})

	return s
}

func streamStats(dir Direction, kind bcudp.Kind, entries []Entry) StreamStats {
	st := StreamStats{Direction: dir, Kind: kind, Count: len(entries)}
	if len(entries) == 0 {
		return st
	}

	st.First = entries[0].Datagram.Timestamp
	st.Last = entries[len(entries)-1].Datagram.Timestamp
	st.DurationSec = st.Last.Sub(st.First).Seconds()
	st.Rate = Rate(len(entries), st.Last.Sub(st.First))

	if first, ok := bcudp.PacketID(entries[0].Packet); ok {
		last, _ := bcudp.PacketID(entries[len(entries)-1].Packet)
		st.FirstPacketID = &first
		st.LastPacketID = &last
	}

	if kind == bcudp.KindData {
		ids := make([]uint32, 0, len(entries))
		for _, e := range entries {
			if id, ok := bcudp.PacketID(e.Packet); ok {
				ids = append(ids, id)
			}
		}
		st.Gaps = FindGaps(ids)
		st.Missing = missing(st.Gaps)
	}

	stamps := make([]time.Time, len(entries))
	for i, e := range entries {
		stamps[i] = e.Datagram.Timestamp
	}
	st.Timing = InterArrival(stamps)
	return st
}

// Rate returns count / duration in packets per second, or 0 when the duration
// is not positive.
func Rate(count int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(count) / d.Seconds()
}

// FindGaps sorts a copy of ids and returns the missing range between each
// adjacent pair more than 1 apart. Duplicates are ignored.
func FindGaps(ids []uint32) []Gap {
	if len(ids) < 2 {
		return nil
	}
	sorted := append([]uint32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var gaps []Gap
	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		if next-prev > 1 {
			gaps = append(gaps, Gap{From: prev + 1, To: next - 1})
		}
	}
	return gaps
}

func missing(gaps []Gap) uint64 {
	var n uint64
	for _, g := range gaps {
		n += g.Size()
	}
	return n
}

// InterArrival summarizes the spacing of timestamps in arrival order. It
// returns nil for fewer than two timestamps.
func InterArrival(stamps []time.Time) *Timing {
	if len(stamps) < 2 {
		return nil
	}
	deltas := make([]float64, len(stamps)-1)
	for i := 1; i < len(stamps); i++ {
		deltas[i-1] = stamps[i].Sub(stamps[i-1]).Seconds()
	}

	t := &Timing{
		Mean: stat.Mean(deltas, nil),
		Max:  floats.Max(deltas),
	}
	if len(deltas) > 1 {
		t.StdDev = stat.StdDev(deltas, nil)
	}
	sort.Float64s(deltas)
	t.P50 = stat.Quantile(0.5, stat.Empirical, deltas, nil)
	t.P95 = stat.Quantile(0.95, stat.Empirical, deltas, nil)
	return t
}
