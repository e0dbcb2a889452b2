// Package compare derives the differences between two analyzed captures.
package compare

import (
	"bytes"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"bcudp-compare/internal/bcudp"
	"bcudp-compare/internal/flow"
)

// Options tune the comparison.
type Options struct {
	// RateThreshold flags a stream whose rate in B is below RateThreshold
	// times its rate in A.
	RateThreshold float64
	// StreamDirection selects the Data stream behind StreamRateDegraded.
	StreamDirection flow.Direction
	// SequenceWindow is how many packets after discovery are listed.
	SequenceWindow int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		RateThreshold:   0.5,
		StreamDirection: flow.FromLocal,
		SequenceWindow:  50,
	}
}

// StreamComparison compares one direction and kind across the two captures.
type StreamComparison struct {
	Direction    flow.Direction `json:"direction" yaml:"direction"`
	Kind         bcudp.Kind     `json:"kind" yaml:"kind"`
	CountA       int            `json:"count_a" yaml:"count_a"`
	CountB       int            `json:"count_b" yaml:"count_b"`
	Ratio        float64        `json:"ratio" yaml:"ratio"`
	RateA        float64        `json:"rate_a" yaml:"rate_a"`
	RateB        float64        `json:"rate_b" yaml:"rate_b"`
	RateRatio    float64        `json:"rate_ratio" yaml:"rate_ratio"`
	RateDegraded bool           `json:"rate_degraded" yaml:"rate_degraded"`
	MissingA     uint64         `json:"missing_a,omitempty" yaml:"missing_a,omitempty"`
	MissingB     uint64         `json:"missing_b,omitempty" yaml:"missing_b,omitempty"`
}

// PacketComparison compares the first packet of one kind in each capture.
type PacketComparison struct {
	Kind   bcudp.Kind `json:"kind" yaml:"kind"`
	FoundA bool       `json:"found_a" yaml:"found_a"`
	FoundB bool       `json:"found_b" yaml:"found_b"`
	// Identical is set only when both packets exist and their payloads match.
	Identical bool `json:"identical" yaml:"identical"`
	// FirstDifference is the offset of the first differing byte, or -1.
	FirstDifference int `json:"first_difference" yaml:"first_difference"`
	LengthA         int `json:"length_a" yaml:"length_a"`
	LengthB         int `json:"length_b" yaml:"length_b"`
	FrameA          int `json:"frame_a,omitempty" yaml:"frame_a,omitempty"`
	FrameB          int `json:"frame_b,omitempty" yaml:"frame_b,omitempty"`
}

// SequenceItem is one packet of the post-discovery sequence.
type SequenceItem struct {
	Frame        int            `json:"frame" yaml:"frame"`
	OffsetSec    float64        `json:"offset_sec" yaml:"offset_sec"`
	Direction    flow.Direction `json:"direction" yaml:"direction"`
	Kind         bcudp.Kind     `json:"kind" yaml:"kind"`
	ConnectionID *int32         `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
	PacketID     *uint32        `json:"packet_id,omitempty" yaml:"packet_id,omitempty"`
}

// InitialSequence lists the packets that follow discovery in one capture.
// Offsets are relative to the discovery packet.
type InitialSequence struct {
	DiscoveryIndex int            `json:"discovery_index" yaml:"discovery_index"`
	Items          []SequenceItem `json:"items,omitempty" yaml:"items,omitempty"`
}

// Result holds every fact derived from two sessions.
type Result struct {
	RunID           string         `json:"run_id" yaml:"run_id"`
	A               *flow.Session  `json:"capture_a" yaml:"capture_a"`
	B               *flow.Session  `json:"capture_b" yaml:"capture_b"`
	RateThreshold   float64        `json:"rate_threshold" yaml:"rate_threshold"`
	StreamDirection flow.Direction `json:"stream_direction" yaml:"stream_direction"`

	Streams []StreamComparison `json:"streams" yaml:"streams"`
	// StreamRateDegraded is the RateDegraded flag of the Data stream in
	// StreamDirection.
	StreamRateDegraded bool               `json:"stream_rate_degraded" yaml:"stream_rate_degraded"`
	FirstPackets       []PacketComparison `json:"first_packets" yaml:"first_packets"`
	SequenceA          InitialSequence    `json:"sequence_a" yaml:"sequence_a"`
	SequenceB          InitialSequence    `json:"sequence_b" yaml:"sequence_b"`
}

// Stream returns the comparison for one direction and kind.
func (r *Result) Stream(dir flow.Direction, kind bcudp.Kind) StreamComparison {
	for _, sc := range r.Streams {
		if sc.Direction == dir && sc.Kind == kind {
			return sc
		}
	}
	return StreamComparison{Direction: dir, Kind: kind}
}

// FirstPacket returns the first-packet comparison for kind.
func (r *Result) FirstPacket(kind bcudp.Kind) PacketComparison {
	for _, pc := range r.FirstPackets {
		if pc.Kind == kind {
			return pc
		}
	}
	return PacketComparison{Kind: kind, FirstDifference: -1}
}

// compared lists the kinds whose streams are compared.
var compared = [...]bcudp.Kind{bcudp.KindData, bcudp.KindAck}

// Compare derives the comparison of b against a.
func Compare(a, b *flow.Session, opts Options) *Result {
	if opts.RateThreshold <= 0 {
		opts.RateThreshold = DefaultOptions().RateThreshold
	}
	if opts.StreamDirection == 0 {
		opts.StreamDirection = DefaultOptions().StreamDirection
	}

	r := &Result{
		RunID:           uuid.NewString(),
		A:               a,
		B:               b,
		RateThreshold:   opts.RateThreshold,
		StreamDirection: opts.StreamDirection,
	}

	for _, dir := range flow.Directions {
		for _, kind := range compared {
			r.Streams = append(r.Streams, compareStream(a.Stream(dir, kind), b.Stream(dir, kind), opts.RateThreshold))
		}
	}
	r.StreamRateDegraded = r.Stream(opts.StreamDirection, bcudp.KindData).RateDegraded

	for _, kind := range bcudp.Kinds {
		r.FirstPackets = append(r.FirstPackets, compareFirst(a, b, kind))
	}

	r.SequenceA = initialSequence(a, opts.SequenceWindow)
	r.SequenceB = initialSequence(b, opts.SequenceWindow)

	data := r.FirstPacket(bcudp.KindData)
	log.WithFields(log.Fields{
		"run_id":          r.RunID,
		"data_ratio":      r.Stream(opts.StreamDirection, bcudp.KindData).Ratio,
		"rate_degraded":   r.StreamRateDegraded,
		"first_identical": data.Identical,
		"first_diff":      data.FirstDifference,
	}).Info("Comparison complete")

	return r
}

func compareStream(a, b flow.StreamStats, threshold float64) StreamComparison {
	return StreamComparison{
		Direction:    a.Direction,
		Kind:         a.Kind,
		CountA:       a.Count,
		CountB:       b.Count,
		Ratio:        Ratio(float64(a.Count), float64(b.Count)),
		RateA:        a.Rate,
		RateB:        b.Rate,
		RateRatio:    Ratio(a.Rate, b.Rate),
		RateDegraded: b.Rate < a.Rate*threshold,
		MissingA:     a.Missing,
		MissingB:     b.Missing,
	}
}

// Ratio returns b / a, or 0 when a is 0.
func Ratio(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return b / a
}

func compareFirst(a, b *flow.Session, kind bcudp.Kind) PacketComparison {
	pc := PacketComparison{Kind: kind, FirstDifference: -1}

	ea, okA := a.First(kind)
	eb, okB := b.First(kind)
	pc.FoundA, pc.FoundB = okA, okB
	if okA {
		pc.LengthA = len(ea.Packet.Raw())
		pc.FrameA = ea.Datagram.Frame
	}
	if okB {
		pc.LengthB = len(eb.Packet.Raw())
		pc.FrameB = eb.Datagram.Frame
	}
	if !okA || !okB {
		return pc
	}

	pc.FirstDifference = FirstDifference(ea.Packet.Raw(), eb.Packet.Raw())
	pc.Identical = pc.FirstDifference < 0
	return pc
}

// FirstDifference returns the offset of the first byte at which a and b
// differ, or -1 when they are equal. When one is a prefix of the other the
// offset is the shorter length.
func FirstDifference(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func initialSequence(s *flow.Session, window int) InitialSequence {
	seq := InitialSequence{DiscoveryIndex: s.DiscoveryIndex}
	if s.DiscoveryIndex < 0 {
		return seq
	}

	base := s.Entries[s.DiscoveryIndex].Datagram.Timestamp
	for _, e := range s.After(s.DiscoveryIndex, window) {
		item := SequenceItem{
			Frame:     e.Datagram.Frame,
			OffsetSec: e.Datagram.Timestamp.Sub(base).Seconds(),
			Direction: e.Direction,
			Kind:      e.Kind(),
		}
		if id, ok := bcudp.ConnectionID(e.Packet); ok {
			item.ConnectionID = &id
		}
		if id, ok := bcudp.PacketID(e.Packet); ok {
			item.PacketID = &id
		}
		seq.Items = append(seq.Items, item)
	}
	return seq
}
