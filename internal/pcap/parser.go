package pcap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"bcudp-compare/internal/stats"
	"bcudp-compare/pkg/types"
)

// sniffLen is how far Open looks past leading whitespace for a JSON array.
const sniffLen = 512

// DatagramSource yields the UDP datagrams of one input in file order. Next
// returns io.EOF once the input is exhausted, including after truncation.
type DatagramSource interface {
	Next() (types.Datagram, error)
	Format() Format
	Close() error
}

// Options configures Open.
type Options struct {
	// Filter, when set, drops datagrams whose ports are not in its set.
	Filter *PortFilter
	// Collector receives the pipeline counters. A fresh one is used when nil.
	Collector *stats.Collector
}

// Open opens a capture file or a JSON export and returns its datagrams. The
// caller must Close the source.
func Open(path string, opts Options) (DatagramSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}

	src, err := newSource(bufio.NewReaderSize(f, 64*1024), f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"file":   path,
		"format": src.Format().String(),
	}).Debug("Capture opened")
	return src, nil
}

// NewSource is Open over an already open stream. Closing the source closes c
// when it is not nil.
func NewSource(r io.Reader, c io.Closer, opts Options) (DatagramSource, error) {
	return newSource(bufio.NewReaderSize(r, 64*1024), c, opts)
}

func newSource(br *bufio.Reader, c io.Closer, opts Options) (DatagramSource, error) {
	if opts.Collector == nil {
		opts.Collector = stats.NewCollector()
	}

	if magic, err := br.Peek(4); err == nil {
		if _, _, _, ok := detect(magic); ok {
			reader, err := NewReader(br)
			if err != nil {
				return nil, err
			}
			return &frameSource{reader: reader, closer: c, filter: opts.Filter, stats: opts.Collector}, nil
		}
	}

	if looksLikeJSONArray(br) {
		return &exportAdapter{
			src:   newExportSource(br, c, opts.Filter),
			stats: opts.Collector,
		}, nil
	}

	lead, _ := br.Peek(4)
	return nil, fmt.Errorf("%w: leading bytes % x", ErrUnknownFormat, lead)
}

func looksLikeJSONArray(br *bufio.Reader) bool {
	lead, _ := br.Peek(sniffLen)
	lead = bytes.TrimPrefix(lead, []byte{0xef, 0xbb, 0xbf})
	lead = bytes.TrimLeft(lead, " \t\r\n")
	return len(lead) > 0 && lead[0] == '['
}

// frameSource runs raw frames through the port prefilter and the frame decoder.
type frameSource struct {
	reader Reader
	closer io.Closer
	filter *PortFilter
	stats  *stats.Collector
	frame  int
	done   bool
}

func (s *frameSource) Next() (types.Datagram, error) {
	if s.done {
		return types.Datagram{}, io.EOF
	}

	for {
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finish()
			}
			return types.Datagram{}, err
		}
		s.frame++
		s.stats.RecordFrame()

		if s.filter != nil && !s.filter.Match(data) {
			s.stats.RecordFiltered()
			continue
		}

		dg, ok := DecodeFrame(data)
		if !ok {
			s.stats.RecordNonUDP()
			continue
		}
		dg.Frame = s.frame
		dg.Timestamp = ci.Timestamp
		s.stats.RecordDatagram()
		return dg, nil
	}
}

func (s *frameSource) finish() {
	s.done = true
	s.stats.RecordReader(s.reader.Truncated(), s.reader.LengthMismatches())
	log.WithFields(log.Fields{
		"format":     s.reader.Format().String(),
		"frames":     s.frame,
		"truncated":  s.reader.Truncated(),
		"mismatches": s.reader.LengthMismatches(),
	}).Debug("Capture read complete")
}

func (s *frameSource) Format() Format { return s.reader.Format() }

func (s *frameSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// exportAdapter feeds JSON export records through the same counters as
// binary frames.
type exportAdapter struct {
	src   *exportSource
	stats *stats.Collector
	done  bool
}

func (a *exportAdapter) Next() (types.Datagram, error) {
	if a.done {
		return types.Datagram{}, io.EOF
	}

	for {
		dg, skipped, err := a.src.next()
		for i := 0; i < skipped; i++ {
			a.stats.RecordFrame()
			a.stats.RecordNonUDP()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.done = true
				a.stats.RecordReader(a.src.truncated, 0)
			}
			return types.Datagram{}, err
		}
		a.stats.RecordFrame()

		if a.src.filter != nil && !a.src.filter.MatchPorts(dg.SrcPort, dg.DstPort) {
			a.stats.RecordFiltered()
			continue
		}
		a.stats.RecordDatagram()
		return dg, nil
	}
}

func (a *exportAdapter) Format() Format { return FormatExport }

func (a *exportAdapter) Close() error {
	if a.src.closer == nil {
		return nil
	}
	return a.src.closer.Close()
}
