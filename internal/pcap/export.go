package pcap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"bcudp-compare/internal/bcudp"
	"bcudp-compare/pkg/types"
)

// exportRecord is one element of a Wireshark/tshark "-T json" export. Every
// field is exported by the tool as a string.
type exportRecord struct {
	Source struct {
		Layers exportLayers `json:"layers"`
	} `json:"_source"`
}

type exportLayers struct {
	Frame struct {
		Number       string `json:"frame.number"`
		TimeRelative string `json:"frame.time_relative"`
	} `json:"frame"`
	IP *struct {
		Src string `json:"ip.src"`
		Dst string `json:"ip.dst"`
	} `json:"ip,omitempty"`
	UDP *struct {
		SrcPort string `json:"udp.srcport"`
		DstPort string `json:"udp.dstport"`
		Payload string `json:"udp.payload"`
	} `json:"udp,omitempty"`
	// Older tshark releases put the UDP payload in a separate data layer.
	Data *struct {
		Data string `json:"data.data"`
	} `json:"data,omitempty"`
}

// exportSource streams datagrams out of a JSON export without loading the
// whole array.
type exportSource struct {
	dec       *json.Decoder
	closer    io.Closer
	filter    *PortFilter
	started   bool
	done      bool
	truncated bool
	index     int
	base      time.Time
}

func newExportSource(r io.Reader, closer io.Closer, filter *PortFilter) *exportSource {
	return &exportSource{
		dec:    json.NewDecoder(r),
		closer: closer,
		filter: filter,
		base:   time.Unix(0, 0).UTC(),
	}
}

// next returns the next record that carries a UDP payload, with the number of
// records skipped before it.
func (s *exportSource) next() (types.Datagram, int, error) {
	if s.done {
		return types.Datagram{}, 0, io.EOF
	}
	if !s.started {
		s.started = true
		tok, err := s.dec.Token()
		if err != nil {
			return types.Datagram{}, 0, s.stop(err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			s.done = true
			return types.Datagram{}, 0, fmt.Errorf("%w: export is not a JSON array", ErrUnknownFormat)
		}
	}

	skipped := 0
	for s.dec.More() {
		var rec exportRecord
		if err := s.dec.Decode(&rec); err != nil {
			return types.Datagram{}, skipped, s.stop(err)
		}
		s.index++

		dg, ok := s.datagram(&rec.Source.Layers)
		if !ok {
			skipped++
			continue
		}
		return dg, skipped, nil
	}

	s.done = true
	return types.Datagram{}, skipped, io.EOF
}

func (s *exportSource) stop(err error) error {
	s.done = true
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.truncated = true
		log.WithField("record", s.index).Warn("JSON export truncated, stopping")
		return io.EOF
	}
	var syntax *json.SyntaxError
	if errors.As(err, &syntax) {
		s.truncated = true
		log.WithError(err).WithField("record", s.index).Warn("Malformed JSON export, stopping")
		return io.EOF
	}
	return err
}

func (s *exportSource) datagram(l *exportLayers) (types.Datagram, bool) {
	if l.UDP == nil {
		return types.Datagram{}, false
	}

	hexPayload := l.UDP.Payload
	if hexPayload == "" && l.Data != nil {
		hexPayload = l.Data.Data
	}
	if hexPayload == "" {
		return types.Datagram{}, false
	}
	payload, err := bcudp.ParseHex(hexPayload)
	if err != nil {
		log.WithError(err).WithField("record", s.index).Debug("Skipping export record with bad payload")
		return types.Datagram{}, false
	}

	dg := types.Datagram{
		Frame:   s.index,
		SrcPort: parsePort(l.UDP.SrcPort),
		DstPort: parsePort(l.UDP.DstPort),
		Payload: payload,
	}
	if n, err := strconv.Atoi(l.Frame.Number); err == nil {
		dg.Frame = n
	}
	if sec, err := strconv.ParseFloat(l.Frame.TimeRelative, 64); err == nil {
		dg.Timestamp = s.base.Add(time.Duration(sec * float64(time.Second)))
	}
	if l.IP != nil {
		dg.SrcIP, _ = netip.ParseAddr(l.IP.Src)
		dg.DstIP, _ = netip.ParseAddr(l.IP.Dst)
	}
	return dg, true
}

func parsePort(s string) uint16 {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}
