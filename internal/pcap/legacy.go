package pcap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"
)

const (
	legacyHeaderLen = 24
	recordHeaderLen = 16
)

// legacyReader reads the fixed-header pcap format.
type legacyReader struct {
	r         *bufio.Reader
	order     binary.ByteOrder
	nanos     bool
	linkType  uint32
	snapLen   uint32
	truncated bool
	hdr       [recordHeaderLen]byte
}

func newLegacyReader(r *bufio.Reader, order binary.ByteOrder, nanos bool) (*legacyReader, error) {
	var hdr [legacyHeaderLen]byte
	if err := readFull(r, hdr[:]); err != nil {
		return nil, ErrShortHeader
	}

	lr := &legacyReader{
		r:        r,
		order:    order,
		nanos:    nanos,
		snapLen:  order.Uint32(hdr[16:20]),
		linkType: order.Uint32(hdr[20:24]),
	}

	log.WithFields(log.Fields{
		"version":   order.Uint16(hdr[4:6]),
		"minor":     order.Uint16(hdr[6:8]),
		"snaplen":   lr.snapLen,
		"link_type": lr.linkType,
		"nanos":     nanos,
	}).Debug("pcap global header")

	if lr.linkType != uint32(layers.LinkTypeEthernet) {
		log.WithField("link_type", lr.linkType).Warn("Capture link type is not Ethernet, frames may not decode")
	}
	return lr, nil
}

// ReadPacketData returns the next record.
func (lr *legacyReader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if lr.truncated {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}

	if err := readFull(lr.r, lr.hdr[:]); err != nil {
		return nil, gopacket.CaptureInfo{}, lr.stop(err, "record header")
	}

	sec := lr.order.Uint32(lr.hdr[0:4])
	frac := lr.order.Uint32(lr.hdr[4:8])
	capLen := lr.order.Uint32(lr.hdr[8:12])
	origLen := lr.order.Uint32(lr.hdr[12:16])

	if capLen > maxFrameLen {
		log.WithField("incl_len", capLen).Warn("pcap record length out of range, stopping")
		lr.truncated = true
		return nil, gopacket.CaptureInfo{}, io.EOF
	}

	data := make([]byte, capLen)
	if err := readFull(lr.r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, gopacket.CaptureInfo{}, lr.stop(err, "record body")
	}

	nsec := int64(frac)
	if !lr.nanos {
		nsec *= 1000
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(int64(sec), nsec).UTC(),
		CaptureLength: int(capLen),
		Length:        int(origLen),
	}
	return data, ci, nil
}

// stop converts a read failure into the end of the capture. Short reads mark
// the capture as truncated; other I/O errors are returned as is.
func (lr *legacyReader) stop(err error, where string) error {
	switch {
	case errors.Is(err, io.EOF):
		return io.EOF
	case isTruncation(err):
		lr.truncated = true
		log.WithField("at", where).Warn("pcap capture truncated, stopping")
		return io.EOF
	default:
		return err
	}
}

func (lr *legacyReader) Format() Format { return FormatLegacy }

func (lr *legacyReader) LinkType() layers.LinkType { return layers.LinkType(lr.linkType) }

func (lr *legacyReader) Truncated() bool { return lr.truncated }

func (lr *legacyReader) LengthMismatches() int { return 0 }
