package pcap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"
)

const (
	blockEnhancedPacket = 0x00000006
	byteOrderMagic      = 0x1a2b3c4d

	// type, total length and trailing length words
	blockOverhead = 12
	// interface id, timestamp high, timestamp low, captured length, original length
	epbFixedLen = 20
	// maxBlockLen bounds a single block; larger lengths are treated as corruption.
	maxBlockLen = 16 * 1024 * 1024
)

// blockReader reads the block-structured pcapng format. Only Enhanced Packet
// Blocks produce frames; every other block is skipped by its length.
type blockReader struct {
	r          *bufio.Reader
	order      binary.ByteOrder
	truncated  bool
	mismatches int
	blocks     int
	hdr        [8]byte
}

func newBlockReader(r *bufio.Reader) (*blockReader, error) {
	// type, length and byte-order magic of the Section Header Block
	lead, err := r.Peek(12)
	if err != nil {
		return nil, ErrShortHeader
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(lead[8:12]) == byteOrderMagic:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(lead[8:12]) == byteOrderMagic:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad pcapng byte-order magic % x", ErrUnknownFormat, lead[8:12])
	}

	br := &blockReader{r: r, order: order}
	typ, body, err := br.readBlock()
	if err != nil {
		if errors.Is(err, io.EOF) || isTruncation(err) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	if typ != blockSectionHeader {
		return nil, fmt.Errorf("%w: first block type 0x%08x", ErrUnknownFormat, typ)
	}
	if len(body) < 8 {
		return nil, ErrShortHeader
	}

	log.WithFields(log.Fields{
		"major":      order.Uint16(body[4:6]),
		"minor":      order.Uint16(body[6:8]),
		"byte_order": order.String(),
	}).Debug("pcapng section header")

	return br, nil
}

// readBlock reads one block and returns its type and body, the bytes between the
// leading and trailing length words. A short read anywhere returns
// io.ErrUnexpectedEOF and a clean end before a block returns io.EOF.
func (br *blockReader) readBlock() (uint32, []byte, error) {
	if err := readFull(br.r, br.hdr[:4]); err != nil {
		return 0, nil, err
	}
	if err := readFull(br.r, br.hdr[4:8]); err != nil {
		return 0, nil, io.ErrUnexpectedEOF
	}

	typ := br.order.Uint32(br.hdr[0:4])
	total := br.order.Uint32(br.hdr[4:8])
	if total < blockOverhead || total > maxBlockLen {
		log.WithFields(log.Fields{
			"block_type":   fmt.Sprintf("0x%08x", typ),
			"block_length": total,
		}).Warn("pcapng block length out of range")
		return 0, nil, io.ErrUnexpectedEOF
	}

	body := make([]byte, total-blockOverhead)
	if err := readFull(br.r, body); err != nil {
		return 0, nil, io.ErrUnexpectedEOF
	}

	var trailer [4]byte
	if err := readFull(br.r, trailer[:]); err != nil {
		return 0, nil, io.ErrUnexpectedEOF
	}
	if trailing := br.order.Uint32(trailer[:]); trailing != total {
		br.mismatches++
		log.WithFields(log.Fields{
			"block":    br.blocks,
			"leading":  total,
			"trailing": trailing,
		}).Warn("pcapng block length mismatch")
	}
	br.blocks++
	return typ, body, nil
}

// ReadPacketData returns the frame of the next Enhanced Packet Block.
func (br *blockReader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	for !br.truncated {
		typ, body, err := br.readBlock()
		switch {
		case errors.Is(err, io.EOF):
			return nil, gopacket.CaptureInfo{}, io.EOF
		case isTruncation(err):
			br.truncated = true
			log.WithField("block", br.blocks).Warn("pcapng capture truncated, stopping")
			return nil, gopacket.CaptureInfo{}, io.EOF
		case err != nil:
			return nil, gopacket.CaptureInfo{}, err
		}

		if typ != blockEnhancedPacket {
			continue
		}
		if len(body) < epbFixedLen {
			log.WithField("block", br.blocks).Debug("Enhanced packet block too short, skipping")
			continue
		}

		ifaceID := br.order.Uint32(body[0:4])
		ts := uint64(br.order.Uint32(body[4:8]))<<32 | uint64(br.order.Uint32(body[8:12]))
		capLen := br.order.Uint32(body[12:16])
		origLen := br.order.Uint32(body[16:20])

		data := body[epbFixedLen:]
		if int64(capLen) < int64(len(data)) {
			data = data[:capLen]
		}

		ci := gopacket.CaptureInfo{
			Timestamp:      time.UnixMicro(int64(ts)).UTC(),
			CaptureLength:  len(data),
			Length:         int(origLen),
			InterfaceIndex: int(ifaceID),
		}
		return data, ci, nil
	}
	return nil, gopacket.CaptureInfo{}, io.EOF
}

func (br *blockReader) Format() Format { return FormatBlock }

// LinkType is always Ethernet; interface description blocks are not decoded.
func (br *blockReader) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (br *blockReader) Truncated() bool { return br.truncated }

func (br *blockReader) LengthMismatches() int { return br.mismatches }
