// Package pcap reads capture files and extracts the UDP datagrams they carry.
//
// Two container formats are supported natively: the legacy fixed-header pcap
// format and the block-structured pcapng format. Both are auto-detected from the
// leading magic bytes and exposed through the same Reader contract, which is a
// gopacket.PacketDataSource. A pre-parsed Wireshark JSON export can be read in
// place of a binary capture; see Open.
package pcap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrUnknownFormat is returned when the leading bytes match no supported container.
	ErrUnknownFormat = errors.New("pcap: unknown capture format")
	// ErrShortHeader is returned when the file ends inside its global header.
	ErrShortHeader = errors.New("pcap: capture header truncated")
)

// maxFrameLen bounds a single record; larger lengths are treated as corruption.
const maxFrameLen = 262144

// Format identifies a capture container.
type Format int

const (
	FormatLegacy Format = iota + 1
	FormatBlock
	FormatExport
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "pcap"
	case FormatBlock:
		return "pcapng"
	case FormatExport:
		return "json-export"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// Reader yields the frames of one capture in file order. ReadPacketData returns
// io.EOF at the end of the capture, including when the capture is truncated.
type Reader interface {
	gopacket.PacketDataSource

	Format() Format
	LinkType() layers.LinkType
	// Truncated reports whether the capture ended inside a record.
	Truncated() bool
	// LengthMismatches counts pcapng blocks whose trailing length disagreed with
	// the leading one.
	LengthMismatches() int
}

const (
	magicMicros        = 0xa1b2c3d4
	magicNanos         = 0xa1b23c4d
	blockSectionHeader = 0x0a0d0d0a
)

// detect identifies the container from its first 4 bytes.
func detect(magic []byte) (Format, binary.ByteOrder, bool, bool) {
	le := binary.LittleEndian.Uint32(magic)
	be := binary.BigEndian.Uint32(magic)
	switch {
	case le == magicMicros:
		return FormatLegacy, binary.LittleEndian, false, true
	case be == magicMicros:
		return FormatLegacy, binary.BigEndian, false, true
	case le == magicNanos:
		return FormatLegacy, binary.LittleEndian, true, true
	case be == magicNanos:
		return FormatLegacy, binary.BigEndian, true, true
	case le == blockSectionHeader:
		return FormatBlock, nil, false, true
	}
	return 0, nil, false, false
}

// NewReader detects the container format of r and returns a reader for it.
func NewReader(r io.Reader) (Reader, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}

	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %d leading bytes", ErrUnknownFormat, len(magic))
	}

	format, order, nanos, ok := detect(magic)
	if !ok {
		return nil, fmt.Errorf("%w: magic % x", ErrUnknownFormat, magic)
	}

	switch format {
	case FormatLegacy:
		return newLegacyReader(br, order, nanos)
	default:
		return newBlockReader(br)
	}
}

// readFull reads exactly len(buf) bytes. A clean end of input returns io.EOF and
// a partial read returns io.ErrUnexpectedEOF.
func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

func isTruncation(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF)
}
