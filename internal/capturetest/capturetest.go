// Package capturetest builds captures in memory for tests and the sample
// generator: Ethernet/IPv4/UDP frames, legacy pcap files, pcapng block streams
// and Wireshark JSON exports.
package capturetest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	localMAC  = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	remoteMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

// Packet is one UDP datagram to be written into a capture.
type Packet struct {
	Time    time.Time
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// Frame serializes p as an Ethernet/IPv4/UDP frame with correct lengths and
// checksums.
func Frame(p Packet) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       localMAC,
		DstMAC:       remoteMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(p.SrcIP).To4(),
		DstIP:    net.ParseIP(p.DstIP).To4(),
	}
	if ip.SrcIP == nil || ip.DstIP == nil {
		return nil, fmt.Errorf("invalid IPv4 endpoints %q -> %q", p.SrcIP, p.DstIP)
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(p.SrcPort),
		DstPort: layers.UDPPort(p.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p.Payload)); err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteLegacy writes pkts as a little-endian microsecond pcap file.
func WriteLegacy(w io.Writer, pkts []Packet) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return err
	}
	for i, p := range pkts {
		frame, err := Frame(p)
		if err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     p.Time,
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := pw.WritePacket(ci, frame); err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
	}
	return nil
}

// Legacy returns pkts as a pcap file.
func Legacy(pkts []Packet) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteLegacy(&buf, pkts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const (
	ngSectionHeader  = 0x0a0d0d0a
	ngInterfaceDesc  = 0x00000001
	ngEnhancedPacket = 0x00000006
	ngByteOrderMagic = 0x1a2b3c4d
)

// NgBuilder assembles a pcapng stream block by block.
type NgBuilder struct {
	order binary.ByteOrder
	buf   bytes.Buffer
}

// NewNgBuilder starts a section in the given byte order with one Ethernet
// interface.
func NewNgBuilder(order binary.ByteOrder) *NgBuilder {
	b := &NgBuilder{order: order}

	shb := make([]byte, 16)
	order.PutUint32(shb[0:4], ngByteOrderMagic)
	order.PutUint16(shb[4:6], 1)
	order.PutUint16(shb[6:8], 0)
	order.PutUint64(shb[8:16], ^uint64(0))
	b.Block(ngSectionHeader, shb)

	idb := make([]byte, 8)
	order.PutUint16(idb[0:2], uint16(layers.LinkTypeEthernet))
	order.PutUint32(idb[4:8], 65535)
	b.Block(ngInterfaceDesc, idb)
	return b
}

// Block appends a block with a matching trailing length. body is padded to a
// multiple of 4 bytes.
func (b *NgBuilder) Block(typ uint32, body []byte) *NgBuilder {
	return b.BlockWithTrailer(typ, body, uint32(blockLen(body)))
}

// BlockWithTrailer appends a block whose trailing length word is trailer.
func (b *NgBuilder) BlockWithTrailer(typ uint32, body []byte, trailer uint32) *NgBuilder {
	var word [4]byte
	b.order.PutUint32(word[:], typ)
	b.buf.Write(word[:])
	b.order.PutUint32(word[:], uint32(blockLen(body)))
	b.buf.Write(word[:])
	b.buf.Write(body)
	b.buf.Write(make([]byte, pad4(len(body))-len(body)))
	b.order.PutUint32(word[:], trailer)
	b.buf.Write(word[:])
	return b
}

// Packet appends an Enhanced Packet Block for p with a microsecond timestamp.
func (b *NgBuilder) Packet(p Packet) error {
	frame, err := Frame(p)
	if err != nil {
		return err
	}
	b.Block(ngEnhancedPacket, b.EPB(p.Time, frame))
	return nil
}

// EPB returns the body of an Enhanced Packet Block on interface 0.
func (b *NgBuilder) EPB(ts time.Time, frame []byte) []byte {
	us := uint64(ts.UnixMicro())
	body := make([]byte, 20+len(frame))
	b.order.PutUint32(body[4:8], uint32(us>>32))
	b.order.PutUint32(body[8:12], uint32(us))
	b.order.PutUint32(body[12:16], uint32(len(frame)))
	b.order.PutUint32(body[16:20], uint32(len(frame)))
	copy(body[20:], frame)
	return body
}

// Bytes returns the stream built so far.
func (b *NgBuilder) Bytes() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}

// Ng returns pkts as a pcapng stream.
func Ng(order binary.ByteOrder, pkts []Packet) ([]byte, error) {
	b := NewNgBuilder(order)
	for i, p := range pkts {
		if err := b.Packet(p); err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
	}
	return b.Bytes(), nil
}

func pad4(n int) int { return (n + 3) &^ 3 }

func blockLen(body []byte) int { return 12 + pad4(len(body)) }

// Export returns pkts as a Wireshark "-T json" export. Relative times are
// measured from base and payloads are colon separated hex.
func Export(base time.Time, pkts []Packet) ([]byte, error) {
	type layerMap map[string]any
	records := make([]map[string]any, 0, len(pkts))
	for i, p := range pkts {
		rel := p.Time.Sub(base).Seconds()
		records = append(records, map[string]any{
			"_index": "packets",
			"_type":  "doc",
			"_source": map[string]any{
				"layers": layerMap{
					"frame": layerMap{
						"frame.number":        strconv.Itoa(i + 1),
						"frame.time_relative": strconv.FormatFloat(rel, 'f', 9, 64),
						"frame.protocols":     "eth:ethertype:ip:udp:data",
					},
					"ip": layerMap{
						"ip.src": p.SrcIP,
						"ip.dst": p.DstIP,
					},
					"udp": layerMap{
						"udp.srcport": strconv.Itoa(int(p.SrcPort)),
						"udp.dstport": strconv.Itoa(int(p.DstPort)),
						"udp.payload": HexColon(p.Payload),
					},
				},
			},
		})
	}
	return json.MarshalIndent(records, "", "  ")
}

// HexColon formats b the way Wireshark prints byte fields.
func HexColon(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, ":")
}
