package pcap

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"bcudp-compare/pkg/types"
)

const (
	ethernetHeaderLen = 14
	ipv4HeaderLen     = 20
	udpHeaderLen      = 8
	minFrameLen       = ethernetHeaderLen + ipv4HeaderLen + udpHeaderLen

	// version 4, header length 5 words: IPv4 without options
	ipv4NoOptions = 0x45
)

// DecodeFrame extracts the UDP datagram of an Ethernet/IPv4/UDP frame. Frames
// that are too short, carry IP options, are not IPv4, or are not UDP yield false.
func DecodeFrame(frame []byte) (types.Datagram, bool) {
	if len(frame) < minFrameLen {
		return types.Datagram{}, false
	}

	ip := frame[ethernetHeaderLen : ethernetHeaderLen+ipv4HeaderLen]
	if ip[0] != ipv4NoOptions {
		return types.Datagram{}, false
	}
	if layers.IPProtocol(ip[9]) != layers.IPProtocolUDP {
		return types.Datagram{}, false
	}

	var udp layers.UDP
	if err := udp.DecodeFromBytes(frame[ethernetHeaderLen+ipv4HeaderLen:], gopacket.NilDecodeFeedback); err != nil {
		return types.Datagram{}, false
	}
	// gopacket reads a zero length as "rest of frame"; on IPv4 it is malformed.
	if udp.Length < udpHeaderLen {
		return types.Datagram{}, false
	}

	return types.Datagram{
		SrcIP:   netip.AddrFrom4([4]byte(ip[12:16])),
		DstIP:   netip.AddrFrom4([4]byte(ip[16:20])),
		SrcPort: uint16(udp.SrcPort),
		DstPort: uint16(udp.DstPort),
		Payload: udp.Payload,
	}, true
}
