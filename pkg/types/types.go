package types

import (
	"net/netip"
	"time"
)

// Datagram represents a UDP datagram extracted from a capture, either from a raw
// Ethernet frame or from a pre-parsed capture export.
type Datagram struct {
	Frame     int // 1-based frame number within the capture
	Timestamp time.Time
	SrcIP     netip.Addr
	DstIP     netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Payload   []byte
}

// Src returns the source endpoint.
func (d Datagram) Src() netip.AddrPort {
	return netip.AddrPortFrom(d.SrcIP, d.SrcPort)
}

// Dst returns the destination endpoint.
func (d Datagram) Dst() netip.AddrPort {
	return netip.AddrPortFrom(d.DstIP, d.DstPort)
}
