// Package bcudp decodes the BCUDP framing header carried in UDP payloads.
package bcudp

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownMagic is returned when the first 4 bytes match no BCUDP variant.
	ErrUnknownMagic = errors.New("bcudp: unknown magic")
	// ErrShortPacket is returned when the magic matches but the payload is shorter
	// than the variant's fixed header.
	ErrShortPacket = errors.New("bcudp: packet too short")
)

// Kind is the closed set of BCUDP variants.
type Kind uint8

const (
	KindDiscovery Kind = iota
	KindData
	KindAck
)

// Kinds lists every variant in classification order.
var Kinds = [...]Kind{KindDiscovery, KindData, KindAck}

// Magic patterns as they appear on the wire.
var magics = [...][4]byte{
	KindDiscovery: {0x3a, 0xcf, 0x87, 0x2a},
	KindData:      {0x10, 0xcf, 0x87, 0x2a},
	KindAck:       {0x20, 0xcf, 0x87, 0x2a},
}

var minLens = [...]int{
	KindDiscovery: 4,
	KindData:      20,
	KindAck:       28,
}

// Magic returns the 4-byte pattern identifying the variant.
func (k Kind) Magic() [4]byte {
	return magics[k]
}

// MinLen returns the minimum payload length needed to decode the variant.
func (k Kind) MinLen() int {
	return minLens[k]
}

// String returns a human-readable name for the variant.
func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "discovery"
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Packet is a decoded BCUDP packet: one of *Discovery, *Data or *Ack.
type Packet interface {
	Kind() Kind
	// Raw returns the full UDP payload the packet was decoded from.
	Raw() []byte
	isPacket()
}

// Discovery carries session negotiation; no fields beyond the magic are decoded.
type Discovery struct {
	Payload []byte
}

// Data carries a sequenced chunk of the application stream.
type Data struct {
	ConnectionID int32
	PacketID     uint32
	PayloadLen   uint32
	Payload      []byte
}

// Ack acknowledges receipt of Data packets.
type Ack struct {
	ConnectionID int32
	GroupID      uint32
	PacketID     uint32
	Payload      []byte
}

func (*Discovery) Kind() Kind { return KindDiscovery }
func (*Data) Kind() Kind      { return KindData }
func (*Ack) Kind() Kind       { return KindAck }

func (p *Discovery) Raw() []byte { return p.Payload }
func (p *Data) Raw() []byte      { return p.Payload }
func (p *Ack) Raw() []byte       { return p.Payload }

func (*Discovery) isPacket() {}
func (*Data) isPacket()      {}
func (*Ack) isPacket()       {}

// Classify reports which variant the payload's first 4 bytes identify.
// The minimum length of the variant is not checked.
func Classify(payload []byte) (Kind, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	for _, k := range Kinds {
		m := magics[k]
		if bytes.Equal(payload[:4], m[:]) {
			return k, true
		}
	}
	return 0, false
}

// Decode parses a UDP payload into a BCUDP packet.
func Decode(payload []byte) (Packet, error) {
	kind, ok := Classify(payload)
	if !ok {
		return nil, ErrUnknownMagic
	}
	if len(payload) < kind.MinLen() {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPacket, kind, kind.MinLen(), len(payload))
	}

	le := binary.LittleEndian
	switch kind {
	case KindData:
		return &Data{
			ConnectionID: int32(le.Uint32(payload[4:8])),
			PacketID:     le.Uint32(payload[12:16]),
			PayloadLen:   le.Uint32(payload[16:20]),
			Payload:      payload,
		}, nil
	case KindAck:
		return &Ack{
			ConnectionID: int32(le.Uint32(payload[4:8])),
			GroupID:      le.Uint32(payload[12:16]),
			PacketID:     le.Uint32(payload[16:20]),
			Payload:      payload,
		}, nil
	default:
		return &Discovery{Payload: payload}, nil
	}
}

// ConnectionID returns the connection id of Data and Ack packets.
func ConnectionID(p Packet) (int32, bool) {
	switch v := p.(type) {
	case *Data:
		return v.ConnectionID, true
	case *Ack:
		return v.ConnectionID, true
	default:
		return 0, false
	}
}

// PacketID returns the packet id of Data and Ack packets.
func PacketID(p Packet) (uint32, bool) {
	switch v := p.(type) {
	case *Data:
		return v.PacketID, true
	case *Ack:
		return v.PacketID, true
	default:
		return 0, false
	}
}

// ParseHex converts a colon- or space-delimited hex string (e.g. "10:cf:87:2a")
// into bytes.
func ParseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(":", "", " ", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}
