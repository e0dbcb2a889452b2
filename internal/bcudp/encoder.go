package bcudp

import "encoding/binary"

// Encode serializes a packet header through the BCUDP wire layout. Bytes of the
// packet's Payload beyond the decoded fields are preserved, so Encode(Decode(b))
// reproduces b.
func Encode(p Packet) []byte {
	kind := p.Kind()
	raw := p.Raw()

	size := kind.MinLen()
	if len(raw) > size {
		size = len(raw)
	}
	b := make([]byte, size)
	copy(b, raw)

	magic := kind.Magic()
	copy(b[0:4], magic[:])

	le := binary.LittleEndian
	switch v := p.(type) {
	case *Data:
		le.PutUint32(b[4:8], uint32(v.ConnectionID))
		le.PutUint32(b[12:16], v.PacketID)
		le.PutUint32(b[16:20], v.PayloadLen)
	case *Ack:
		le.PutUint32(b[4:8], uint32(v.ConnectionID))
		le.PutUint32(b[12:16], v.GroupID)
		le.PutUint32(b[16:20], v.PacketID)
	}
	return b
}
