package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/bitmesh/limits"
)

// PacketType identifies the type of a mesh packet.
type PacketType byte

const (
	// Presence and membership packet types
	PacketAnnounce PacketType = iota + 1
	PacketLeave

	// Chat packet types
	PacketMessage
	PacketBroadcast
	PacketDeliveryAck
	PacketReadReceipt

	// Transfer packet types
	PacketFragment
	PacketFileTransfer

	// Sync packet types
	PacketRequestSync

	// Verification packet types
	PacketVerifyChallenge
	PacketVerifyResponse

	// Social packet types
	PacketFavoriteNotification
)

// String returns the registry name of the packet type for logging.
func (t PacketType) String() string {
	switch t {
	case PacketAnnounce:
		return "announce"
	case PacketLeave:
		return "leave"
	case PacketMessage:
		return "message"
	case PacketBroadcast:
		return "broadcast"
	case PacketDeliveryAck:
		return "delivery_ack"
	case PacketReadReceipt:
		return "read_receipt"
	case PacketFragment:
		return "fragment"
	case PacketFileTransfer:
		return "file_transfer"
	case PacketRequestSync:
		return "request_sync"
	case PacketVerifyChallenge:
		return "verify_challenge"
	case PacketVerifyResponse:
		return "verify_response"
	case PacketFavoriteNotification:
		return "favorite_notification"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Packet flags.
const (
	flagHasRecipient byte = 0x01
	flagSigned       byte = 0x02
)

// Fixed header: kind(1) + flags(1) + ttl(1) + timestamp(8) + senderId(8) +
// payloadLen(2).
const headerSize = 1 + 1 + 1 + 8 + 8 + 2

// Packet represents a mesh protocol packet.
//
// A nil RecipientID means the packet is a broadcast and floods the mesh
// until its TTL expires. A nil Signature means the packet is unsigned.
type Packet struct {
	Type        PacketType
	TTL         uint8
	Timestamp   uint64 // milliseconds since the Unix epoch
	SenderID    [8]byte
	RecipientID *[8]byte
	Payload     []byte
	Signature   []byte
}

// Serialize converts a packet to a byte slice for transmission.
//
// Format: kind(1) | flags(1) | ttl(1) | timestamp(8) | senderId(8) |
// [recipientId(8)] | payloadLen(2) | payload | [sigLen(1) | sig].
func (p *Packet) Serialize() ([]byte, error) {
	if len(p.Payload) > limits.MaxPayload {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrPayloadTooLarge, len(p.Payload), limits.MaxPayload)
	}
	if len(p.Payload) > 0xffff {
		return nil, fmt.Errorf("%w: payload %d exceeds frame length field", ErrPayloadTooLarge, len(p.Payload))
	}
	if len(p.Signature) > 0xff {
		return nil, fmt.Errorf("%w: signature %d exceeds 255 bytes", ErrMalformedPacket, len(p.Signature))
	}

	size := headerSize + len(p.Payload)
	var flags byte
	if p.RecipientID != nil {
		flags |= flagHasRecipient
		size += 8
	}
	if p.Signature != nil {
		flags |= flagSigned
		size += 1 + len(p.Signature)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(p.Type), flags, p.TTL)
	buf = binary.BigEndian.AppendUint64(buf, p.Timestamp)
	buf = append(buf, p.SenderID[:]...)
	if p.RecipientID != nil {
		buf = append(buf, p.RecipientID[:]...)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Payload)))
	buf = append(buf, p.Payload...)
	if p.Signature != nil {
		buf = append(buf, byte(len(p.Signature)))
		buf = append(buf, p.Signature...)
	}

	return buf, nil
}

// ParsePacket converts a byte slice to a Packet structure.
// It fails with ErrMalformedPacket on truncation or out-of-range lengths.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPacket, len(data), headerSize)
	}

	p := &Packet{
		Type: PacketType(data[0]),
		TTL:  data[2],
	}
	flags := data[1]
	p.Timestamp = binary.BigEndian.Uint64(data[3:11])
	copy(p.SenderID[:], data[11:19])
	off := 19

	if flags&flagHasRecipient != 0 {
		if len(data) < off+8 {
			return nil, fmt.Errorf("%w: truncated recipient", ErrMalformedPacket)
		}
		var recipient [8]byte
		copy(recipient[:], data[off:off+8])
		p.RecipientID = &recipient
		off += 8
	}

	if len(data) < off+2 {
		return nil, fmt.Errorf("%w: truncated payload length", ErrMalformedPacket)
	}
	payloadLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+payloadLen {
		return nil, fmt.Errorf("%w: payload length %d runs off buffer", ErrMalformedPacket, payloadLen)
	}
	p.Payload = make([]byte, payloadLen)
	copy(p.Payload, data[off:off+payloadLen])
	off += payloadLen

	if flags&flagSigned != 0 {
		if len(data) < off+1 {
			return nil, fmt.Errorf("%w: truncated signature length", ErrMalformedPacket)
		}
		sigLen := int(data[off])
		off++
		if len(data) < off+sigLen {
			return nil, fmt.Errorf("%w: signature length %d runs off buffer", ErrMalformedPacket, sigLen)
		}
		p.Signature = make([]byte, sigLen)
		copy(p.Signature, data[off:off+sigLen])
		off += sigLen
	}

	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPacket, len(data)-off)
	}

	return p, nil
}

// Clone returns a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	c := &Packet{
		Type:      p.Type,
		TTL:       p.TTL,
		Timestamp: p.Timestamp,
		SenderID:  p.SenderID,
	}
	if p.RecipientID != nil {
		recipient := *p.RecipientID
		c.RecipientID = &recipient
	}
	if p.Payload != nil {
		c.Payload = make([]byte, len(p.Payload))
		copy(c.Payload, p.Payload)
	}
	if p.Signature != nil {
		c.Signature = make([]byte, len(p.Signature))
		copy(c.Signature, p.Signature)
	}
	return c
}

// IsBroadcast reports whether the packet has no specific recipient.
func (p *Packet) IsBroadcast() bool {
	return p.RecipientID == nil
}
