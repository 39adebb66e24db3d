package protocol

import (
	"encoding/binary"
	"fmt"
)

// Sync request TLV types.
const (
	syncTLVMBytes byte = 0x01
	syncTLVK      byte = 0x02
	syncTLVBits   byte = 0x03
)

// SyncRequest carries a Bloom sketch of the sender's recently seen packet
// fingerprints. A peer receiving it replays recent packets the sketch does
// not cover.
type SyncRequest struct {
	MBytes uint16
	K      uint8
	Bits   []byte
}

// Serialize encodes the sync request as a TLV stream:
// type(1) | length(2 BE) | value.
func (s *SyncRequest) Serialize() ([]byte, error) {
	if len(s.Bits) != int(s.MBytes) {
		return nil, fmt.Errorf("%w: bits length %d does not match mBytes %d", ErrMalformedPacket, len(s.Bits), s.MBytes)
	}

	buf := make([]byte, 0, (3+2)+(3+1)+(3+len(s.Bits)))

	buf = append(buf, syncTLVMBytes)
	buf = binary.BigEndian.AppendUint16(buf, 2)
	buf = binary.BigEndian.AppendUint16(buf, s.MBytes)

	buf = append(buf, syncTLVK)
	buf = binary.BigEndian.AppendUint16(buf, 1)
	buf = append(buf, s.K)

	buf = append(buf, syncTLVBits)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s.Bits)))
	buf = append(buf, s.Bits...)

	return buf, nil
}

// ParseSyncRequest decodes a sync request TLV stream.
//
// Unknown TLV types are skipped for forward compatibility. The decode
// fails iff a length runs off the buffer, a fixed-width value has the
// wrong width, or the bits length does not equal mBytes.
func ParseSyncRequest(data []byte) (*SyncRequest, error) {
	s := &SyncRequest{}

	off := 0
	for off < len(data) {
		if len(data) < off+3 {
			return nil, fmt.Errorf("%w: truncated sync TLV header", ErrMalformedPacket)
		}
		typ := data[off]
		length := int(binary.BigEndian.Uint16(data[off+1 : off+3]))
		off += 3
		if len(data) < off+length {
			return nil, fmt.Errorf("%w: sync TLV length %d runs off buffer", ErrMalformedPacket, length)
		}
		value := data[off : off+length]
		off += length

		switch typ {
		case syncTLVMBytes:
			if length != 2 {
				return nil, fmt.Errorf("%w: mBytes value is %d bytes, want 2", ErrMalformedPacket, length)
			}
			s.MBytes = binary.BigEndian.Uint16(value)
		case syncTLVK:
			if length != 1 {
				return nil, fmt.Errorf("%w: k value is %d bytes, want 1", ErrMalformedPacket, length)
			}
			s.K = value[0]
		case syncTLVBits:
			s.Bits = make([]byte, length)
			copy(s.Bits, value)
		default:
			// Unknown TLVs are tolerated.
		}
	}

	if len(s.Bits) != int(s.MBytes) {
		return nil, fmt.Errorf("%w: bits length %d does not match mBytes %d", ErrMalformedPacket, len(s.Bits), s.MBytes)
	}

	return s, nil
}
