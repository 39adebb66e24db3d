package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/bitmesh/limits"
)

// Verification TLV types. Challenge and response share the same framing;
// the signature TLV appears only in responses.
const (
	verifyTLVNoiseFP   byte = 0x01
	verifyTLVSigningFP byte = 0x02
	verifyTLVNonce     byte = 0x03
	verifyTLVSignature byte = 0x04
)

// VerificationNonceSize is the size of a verification nonce in bytes.
const VerificationNonceSize = 32

// VerificationPayload is the decoded form of a verification challenge or
// response. A challenge carries the challenger's key fingerprints and a
// fresh nonce; the response carries the responder's own key fingerprints,
// echoes the nonce, and adds a signature over the nonce and those
// fingerprints under the responder's signing key.
type VerificationPayload struct {
	NoiseKeyFP   []byte
	SigningKeyFP []byte
	Nonce        [VerificationNonceSize]byte
	Signature    []byte
}

// IsResponse reports whether the payload carries a signature.
func (v *VerificationPayload) IsResponse() bool {
	return len(v.Signature) > 0
}

// Serialize encodes the payload as a TLV stream. The encoded form must
// fit in MaxVerificationPayload.
func (v *VerificationPayload) Serialize() ([]byte, error) {
	total := (3 + len(v.NoiseKeyFP)) + (3 + len(v.SigningKeyFP)) + (3 + VerificationNonceSize)
	if len(v.Signature) > 0 {
		total += 3 + len(v.Signature)
	}
	if total > limits.MaxVerificationPayload {
		return nil, fmt.Errorf("%w: verification payload %d exceeds %d", ErrPayloadTooLarge, total, limits.MaxVerificationPayload)
	}

	buf := make([]byte, 0, total)
	buf = appendVerifyTLV(buf, verifyTLVNoiseFP, v.NoiseKeyFP)
	buf = appendVerifyTLV(buf, verifyTLVSigningFP, v.SigningKeyFP)
	buf = appendVerifyTLV(buf, verifyTLVNonce, v.Nonce[:])
	if len(v.Signature) > 0 {
		buf = appendVerifyTLV(buf, verifyTLVSignature, v.Signature)
	}
	return buf, nil
}

func appendVerifyTLV(buf []byte, typ byte, value []byte) []byte {
	buf = append(buf, typ)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// ParseVerificationPayload decodes a verification TLV stream. Unknown TLV
// types are skipped. The nonce is mandatory and must be exactly 32 bytes.
func ParseVerificationPayload(data []byte) (*VerificationPayload, error) {
	if len(data) > limits.MaxVerificationPayload {
		return nil, fmt.Errorf("%w: verification payload %d exceeds %d", ErrPayloadTooLarge, len(data), limits.MaxVerificationPayload)
	}

	v := &VerificationPayload{}
	var haveNonce bool

	off := 0
	for off < len(data) {
		if len(data) < off+3 {
			return nil, fmt.Errorf("%w: truncated verification TLV header", ErrMalformedPacket)
		}
		typ := data[off]
		length := int(binary.BigEndian.Uint16(data[off+1 : off+3]))
		off += 3
		if len(data) < off+length {
			return nil, fmt.Errorf("%w: verification TLV length %d runs off buffer", ErrMalformedPacket, length)
		}
		value := data[off : off+length]
		off += length

		switch typ {
		case verifyTLVNoiseFP:
			v.NoiseKeyFP = append([]byte(nil), value...)
		case verifyTLVSigningFP:
			v.SigningKeyFP = append([]byte(nil), value...)
		case verifyTLVNonce:
			if length != VerificationNonceSize {
				return nil, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrMalformedPacket, length, VerificationNonceSize)
			}
			copy(v.Nonce[:], value)
			haveNonce = true
		case verifyTLVSignature:
			v.Signature = append([]byte(nil), value...)
		default:
			// Unknown TLVs are tolerated.
		}
	}

	if !haveNonce {
		return nil, fmt.Errorf("%w: verification payload missing nonce", ErrMalformedPacket)
	}

	return v, nil
}
