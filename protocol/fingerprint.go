package protocol

import (
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintSize is the size of a packet fingerprint in bytes.
const FingerprintSize = 16

// Fingerprint is a 16-byte deterministic digest identifying a packet for
// deduplication and sync sketches. It is derived from the packet fields
// excluding TTL and signature, so a relayed copy with a decremented TTL
// keeps the fingerprint of the original.
type Fingerprint [FingerprintSize]byte

// Hex returns the lowercase hex form of the fingerprint.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// FingerprintOf computes the fingerprint of a packet.
//
// The digest covers kind, timestamp, sender, recipient (when present) and
// payload: the first 16 bytes of the SHA-256 of their concatenation. Peers
// must agree on this derivation for anti-entropy to converge.
func FingerprintOf(p *Packet) Fingerprint {
	h := sha256.New()
	h.Write([]byte{byte(p.Type)})

	var ts [8]byte
	ts[0] = byte(p.Timestamp >> 56)
	ts[1] = byte(p.Timestamp >> 48)
	ts[2] = byte(p.Timestamp >> 40)
	ts[3] = byte(p.Timestamp >> 32)
	ts[4] = byte(p.Timestamp >> 24)
	ts[5] = byte(p.Timestamp >> 16)
	ts[6] = byte(p.Timestamp >> 8)
	ts[7] = byte(p.Timestamp)
	h.Write(ts[:])

	h.Write(p.SenderID[:])
	if p.RecipientID != nil {
		h.Write(p.RecipientID[:])
	}
	h.Write(p.Payload)

	var fp Fingerprint
	copy(fp[:], h.Sum(nil)[:FingerprintSize])
	return fp
}
