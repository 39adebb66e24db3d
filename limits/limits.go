// Package limits provides centralized size limits for the mesh and overlay
// wire formats. This ensures consistent validation across different components
// of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPayload is the absolute ceiling for any packet payload (1 MiB).
	// File transfers, images and voice notes all share this ceiling.
	MaxPayload = 1024 * 1024

	// MaxTLVString is the maximum length of a length-prefixed string field
	// in a TLV payload (file name, MIME type). Encoders truncate longer
	// fields silently.
	MaxTLVString = 65535

	// MaxVerificationPayload is the ceiling for verification
	// challenge/response payloads.
	MaxVerificationPayload = 512

	// MaxFragmentPayload is the default maximum payload carried by a single
	// radio fragment. The radio driver may negotiate a smaller value.
	MaxFragmentPayload = 469

	// MaxPendingRadioBuffer is the point at which the radio driver starts
	// shedding lowest-priority outbound writes (announce < broadcast <
	// private).
	MaxPendingRadioBuffer = 1024 * 1024
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided.
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds its maximum size.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidatePayloadSize validates a payload against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidatePayloadSize(payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidatePacketPayload validates a packet payload against MaxPayload.
func ValidatePacketPayload(payload []byte) error {
	return ValidatePayloadSize(payload, MaxPayload)
}
