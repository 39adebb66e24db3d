package protocol

import "errors"

var (
	// ErrMalformedPacket indicates a packet or TLV payload that cannot be
	// decoded: truncation, out-of-range length, or an unknown mandatory
	// field. Malformed input is dropped at ingress and never propagates
	// above the packet layer.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrSignatureInvalid indicates a packet signature that does not verify
	// against the sender's signing key.
	ErrSignatureInvalid = errors.New("invalid signature")

	// ErrPayloadTooLarge indicates a payload exceeding the 1 MiB ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrDuplicate indicates a packet whose fingerprint was already seen.
	ErrDuplicate = errors.New("duplicate packet")

	// ErrRateLimited indicates a packet dropped by the ingress rate
	// limiter (per-sender or per-content bucket).
	ErrRateLimited = errors.New("rate limited")

	// ErrDecodeAmbiguity indicates input that decodes under more than one
	// interpretation; the caller must resolve it.
	ErrDecodeAmbiguity = errors.New("ambiguous encoding")
)
