// Package peer defines the peer identity forms used across transports.
//
// A peer is addressed either by its short routing ID (8 bytes, the leading
// digest of its static public key), by its full identity key (32 bytes), or
// by a namespaced overlay identifier. Parsing normalizes the textual forms
// so validation disappears from the hot path.
package peer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// OverlayPrefix namespaces overlay-side peer identifiers.
const OverlayPrefix = "overlay:"

// Kind discriminates the identity forms.
type Kind uint8

const (
	// KindShort is an 8-byte routing ID (16 hex chars).
	KindShort Kind = iota
	// KindFull is a 32-byte identity key (64 hex chars).
	KindFull
	// KindOverlay is a namespaced overlay identifier.
	KindOverlay
)

// ErrInvalidID indicates a string that is none of the recognized forms.
var ErrInvalidID = errors.New("invalid peer ID")

// ID is a parsed peer identity.
type ID struct {
	kind    Kind
	short   [8]byte
	full    [32]byte
	overlay string
}

// FromShort builds an ID from an 8-byte routing ID.
func FromShort(short [8]byte) ID {
	return ID{kind: KindShort, short: short}
}

// FromFull builds an ID from a 32-byte identity key.
func FromFull(full [32]byte) ID {
	return ID{kind: KindFull, full: full}
}

// FromOverlay builds an ID from an overlay identifier (without the prefix).
func FromOverlay(id string) ID {
	return ID{kind: KindOverlay, overlay: strings.ToLower(id)}
}

// Parse normalizes and parses a textual peer identity. Accepted forms:
// exactly 16 hex chars (short), exactly 64 hex chars (full), or a non-empty
// identifier prefixed "overlay:".
func Parse(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if strings.HasPrefix(s, OverlayPrefix) {
		rest := s[len(OverlayPrefix):]
		if rest == "" {
			return ID{}, fmt.Errorf("%w: empty overlay identifier", ErrInvalidID)
		}
		return FromOverlay(rest), nil
	}

	switch len(s) {
	case 16:
		raw, err := hex.DecodeString(s)
		if err != nil {
			return ID{}, fmt.Errorf("%w: %q is not hex", ErrInvalidID, s)
		}
		var short [8]byte
		copy(short[:], raw)
		return FromShort(short), nil
	case 64:
		raw, err := hex.DecodeString(s)
		if err != nil {
			return ID{}, fmt.Errorf("%w: %q is not hex", ErrInvalidID, s)
		}
		var full [32]byte
		copy(full[:], raw)
		return FromFull(full), nil
	default:
		return ID{}, fmt.Errorf("%w: %q has length %d, want 16, 64 or overlay form", ErrInvalidID, s, len(s))
	}
}

// Kind returns the identity form.
func (id ID) Kind() Kind {
	return id.kind
}

// Short returns the 8-byte routing ID. For a full ID the caller must
// narrow it first via a digest (see identity.ShortOf); ok is false when
// the ID is not a short form.
func (id ID) Short() (short [8]byte, ok bool) {
	if id.kind != KindShort {
		return short, false
	}
	return id.short, true
}

// Full returns the 32-byte identity key; ok is false for other forms.
func (id ID) Full() (full [32]byte, ok bool) {
	if id.kind != KindFull {
		return full, false
	}
	return id.full, true
}

// Overlay returns the overlay identifier without its prefix; ok is false
// for other forms.
func (id ID) Overlay() (string, bool) {
	if id.kind != KindOverlay {
		return "", false
	}
	return id.overlay, true
}

// String returns the normalized lowercase textual form.
func (id ID) String() string {
	switch id.kind {
	case KindShort:
		return hex.EncodeToString(id.short[:])
	case KindFull:
		return hex.EncodeToString(id.full[:])
	default:
		return OverlayPrefix + id.overlay
	}
}

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}
