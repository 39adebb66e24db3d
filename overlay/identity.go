package overlay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/crypto/hkdf"
)

// geohashIdentityInfo domain-separates per-geohash key derivation from
// other uses of the root secret.
const geohashIdentityInfo = "bitmesh-geohash-identity-v1"

// Identity is an overlay signing identity: a secp256k1 key with its
// x-only public form.
type Identity struct {
	priv      *btcec.PrivateKey
	pubKeyHex string
}

// NewIdentity wraps an existing private key.
func NewIdentity(priv *btcec.PrivateKey) *Identity {
	return &Identity{
		priv:      priv,
		pubKeyHex: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

// DeriveGeohashIdentity derives a deterministic per-geohash identity from
// a 32-byte root secret. Events posted in different geohash channels are
// unlinkable at the key level.
func DeriveGeohashIdentity(rootSecret [32]byte, geohash string) (*Identity, error) {
	reader := hkdf.New(sha256.New, rootSecret[:], []byte(geohash), []byte(geohashIdentityInfo))

	// Rejection-sample a valid scalar; the first candidate is accepted
	// with overwhelming probability.
	var keyBytes [32]byte
	for attempt := 0; attempt < 8; attempt++ {
		if _, err := io.ReadFull(reader, keyBytes[:]); err != nil {
			return nil, fmt.Errorf("identity derivation failed: %w", err)
		}
		priv, _ := btcec.PrivKeyFromBytes(keyBytes[:])
		if priv.Key.IsZero() {
			continue
		}
		return NewIdentity(priv), nil
	}
	return nil, fmt.Errorf("identity derivation failed: no valid scalar")
}

// PubKeyHex returns the 64-char x-only public key.
func (i *Identity) PubKeyHex() string {
	return i.pubKeyHex
}

// SignEvent signs an event with this identity. The event's PubKey must be
// this identity's.
func (i *Identity) SignEvent(ev *Event) error {
	if ev.PubKey != i.pubKeyHex {
		return fmt.Errorf("%w: event pubkey does not match identity", ErrInvalidEvent)
	}
	return ev.Sign(i.priv)
}

// privateKey exposes the raw key to the gift-wrap opener within the
// package.
func (i *Identity) privateKey() *btcec.PrivateKey {
	return i.priv
}
