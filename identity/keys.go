// Package identity manages the local cryptographic identity handles: the
// noise static key that anchors mesh sessions and the Ed25519 signing key
// used for packet and verification signatures.
//
// Key material never leaves this package except as fingerprints and
// signatures; collaborators hold an *Identity and ask it to sign or
// verify.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bitmesh/peer"
)

// FingerprintSize is the size of a key fingerprint in bytes.
const FingerprintSize = 8

// ErrInvalidKey indicates key material of the wrong size or form.
var ErrInvalidKey = errors.New("invalid key material")

// Identity holds the local long-term keys.
type Identity struct {
	noiseKey noise.DHKey
	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey
}

// Generate creates a fresh identity: a Curve25519 noise static key and an
// Ed25519 signing key.
func Generate() (*Identity, error) {
	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	noiseKey, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate noise static key: %w", err)
	}

	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	id := &Identity{noiseKey: noiseKey, signPriv: signPriv, signPub: signPub}
	logrus.WithFields(logrus.Fields{
		"function": "Generate",
		"peer_id":  id.PeerID().String(),
	}).Info("Generated local identity")
	return id, nil
}

// FromSeeds reconstructs an identity from stored key material: the
// 32-byte noise private key and the 32-byte Ed25519 seed.
func FromSeeds(noisePriv [32]byte, signSeed [32]byte) (*Identity, error) {
	dh := noise.DH25519
	pub, err := dh.DH(noisePriv[:], basepoint())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	noiseKey := noise.DHKey{
		Private: append([]byte(nil), noisePriv[:]...),
		Public:  pub,
	}

	signPriv := ed25519.NewKeyFromSeed(signSeed[:])
	return &Identity{
		noiseKey: noiseKey,
		signPriv: signPriv,
		signPub:  signPriv.Public().(ed25519.PublicKey),
	}, nil
}

// basepoint is the Curve25519 generator.
func basepoint() []byte {
	b := make([]byte, 32)
	b[0] = 9
	return b
}

// NoisePublicKey returns the 32-byte noise static public key.
func (id *Identity) NoisePublicKey() [32]byte {
	var pub [32]byte
	copy(pub[:], id.noiseKey.Public)
	return pub
}

// SigningPublicKey returns the Ed25519 public key.
func (id *Identity) SigningPublicKey() ed25519.PublicKey {
	return id.signPub
}

// PeerID returns our short routing ID: the first 8 bytes of the SHA-256
// of the noise static public key.
func (id *Identity) PeerID() peer.ID {
	return peer.FromShort(ShortOf(id.NoisePublicKey()))
}

// FullID returns our full identity form.
func (id *Identity) FullID() peer.ID {
	return peer.FromFull(id.NoisePublicKey())
}

// NoiseKeyFingerprint returns the 8-byte fingerprint of the noise static
// public key.
func (id *Identity) NoiseKeyFingerprint() []byte {
	fp := ShortOf(id.NoisePublicKey())
	return fp[:]
}

// SigningKeyFingerprint returns the 8-byte fingerprint of the signing
// public key.
func (id *Identity) SigningKeyFingerprint() []byte {
	sum := sha256.Sum256(id.signPub)
	return append([]byte(nil), sum[:FingerprintSize]...)
}

// Sign signs a message with the identity's signing key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.signPriv, message)
}

// VerifySignature checks a signature under a peer's signing public key.
func VerifySignature(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// ShortOf narrows a full 32-byte identity key to its 8-byte routing
// digest. Peers must agree on this derivation.
func ShortOf(full [32]byte) [8]byte {
	sum := sha256.Sum256(full[:])
	var short [8]byte
	copy(short[:], sum[:8])
	return short
}

// RootSecret derives the 32-byte overlay root secret from the identity.
// Overlay per-geohash keys hang off this value, so the overlay identity
// tree is stable across restarts for a stable mesh identity.
func (id *Identity) RootSecret() [32]byte {
	h := sha256.New()
	h.Write([]byte("bitmesh-overlay-root-v1"))
	h.Write(id.noiseKey.Private)
	var secret [32]byte
	copy(secret[:], h.Sum(nil))
	return secret
}
