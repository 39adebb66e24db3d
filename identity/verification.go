package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bitmesh/protocol"
)

// Verification is the out-of-band peer verification flow: a challenge
// carrying a fresh nonce and our key fingerprints, answered by a
// signature binding the nonce to the responder's keys. Only fingerprints
// and signatures cross the wire; key material stays local.

// NewChallenge builds a verification challenge payload with a fresh
// 32-byte nonce.
func (id *Identity) NewChallenge() (*protocol.VerificationPayload, error) {
	v := &protocol.VerificationPayload{
		NoiseKeyFP:   id.NoiseKeyFingerprint(),
		SigningKeyFP: id.SigningKeyFingerprint(),
	}
	if _, err := rand.Read(v.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate verification nonce: %w", err)
	}
	return v, nil
}

// RespondToChallenge builds the response: our fingerprints, the echoed
// nonce, and a signature over the verification transcript.
func (id *Identity) RespondToChallenge(challenge *protocol.VerificationPayload) (*protocol.VerificationPayload, error) {
	if challenge == nil {
		return nil, fmt.Errorf("%w: nil challenge", protocol.ErrMalformedPacket)
	}

	resp := &protocol.VerificationPayload{
		NoiseKeyFP:   id.NoiseKeyFingerprint(),
		SigningKeyFP: id.SigningKeyFingerprint(),
		Nonce:        challenge.Nonce,
	}
	resp.Signature = id.Sign(verificationTranscript(resp))

	logrus.WithFields(logrus.Fields{
		"function": "RespondToChallenge",
	}).Debug("Built verification response")
	return resp, nil
}

// CheckResponse verifies a response against the challenge we issued and
// the peer's claimed signing key. The peer's fingerprints must match the
// claimed keys, the nonce must be ours, and the signature must bind both.
func CheckResponse(challenge, response *protocol.VerificationPayload,
	peerNoisePub [32]byte, peerSigningPub ed25519.PublicKey) error {

	if challenge == nil || response == nil {
		return fmt.Errorf("%w: missing verification payload", protocol.ErrMalformedPacket)
	}
	if response.Nonce != challenge.Nonce {
		return fmt.Errorf("%w: verification nonce mismatch", protocol.ErrSignatureInvalid)
	}

	wantNoiseFP := ShortOf(peerNoisePub)
	if !bytes.Equal(response.NoiseKeyFP, wantNoiseFP[:]) {
		return fmt.Errorf("%w: noise key fingerprint mismatch", protocol.ErrSignatureInvalid)
	}
	sigSum := fingerprintOfSigningKey(peerSigningPub)
	if !bytes.Equal(response.SigningKeyFP, sigSum) {
		return fmt.Errorf("%w: signing key fingerprint mismatch", protocol.ErrSignatureInvalid)
	}

	if !VerifySignature(peerSigningPub, verificationTranscript(response), response.Signature) {
		return fmt.Errorf("%w: verification signature check failed", protocol.ErrSignatureInvalid)
	}
	return nil
}

// verificationTranscript is the byte string a response signs: the nonce
// followed by the responder's fingerprints, so a signature cannot be
// replayed under different claimed keys.
func verificationTranscript(v *protocol.VerificationPayload) []byte {
	transcript := make([]byte, 0, len(v.Nonce)+len(v.NoiseKeyFP)+len(v.SigningKeyFP))
	transcript = append(transcript, v.Nonce[:]...)
	transcript = append(transcript, v.NoiseKeyFP...)
	transcript = append(transcript, v.SigningKeyFP...)
	return transcript
}

func fingerprintOfSigningKey(pub ed25519.PublicKey) []byte {
	id := &Identity{signPub: pub}
	return id.SigningKeyFingerprint()
}
