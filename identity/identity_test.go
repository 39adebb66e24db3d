package identity

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/bitmesh/peer"
	"github.com/opd-ai/bitmesh/protocol"
)

func TestGenerate(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	pub := id.NoisePublicKey()
	assert.NotEqual(t, [32]byte{}, pub)
	assert.Len(t, id.SigningPublicKey(), 32)
	assert.Equal(t, peer.KindShort, id.PeerID().Kind())
	assert.Equal(t, peer.KindFull, id.FullID().Kind())
}

func TestShortOfDeterministic(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	short, ok := id.PeerID().Short()
	require.True(t, ok)
	assert.Equal(t, ShortOf(id.NoisePublicKey()), short)
	assert.Equal(t, short[:], id.NoiseKeyFingerprint())
}

func TestFromSeedsRoundTrip(t *testing.T) {
	var noisePriv, signSeed [32]byte
	_, err := rand.Read(noisePriv[:])
	require.NoError(t, err)
	// Clamp per Curve25519 so the scalar is valid.
	noisePriv[0] &= 248
	noisePriv[31] = (noisePriv[31] & 127) | 64
	_, err = rand.Read(signSeed[:])
	require.NoError(t, err)

	a, err := FromSeeds(noisePriv, signSeed)
	require.NoError(t, err)
	b, err := FromSeeds(noisePriv, signSeed)
	require.NoError(t, err)

	assert.Equal(t, a.NoisePublicKey(), b.NoisePublicKey())
	assert.Equal(t, a.SigningPublicKey(), b.SigningPublicKey())
	assert.Equal(t, a.PeerID(), b.PeerID())
	assert.Equal(t, a.RootSecret(), b.RootSecret())
}

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := []byte("attest this")
	sig := id.Sign(msg)
	assert.True(t, VerifySignature(id.SigningPublicKey(), msg, sig))
	assert.False(t, VerifySignature(id.SigningPublicKey(), []byte("other"), sig))
	assert.False(t, VerifySignature(nil, msg, sig))
}

func TestVerificationFlow(t *testing.T) {
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)

	challenge, err := alice.NewChallenge()
	require.NoError(t, err)
	assert.False(t, challenge.IsResponse())

	// The challenge survives its wire encoding.
	wire, err := challenge.Serialize()
	require.NoError(t, err)
	decoded, err := protocol.ParseVerificationPayload(wire)
	require.NoError(t, err)

	response, err := bob.RespondToChallenge(decoded)
	require.NoError(t, err)
	assert.True(t, response.IsResponse())

	respWire, err := response.Serialize()
	require.NoError(t, err)
	respDecoded, err := protocol.ParseVerificationPayload(respWire)
	require.NoError(t, err)

	assert.NoError(t, CheckResponse(challenge, respDecoded, bob.NoisePublicKey(), bob.SigningPublicKey()))
}

func TestVerificationRejectsWrongNonce(t *testing.T) {
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)

	challenge, err := alice.NewChallenge()
	require.NoError(t, err)
	response, err := bob.RespondToChallenge(challenge)
	require.NoError(t, err)

	other, err := alice.NewChallenge()
	require.NoError(t, err)
	assert.ErrorIs(t, CheckResponse(other, response, bob.NoisePublicKey(), bob.SigningPublicKey()),
		protocol.ErrSignatureInvalid)
}

func TestVerificationRejectsImpersonation(t *testing.T) {
	alice, err := Generate()
	require.NoError(t, err)
	bob, err := Generate()
	require.NoError(t, err)
	mallory, err := Generate()
	require.NoError(t, err)

	challenge, err := alice.NewChallenge()
	require.NoError(t, err)

	// Mallory answers but claims Bob's keys.
	response, err := mallory.RespondToChallenge(challenge)
	require.NoError(t, err)
	assert.ErrorIs(t, CheckResponse(challenge, response, bob.NoisePublicKey(), bob.SigningPublicKey()),
		protocol.ErrSignatureInvalid)

	// Tampering with the claimed fingerprints breaks the signature.
	response2, err := bob.RespondToChallenge(challenge)
	require.NoError(t, err)
	response2.SigningKeyFP = mallory.SigningKeyFingerprint()
	assert.ErrorIs(t, CheckResponse(challenge, response2, bob.NoisePublicKey(), bob.SigningPublicKey()),
		protocol.ErrSignatureInvalid)
}
