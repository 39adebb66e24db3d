package overlay

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalBytes(t *testing.T) {
	ev := &Event{
		PubKey:    strings.Repeat("a", 64),
		CreatedAt: 1700000000,
		Kind:      20000,
		Tags:      [][]string{{"g", "u4pruydqqvj"}},
		Content:   "hello",
	}

	canonical, err := ev.CanonicalBytes()
	require.NoError(t, err)
	assert.Equal(t,
		`[0,"`+strings.Repeat("a", 64)+`",1700000000,20000,[["g","u4pruydqqvj"]],"hello"]`,
		string(canonical))
}

func TestCanonicalBytesNoEscapedSlashes(t *testing.T) {
	ev := &Event{
		PubKey:    strings.Repeat("b", 64),
		CreatedAt: 1,
		Kind:      1,
		Content:   "http://example.com/path",
	}
	canonical, err := ev.CanonicalBytes()
	require.NoError(t, err)
	assert.Contains(t, string(canonical), "http://example.com/path")
	assert.NotContains(t, string(canonical), `\/`)
}

func TestCanonicalBytesNilTags(t *testing.T) {
	ev := &Event{PubKey: strings.Repeat("c", 64), CreatedAt: 2, Kind: 1}
	canonical, err := ev.CanonicalBytes()
	require.NoError(t, err)
	assert.Contains(t, string(canonical), ",[],")
}

func TestComputeIDMatchesManualHash(t *testing.T) {
	ev := &Event{
		PubKey:    strings.Repeat("d", 64),
		CreatedAt: 1700000000,
		Kind:      1,
		Content:   "x",
	}
	canonical, err := ev.CanonicalBytes()
	require.NoError(t, err)

	want := sha256.Sum256(canonical)
	got, err := ev.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSignAndVerify(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	identity := NewIdentity(priv)

	ev := NewGeohashNote(identity.PubKeyHex(), "u4pru", "alice", "hi there")
	require.NoError(t, identity.SignEvent(ev))
	assert.Len(t, ev.ID, 64)
	assert.NotEmpty(t, ev.Sig)

	assert.NoError(t, ev.Verify())

	// Any mutation invalidates the id.
	ev.Content = "tampered"
	assert.ErrorIs(t, ev.Verify(), ErrInvalidEvent)
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	id1 := NewIdentity(priv1)
	ev := NewGeohashNote(id1.PubKeyHex(), "u4pru", "", "hello")
	require.NoError(t, id1.SignEvent(ev))

	// Re-sign with a different key but keep the original pubkey.
	forged := NewIdentity(priv2)
	evForged := *ev
	evForged.PubKey = id1.PubKeyHex()
	require.Error(t, forged.SignEvent(&evForged))

	// Signing with the other key directly yields a signature Verify rejects.
	require.NoError(t, evForged.Sign(priv2))
	assert.ErrorIs(t, evForged.Verify(), ErrInvalidEvent)
}

func TestTagValue(t *testing.T) {
	ev := &Event{Tags: [][]string{{"g", "u4pru"}, {"n", "alice"}, {"x"}}}
	assert.Equal(t, "u4pru", ev.TagValue("g"))
	assert.Equal(t, "alice", ev.TagValue("n"))
	assert.Equal(t, "", ev.TagValue("x"))
	assert.Equal(t, "", ev.TagValue("missing"))
}

func TestDeriveGeohashIdentityDeterministic(t *testing.T) {
	var root [32]byte
	root[0] = 0x42

	a, err := DeriveGeohashIdentity(root, "u4pru")
	require.NoError(t, err)
	b, err := DeriveGeohashIdentity(root, "u4pru")
	require.NoError(t, err)
	c, err := DeriveGeohashIdentity(root, "u4prv")
	require.NoError(t, err)

	assert.Equal(t, a.PubKeyHex(), b.PubKeyHex())
	assert.NotEqual(t, a.PubKeyHex(), c.PubKeyHex())

	raw, err := hex.DecodeString(a.PubKeyHex())
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
