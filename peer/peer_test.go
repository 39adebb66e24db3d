package peer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShort(t *testing.T) {
	id, err := Parse("0102030405060708")
	require.NoError(t, err)
	assert.Equal(t, KindShort, id.Kind())

	short, ok := id.Short()
	require.True(t, ok)
	assert.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, short)
	assert.Equal(t, "0102030405060708", id.String())
}

func TestParseFull(t *testing.T) {
	raw := strings.Repeat("ab", 32)
	id, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, KindFull, id.Kind())

	full, ok := id.Full()
	require.True(t, ok)
	assert.Equal(t, byte(0xab), full[0])
	assert.Equal(t, raw, id.String())

	_, ok = id.Short()
	assert.False(t, ok)
}

func TestParseOverlay(t *testing.T) {
	id, err := Parse("overlay:NPUB1XYZ")
	require.NoError(t, err)
	assert.Equal(t, KindOverlay, id.Kind())

	overlay, ok := id.Overlay()
	require.True(t, ok)
	assert.Equal(t, "npub1xyz", overlay)
	assert.Equal(t, "overlay:npub1xyz", id.String())
}

func TestParseNormalizesCase(t *testing.T) {
	upper, err := Parse("ABCDEF0102030405")
	require.NoError(t, err)
	lower, err := Parse("abcdef0102030405")
	require.NoError(t, err)
	assert.Equal(t, lower, upper)
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"01020304",
		"zzzzzzzzzzzzzzzz",
		strings.Repeat("g", 64),
		"overlay:",
		strings.Repeat("ab", 20),
	}
	for _, s := range cases {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrInvalidID, "input %q", s)
	}
}

func TestRoundTripThroughString(t *testing.T) {
	ids := []ID{
		FromShort([8]byte{0xde, 0xad, 0xbe, 0xef, 0, 1, 2, 3}),
		FromFull([32]byte{9}),
		FromOverlay("abc123"),
	}
	for _, id := range ids {
		parsed, err := Parse(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestIsZero(t *testing.T) {
	var id ID
	assert.True(t, id.IsZero())
	assert.False(t, FromOverlay("x").IsZero())
}
