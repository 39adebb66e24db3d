package pow

import (
	"crypto/sha256"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/bitmesh/overlay"
)

func TestLeadingZeroBitsExactness(t *testing.T) {
	// [0x00, 0x00, 0xF0] ++ 29 zero bytes: exactly 16 leading zero bits.
	b := make([]byte, 32)
	b[2] = 0xf0
	assert.Equal(t, 16, LeadingZeroBits(b))
}

func TestLeadingZeroBitsTable(t *testing.T) {
	assert.Equal(t, 0, LeadingZeroBits([]byte{0xff}))
	assert.Equal(t, 0, LeadingZeroBits([]byte{0x80}))
	assert.Equal(t, 1, LeadingZeroBits([]byte{0x40}))
	assert.Equal(t, 7, LeadingZeroBits([]byte{0x01}))
	assert.Equal(t, 8, LeadingZeroBits([]byte{0x00}))
	assert.Equal(t, 16, LeadingZeroBits([]byte{0x00, 0x00}))
	assert.Equal(t, 9, LeadingZeroBits([]byte{0x00, 0x40, 0x00}))
	assert.Equal(t, 0, LeadingZeroBits(nil))
}

func TestRequiredBitsSchedule(t *testing.T) {
	assert.Equal(t, 10, RequiredBits(1))
	assert.Equal(t, 10, RequiredBits(5))
	assert.Equal(t, 9, RequiredBits(6))
	assert.Equal(t, 8, RequiredBits(7))
	assert.Equal(t, 8, RequiredBits(11))
}

func TestMineTerminatesAtLowDifficulty(t *testing.T) {
	ev := &overlay.Event{
		PubKey:    strings.Repeat("a", 64),
		CreatedAt: 1700000000,
		Kind:      20000,
		Tags:      [][]string{{"g", "u4pruydqqvj"}},
		Content:   "hello",
	}

	miner := NewMiner()
	nonce, idHex, err := miner.Mine(ev, 8)
	require.NoError(t, err)
	assert.NotEmpty(t, idHex)

	// The nonce tag carries the winning nonce and the target bits.
	var nonceTag []string
	for _, tag := range ev.Tags {
		if len(tag) == 3 && tag[0] == "nonce" {
			nonceTag = tag
		}
	}
	require.NotNil(t, nonceTag)
	assert.Equal(t, strconv.FormatUint(nonce, 10), nonceTag[1])
	assert.Equal(t, "8", nonceTag[2])

	// Independent recomputation: canonical serialization of the final
	// tags hashes to an id with >= 8 leading zero bits.
	canonical, err := ev.CanonicalBytes()
	require.NoError(t, err)
	id := sha256.Sum256(canonical)
	assert.GreaterOrEqual(t, LeadingZeroBits(id[:]), 8)

	recomputed, err := ev.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, id, recomputed)
}

func TestMinePreservesBaseTags(t *testing.T) {
	ev := &overlay.Event{
		PubKey:    strings.Repeat("b", 64),
		CreatedAt: 1,
		Kind:      20000,
		Tags:      [][]string{{"g", "u4pru"}, {"n", "alice"}},
		Content:   "x",
	}

	_, _, err := NewMiner().Mine(ev, 4)
	require.NoError(t, err)

	require.Len(t, ev.Tags, 3)
	assert.Equal(t, []string{"g", "u4pru"}, ev.Tags[0])
	assert.Equal(t, []string{"n", "alice"}, ev.Tags[1])
	assert.Equal(t, "nonce", ev.Tags[2][0])
}

func TestMineRejectsBadTarget(t *testing.T) {
	ev := &overlay.Event{PubKey: strings.Repeat("c", 64)}
	_, _, err := NewMiner().Mine(ev, -1)
	assert.Error(t, err)
	_, _, err = NewMiner().Mine(ev, 300)
	assert.Error(t, err)
}
