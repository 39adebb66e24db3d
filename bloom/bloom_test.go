package bloom

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomID(t *testing.T) [16]byte {
	t.Helper()
	var id [16]byte
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

func TestDerivedParameters(t *testing.T) {
	f := New(DefaultMaxBytes, DefaultTargetFPR)
	// mBits = 2048, fpr = 0.01: n = floor(2048 * ln2^2 / ln(1/0.01)) = 213,
	// k = ceil(2048/213 * ln2) = 7.
	assert.Equal(t, 213, f.Capacity())
	assert.Equal(t, 7, f.K())
}

func TestAddThenMightContain(t *testing.T) {
	f := New(DefaultMaxBytes, DefaultTargetFPR)
	// Holds across rotations: every id queried immediately after insert.
	for i := 0; i < 3*f.Capacity(); i++ {
		id := randomID(t)
		f.Add(id)
		assert.True(t, f.MightContain(id), "insert %d", i)
	}
}

func TestFalsePositiveRate(t *testing.T) {
	f := New(256, 0.01)
	n := f.Capacity()

	for i := 0; i < n; i++ {
		f.Add(randomID(t))
	}

	const probes = 10000
	falsePositives := 0
	for i := 0; i < probes; i++ {
		if f.MightContain(randomID(t)) {
			falsePositives++
		}
	}

	observed := float64(falsePositives) / probes
	assert.LessOrEqual(t, observed, 0.02, "observed FPR %f", observed)
}

func TestRotationBoundsState(t *testing.T) {
	f := New(64, 0.01)
	n := f.Capacity()

	first := randomID(t)
	f.Add(first)

	// Push far past capacity; the first id must eventually age out while
	// recent ids stay present.
	var last [16]byte
	for i := 0; i < 2*n; i++ {
		last = randomID(t)
		f.Add(last)
	}

	assert.True(t, f.MightContain(last))
	// After two full rotations the original id's bits have been dropped
	// (barring a false positive, which the 64-byte filter makes unlikely
	// enough for a fixed assertion at this fill level to be flaky; probe
	// several aged ids instead).
	aged := 0
	for i := 0; i < 50; i++ {
		id := randomID(t)
		g := New(64, 0.01)
		g.Add(id)
		for j := 0; j < 2*g.Capacity(); j++ {
			g.Add(randomID(t))
		}
		if !g.MightContain(id) {
			aged++
		}
	}
	assert.Greater(t, aged, 25, "rotation never ages out old entries")
}

func TestSnapshotIsValueCopy(t *testing.T) {
	f := New(DefaultMaxBytes, DefaultTargetFPR)
	f.Add(randomID(t))

	snap := f.Snapshot()
	assert.Equal(t, uint16(256), snap.MBytes)
	assert.Equal(t, uint8(7), snap.K)
	assert.Len(t, snap.Bits, 256)

	// Mutating the snapshot must not affect the filter.
	before := f.Snapshot()
	snap.Bits[0] ^= 0xff
	after := f.Snapshot()
	assert.Equal(t, before.Bits, after.Bits)
}

func TestPredicateMatchesSourceFilter(t *testing.T) {
	f := New(DefaultMaxBytes, DefaultTargetFPR)

	inserted := make([][16]byte, 100)
	for i := range inserted {
		inserted[i] = randomID(t)
		f.Add(inserted[i])
	}

	snap := f.Snapshot()
	pred := PredicateFrom(snap.MBytes, snap.K, snap.Bits)

	for _, id := range inserted {
		assert.Equal(t, f.MightContain(id), pred.MightContain(id))
	}
	for i := 0; i < 1000; i++ {
		id := randomID(t)
		assert.Equal(t, f.MightContain(id), pred.MightContain(id))
	}
}

func TestPredicateDegenerateParameters(t *testing.T) {
	assert.False(t, PredicateFrom(0, 7, nil).MightContain(randomID(t)))
	assert.False(t, PredicateFrom(256, 0, make([]byte, 256)).MightContain(randomID(t)))
	assert.False(t, PredicateFrom(256, 7, make([]byte, 10)).MightContain(randomID(t)))
}

func TestBitOrderMSBFirst(t *testing.T) {
	// A filter with k=1 sets exactly one bit per insert; verify the bit is
	// stored MSB-first by reconstructing the index from the snapshot.
	f := &Filter{
		maxBytes: 2,
		k:        1,
		capacity: 1000,
		active:   newPlainFilter(2, 1),
	}

	id := randomID(t)
	f.Add(id)

	h1, h2 := foldPair(id[:])
	idx := bitIndex(h1, h2, 0, 16)

	snap := f.Snapshot()
	assert.Equal(t, byte(0x80>>(idx%8)), snap.Bits[idx/8]&(0x80>>(idx%8)))
}

func TestReset(t *testing.T) {
	f := New(DefaultMaxBytes, DefaultTargetFPR)
	id := randomID(t)
	f.Add(id)
	require.True(t, f.MightContain(id))

	f.Reset()
	assert.False(t, f.MightContain(id))
}
