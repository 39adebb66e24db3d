// Package bloom implements the rotating Bloom filter used for anti-entropy
// sync sketches.
//
// The filter tracks recent packet fingerprints with a bounded false-positive
// rate and bounded state: once the active filter reaches half its derived
// capacity a standby filter starts receiving parallel inserts, and at full
// capacity the standby is promoted and the old contents age out. Snapshots
// of the active bit array are value copies safe to ship over the wire; a
// peer reconstructs the membership predicate from (mBytes, k, bits) using
// the same hash derivation.
package bloom

import (
	"math"
	"sync"
)

// Defaults for the rotating filter.
const (
	DefaultMaxBytes  = 256
	DefaultTargetFPR = 0.01
)

// Double-hashing fold constants. The first pair is FNV-1a; the second is a
// distinct basis/odd-multiplier pair so the two folds are independent.
const (
	fnvOffset1 uint64 = 0xcbf29ce484222325
	fnvPrime1  uint64 = 0x100000001b3
	fnvOffset2 uint64 = 0x9e3779b97f4a7c15
	fnvPrime2  uint64 = 0x100000001b5
)

// Snapshot is a value copy of a filter's parameters and bit array.
type Snapshot struct {
	MBytes uint16
	K      uint8
	Bits   []byte
}

// plainFilter is a single fixed-size Bloom filter.
type plainFilter struct {
	bits    []byte
	mBits   uint64
	k       int
	inserts int
}

func newPlainFilter(maxBytes int, k int) *plainFilter {
	return &plainFilter{
		bits:  make([]byte, maxBytes),
		mBits: uint64(maxBytes) * 8,
		k:     k,
	}
}

func (f *plainFilter) add(id [16]byte) {
	h1, h2 := foldPair(id[:])
	for i := 0; i < f.k; i++ {
		idx := bitIndex(h1, h2, uint64(i), f.mBits)
		f.bits[idx/8] |= 0x80 >> (idx % 8)
	}
	f.inserts++
}

func (f *plainFilter) contains(id [16]byte) bool {
	h1, h2 := foldPair(id[:])
	for i := 0; i < f.k; i++ {
		idx := bitIndex(h1, h2, uint64(i), f.mBits)
		if f.bits[idx/8]&(0x80>>(idx%8)) == 0 {
			return false
		}
	}
	return true
}

// foldPair computes the two 64-bit FNV-1a-style folds over an id.
func foldPair(id []byte) (h1, h2 uint64) {
	h1, h2 = fnvOffset1, fnvOffset2
	for _, b := range id {
		h1 ^= uint64(b)
		h1 *= fnvPrime1
		h2 ^= uint64(b)
		h2 *= fnvPrime2
	}
	return h1, h2
}

// bitIndex maps the i-th derived hash onto a bit position. Bits are stored
// MSB-first within each byte.
func bitIndex(h1, h2, i, mBits uint64) uint64 {
	return ((h1 + i*h2) & 0x7fffffffffffffff) % mBits
}

// Filter is the rotating (double-buffered) Bloom filter. All operations
// are total and guarded by a single mutex.
type Filter struct {
	mu       sync.Mutex
	maxBytes int
	k        int
	capacity int
	active   *plainFilter
	standby  *plainFilter
}

// New creates a rotating filter with the given size and target
// false-positive rate. Out-of-range arguments fall back to the defaults.
func New(maxBytes int, targetFPR float64) *Filter {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = DefaultTargetFPR
	}

	mBits := float64(maxBytes) * 8
	ln2 := math.Ln2
	capacity := int(math.Floor(-mBits * ln2 * ln2 / math.Log(targetFPR)))
	if capacity < 1 {
		capacity = 1
	}
	k := int(math.Ceil(mBits / float64(capacity) * ln2))
	if k < 1 {
		k = 1
	}

	return &Filter{
		maxBytes: maxBytes,
		k:        k,
		capacity: capacity,
		active:   newPlainFilter(maxBytes, k),
	}
}

// Add inserts a fingerprint, rotating the filter pair when capacity
// thresholds are crossed.
func (f *Filter) Add(id [16]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.active.add(id)
	if f.standby != nil {
		f.standby.add(id)
	}

	switch {
	case f.active.inserts >= f.capacity:
		// Promote the standby; its contents cover the second half of the
		// active filter's window.
		if f.standby == nil {
			f.standby = newPlainFilter(f.maxBytes, f.k)
		}
		f.active = f.standby
		f.standby = nil
	case f.standby == nil && f.active.inserts >= f.capacity/2:
		f.standby = newPlainFilter(f.maxBytes, f.k)
	}
}

// MightContain reports whether the fingerprint may have been inserted.
// False positives are possible; false negatives are not, within the
// rotation window.
func (f *Filter) MightContain(id [16]byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active.contains(id) {
		return true
	}
	if f.standby != nil {
		return f.standby.contains(id)
	}
	return false
}

// Snapshot returns a value copy of the active filter's parameters and
// bits, suitable for a sync request payload.
func (f *Filter) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	bits := make([]byte, len(f.active.bits))
	copy(bits, f.active.bits)
	return Snapshot{
		MBytes: uint16(f.maxBytes),
		K:      uint8(f.k),
		Bits:   bits,
	}
}

// Capacity returns the derived optimal capacity n.
func (f *Filter) Capacity() int {
	return f.capacity
}

// K returns the derived hash count.
func (f *Filter) K() int {
	return f.k
}

// Reset clears all filter state.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = newPlainFilter(f.maxBytes, f.k)
	f.standby = nil
}

// Predicate is a membership test reconstructed from snapshot parameters.
type Predicate struct {
	mBits uint64
	k     int
	bits  []byte
}

// PredicateFrom builds a membership predicate from wire parameters using
// the same hash derivation as the filter itself. It returns false-valued
// verdicts for out-of-range parameters rather than failing.
func PredicateFrom(mBytes uint16, k uint8, bits []byte) *Predicate {
	return &Predicate{
		mBits: uint64(mBytes) * 8,
		k:     int(k),
		bits:  bits,
	}
}

// MightContain reports whether the snapshot's source filter may have
// contained the fingerprint.
func (p *Predicate) MightContain(id [16]byte) bool {
	if p.mBits == 0 || p.k == 0 || len(p.bits)*8 < int(p.mBits) {
		return false
	}
	h1, h2 := foldPair(id[:])
	for i := 0; i < p.k; i++ {
		idx := bitIndex(h1, h2, uint64(i), p.mBits)
		if p.bits[idx/8]&(0x80>>(idx%8)) == 0 {
			return false
		}
	}
	return true
}
