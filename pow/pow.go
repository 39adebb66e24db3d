// Package pow implements the leading-zero-bit proof-of-work miner that
// rate-limits public overlay events.
//
// An event id is the SHA-256 of the event's canonical serialization; the
// miner iterates a nonce tag until the id carries at least the required
// number of leading zero bits for the event's geohash precision.
package pow

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"runtime"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bitmesh/overlay"
)

// Difficulty schedule over geohash precision.
const (
	bitsCoarse = 10 // precision <= 5
	bitsMid    = 9  // precision == 6
	bitsFine   = 8  // precision >= 7
)

// yieldInterval is how many iterations the miner runs between scheduler
// yields; mining is CPU-bound and must not hold a scheduler slot.
const yieldInterval = 16384

// leadingZeroTable maps each byte value to its leading-zero count.
var leadingZeroTable [256]uint8

func init() {
	for v := 1; v < 256; v++ {
		n := 0
		for mask := 0x80; mask != 0 && v&mask == 0; mask >>= 1 {
			n++
		}
		leadingZeroTable[v] = uint8(n)
	}
	leadingZeroTable[0] = 8
}

// LeadingZeroBits counts the leading zero bits of a byte string,
// short-circuiting at the first non-zero byte.
func LeadingZeroBits(b []byte) int {
	bits := 0
	for _, v := range b {
		bits += int(leadingZeroTable[v])
		if v != 0 {
			break
		}
	}
	return bits
}

// RequiredBits returns the difficulty for a geohash precision: finer
// geohashes admit cheaper events because their audience is smaller.
func RequiredBits(geohashLen int) int {
	switch {
	case geohashLen <= 5:
		return bitsCoarse
	case geohashLen == 6:
		return bitsMid
	default:
		return bitsFine
	}
}

// Miner mines overlay events. It satisfies overlay.Miner.
type Miner struct{}

// NewMiner creates a miner.
func NewMiner() *Miner {
	return &Miner{}
}

// Mine appends a nonce tag to the event's tags and iterates the nonce
// until the event id has at least targetBits leading zero bits. It
// returns the winning nonce and the id hex. The event's Tags and ID are
// updated in place; the caller signs afterwards.
//
// The nonce starts from a cryptographically random seed and increments
// with wrap; mining is bounded by the difficulty and is not cancellable.
func (m *Miner) Mine(ev *overlay.Event, targetBits int) (uint64, string, error) {
	if targetBits < 0 || targetBits > 255 {
		return 0, "", fmt.Errorf("target bits %d out of range", targetBits)
	}

	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return 0, "", fmt.Errorf("failed to seed nonce: %w", err)
	}
	nonce := binary.BigEndian.Uint64(seed[:])

	baseTags := ev.Tags
	target := strconv.Itoa(targetBits)

	logrus.WithFields(logrus.Fields{
		"function":    "Mine",
		"kind":        ev.Kind,
		"target_bits": targetBits,
	}).Debug("Mining overlay event")

	iterations := 0
	for {
		tags := make([][]string, len(baseTags), len(baseTags)+1)
		copy(tags, baseTags)
		tags = append(tags, []string{"nonce", strconv.FormatUint(nonce, 10), target})
		ev.Tags = tags

		id, err := ev.ComputeID()
		if err != nil {
			ev.Tags = baseTags
			return 0, "", err
		}

		if LeadingZeroBits(id[:]) >= targetBits {
			ev.ID = fmt.Sprintf("%x", id)
			logrus.WithFields(logrus.Fields{
				"function":   "Mine",
				"iterations": iterations,
				"id":         ev.ID,
			}).Debug("Mined overlay event")
			return nonce, ev.ID, nil
		}

		nonce++
		iterations++
		if iterations%yieldInterval == 0 {
			runtime.Gosched()
		}
	}
}
