package overlay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessedSetMarksDuplicates(t *testing.T) {
	s := NewProcessedSet(10)
	assert.True(t, s.MarkProcessed("a"))
	assert.False(t, s.MarkProcessed("a"))
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))
}

func TestProcessedSetEvictsOldest(t *testing.T) {
	s := NewProcessedSet(3)
	for i := 0; i < 3; i++ {
		s.MarkProcessed(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, 3, s.Len())

	// Inserting a fourth evicts the first.
	assert.True(t, s.MarkProcessed("id-3"))
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("id-0"))
	assert.True(t, s.Contains("id-1"))
	assert.True(t, s.Contains("id-3"))

	// The evicted id reads as fresh again.
	assert.True(t, s.MarkProcessed("id-0"))
}

func TestProcessedSetDefaultCap(t *testing.T) {
	s := NewProcessedSet(0)
	for i := 0; i < DefaultProcessedCap+100; i++ {
		s.MarkProcessed(fmt.Sprintf("id-%d", i))
	}
	assert.Equal(t, DefaultProcessedCap, s.Len())
}

func TestProcessedSetReset(t *testing.T) {
	s := NewProcessedSet(10)
	s.MarkProcessed("a")
	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.MarkProcessed("a"))
}
