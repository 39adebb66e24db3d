package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLadderMonotonic(t *testing.T) {
	tr := NewStatusTracker()

	assert.True(t, tr.Update("m", StatusSending))
	assert.True(t, tr.Update("m", StatusSent))
	assert.True(t, tr.Update("m", StatusDelivered))
	assert.True(t, tr.Update("m", StatusRead))

	// Every backward or repeated update is ignored.
	for _, s := range []DeliveryStatus{StatusSending, StatusSent, StatusDelivered, StatusRead} {
		assert.False(t, tr.Update("m", s))
	}
	status, ok := tr.Get("m")
	require.True(t, ok)
	assert.Equal(t, StatusRead, status)
}

func TestStatusSkipsForward(t *testing.T) {
	tr := NewStatusTracker()
	// A read receipt may arrive before the delivery ack.
	assert.True(t, tr.Update("m", StatusSending))
	assert.True(t, tr.Update("m", StatusRead))
	assert.False(t, tr.Update("m", StatusDelivered))
}

func TestStatusCallback(t *testing.T) {
	tr := NewStatusTracker()
	var observed []DeliveryStatus
	tr.OnChange(func(id string, s DeliveryStatus) {
		observed = append(observed, s)
	})

	tr.Update("m", StatusSending)
	tr.Update("m", StatusSent)
	tr.Update("m", StatusSending) // ignored, no callback
	assert.Equal(t, []DeliveryStatus{StatusSending, StatusSent}, observed)
}

func TestOutboxFIFOAndCap(t *testing.T) {
	o := NewOutbox(3)
	for i := 0; i < 5; i++ {
		o.Enqueue(OutboxEntry{PeerKey: "p", MessageID: string(rune('a' + i))})
	}
	assert.Equal(t, 3, o.Pending("p"))

	entries := o.Take("p")
	require.Len(t, entries, 3)
	// Oldest entries were dropped when the cap was hit.
	assert.Equal(t, "c", entries[0].MessageID)
	assert.Equal(t, "e", entries[2].MessageID)
	assert.Equal(t, 0, o.Pending("p"))
}

func TestOutboxRestoreKeepsOrder(t *testing.T) {
	o := NewOutbox(0)
	o.Enqueue(OutboxEntry{PeerKey: "p", MessageID: "1"})
	o.Enqueue(OutboxEntry{PeerKey: "p", MessageID: "2"})

	taken := o.Take("p")
	o.Enqueue(OutboxEntry{PeerKey: "p", MessageID: "3"})
	o.Restore("p", taken)

	entries := o.Take("p")
	require.Len(t, entries, 3)
	assert.Equal(t, "1", entries[0].MessageID)
	assert.Equal(t, "2", entries[1].MessageID)
	assert.Equal(t, "3", entries[2].MessageID)
}

func TestRateLimiterSenderBucket(t *testing.T) {
	rl := NewRateLimiter()
	allowed := 0
	for i := 0; i < 100; i++ {
		if rl.Allow("sender-1", []byte{byte(i)}) {
			allowed++
		}
	}
	assert.Equal(t, senderBucketCapacity, allowed)

	// A different sender has its own budget.
	assert.True(t, rl.Allow("sender-2", []byte{0xff}))
}

func TestRateLimiterContentBucket(t *testing.T) {
	rl := NewRateLimiter()
	spam := []byte("the same message")
	allowed := 0
	for i := 0; i < 20; i++ {
		sender := string(rune('a' + i))
		if rl.Allow(sender, spam) {
			allowed++
		}
	}
	// Identical content is throttled across senders.
	assert.Equal(t, contentBucketCapacity, allowed)
}
