package router

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DeliveryStatus is the delivery state of an outgoing message. States
// order strictly forward; an update never moves a message backward.
type DeliveryStatus uint8

const (
	// StatusSending means the message is queued or in flight.
	StatusSending DeliveryStatus = iota
	// StatusSent means a transport accepted the message.
	StatusSent
	// StatusDelivered means the recipient acknowledged delivery.
	StatusDelivered
	// StatusRead means the recipient acknowledged reading.
	StatusRead
)

// String returns the status name.
func (s DeliveryStatus) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// StatusCallback observes applied delivery-status transitions.
type StatusCallback func(messageID string, status DeliveryStatus)

// StatusTracker tracks per-message delivery status with the monotonic
// ladder sending < sent < delivered < read.
type StatusTracker struct {
	mu       sync.Mutex
	statuses map[string]DeliveryStatus
	onChange StatusCallback
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{statuses: make(map[string]DeliveryStatus)}
}

// OnChange registers a transition observer.
func (t *StatusTracker) OnChange(cb StatusCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = cb
}

// Update applies a status if it moves forward; backward updates are
// ignored. Returns true when the update was applied.
func (t *StatusTracker) Update(messageID string, status DeliveryStatus) bool {
	t.mu.Lock()
	current, known := t.statuses[messageID]
	if known && status <= current {
		t.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Update",
			"message_id": messageID,
			"current":    current.String(),
			"attempted":  status.String(),
		}).Debug("Ignoring backward delivery-status update")
		return false
	}
	t.statuses[messageID] = status
	cb := t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(messageID, status)
	}
	return true
}

// Get returns the current status for a message.
func (t *StatusTracker) Get(messageID string) (DeliveryStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.statuses[messageID]
	return s, ok
}

// Reset drops all tracked statuses (panic wipe).
func (t *StatusTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses = make(map[string]DeliveryStatus)
}
