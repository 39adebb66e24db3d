package overlay

import (
	"container/list"
	"sync"
)

// DefaultProcessedCap bounds the processed-event window. Overlapping
// subscriptions (a geohash and its parent) can deliver the same event
// more than once; the window absorbs that.
const DefaultProcessedCap = 2000

// ProcessedSet is a bounded insertion-ordered set of event ids. When the
// cap is reached the oldest id is evicted.
type ProcessedSet struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	ids   map[string]*list.Element
}

// NewProcessedSet creates a set with the given capacity; cap <= 0 falls
// back to DefaultProcessedCap.
func NewProcessedSet(capacity int) *ProcessedSet {
	if capacity <= 0 {
		capacity = DefaultProcessedCap
	}
	return &ProcessedSet{
		cap:   capacity,
		order: list.New(),
		ids:   make(map[string]*list.Element, capacity),
	}
}

// MarkProcessed records an event id. It returns false if the id was
// already present (a duplicate delivery), true if it was newly recorded.
func (s *ProcessedSet) MarkProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.ids[id]; seen {
		return false
	}
	if s.order.Len() >= s.cap {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.ids, oldest.Value.(string))
	}
	s.ids[id] = s.order.PushBack(id)
	return true
}

// Contains reports whether the id is in the window.
func (s *ProcessedSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.ids[id]
	return seen
}

// Len returns the number of ids in the window.
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Reset drops all recorded ids.
func (s *ProcessedSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Init()
	s.ids = make(map[string]*list.Element, s.cap)
}
