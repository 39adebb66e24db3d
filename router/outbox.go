package router

import "sync"

// OutboxEntry is a private message that could not be dispatched
// immediately.
type OutboxEntry struct {
	PeerKey   string
	Content   string
	Nickname  string
	MessageID string
}

// Outbox holds per-peer FIFO queues of deferred sends. Entries survive
// the process lifetime but not a restart.
type Outbox struct {
	mu      sync.Mutex
	queues  map[string][]OutboxEntry
	perPeer int
}

// NewOutbox creates an outbox with a per-peer entry cap; cap <= 0 means
// unbounded.
func NewOutbox(perPeer int) *Outbox {
	return &Outbox{
		queues:  make(map[string][]OutboxEntry),
		perPeer: perPeer,
	}
}

// Enqueue appends an entry to a peer's queue. When the per-peer cap is
// reached the oldest entry is dropped first.
func (o *Outbox) Enqueue(entry OutboxEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[entry.PeerKey]
	if o.perPeer > 0 && len(q) >= o.perPeer {
		q = q[1:]
	}
	o.queues[entry.PeerKey] = append(q, entry)
}

// Take removes and returns a peer's queue in enqueue order.
func (o *Outbox) Take(peerKey string) []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := o.queues[peerKey]
	delete(o.queues, peerKey)
	return entries
}

// Restore puts entries back at the front of a peer's queue, preserving
// their original order ahead of anything enqueued meanwhile.
func (o *Outbox) Restore(peerKey string, entries []OutboxEntry) {
	if len(entries) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queues[peerKey] = append(entries, o.queues[peerKey]...)
}

// Pending returns the number of queued entries for a peer.
func (o *Outbox) Pending(peerKey string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[peerKey])
}

// Peers returns every peer key with queued entries.
func (o *Outbox) Peers() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := make([]string, 0, len(o.queues))
	for k := range o.queues {
		keys = append(keys, k)
	}
	return keys
}

// Reset drops every queue (panic wipe).
func (o *Outbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queues = make(map[string][]OutboxEntry)
}
