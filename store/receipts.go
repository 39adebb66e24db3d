package store

import (
	"sync"
)

const receiptsFileName = "read_receipts.json"

// ReadReceiptLedger records which message ids we have already sent a read
// receipt for, so re-reading a conversation never re-sends receipts. The
// ledger is a JSON array of message-id strings under a single file and is
// guarded for many readers, one writer.
type ReadReceiptLedger struct {
	mu   sync.RWMutex
	path string
	ids  map[string]struct{}
}

// OpenReadReceiptLedger loads (or creates) the ledger in dataDir.
func OpenReadReceiptLedger(dataDir string) (*ReadReceiptLedger, error) {
	l := &ReadReceiptLedger{
		path: filepathJoin(dataDir, receiptsFileName),
		ids:  make(map[string]struct{}),
	}

	var list []string
	if err := readJSON(l.path, &list); err != nil {
		return nil, err
	}
	for _, id := range list {
		l.ids[id] = struct{}{}
	}
	return l, nil
}

// Contains reports whether a receipt was already sent for the message.
func (l *ReadReceiptLedger) Contains(messageID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[messageID]
	return ok
}

// Add records a message id and persists the ledger. Adding an id twice is
// a cheap no-op.
func (l *ReadReceiptLedger) Add(messageID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[messageID]; ok {
		return nil
	}
	l.ids[messageID] = struct{}{}
	return l.persistLocked()
}

// Len returns the ledger size.
func (l *ReadReceiptLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// Reset clears and persists an empty ledger (panic wipe).
func (l *ReadReceiptLedger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = make(map[string]struct{})
	return l.persistLocked()
}

func (l *ReadReceiptLedger) persistLocked() error {
	list := make([]string, 0, len(l.ids))
	for id := range l.ids {
		list = append(list, id)
	}
	return writeJSONAtomic(l.path, list)
}
