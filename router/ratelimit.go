package router

import (
	"crypto/sha256"
	"sync"
	"time"
)

// Token-bucket defaults for inbound public content. Buckets exist per
// sender and per content hash; either one running dry drops the packet.
const (
	senderBucketCapacity  = 30
	senderRefillPerSecond = 1.0
	contentBucketCapacity = 5
	contentRefillPerSec   = 0.2
	bucketTableCap        = 4096
)

type tokenBucket struct {
	tokens float64
	last   time.Time
}

func (b *tokenBucket) take(now time.Time, capacity, refillPerSecond float64) bool {
	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * refillPerSecond
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter drops inbound public packets that exceed per-sender or
// per-content budgets. Drops are silent at ingress.
type RateLimiter struct {
	mu       sync.Mutex
	senders  map[string]*tokenBucket
	contents map[[8]byte]*tokenBucket
	now      func() time.Time
}

// NewRateLimiter creates a limiter with the default buckets.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		senders:  make(map[string]*tokenBucket),
		contents: make(map[[8]byte]*tokenBucket),
		now:      time.Now,
	}
}

// Allow reports whether a public packet from the sender with the given
// content passes both buckets.
func (r *RateLimiter) Allow(senderKey string, content []byte) bool {
	sum := sha256.Sum256(content)
	var contentKey [8]byte
	copy(contentKey[:], sum[:8])

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	sb, ok := r.senders[senderKey]
	if !ok {
		if len(r.senders) >= bucketTableCap {
			r.senders = make(map[string]*tokenBucket)
		}
		sb = &tokenBucket{tokens: senderBucketCapacity, last: now}
		r.senders[senderKey] = sb
	}
	if !sb.take(now, senderBucketCapacity, senderRefillPerSecond) {
		return false
	}

	cb, ok := r.contents[contentKey]
	if !ok {
		if len(r.contents) >= bucketTableCap {
			r.contents = make(map[[8]byte]*tokenBucket)
		}
		cb = &tokenBucket{tokens: contentBucketCapacity, last: now}
		r.contents[contentKey] = cb
	}
	return cb.take(now, contentBucketCapacity, contentRefillPerSec)
}

// Reset drops all bucket state.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders = make(map[string]*tokenBucket)
	r.contents = make(map[[8]byte]*tokenBucket)
}
