package router

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bitmesh/identity"
	"github.com/opd-ai/bitmesh/peer"
)

// FavoriteStatusChanged announces that a peer's favorite record changed:
// a favorite added or removed, or its overlay key updated. An empty
// OverlayPubKey means no usable mapping remains.
type FavoriteStatusChanged struct {
	Peer          peer.ID
	OverlayPubKey string
}

// FavoritesStore is the router's read view of favorite mappings.
type FavoritesStore interface {
	// OverlayMapping returns the overlay pubkey for a peer iff a
	// mutual-favorite record with a non-empty key exists. The peer may
	// be given in short or full form.
	OverlayMapping(p peer.ID) (pubKeyHex string, ok bool)
}

// favoriteRecord is one peer's favorite state.
type favoriteRecord struct {
	weFavorite    bool
	theyFavorite  bool
	overlayPubKey string
}

// Favorites is the in-memory favorites store. It emits
// FavoriteStatusChanged on a typed channel the router consumes.
type Favorites struct {
	mu      sync.Mutex
	records map[string]*favoriteRecord
	events  chan FavoriteStatusChanged
}

// NewFavorites creates an empty store.
func NewFavorites() *Favorites {
	return &Favorites{
		records: make(map[string]*favoriteRecord),
		events:  make(chan FavoriteStatusChanged, 64),
	}
}

// Events is the store's change feed.
func (f *Favorites) Events() <-chan FavoriteStatusChanged {
	return f.events
}

// canonicalPeerKey collapses the short and full forms of a mesh identity
// onto the short routing digest, so lookups succeed regardless of which
// form a caller holds.
func canonicalPeerKey(p peer.ID) string {
	if full, ok := p.Full(); ok {
		return peer.FromShort(identity.ShortOf(full)).String()
	}
	return p.String()
}

// SetFavorite records our own favorite flag for a peer.
func (f *Favorites) SetFavorite(p peer.ID, favorite bool) {
	f.update(p, func(r *favoriteRecord) { r.weFavorite = favorite })
}

// SetPeerFavorite records the peer's favorite flag for us.
func (f *Favorites) SetPeerFavorite(p peer.ID, favorite bool) {
	f.update(p, func(r *favoriteRecord) { r.theyFavorite = favorite })
}

// SetOverlayKey records (or clears, with "") the peer's overlay pubkey.
func (f *Favorites) SetOverlayKey(p peer.ID, pubKeyHex string) {
	f.update(p, func(r *favoriteRecord) { r.overlayPubKey = pubKeyHex })
}

func (f *Favorites) update(p peer.ID, mutate func(*favoriteRecord)) {
	key := canonicalPeerKey(p)

	f.mu.Lock()
	r, ok := f.records[key]
	if !ok {
		r = &favoriteRecord{}
		f.records[key] = r
	}
	mutate(r)
	mapping := ""
	if r.weFavorite && r.theyFavorite && r.overlayPubKey != "" {
		mapping = r.overlayPubKey
	}
	f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "update",
		"peer":     key,
		"mutual":   mapping != "",
	}).Debug("Favorite record changed")

	ev := FavoriteStatusChanged{Peer: p, OverlayPubKey: mapping}
	select {
	case f.events <- ev:
	default:
		// A full channel means the consumer stalled; drop rather than
		// block the caller. The router re-reads mappings on flush.
	}
}

// OverlayMapping implements FavoritesStore.
func (f *Favorites) OverlayMapping(p peer.ID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[canonicalPeerKey(p)]
	if !ok || !r.weFavorite || !r.theyFavorite || r.overlayPubKey == "" {
		return "", false
	}
	return r.overlayPubKey, true
}

// Reset drops every record (panic wipe).
func (f *Favorites) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make(map[string]*favoriteRecord)
}
