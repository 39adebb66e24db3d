// Package router implements the transport decision core: every outgoing
// message is routed over the mesh when the peer is reachable there, over
// the anonymized overlay when a mutual-favorite mapping exists, and into
// the per-peer outbox otherwise. Connectivity and favorite events flush
// the outbox through the same decision table.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bitmesh/mesh"
	"github.com/opd-ai/bitmesh/peer"
	"github.com/opd-ai/bitmesh/protocol"
)

// ErrTransportUnavailable indicates neither transport could carry the
// message; the send was parked in the outbox.
var ErrTransportUnavailable = errors.New("no transport available")

// OverlaySender is the overlay capability set the router consumes.
// Every method fails with the overlay package's ErrProxyNotReady while
// the fail-closed gate is shut.
type OverlaySender interface {
	SendPrivateMessage(ctx context.Context, content, recipientPubHex, messageID string) (string, error)
	SendDeliveryAck(ctx context.Context, recipientPubHex, messageID string) error
	SendReadAck(ctx context.Context, recipientPubHex, messageID string) error
	SendGeohashNote(ctx context.Context, content, geohash, nickname string) (string, error)
}

// Router owns the outbox and makes the per-message transport decision.
type Router struct {
	mesh      mesh.Transport
	overlay   OverlaySender
	favorites FavoritesStore
	outbox    *Outbox
	tracker   *StatusTracker
	ttl       uint8
}

// New creates a router. outboxCap bounds each peer's deferred queue.
func New(meshTransport mesh.Transport, overlay OverlaySender, favorites FavoritesStore,
	outboxCap int, ttl uint8) *Router {
	if ttl == 0 {
		ttl = 7
	}
	return &Router{
		mesh:      meshTransport,
		overlay:   overlay,
		favorites: favorites,
		outbox:    NewOutbox(outboxCap),
		tracker:   NewStatusTracker(),
		ttl:       ttl,
	}
}

// Tracker exposes delivery-status tracking.
func (r *Router) Tracker() *StatusTracker {
	return r.tracker
}

// Outbox exposes the deferred queue, primarily for inspection.
func (r *Router) Outbox() *Outbox {
	return r.outbox
}

// SendPrivate routes a private message per the decision table:
//
//	mesh reachable          -> mesh
//	overlay mapping exists  -> overlay (gated)
//	otherwise               -> outbox
//
// A generated message id is returned when messageID is empty. An outbox
// park returns ErrTransportUnavailable with the id still valid; the
// message goes out on the next connectivity or mapping event.
func (r *Router) SendPrivate(ctx context.Context, content string, to peer.ID, nickname, messageID string) (string, error) {
	if messageID == "" {
		messageID = uuid.New().String()
	}
	r.tracker.Update(messageID, StatusSending)

	err := r.dispatchPrivate(ctx, OutboxEntry{
		PeerKey:   canonicalPeerKey(to),
		Content:   content,
		Nickname:  nickname,
		MessageID: messageID,
	}, to)
	if err == nil {
		r.tracker.Update(messageID, StatusSent)
		return messageID, nil
	}
	if errors.Is(err, ErrTransportUnavailable) {
		return messageID, err
	}
	return messageID, err
}

// dispatchPrivate applies the decision table to one entry. On failure of
// both transports the entry is parked and ErrTransportUnavailable
// returned.
func (r *Router) dispatchPrivate(ctx context.Context, entry OutboxEntry, to peer.ID) error {
	if r.mesh.IsPeerReachable(to) {
		if err := r.mesh.SendPrivateMessage(entry.Content, to, entry.Nickname, entry.MessageID); err == nil {
			logrus.WithFields(logrus.Fields{
				"function":   "dispatchPrivate",
				"peer":       entry.PeerKey,
				"message_id": entry.MessageID,
				"transport":  "mesh",
			}).Debug("Routed private message")
			return nil
		}
	}

	if pubKey, ok := r.favorites.OverlayMapping(to); ok {
		if _, err := r.overlay.SendPrivateMessage(ctx, entry.Content, pubKey, entry.MessageID); err == nil {
			logrus.WithFields(logrus.Fields{
				"function":   "dispatchPrivate",
				"peer":       entry.PeerKey,
				"message_id": entry.MessageID,
				"transport":  "overlay",
			}).Debug("Routed private message")
			return nil
		} else if !errors.Is(err, ErrTransportUnavailable) {
			logrus.WithFields(logrus.Fields{
				"function":   "dispatchPrivate",
				"peer":       entry.PeerKey,
				"message_id": entry.MessageID,
				"error":      err.Error(),
			}).Debug("Overlay send failed, parking message")
		}
	}

	r.outbox.Enqueue(entry)
	return ErrTransportUnavailable
}

// OnFavoriteStatusChanged flushes the affected peer's outbox through the
// decision table. Entries that still cannot be sent stay in place.
func (r *Router) OnFavoriteStatusChanged(ctx context.Context, ev FavoriteStatusChanged) {
	r.flushPeer(ctx, ev.Peer)
}

// OnPeerReachable flushes a peer's outbox after a mesh-reachability
// transition.
func (r *Router) OnPeerReachable(ctx context.Context, p peer.ID) {
	r.flushPeer(ctx, p)
}

// flushPeer drains the peer's queue in FIFO order; the first entry that
// fails stops the drain and the remainder is restored in order.
func (r *Router) flushPeer(ctx context.Context, p peer.ID) {
	key := canonicalPeerKey(p)
	entries := r.outbox.Take(key)
	if len(entries) == 0 {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "flushPeer",
		"peer":     key,
		"pending":  len(entries),
	}).Debug("Flushing outbox")

	for i, entry := range entries {
		if err := r.flushEntry(ctx, entry, p); err != nil {
			r.outbox.Restore(key, entries[i:])
			return
		}
		r.tracker.Update(entry.MessageID, StatusSent)
	}
}

// flushEntry retries one parked entry without re-parking it on failure;
// the caller restores the tail.
func (r *Router) flushEntry(ctx context.Context, entry OutboxEntry, to peer.ID) error {
	if r.mesh.IsPeerReachable(to) {
		if err := r.mesh.SendPrivateMessage(entry.Content, to, entry.Nickname, entry.MessageID); err == nil {
			return nil
		}
	}
	if pubKey, ok := r.favorites.OverlayMapping(to); ok {
		if _, err := r.overlay.SendPrivateMessage(ctx, entry.Content, pubKey, entry.MessageID); err == nil {
			return nil
		}
	}
	return ErrTransportUnavailable
}

// SendReadReceipt routes a read receipt: mesh when reachable, overlay
// otherwise.
func (r *Router) SendReadReceipt(ctx context.Context, to peer.ID, receiptID string) error {
	if r.mesh.IsPeerReachable(to) {
		return r.mesh.SendReadReceipt(receiptID, to)
	}
	if pubKey, ok := r.favorites.OverlayMapping(to); ok {
		return r.overlay.SendReadAck(ctx, pubKey, receiptID)
	}
	return ErrTransportUnavailable
}

// SendDeliveryAck routes a delivery acknowledgement with the same
// preference.
func (r *Router) SendDeliveryAck(ctx context.Context, to peer.ID, messageID string) error {
	if r.mesh.IsPeerReachable(to) {
		return r.mesh.SendDeliveryAck(messageID, to)
	}
	if pubKey, ok := r.favorites.OverlayMapping(to); ok {
		return r.overlay.SendDeliveryAck(ctx, pubKey, messageID)
	}
	return ErrTransportUnavailable
}

// SendBroadcast floods a signed public chat message over the mesh.
func (r *Router) SendBroadcast(content string) error {
	var sender [8]byte
	if short, ok := r.mesh.LocalPeerID().Short(); ok {
		sender = short
	}

	pkt := &protocol.Packet{
		Type:      protocol.PacketBroadcast,
		TTL:       r.ttl,
		Timestamp: uint64(time.Now().UnixMilli()),
		SenderID:  sender,
		Payload:   []byte(content),
	}
	signed, err := r.mesh.SignPacketForBroadcast(pkt)
	if err != nil {
		return err
	}
	return r.mesh.SendPacket(signed, nil)
}

// SendGeohashBroadcast publishes a public note in a geohash channel over
// the overlay; the overlay sender mines and gates it.
func (r *Router) SendGeohashBroadcast(ctx context.Context, content, geohash, nickname string) (string, error) {
	return r.overlay.SendGeohashNote(ctx, content, geohash, nickname)
}

// OnDeliveryAck applies an inbound delivery acknowledgement.
func (r *Router) OnDeliveryAck(messageID string) {
	r.tracker.Update(messageID, StatusDelivered)
}

// OnReadReceipt applies an inbound read receipt.
func (r *Router) OnReadReceipt(messageID string) {
	r.tracker.Update(messageID, StatusRead)
}

// Reset drops the outbox and status state (panic wipe).
func (r *Router) Reset() {
	r.outbox.Reset()
	r.tracker.Reset()
}
