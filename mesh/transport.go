// Package mesh defines the contract between the router and the radio
// driver that carries the short-range flood-routed mesh.
//
// The driver owns fragmentation, reassembly, handshakes and outbound
// buffering; this package specifies only the byte-level and event-level
// contract it must satisfy. Outbound writes carry a priority class so the
// driver can shed load lowest-priority-first when its pending buffer
// fills.
package mesh

import (
	"github.com/opd-ai/bitmesh/peer"
	"github.com/opd-ai/bitmesh/protocol"
)

// Priority classes for outbound radio writes. When the driver's pending
// buffer exceeds its cap it drops announce traffic before broadcasts and
// broadcasts before private messages.
type Priority uint8

const (
	PriorityAnnounce Priority = iota
	PriorityBroadcast
	PriorityPrivate
)

// Transport is the capability set the radio driver exposes upward.
type Transport interface {
	// LocalPeerID returns our own routing ID, stable for the process
	// lifetime.
	LocalPeerID() peer.ID

	// IsPeerReachable reports whether the peer is mesh-connected or
	// multi-hop reachable within the current flood horizon.
	IsPeerReachable(p peer.ID) bool

	// IsPeerConnected reports whether a direct link to the peer exists.
	IsPeerConnected(p peer.ID) bool

	// SendPrivateMessage initiates a handshake if needed and queues the
	// message internally.
	SendPrivateMessage(content string, to peer.ID, nickname, messageID string) error

	// SendReadReceipt sends a read receipt for a message.
	SendReadReceipt(receiptID string, to peer.ID) error

	// SendDeliveryAck acknowledges delivery of a message.
	SendDeliveryAck(messageID string, to peer.ID) error

	// SendFavoriteNotification informs a peer of a favorite/unfavorite.
	SendFavoriteNotification(to peer.ID, isFavorite bool) error

	// SendFileTransfer sends a file TLV payload. A nil recipient means
	// broadcast.
	SendFileTransfer(payload []byte, to *peer.ID, transferID, messageID string) error

	// SendPacket hands a raw packet to the driver (gossip replay and
	// sync requests use this). A nil destination floods; a non-nil
	// destination addresses the link layer without altering the packet
	// bytes, so the fingerprint is preserved.
	SendPacket(pkt *protocol.Packet, to *peer.ID) error

	// SignPacketForBroadcast attaches the sender's signature to a packet
	// before flooding.
	SignPacketForBroadcast(pkt *protocol.Packet) (*protocol.Packet, error)
}

// Handler receives events the driver emits upward.
type Handler interface {
	// OnPacket delivers a decoded packet that passed the dedup gate.
	OnPacket(pkt *protocol.Packet)

	// OnPeerAppeared fires when a peer enters the flood horizon.
	OnPeerAppeared(p peer.ID)

	// OnPeerDisappeared fires when a peer leaves the flood horizon.
	OnPeerDisappeared(p peer.ID)

	// OnHandshakeComplete fires when a secure session to the peer is
	// established.
	OnHandshakeComplete(p peer.ID)
}
