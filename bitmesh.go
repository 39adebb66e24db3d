// Package bitmesh implements the dual-transport messaging core of a
// peer-to-peer chat system: a short-range flood-routed mesh carried by a
// radio driver, and a relay overlay reached exclusively through an
// embedded anonymizing SOCKS proxy.
//
// The core decides which transport carries each message, runs the
// Bloom-sketch anti-entropy sync that converges the mesh after
// partitions, encodes the binary wire formats, and enforces the
// fail-closed policy: no overlay traffic leaves the device until the
// proxy reports 100% bootstrap.
//
// Example:
//
//	core, err := bitmesh.New(bitmesh.Options{
//	    DataDir:       dataDir,
//	    MeshTransport: radio,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	core.OnPrivateMessage(func(sender peer.ID, content, messageID string) {
//	    fmt.Printf("%s: %s\n", sender, content)
//	})
//
//	if err := core.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bitmesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bitmesh/bloom"
	"github.com/opd-ai/bitmesh/config"
	"github.com/opd-ai/bitmesh/gossip"
	"github.com/opd-ai/bitmesh/identity"
	"github.com/opd-ai/bitmesh/mesh"
	"github.com/opd-ai/bitmesh/overlay"
	"github.com/opd-ai/bitmesh/peer"
	"github.com/opd-ai/bitmesh/pow"
	"github.com/opd-ai/bitmesh/protocol"
	"github.com/opd-ai/bitmesh/router"
	"github.com/opd-ai/bitmesh/store"
)

// Options configures a Core.
type Options struct {
	// Config is the full option surface; nil loads the defaults.
	Config *config.Config
	// DataDir holds persisted state and the proxy's data directory.
	DataDir string
	// MeshTransport is the radio driver. Required.
	MeshTransport mesh.Transport
	// Identity is the local identity; nil generates a fresh one.
	Identity *identity.Identity
	// ProxyLauncher starts the embedded proxy process; nil assumes an
	// externally managed proxy.
	ProxyLauncher overlay.Launcher
	// DevClearnet disables the fail-closed gate. Development only.
	DevClearnet bool
}

// PrivateMessageCallback receives inbound private messages.
type PrivateMessageCallback func(sender peer.ID, content, messageID string)

// BroadcastCallback receives inbound public broadcasts.
type BroadcastCallback func(sender peer.ID, content string)

// Core wires the router, gossip manager, overlay transport and proxy
// gate into one service value. Construct once at startup and share by
// handle.
type Core struct {
	cfg      *config.Config
	identity *identity.Identity
	mesh     mesh.Transport

	proxyMgr    *overlay.ProxyManager
	relayClient *overlay.RelayClient
	overlayTr   *overlay.Transport
	gossipMgr   *gossip.Manager
	router      *router.Router
	favorites   *router.Favorites
	limiter     *router.RateLimiter
	receipts    *store.ReadReceiptLedger
	bookmarks   *store.GeohashBookmarks

	mu        sync.Mutex
	running   bool
	stopChan  chan struct{}
	onPrivate PrivateMessageCallback
	onPublic  BroadcastCallback
}

// New constructs a core from options. The radio driver must be supplied;
// everything else has a default.
func New(opts Options) (*Core, error) {
	if opts.MeshTransport == nil {
		return nil, fmt.Errorf("mesh transport is required")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := opts.Identity
	if id == nil {
		var err error
		if id, err = identity.Generate(); err != nil {
			return nil, err
		}
	}

	proxyCfg := overlay.ProxyConfig{
		SocksHost:   cfg.Overlay.SocksHost,
		SocksPort:   cfg.Overlay.SocksPort,
		ControlPort: cfg.Overlay.ControlPort,
		DataDir:     opts.DataDir,
		DevClearnet: opts.DevClearnet || !cfg.Policy.FailClosed,
	}
	proxyMgr := overlay.NewProxyManager(proxyCfg, opts.ProxyLauncher)

	directory, err := overlay.LoadRelayDirectory()
	if err != nil {
		return nil, err
	}
	relayClient := overlay.NewRelayClient(proxyMgr, overlay.DefaultProcessedCap)

	overlayTr, err := overlay.NewTransport(proxyMgr, relayClient, directory,
		pow.NewMiner(), cfg.RequiredPowBits, id.RootSecret(), cfg.Overlay.RelayCountPerGeohash)
	if err != nil {
		return nil, err
	}

	seen := bloom.New(cfg.Bloom.MaxBytes, cfg.Bloom.TargetFpr)
	gossipMgr := gossip.NewManager(opts.MeshTransport, seen, gossip.DefaultMessageCap,
		time.Duration(cfg.Gossip.PeriodSeconds)*time.Second)

	favorites := router.NewFavorites()
	rt := router.New(opts.MeshTransport, overlayTr, favorites, cfg.Outbox.CapPerPeer, cfg.Mesh.TTLDefault)

	receipts, err := store.OpenReadReceiptLedger(opts.DataDir)
	if err != nil {
		return nil, err
	}
	bookmarks, err := store.OpenGeohashBookmarks(opts.DataDir)
	if err != nil {
		return nil, err
	}

	return &Core{
		cfg:         cfg,
		identity:    id,
		mesh:        opts.MeshTransport,
		proxyMgr:    proxyMgr,
		relayClient: relayClient,
		overlayTr:   overlayTr,
		gossipMgr:   gossipMgr,
		router:      rt,
		favorites:   favorites,
		limiter:     router.NewRateLimiter(),
		receipts:    receipts,
		bookmarks:   bookmarks,
		stopChan:    make(chan struct{}),
	}, nil
}

// Start launches the long-lived tasks: the gossip schedule, the
// favorites event pump, and the proxy bootstrap. It returns immediately;
// overlay sends fail closed until bootstrap completes.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopChan = make(chan struct{})
	stop := c.stopChan
	c.mu.Unlock()

	c.gossipMgr.Start()

	go c.pumpFavoriteEvents(ctx, stop)
	go func() {
		if err := c.proxyMgr.StartIfNeeded(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Start",
				"error":    err.Error(),
			}).Warn("Proxy bootstrap failed; overlay stays gated")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"peer_id":  c.identity.PeerID().String(),
	}).Info("Core started")
	return nil
}

// Stop halts the long-lived tasks and closes relay sessions.
func (c *Core) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	c.mu.Unlock()

	c.gossipMgr.Stop()
	c.relayClient.Close()
}

// pumpFavoriteEvents feeds the favorites change feed into the router's
// outbox flush.
func (c *Core) pumpFavoriteEvents(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-c.favorites.Events():
			c.router.OnFavoriteStatusChanged(ctx, ev)
		}
	}
}

// Identity returns the local identity handle.
func (c *Core) Identity() *identity.Identity {
	return c.identity
}

// Router exposes the transport decision core.
func (c *Core) Router() *router.Router {
	return c.router
}

// Favorites exposes the favorites store.
func (c *Core) Favorites() *router.Favorites {
	return c.favorites
}

// Overlay exposes the overlay transport.
func (c *Core) Overlay() *overlay.Transport {
	return c.overlayTr
}

// Proxy exposes the proxy lifecycle manager.
func (c *Core) Proxy() *overlay.ProxyManager {
	return c.proxyMgr
}

// Gossip exposes the anti-entropy manager.
func (c *Core) Gossip() *gossip.Manager {
	return c.gossipMgr
}

// Bookmarks exposes the persisted geohash bookmark list.
func (c *Core) Bookmarks() *store.GeohashBookmarks {
	return c.bookmarks
}

// OnPrivateMessage registers the inbound private-message callback.
func (c *Core) OnPrivateMessage(cb PrivateMessageCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPrivate = cb
}

// OnBroadcast registers the inbound public-broadcast callback.
func (c *Core) OnBroadcast(cb BroadcastCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPublic = cb
}

// SendPrivateMessage routes a private message; see router.SendPrivate.
func (c *Core) SendPrivateMessage(ctx context.Context, content string, to peer.ID, nickname string) (string, error) {
	return c.router.SendPrivate(ctx, content, to, nickname, "")
}

// SendBroadcast floods a public message over the mesh.
func (c *Core) SendBroadcast(content string) error {
	return c.router.SendBroadcast(content)
}

// SendGeohashMessage publishes a public note in a geohash channel over
// the overlay, mined and gated.
func (c *Core) SendGeohashMessage(ctx context.Context, content, geohash, nickname string) (string, error) {
	return c.router.SendGeohashBroadcast(ctx, content, geohash, nickname)
}

// MarkRead sends a read receipt once per message and records it in the
// persisted ledger.
func (c *Core) MarkRead(ctx context.Context, from peer.ID, messageID string) error {
	if c.receipts.Contains(messageID) {
		return nil
	}
	if err := c.router.SendReadReceipt(ctx, from, messageID); err != nil {
		return err
	}
	return c.receipts.Add(messageID)
}

// BookmarkGeohash normalizes and persists a geohash bookmark.
func (c *Core) BookmarkGeohash(geohash string) error {
	gh, err := overlay.NormalizeGeohash(geohash)
	if err != nil {
		return err
	}
	return c.bookmarks.Add(gh)
}

// OnPacket implements mesh.Handler: the ingress path for decoded radio
// packets. Malformed or over-budget input is dropped here and never
// propagates further up.
func (c *Core) OnPacket(pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.PacketRequestSync:
		from := peer.FromShort(pkt.SenderID)
		if err := c.gossipMgr.HandleSyncRequest(from, pkt.Payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OnPacket",
				"peer":     from.String(),
				"error":    err.Error(),
			}).Debug("Dropping malformed sync request")
		}

	case protocol.PacketBroadcast, protocol.PacketAnnounce:
		sender := peer.FromShort(pkt.SenderID)
		if !c.limiter.Allow(sender.String(), pkt.Payload) {
			return
		}
		if !c.gossipMgr.OnPublicPacketSeen(pkt) {
			return
		}
		if pkt.Type == protocol.PacketBroadcast {
			c.mu.Lock()
			cb := c.onPublic
			c.mu.Unlock()
			if cb != nil {
				cb(sender, string(pkt.Payload))
			}
		}

	case protocol.PacketMessage:
		c.mu.Lock()
		cb := c.onPrivate
		c.mu.Unlock()
		if cb != nil {
			cb(peer.FromShort(pkt.SenderID), string(pkt.Payload), "")
		}

	case protocol.PacketVerifyChallenge:
		c.answerVerifyChallenge(pkt)

	case protocol.PacketDeliveryAck:
		c.router.OnDeliveryAck(string(pkt.Payload))

	case protocol.PacketReadReceipt:
		c.router.OnReadReceipt(string(pkt.Payload))
	}
}

// answerVerifyChallenge responds to an inbound verification challenge
// with our fingerprints and a signature binding its nonce.
func (c *Core) answerVerifyChallenge(pkt *protocol.Packet) {
	challenge, err := protocol.ParseVerificationPayload(pkt.Payload)
	if err != nil {
		return
	}
	response, err := c.identity.RespondToChallenge(challenge)
	if err != nil {
		return
	}
	payload, err := response.Serialize()
	if err != nil {
		return
	}

	var sender [8]byte
	if short, ok := c.identity.PeerID().Short(); ok {
		sender = short
	}
	from := peer.FromShort(pkt.SenderID)
	reply := &protocol.Packet{
		Type:      protocol.PacketVerifyResponse,
		TTL:       0,
		Timestamp: uint64(time.Now().UnixMilli()),
		SenderID:  sender,
		Payload:   payload,
	}
	if err := c.mesh.SendPacket(reply, &from); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "answerVerifyChallenge",
			"peer":     from.String(),
			"error":    err.Error(),
		}).Debug("Verification response send failed")
	}
}

// OnPeerAppeared implements mesh.Handler: schedule a targeted sync and
// flush any parked sends.
func (c *Core) OnPeerAppeared(p peer.ID) {
	c.gossipMgr.SchedulePeerSync(p)
	c.router.OnPeerReachable(context.Background(), p)
}

// OnPeerDisappeared implements mesh.Handler.
func (c *Core) OnPeerDisappeared(p peer.ID) {
	logrus.WithFields(logrus.Fields{
		"function": "OnPeerDisappeared",
		"peer":     p.String(),
	}).Debug("Peer left flood horizon")
}

// OnHandshakeComplete implements mesh.Handler: a fresh secure session
// may unblock parked private messages.
func (c *Core) OnHandshakeComplete(p peer.ID) {
	c.router.OnPeerReachable(context.Background(), p)
}

// PanicWipe synchronously resets all in-memory state: outbox, gossip
// storage, Bloom filters, favorites cache and the processed-event
// window. This is an emergency action, not an error path.
func (c *Core) PanicWipe() {
	c.router.Reset()
	c.gossipMgr.Reset()
	c.favorites.Reset()
	c.limiter.Reset()
	c.relayClient.ResetProcessed()

	logrus.WithFields(logrus.Fields{
		"function": "PanicWipe",
	}).Warn("All in-memory state wiped")
}
