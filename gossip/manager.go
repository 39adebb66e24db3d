// Package gossip implements the Bloom-sketch anti-entropy protocol that
// lets the mesh converge after partitions.
//
// Every peer keeps a bounded window of recent broadcast messages and the
// latest presence announcement per sender, plus a rotating Bloom filter of
// every fingerprint it has seen. Periodically it floods a local-only
// REQUEST_SYNC carrying the filter snapshot; peers answer by replaying the
// packets the sketch does not cover. False positives may briefly withhold
// a packet the requester lacks; the next round re-evaluates.
package gossip

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bitmesh/bloom"
	"github.com/opd-ai/bitmesh/mesh"
	"github.com/opd-ai/bitmesh/peer"
	"github.com/opd-ai/bitmesh/protocol"
)

// Defaults for the sync cadence and storage window.
const (
	DefaultMessageCap = 100
	DefaultPeriod     = 30 * time.Second
	periodLeeway      = 1 * time.Second
	peerSyncDelay     = 5 * time.Second
)

// announceEntry pairs an announcement with its fingerprint.
type announceEntry struct {
	fp  protocol.Fingerprint
	pkt *protocol.Packet
}

// messageEntry is one stored broadcast in insertion order.
type messageEntry struct {
	fpHex string
	fp    protocol.Fingerprint
	pkt   *protocol.Packet
}

// Manager owns the gossip storage and the periodic sync schedule.
type Manager struct {
	mu         sync.Mutex
	transport  mesh.Transport
	seen       *bloom.Filter
	messages   []messageEntry
	messageSet map[string]struct{}
	announces  map[string]announceEntry
	cap        int
	period     time.Duration

	running  bool
	stopChan chan struct{}

	served   uint64
	withheld uint64
}

// NewManager creates a gossip manager. cap <= 0 and period <= 0 fall back
// to the defaults.
func NewManager(transport mesh.Transport, seen *bloom.Filter, cap int, period time.Duration) *Manager {
	if cap <= 0 {
		cap = DefaultMessageCap
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Manager{
		transport:  transport,
		seen:       seen,
		messageSet: make(map[string]struct{}),
		announces:  make(map[string]announceEntry),
		cap:        cap,
		period:     period,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the periodic sync schedule.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	go m.syncLoop()
}

// Stop halts the schedule.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopChan)
}

// syncLoop floods a REQUEST_SYNC every period plus a fixed one-second
// leeway.
func (m *Manager) syncLoop() {
	ticker := time.NewTicker(m.period + periodLeeway)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.EmitSyncRequest(nil)
		}
	}
}

// OnPublicPacketSeen ingests a public packet: only broadcast messages and
// announcements are stored; every stored fingerprint enters the seen
// filter. Returns false for a broadcast whose fingerprint is already in the
// stored window; announcements (including stale or repeated ones) and
// other kinds always return true.
func (m *Manager) OnPublicPacketSeen(pkt *protocol.Packet) bool {
	if pkt.Type != protocol.PacketBroadcast && pkt.Type != protocol.PacketAnnounce {
		return true
	}

	fp := protocol.FingerprintOf(pkt)
	fpHex := fp.Hex()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.messageSet[fpHex]; dup {
		return false
	}

	m.seen.Add(fp)

	switch pkt.Type {
	case protocol.PacketBroadcast:
		m.messages = append(m.messages, messageEntry{fpHex: fpHex, fp: fp, pkt: pkt.Clone()})
		m.messageSet[fpHex] = struct{}{}
		if len(m.messages) > m.cap {
			evicted := m.messages[0]
			m.messages = m.messages[1:]
			delete(m.messageSet, evicted.fpHex)
		}
	case protocol.PacketAnnounce:
		senderHex := peer.FromShort(pkt.SenderID).String()
		if prev, ok := m.announces[senderHex]; ok && prev.pkt.Timestamp > pkt.Timestamp {
			return true
		}
		m.announces[senderHex] = announceEntry{fp: fp, pkt: pkt.Clone()}
	}
	return true
}

// EmitSyncRequest floods (or unicasts, when to is non-nil) a REQUEST_SYNC
// carrying the active Bloom snapshot. TTL is zero: neighbors answer but
// never forward.
func (m *Manager) EmitSyncRequest(to *peer.ID) {
	snap := m.seen.Snapshot()
	req := &protocol.SyncRequest{MBytes: snap.MBytes, K: snap.K, Bits: snap.Bits}
	payload, err := req.Serialize()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EmitSyncRequest",
			"error":    err.Error(),
		}).Error("Failed to encode sync request")
		return
	}

	var sender [8]byte
	if short, ok := m.transport.LocalPeerID().Short(); ok {
		sender = short
	}

	pkt := &protocol.Packet{
		Type:      protocol.PacketRequestSync,
		TTL:       0,
		Timestamp: uint64(time.Now().UnixMilli()),
		SenderID:  sender,
		Payload:   payload,
	}

	if err := m.transport.SendPacket(pkt, to); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "EmitSyncRequest",
			"error":    err.Error(),
		}).Debug("Sync request send failed")
	}
}

// SchedulePeerSync emits a targeted sync request to a newly appeared peer
// after a short settling delay.
func (m *Manager) SchedulePeerSync(p peer.ID) {
	go func() {
		select {
		case <-m.stopChan:
			return
		case <-time.After(peerSyncDelay):
			m.EmitSyncRequest(&p)
		}
	}()
}

// HandleSyncRequest serves a REQUEST_SYNC from a peer: every stored
// packet whose fingerprint the peer's sketch does not cover is replayed
// to it with TTL zero, announcements first, then broadcasts in insertion
// order.
func (m *Manager) HandleSyncRequest(from peer.ID, payload []byte) error {
	req, err := protocol.ParseSyncRequest(payload)
	if err != nil {
		return err
	}
	pred := bloom.PredicateFrom(req.MBytes, req.K, req.Bits)

	m.mu.Lock()
	announces := make([]announceEntry, 0, len(m.announces))
	for _, entry := range m.announces {
		announces = append(announces, entry)
	}
	messages := make([]messageEntry, len(m.messages))
	copy(messages, m.messages)
	m.mu.Unlock()

	served, withheld := 0, 0
	replay := func(fp protocol.Fingerprint, pkt *protocol.Packet) {
		if pred.MightContain(fp) {
			withheld++
			return
		}
		clone := pkt.Clone()
		clone.TTL = 0
		if err := m.transport.SendPacket(clone, &from); err == nil {
			served++
		}
	}

	for _, entry := range announces {
		replay(entry.fp, entry.pkt)
	}
	for _, entry := range messages {
		replay(entry.fp, entry.pkt)
	}

	m.mu.Lock()
	m.served += uint64(served)
	m.withheld += uint64(withheld)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "HandleSyncRequest",
		"peer":     from.String(),
		"served":   served,
		"withheld": withheld,
	}).Debug("Served sync request")
	return nil
}

// MessageCount returns the stored broadcast count.
func (m *Manager) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// AnnounceCount returns the number of senders with a stored announcement.
func (m *Manager) AnnounceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.announces)
}

// Stats returns cumulative served/withheld replay counters.
func (m *Manager) Stats() (served, withheld uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served, m.withheld
}

// Reset drops all gossip state (panic wipe).
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.messageSet = make(map[string]struct{})
	m.announces = make(map[string]announceEntry)
	m.seen.Reset()
	m.served, m.withheld = 0, 0
}
