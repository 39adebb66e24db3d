package mesh

import (
	"sync"

	"github.com/opd-ai/bitmesh/peer"
	"github.com/opd-ai/bitmesh/protocol"
)

// MockTransport implements Transport for testing the router and gossip
// manager without a radio.
type MockTransport struct {
	mu        sync.Mutex
	local     peer.ID
	reachable map[string]bool
	connected map[string]bool

	PrivateMessages []MockPrivateMessage
	ReadReceipts    []MockReceipt
	DeliveryAcks    []MockReceipt
	Favorites       []MockFavorite
	FileTransfers   []MockFileTransfer
	Packets         []MockPacketSend

	sendErr error
}

// MockPacketSend records a raw packet handed to the driver.
type MockPacketSend struct {
	Packet *protocol.Packet
	To     *peer.ID
}

// MockPrivateMessage records a SendPrivateMessage call.
type MockPrivateMessage struct {
	Content   string
	To        peer.ID
	Nickname  string
	MessageID string
}

// MockReceipt records a receipt or ack send.
type MockReceipt struct {
	ID string
	To peer.ID
}

// MockFavorite records a favorite notification.
type MockFavorite struct {
	To         peer.ID
	IsFavorite bool
}

// MockFileTransfer records a file TLV send.
type MockFileTransfer struct {
	Payload    []byte
	To         *peer.ID
	TransferID string
	MessageID  string
}

// NewMockTransport creates a mock transport with the given local ID and
// no reachable peers.
func NewMockTransport(local peer.ID) *MockTransport {
	return &MockTransport{
		local:     local,
		reachable: make(map[string]bool),
		connected: make(map[string]bool),
	}
}

// SetReachable marks a peer reachable or unreachable.
func (m *MockTransport) SetReachable(p peer.ID, reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reachable[p.String()] = reachable
}

// SetConnected marks a peer directly connected.
func (m *MockTransport) SetConnected(p peer.ID, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[p.String()] = connected
}

// SetSendError makes every send fail with err.
func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// LocalPeerID implements Transport.
func (m *MockTransport) LocalPeerID() peer.ID {
	return m.local
}

// IsPeerReachable implements Transport.
func (m *MockTransport) IsPeerReachable(p peer.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable[p.String()]
}

// IsPeerConnected implements Transport.
func (m *MockTransport) IsPeerConnected(p peer.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected[p.String()]
}

// SendPrivateMessage implements Transport.
func (m *MockTransport) SendPrivateMessage(content string, to peer.ID, nickname, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.PrivateMessages = append(m.PrivateMessages, MockPrivateMessage{content, to, nickname, messageID})
	return nil
}

// SendReadReceipt implements Transport.
func (m *MockTransport) SendReadReceipt(receiptID string, to peer.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.ReadReceipts = append(m.ReadReceipts, MockReceipt{receiptID, to})
	return nil
}

// SendDeliveryAck implements Transport.
func (m *MockTransport) SendDeliveryAck(messageID string, to peer.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.DeliveryAcks = append(m.DeliveryAcks, MockReceipt{messageID, to})
	return nil
}

// SendFavoriteNotification implements Transport.
func (m *MockTransport) SendFavoriteNotification(to peer.ID, isFavorite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.Favorites = append(m.Favorites, MockFavorite{to, isFavorite})
	return nil
}

// SendFileTransfer implements Transport.
func (m *MockTransport) SendFileTransfer(payload []byte, to *peer.ID, transferID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.FileTransfers = append(m.FileTransfers, MockFileTransfer{payload, to, transferID, messageID})
	return nil
}

// SendPacket implements Transport.
func (m *MockTransport) SendPacket(pkt *protocol.Packet, to *peer.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.Packets = append(m.Packets, MockPacketSend{Packet: pkt, To: to})
	return nil
}

// SignPacketForBroadcast implements Transport: the mock attaches a fixed
// marker signature.
func (m *MockTransport) SignPacketForBroadcast(pkt *protocol.Packet) (*protocol.Packet, error) {
	signed := pkt.Clone()
	signed.Signature = []byte("mock-signature")
	return signed, nil
}

// SentPackets returns a snapshot of raw packets handed to the driver.
func (m *MockTransport) SentPackets() []MockPacketSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockPacketSend, len(m.Packets))
	copy(out, m.Packets)
	return out
}
