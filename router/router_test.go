package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/bitmesh/mesh"
	"github.com/opd-ai/bitmesh/overlay"
	"github.com/opd-ai/bitmesh/peer"
	"github.com/opd-ai/bitmesh/protocol"
)

// spyOverlay records overlay sends and can simulate a shut gate.
type spyOverlay struct {
	mu        sync.Mutex
	gateShut  bool
	dms       []spyDM
	delivAcks []string
	readAcks  []string
	notes     []string
}

type spyDM struct {
	Content      string
	RecipientPub string
	MessageID    string
}

func (s *spyOverlay) SendPrivateMessage(_ context.Context, content, recipientPubHex, messageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gateShut {
		return "", overlay.ErrProxyNotReady
	}
	s.dms = append(s.dms, spyDM{content, recipientPubHex, messageID})
	return "wrap-" + messageID, nil
}

func (s *spyOverlay) SendDeliveryAck(_ context.Context, recipientPubHex, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gateShut {
		return overlay.ErrProxyNotReady
	}
	s.delivAcks = append(s.delivAcks, messageID)
	return nil
}

func (s *spyOverlay) SendReadAck(_ context.Context, recipientPubHex, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gateShut {
		return overlay.ErrProxyNotReady
	}
	s.readAcks = append(s.readAcks, messageID)
	return nil
}

func (s *spyOverlay) SendGeohashNote(_ context.Context, content, geohash, nickname string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gateShut {
		return "", overlay.ErrProxyNotReady
	}
	s.notes = append(s.notes, content)
	return "note-id", nil
}

func (s *spyOverlay) DMs() []spyDM {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]spyDM, len(s.dms))
	copy(out, s.dms)
	return out
}

func testPeer() peer.ID {
	return peer.FromShort([8]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11})
}

func newTestRouter() (*Router, *mesh.MockTransport, *spyOverlay, *Favorites) {
	local := peer.FromShort([8]byte{1, 2, 3, 4, 5, 6, 7, 8})
	meshTransport := mesh.NewMockTransport(local)
	ov := &spyOverlay{}
	favorites := NewFavorites()
	r := New(meshTransport, ov, favorites, 1337, 7)
	return r, meshTransport, ov, favorites
}

func TestSendPrivateOverMeshWhenReachable(t *testing.T) {
	r, meshTransport, ov, favorites := newTestRouter()
	p := testPeer()
	meshTransport.SetReachable(p, true)
	// Even with a mapping present, mesh wins.
	favorites.SetFavorite(p, true)
	favorites.SetPeerFavorite(p, true)
	favorites.SetOverlayKey(p, "ab12")

	mid, err := r.SendPrivate(context.Background(), "hi", p, "nick", "mid-1")
	require.NoError(t, err)
	assert.Equal(t, "mid-1", mid)

	require.Len(t, meshTransport.PrivateMessages, 1)
	assert.Equal(t, "hi", meshTransport.PrivateMessages[0].Content)
	assert.Empty(t, ov.DMs())

	status, ok := r.Tracker().Get("mid-1")
	require.True(t, ok)
	assert.Equal(t, StatusSent, status)
}

func TestSendPrivateOverOverlayWithMapping(t *testing.T) {
	r, _, ov, favorites := newTestRouter()
	p := testPeer()
	favorites.SetFavorite(p, true)
	favorites.SetPeerFavorite(p, true)
	favorites.SetOverlayKey(p, "overlay-pub-hex")

	_, err := r.SendPrivate(context.Background(), "hi", p, "nick", "mid-2")
	require.NoError(t, err)

	dms := ov.DMs()
	require.Len(t, dms, 1)
	assert.Equal(t, "overlay-pub-hex", dms[0].RecipientPub)
	assert.Equal(t, "mid-2", dms[0].MessageID)
}

func TestSendPrivateParksWhenUnreachable(t *testing.T) {
	r, _, ov, _ := newTestRouter()
	p := testPeer()

	mid, err := r.SendPrivate(context.Background(), "hi", p, "nick", "mid-3")
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, "mid-3", mid)
	assert.Equal(t, 1, r.Outbox().Pending(p.String()))
	assert.Empty(t, ov.DMs())
}

// A peer that is unreachable with no mapping parks exactly one entry;
// the mapping event flushes it with one overlay send.
func TestOutboxFlushOnMappingEvent(t *testing.T) {
	r, _, ov, favorites := newTestRouter()
	p := testPeer()

	_, err := r.SendPrivate(context.Background(), "hi", p, "nick", "mid-1")
	require.ErrorIs(t, err, ErrTransportUnavailable)
	require.Equal(t, 1, r.Outbox().Pending(p.String()))

	favorites.SetFavorite(p, true)
	favorites.SetPeerFavorite(p, true)
	favorites.SetOverlayKey(p, "pk-hex")

	// Drain the store's change feed into the router the way the core
	// wires it.
	for len(favorites.Events()) > 0 {
		r.OnFavoriteStatusChanged(context.Background(), <-favorites.Events())
	}

	assert.Equal(t, 0, r.Outbox().Pending(p.String()))
	dms := ov.DMs()
	require.Len(t, dms, 1)
	assert.Equal(t, "hi", dms[0].Content)
	assert.Equal(t, "pk-hex", dms[0].RecipientPub)
	assert.Equal(t, "mid-1", dms[0].MessageID)
}

func TestOutboxFlushOnReachability(t *testing.T) {
	r, meshTransport, _, _ := newTestRouter()
	p := testPeer()

	for i, mid := range []string{"m-1", "m-2", "m-3"} {
		_, err := r.SendPrivate(context.Background(), string(rune('a'+i)), p, "nick", mid)
		require.ErrorIs(t, err, ErrTransportUnavailable)
	}
	require.Equal(t, 3, r.Outbox().Pending(p.String()))

	meshTransport.SetReachable(p, true)
	r.OnPeerReachable(context.Background(), p)

	assert.Equal(t, 0, r.Outbox().Pending(p.String()))
	require.Len(t, meshTransport.PrivateMessages, 3)
	// FIFO order preserved.
	assert.Equal(t, "m-1", meshTransport.PrivateMessages[0].MessageID)
	assert.Equal(t, "m-2", meshTransport.PrivateMessages[1].MessageID)
	assert.Equal(t, "m-3", meshTransport.PrivateMessages[2].MessageID)
}

func TestFlushKeepsUnsendableEntries(t *testing.T) {
	r, _, ov, favorites := newTestRouter()
	p := testPeer()

	_, err := r.SendPrivate(context.Background(), "hi", p, "nick", "mid-1")
	require.ErrorIs(t, err, ErrTransportUnavailable)

	// Mapping exists but the gate is shut: the entry must stay parked.
	ov.gateShut = true
	favorites.SetFavorite(p, true)
	favorites.SetPeerFavorite(p, true)
	favorites.SetOverlayKey(p, "pk-hex")
	for len(favorites.Events()) > 0 {
		r.OnFavoriteStatusChanged(context.Background(), <-favorites.Events())
	}
	assert.Equal(t, 1, r.Outbox().Pending(p.String()))

	// Gate opens, next event flushes.
	ov.gateShut = false
	r.OnFavoriteStatusChanged(context.Background(), FavoriteStatusChanged{Peer: p, OverlayPubKey: "pk-hex"})
	assert.Equal(t, 0, r.Outbox().Pending(p.String()))
}

func TestMappingRecognizedByFullForm(t *testing.T) {
	r, _, ov, favorites := newTestRouter()

	var full [32]byte
	full[0] = 0x42
	fullID := peer.FromFull(full)

	// Mapping recorded under the full form; send addressed by it too.
	favorites.SetFavorite(fullID, true)
	favorites.SetPeerFavorite(fullID, true)
	favorites.SetOverlayKey(fullID, "pk-full")

	_, err := r.SendPrivate(context.Background(), "hi", fullID, "nick", "mid-9")
	require.NoError(t, err)
	require.Len(t, ov.DMs(), 1)
}

func TestReceiptsPreferMesh(t *testing.T) {
	r, meshTransport, ov, favorites := newTestRouter()
	p := testPeer()
	favorites.SetFavorite(p, true)
	favorites.SetPeerFavorite(p, true)
	favorites.SetOverlayKey(p, "pk")

	meshTransport.SetReachable(p, true)
	require.NoError(t, r.SendReadReceipt(context.Background(), p, "r-1"))
	require.NoError(t, r.SendDeliveryAck(context.Background(), p, "m-1"))
	assert.Len(t, meshTransport.ReadReceipts, 1)
	assert.Len(t, meshTransport.DeliveryAcks, 1)
	assert.Empty(t, ov.readAcks)

	meshTransport.SetReachable(p, false)
	require.NoError(t, r.SendReadReceipt(context.Background(), p, "r-2"))
	require.NoError(t, r.SendDeliveryAck(context.Background(), p, "m-2"))
	assert.Equal(t, []string{"r-2"}, ov.readAcks)
	assert.Equal(t, []string{"m-2"}, ov.delivAcks)
}

func TestReceiptsWithNoRouteFail(t *testing.T) {
	r, _, _, _ := newTestRouter()
	p := testPeer()
	assert.ErrorIs(t, r.SendReadReceipt(context.Background(), p, "r-1"), ErrTransportUnavailable)
	assert.ErrorIs(t, r.SendDeliveryAck(context.Background(), p, "m-1"), ErrTransportUnavailable)
}

func TestSendBroadcastSignsAndFloods(t *testing.T) {
	r, meshTransport, _, _ := newTestRouter()

	require.NoError(t, r.SendBroadcast("hello everyone"))

	sent := meshTransport.SentPackets()
	require.Len(t, sent, 1)
	pkt := sent[0].Packet
	assert.Nil(t, sent[0].To)
	assert.Equal(t, protocol.PacketBroadcast, pkt.Type)
	assert.Equal(t, uint8(7), pkt.TTL)
	assert.Equal(t, []byte("hello everyone"), pkt.Payload)
	assert.NotNil(t, pkt.Signature)
}

func TestSendPrivateGeneratesMessageID(t *testing.T) {
	r, meshTransport, _, _ := newTestRouter()
	p := testPeer()
	meshTransport.SetReachable(p, true)

	mid, err := r.SendPrivate(context.Background(), "hi", p, "nick", "")
	require.NoError(t, err)
	assert.NotEmpty(t, mid)
}

func TestAcksAdvanceStatus(t *testing.T) {
	r, meshTransport, _, _ := newTestRouter()
	p := testPeer()
	meshTransport.SetReachable(p, true)

	mid, err := r.SendPrivate(context.Background(), "hi", p, "nick", "")
	require.NoError(t, err)

	r.OnDeliveryAck(mid)
	status, _ := r.Tracker().Get(mid)
	assert.Equal(t, StatusDelivered, status)

	r.OnReadReceipt(mid)
	status, _ = r.Tracker().Get(mid)
	assert.Equal(t, StatusRead, status)

	// A late delivery ack must not downgrade.
	r.OnDeliveryAck(mid)
	status, _ = r.Tracker().Get(mid)
	assert.Equal(t, StatusRead, status)
}

func TestReset(t *testing.T) {
	r, _, _, _ := newTestRouter()
	p := testPeer()
	_, _ = r.SendPrivate(context.Background(), "hi", p, "nick", "mid-1")
	require.Equal(t, 1, r.Outbox().Pending(p.String()))

	r.Reset()
	assert.Equal(t, 0, r.Outbox().Pending(p.String()))
	_, ok := r.Tracker().Get("mid-1")
	assert.False(t, ok)
}
