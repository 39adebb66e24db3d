package overlay

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// dmIdentityLabel derives the stable direct-message identity from the
// root secret, distinct from every per-geohash identity: the ':' is not a
// geohash character, so no channel name can derive the same key.
const dmIdentityLabel = "dm:"

// Transport is the overlay send/receive surface. Every operation checks
// the fail-closed gate before touching the network.
type Transport struct {
	proxy     *ProxyManager
	relays    *RelayClient
	directory *RelayDirectory
	miner     Miner
	powBits   func(geohashLen int) int

	relayCount int
	rootSecret [32]byte

	mu             sync.Mutex
	identities     map[string]*Identity
	dmIdentity     *Identity
	activeGeohash  string
	subscriptionID uint64
}

// NewTransport wires the overlay sender. powBits maps a geohash precision
// to the required proof-of-work difficulty.
func NewTransport(proxyMgr *ProxyManager, relays *RelayClient, directory *RelayDirectory,
	miner Miner, powBits func(int) int, rootSecret [32]byte, relayCount int) (*Transport, error) {

	if relayCount <= 0 {
		relayCount = DefaultRelayCount
	}
	dmIdentity, err := DeriveGeohashIdentity(rootSecret, dmIdentityLabel)
	if err != nil {
		return nil, err
	}

	return &Transport{
		proxy:      proxyMgr,
		relays:     relays,
		directory:  directory,
		miner:      miner,
		powBits:    powBits,
		relayCount: relayCount,
		rootSecret: rootSecret,
		identities: make(map[string]*Identity),
		dmIdentity: dmIdentity,
	}, nil
}

// DMPubKeyHex returns the stable overlay pubkey peers address direct
// messages to. This is the key exchanged in favorite mappings.
func (t *Transport) DMPubKeyHex() string {
	return t.dmIdentity.PubKeyHex()
}

// identityFor returns (caching) the per-geohash posting identity.
func (t *Transport) identityFor(geohash string) (*Identity, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.identities[geohash]; ok {
		return id, nil
	}
	id, err := DeriveGeohashIdentity(t.rootSecret, geohash)
	if err != nil {
		return nil, err
	}
	t.identities[geohash] = id
	return id, nil
}

// SendGeohashNote publishes a public note in a geohash channel. The note
// is mined to the channel's difficulty, signed with the per-geohash
// identity, and published to the nearest relays. Fails with
// ErrProxyNotReady while the gate is shut.
func (t *Transport) SendGeohashNote(ctx context.Context, content, gh, nickname string) (string, error) {
	if !t.proxy.NetworkPermitted() {
		return "", ErrProxyNotReady
	}
	gh, err := NormalizeGeohash(gh)
	if err != nil {
		return "", err
	}

	identity, err := t.identityFor(gh)
	if err != nil {
		return "", err
	}

	ev := NewGeohashNote(identity.PubKeyHex(), gh, nickname, content)
	target := t.powBits(len(gh))
	if _, _, err := t.miner.Mine(ev, target); err != nil {
		return "", fmt.Errorf("failed to mine note: %w", err)
	}
	if err := identity.SignEvent(ev); err != nil {
		return "", err
	}

	urls, err := t.directory.RelaysForGeohash(gh, t.relayCount)
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function": "SendGeohashNote",
		"geohash":  gh,
		"relays":   len(urls),
		"id":       ev.ID,
	}).Debug("Publishing geohash note")

	if err := t.relays.Publish(ctx, urls, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}

// SendPrivateMessage gift-wraps a direct message to a recipient's overlay
// pubkey. The message id tag lets the recipient ack it back over either
// transport.
func (t *Transport) SendPrivateMessage(ctx context.Context, content, recipientPubHex, messageID string) (string, error) {
	if !t.proxy.NetworkPermitted() {
		return "", ErrProxyNotReady
	}

	inner := &Event{
		PubKey:    t.dmIdentity.PubKeyHex(),
		CreatedAt: nowUnix(),
		Kind:      KindTextNote,
		Tags: [][]string{
			{"p", recipientPubHex},
			{"e", messageID},
		},
		Content: content,
	}
	if err := t.dmIdentity.SignEvent(inner); err != nil {
		return "", err
	}

	wrap, err := SealGiftWrap(inner, recipientPubHex)
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "SendPrivateMessage",
		"message_id": messageID,
		"wrap_id":    wrap.ID,
	}).Debug("Publishing gift-wrapped message")

	if err := t.relays.Publish(ctx, t.dmRelays(), wrap); err != nil {
		return "", err
	}
	return wrap.ID, nil
}

// SendDeliveryAck publishes a delivery acknowledgement for a message.
func (t *Transport) SendDeliveryAck(ctx context.Context, recipientPubHex, messageID string) error {
	return t.sendAck(ctx, KindDeliveryAck, recipientPubHex, messageID)
}

// SendReadAck publishes a read acknowledgement for a message.
func (t *Transport) SendReadAck(ctx context.Context, recipientPubHex, messageID string) error {
	return t.sendAck(ctx, KindReadAck, recipientPubHex, messageID)
}

func (t *Transport) sendAck(ctx context.Context, kind int, recipientPubHex, messageID string) error {
	if !t.proxy.NetworkPermitted() {
		return ErrProxyNotReady
	}

	ev := NewAck(kind, t.dmIdentity.PubKeyHex(), recipientPubHex, messageID)
	if err := t.dmIdentity.SignEvent(ev); err != nil {
		return err
	}
	return t.relays.Publish(ctx, t.dmRelays(), ev)
}

// SubscribeGeohash opens the public-channel subscription for a geohash
// and remembers it as the active channel for DM relay selection.
func (t *Transport) SubscribeGeohash(ctx context.Context, gh string, handler EventHandler) (string, error) {
	if !t.proxy.NetworkPermitted() {
		return "", ErrProxyNotReady
	}
	gh, err := NormalizeGeohash(gh)
	if err != nil {
		return "", err
	}

	urls, err := t.directory.RelaysForGeohash(gh, t.relayCount)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.activeGeohash = gh
	t.subscriptionID++
	subID := fmt.Sprintf("geo-%s-%d", gh, t.subscriptionID)
	t.mu.Unlock()

	filter := Filter{Kinds: []int{KindGeohashNote}, GeohashTags: []string{gh}}
	if err := t.relays.Subscribe(ctx, subID, urls, filter, handler); err != nil {
		return "", err
	}
	return subID, nil
}

// SubscribeGiftWraps opens the inbox subscription for our DM pubkey.
func (t *Transport) SubscribeGiftWraps(ctx context.Context, handler EventHandler) (string, error) {
	if !t.proxy.NetworkPermitted() {
		return "", ErrProxyNotReady
	}

	t.mu.Lock()
	t.subscriptionID++
	subID := fmt.Sprintf("dm-%d", t.subscriptionID)
	t.mu.Unlock()

	filter := Filter{Kinds: []int{KindGiftWrap}, PTags: []string{t.dmIdentity.PubKeyHex()}}
	if err := t.relays.Subscribe(ctx, subID, t.dmRelays(), filter, handler); err != nil {
		return "", err
	}
	return subID, nil
}

// Unsubscribe closes a subscription; unknown ids are a no-op.
func (t *Transport) Unsubscribe(subID string) {
	t.relays.Unsubscribe(subID)
}

// OpenIncomingGiftWrap unwraps an envelope addressed to our DM identity.
func (t *Transport) OpenIncomingGiftWrap(wrap *Event) (*Event, error) {
	return OpenGiftWrap(wrap, t.dmIdentity.privateKey())
}

// dmRelays selects the relay set for direct messages: the active geohash
// channel's relays when one is set, otherwise the directory head.
func (t *Transport) dmRelays() []string {
	t.mu.Lock()
	gh := t.activeGeohash
	t.mu.Unlock()

	if gh != "" {
		if urls, err := t.directory.RelaysForGeohash(gh, t.relayCount); err == nil {
			return urls
		}
	}
	n := t.relayCount
	if n > t.directory.Size() {
		n = t.directory.Size()
	}
	urls := make([]string, 0, n)
	for _, r := range t.directory.relays[:n] {
		urls = append(urls, "wss://"+r.Host)
	}
	return urls
}
