package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Reconnection backoff per relay.
const (
	backoffInitial     = 1 * time.Second
	backoffMultiplier  = 2
	backoffCap         = 300 * time.Second
	backoffMaxAttempts = 10
)

// DialerSource provides the SOCKS dialer when the fail-closed gate is
// open. Satisfied by ProxyManager.
type DialerSource interface {
	Dialer() (proxy.Dialer, error)
	NetworkPermitted() bool
}

// Filter selects events within a subscription.
type Filter struct {
	Kinds       []int
	Authors     []string
	GeohashTags []string
	PTags       []string
	Since       int64
}

// MarshalJSON renders the relay-side filter object.
func (f Filter) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{})
	if len(f.Kinds) > 0 {
		obj["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		obj["authors"] = f.Authors
	}
	if len(f.GeohashTags) > 0 {
		obj["#g"] = f.GeohashTags
	}
	if len(f.PTags) > 0 {
		obj["#p"] = f.PTags
	}
	if f.Since > 0 {
		obj["since"] = f.Since
	}
	return json.Marshal(obj)
}

// EventHandler receives events delivered by a subscription.
type EventHandler func(relayURL, subscriptionID string, ev *Event)

// subscription is a client-assigned REQ replayed on reconnect.
type subscription struct {
	id      string
	filter  Filter
	handler EventHandler
}

// RelayClient maintains websocket sessions to a set of relays, all dialed
// through the anonymizing proxy. Incoming events are deduplicated by a
// bounded processed-id window before delivery.
type RelayClient struct {
	mu        sync.Mutex
	dialers   DialerSource
	sessions  map[string]*relaySession
	subs      map[string]*subscription
	processed *ProcessedSet
}

// NewRelayClient creates a client with an empty session set.
func NewRelayClient(dialers DialerSource, processedCap int) *RelayClient {
	return &RelayClient{
		dialers:   dialers,
		sessions:  make(map[string]*relaySession),
		subs:      make(map[string]*subscription),
		processed: NewProcessedSet(processedCap),
	}
}

// Publish sends an event to every given relay, establishing sessions as
// needed. It fails with ErrProxyNotReady while the gate is shut and
// returns the first session error only if no relay accepted the event.
func (c *RelayClient) Publish(ctx context.Context, urls []string, ev *Event) error {
	if !c.dialers.NetworkPermitted() {
		return ErrProxyNotReady
	}

	frame, err := json.Marshal([]interface{}{"EVENT", ev})
	if err != nil {
		return fmt.Errorf("failed to encode event frame: %w", err)
	}

	var firstErr error
	accepted := 0
	for _, url := range urls {
		session, err := c.session(ctx, url)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := session.write(frame); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		accepted++
	}

	if accepted == 0 {
		if firstErr != nil {
			return fmt.Errorf("%w: %v", ErrRelayUnavailable, firstErr)
		}
		return ErrRelayUnavailable
	}
	return nil
}

// Subscribe opens a client-identified subscription on every given relay.
// Duplicate deliveries across overlapping subscriptions are suppressed by
// the processed-id window.
func (c *RelayClient) Subscribe(ctx context.Context, id string, urls []string, filter Filter, handler EventHandler) error {
	if !c.dialers.NetworkPermitted() {
		return ErrProxyNotReady
	}

	c.mu.Lock()
	c.subs[id] = &subscription{id: id, filter: filter, handler: handler}
	c.mu.Unlock()

	frame, err := json.Marshal([]interface{}{"REQ", id, filter})
	if err != nil {
		return fmt.Errorf("failed to encode subscription frame: %w", err)
	}

	var firstErr error
	for _, url := range urls {
		session, err := c.session(ctx, url)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := session.write(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Unsubscribe closes a subscription everywhere. It is synchronous and
// idempotent: unknown ids are a no-op.
func (c *RelayClient) Unsubscribe(id string) {
	c.mu.Lock()
	_, known := c.subs[id]
	delete(c.subs, id)
	sessions := make([]*relaySession, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	if !known {
		return
	}
	frame, err := json.Marshal([]interface{}{"CLOSE", id})
	if err != nil {
		return
	}
	for _, s := range sessions {
		_ = s.write(frame)
	}
}

// Close tears down every relay session.
func (c *RelayClient) Close() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*relaySession)
	c.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// ResetProcessed clears the dedup window (panic wipe).
func (c *RelayClient) ResetProcessed() {
	c.processed.Reset()
}

// session returns an existing live session or dials a new one.
func (c *RelayClient) session(ctx context.Context, url string) (*relaySession, error) {
	c.mu.Lock()
	if s, ok := c.sessions[url]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.dial(ctx, url)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.sessions[url]; ok {
		c.mu.Unlock()
		s.close()
		return existing, nil
	}
	c.sessions[url] = s
	c.mu.Unlock()
	return s, nil
}

// dial opens a websocket session through the SOCKS dialer.
func (c *RelayClient) dial(ctx context.Context, url string) (*relaySession, error) {
	socks, err := c.dialers.Dialer()
	if err != nil {
		return nil, err
	}

	wsDialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := socks.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return socks.Dial(network, addr)
		},
	}

	conn, _, err := wsDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrRelayUnavailable, url, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "dial",
		"relay":    url,
	}).Info("Relay session established")

	s := &relaySession{url: url, conn: conn, client: c}
	go s.readLoop()
	return s, nil
}

// dispatch routes an inbound frame to the owning subscription handler.
func (c *RelayClient) dispatch(relayURL string, frame []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil || len(raw) < 1 {
		return
	}
	var kind string
	if json.Unmarshal(raw[0], &kind) != nil || kind != "EVENT" || len(raw) < 3 {
		return
	}

	var subID string
	if json.Unmarshal(raw[1], &subID) != nil {
		return
	}
	var ev Event
	if json.Unmarshal(raw[2], &ev) != nil {
		return
	}

	if ev.Verify() != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"relay":    relayURL,
		}).Debug("Dropping event with bad signature")
		return
	}
	if !c.processed.MarkProcessed(ev.ID) {
		return
	}

	c.mu.Lock()
	sub, ok := c.subs[subID]
	c.mu.Unlock()
	if ok && sub.handler != nil {
		sub.handler(relayURL, subID, &ev)
	}
}

// resubscribe replays every live subscription onto a reconnected session.
func (c *RelayClient) resubscribe(s *relaySession) {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		frame, err := json.Marshal([]interface{}{"REQ", sub.id, sub.filter})
		if err != nil {
			continue
		}
		_ = s.write(frame)
	}
}

// dropSession removes a dead session from the pool.
func (c *RelayClient) dropSession(s *relaySession) {
	c.mu.Lock()
	if c.sessions[s.url] == s {
		delete(c.sessions, s.url)
	}
	c.mu.Unlock()
}

// relaySession is one websocket connection with reconnect backoff.
type relaySession struct {
	url     string
	client  *RelayClient
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

func (s *relaySession) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return ErrRelayUnavailable
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *relaySession) close() {
	s.writeMu.Lock()
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
	}
	s.writeMu.Unlock()
}

// readLoop pumps inbound frames and reconnects with exponential backoff:
// initial 1 s, doubling to a 300 s cap, at most 10 attempts.
func (s *relaySession) readLoop() {
	for {
		for {
			_, frame, err := s.conn.ReadMessage()
			if err != nil {
				break
			}
			s.client.dispatch(s.url, frame)
		}

		s.writeMu.Lock()
		closed := s.closed
		s.writeMu.Unlock()
		if closed {
			s.client.dropSession(s)
			return
		}

		if !s.reconnect() {
			s.client.dropSession(s)
			return
		}
		s.client.resubscribe(s)
	}
}

// reconnect re-dials the relay; returns false once attempts or the gate
// run out.
func (s *relaySession) reconnect() bool {
	delay := backoffInitial
	for attempt := 1; attempt <= backoffMaxAttempts; attempt++ {
		time.Sleep(delay)
		delay *= backoffMultiplier
		if delay > backoffCap {
			delay = backoffCap
		}

		if !s.client.dialers.NetworkPermitted() {
			return false
		}
		socks, err := s.client.dialers.Dialer()
		if err != nil {
			continue
		}
		wsDialer := websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			NetDial:          socks.Dial,
		}
		conn, _, err := wsDialer.Dial(s.url, nil)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "reconnect",
				"relay":    s.url,
				"attempt":  attempt,
			}).Debug("Relay reconnect failed")
			continue
		}

		s.writeMu.Lock()
		if s.closed {
			s.writeMu.Unlock()
			conn.Close()
			return false
		}
		s.conn = conn
		s.writeMu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "reconnect",
			"relay":    s.url,
		}).Info("Relay session re-established")
		return true
	}
	return false
}
