package overlay

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds in the overlay protocol's registry.
const (
	// KindTextNote is a plain public note.
	KindTextNote = 1
	// KindGiftWrap is an encrypted envelope addressed to a recipient's
	// overlay pubkey; sender and content are hidden from relays.
	KindGiftWrap = 1059
	// KindGeohashNote is an ephemeral public note scoped to a geohash
	// channel; admission requires proof-of-work.
	KindGeohashNote = 20000
	// KindDeliveryAck acknowledges delivery of a direct message.
	KindDeliveryAck = 20101
	// KindReadAck acknowledges that a direct message was read.
	KindReadAck = 20102
)

// Event is an overlay relay event. The ID is the SHA-256 of the canonical
// serialization; Sig is a BIP340 Schnorr signature over the ID by the key
// behind PubKey.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// CanonicalBytes returns the exact byte sequence hashed to produce the
// event id: the JSON array [0, pubkey, created_at, kind, tags, content]
// with HTML escaping disabled so slashes pass through unescaped.
func (e *Event) CanonicalBytes() ([]byte, error) {
	if len(e.PubKey) != 64 {
		return nil, fmt.Errorf("%w: pubkey must be 64 hex chars, got %d", ErrInvalidEvent, len(e.PubKey))
	}

	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	arr := []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, fmt.Errorf("canonical serialization failed: %w", err)
	}
	// Encode appends a trailing newline that is not part of the canonical
	// form.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID hashes the canonical serialization.
func (e *Event) ComputeID() ([32]byte, error) {
	canonical, err := e.CanonicalBytes()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canonical), nil
}

// Sign computes the event id and signs it with the given key. PubKey must
// already be the x-only form of the key. ID and Sig are filled in.
func (e *Event) Sign(priv *btcec.PrivateKey) error {
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = hex.EncodeToString(id[:])

	sig, err := schnorr.Sign(priv, id[:])
	if err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify recomputes the id and checks the signature against PubKey.
func (e *Event) Verify() error {
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	if e.ID != hex.EncodeToString(id[:]) {
		return fmt.Errorf("%w: id does not match canonical serialization", ErrInvalidEvent)
	}

	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pubBytes) != 32 {
		return fmt.Errorf("%w: bad pubkey encoding", ErrInvalidEvent)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("%w: bad signature encoding", ErrInvalidEvent)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if !sig.Verify(id[:], pub) {
		return fmt.Errorf("%w: signature check failed", ErrInvalidEvent)
	}
	return nil
}

// TagValue returns the first value of the first tag with the given name,
// or "" when absent.
func (e *Event) TagValue(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// NewGeohashNote builds an unsigned, unmined public note scoped to a
// geohash channel. An optional nickname tag names the author for display.
func NewGeohashNote(pubKeyHex, geohash, nickname, content string) *Event {
	tags := [][]string{{"g", geohash}}
	if nickname != "" {
		tags = append(tags, []string{"n", nickname})
	}
	return &Event{
		PubKey:    pubKeyHex,
		CreatedAt: time.Now().Unix(),
		Kind:      KindGeohashNote,
		Tags:      tags,
		Content:   content,
	}
}

// NewAck builds an unsigned delivery or read acknowledgement event
// targeting a recipient pubkey.
func NewAck(kind int, pubKeyHex, recipientPubHex, messageID string) *Event {
	return &Event{
		PubKey:    pubKeyHex,
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags: [][]string{
			{"p", recipientPubHex},
			{"e", messageID},
		},
	}
}

// Miner mines a public event until its id satisfies the target leading-
// zero-bit count, mutating the event's nonce tag and ID in place.
// Implemented by the pow package.
type Miner interface {
	Mine(ev *Event, targetBits int) (nonce uint64, idHex string, err error)
}
