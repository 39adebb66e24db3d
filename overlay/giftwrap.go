package overlay

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// giftWrapInfo domain-separates wrap key derivation.
const giftWrapInfo = "bitmesh-giftwrap-v1"

// SealGiftWrap encrypts an inner event to a recipient's overlay pubkey
// and wraps it in a KindGiftWrap envelope signed by a one-shot ephemeral
// key. Relays see only the ephemeral key and the recipient tag.
func SealGiftWrap(inner *Event, recipientPubHex string) (*Event, error) {
	recipientPub, err := parseXOnly(recipientPubHex)
	if err != nil {
		return nil, err
	}

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	ephemeralPubHex := hex.EncodeToString(schnorr.SerializePubKey(ephemeral.PubKey()))

	key, err := wrapKey(ephemeral, recipientPub, ephemeralPubHex)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inner event: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create wrap cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate wrap nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	wrap := &Event{
		PubKey:    ephemeralPubHex,
		CreatedAt: time.Now().Unix(),
		Kind:      KindGiftWrap,
		Tags:      [][]string{{"p", recipientPubHex}},
		Content:   base64.StdEncoding.EncodeToString(sealed),
	}
	if err := wrap.Sign(ephemeral); err != nil {
		return nil, err
	}
	return wrap, nil
}

// OpenGiftWrap decrypts a wrap addressed to us and returns the inner
// event.
func OpenGiftWrap(wrap *Event, recipientPriv *btcec.PrivateKey) (*Event, error) {
	if wrap.Kind != KindGiftWrap {
		return nil, fmt.Errorf("%w: kind %d is not a gift wrap", ErrInvalidEvent, wrap.Kind)
	}

	ephemeralPub, err := parseXOnly(wrap.PubKey)
	if err != nil {
		return nil, err
	}
	key, err := wrapKey(recipientPriv, ephemeralPub, wrap.PubKey)
	if err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(wrap.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: bad wrap content encoding", ErrInvalidEvent)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create wrap cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: wrap content too short", ErrInvalidEvent)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap decryption failed", ErrInvalidEvent)
	}

	var inner Event
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return nil, fmt.Errorf("%w: inner event unmarshal failed", ErrInvalidEvent)
	}
	return &inner, nil
}

// wrapKey derives the symmetric wrap key from an ECDH shared secret. The
// x coordinate is invariant under pubkey negation, so x-only lifting on
// either side yields the same key.
func wrapKey(priv *btcec.PrivateKey, pub *btcec.PublicKey, saltHex string) ([]byte, error) {
	shared := btcec.GenerateSharedSecret(priv, pub)
	reader := hkdf.New(sha256.New, shared, []byte(saltHex), []byte(giftWrapInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("wrap key derivation failed: %w", err)
	}
	return key, nil
}

func parseXOnly(pubHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: pubkey must be 32 hex-encoded bytes", ErrInvalidEvent)
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return pub, nil
}
