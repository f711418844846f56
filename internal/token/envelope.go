package token

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the required envelope key length.
const KeySize = chacha20poly1305.KeySize

var errEnvelope = errors.New("token: envelope cannot be opened")

// Envelope seals signed tokens with XChaCha20-Poly1305. The token kind is the
// associated data, so a token sealed as one kind never opens as another.
// Nonces are derived from the kind and the plaintext with a key that never
// encrypts, so identical inputs give identical output and distinct inputs
// never share a nonce.
type Envelope struct {
	aead     cipher.AEAD
	nonceKey []byte
}

// NewEnvelope builds an envelope from a 32 byte key.
func NewEnvelope(key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("token: envelope key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("token: init aead: %w", err)
	}
	nonceKey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte("authcore envelope nonce")), nonceKey); err != nil {
		return nil, fmt.Errorf("token: derive nonce key: %w", err)
	}
	return &Envelope{aead: aead, nonceKey: nonceKey}, nil
}

func (e *Envelope) nonce(kind string, plaintext []byte) []byte {
	mac := hmac.New(sha256.New, e.nonceKey)
	mac.Write([]byte(kind))
	mac.Write([]byte{0})
	mac.Write(plaintext)
	return mac.Sum(nil)[:chacha20poly1305.NonceSizeX]
}

// Seal encrypts plaintext for kind and returns base64url(nonce || ciphertext).
func (e *Envelope) Seal(kind string, plaintext []byte) string {
	nonce := e.nonce(kind, plaintext)
	out := make([]byte, 0, len(nonce)+len(plaintext)+e.aead.Overhead())
	out = append(out, nonce...)
	out = e.aead.Seal(out, nonce, plaintext, []byte(kind))
	return base64.RawURLEncoding.EncodeToString(out)
}

// Open reverses Seal. Any failure reports the same opaque error.
func (e *Envelope) Open(kind, sealed string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX+e.aead.Overhead() {
		return nil, errEnvelope
	}
	nonce, ct := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := e.aead.Open(nil, nonce, ct, []byte(kind))
	if err != nil {
		return nil, errEnvelope
	}
	return plaintext, nil
}
