package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSignature is returned for any token that cannot be trusted:
	// tampered payload, wrong key, or broken structure.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMalformed is additionally matched when the token is structurally
	// broken before any MAC is computed.
	ErrMalformed = errors.New("malformed token")
)

// Signer produces compact HMAC-SHA256 signed tokens of the form
// base64url(payload) "." base64url(mac), both unpadded. The MAC is computed
// over the encoded payload string, not the raw bytes.
//
// A Signer holds a key ring: the first key signs, every key verifies,
// newest first. Older keys are kept around only while rotating secrets.
type Signer struct {
	keys [][]byte
}

// NewSigner creates a signer from one or more keys, newest first.
func NewSigner(keys ...[]byte) (*Signer, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one signing key is required")
	}
	ring := make([][]byte, 0, len(keys))
	for i, k := range keys {
		if len(k) == 0 {
			return nil, fmt.Errorf("signing key %d is empty", i)
		}
		ring = append(ring, append([]byte(nil), k...))
	}
	return &Signer{keys: ring}, nil
}

// Sign encodes payload and appends its signature.
func (s *Signer) Sign(payload []byte) string {
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + mac(s.keys[0], encoded)
}

// Verify checks the signature against every key in the ring and returns the
// decoded payload. The payload is never returned unless a key matched.
func (s *Signer) Verify(token string) ([]byte, error) {
	encoded, sig, err := SplitToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	// Compare the encoded forms: RawURLEncoding ignores trailing bits, so two
	// different signature strings can decode to the same bytes.
	matched := false
	for _, k := range s.keys {
		if hmac.Equal([]byte(mac(k, encoded)), []byte(sig)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrInvalidSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: payload: %v", ErrInvalidSignature, ErrMalformed, err)
	}
	return payload, nil
}

// SplitToken separates a signed token into its payload and signature
// segments, checking that both are non-empty unpadded base64url.
func SplitToken(token string) (payload, signature string, err error) {
	idx := strings.LastIndexByte(token, '.')
	if idx <= 0 || idx == len(token)-1 {
		return "", "", fmt.Errorf("%w: expected payload.signature", ErrMalformed)
	}
	payload, signature = token[:idx], token[idx+1:]

	if _, err := base64.RawURLEncoding.DecodeString(payload); err != nil {
		return "", "", fmt.Errorf("%w: payload encoding: %v", ErrMalformed, err)
	}
	if _, err := base64.RawURLEncoding.DecodeString(signature); err != nil {
		return "", "", fmt.Errorf("%w: signature encoding: %v", ErrMalformed, err)
	}
	return payload, signature, nil
}

func mac(key []byte, data string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
