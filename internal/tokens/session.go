package tokens

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shortsai/backend/internal/crypto"
)

// SessionTTL is the fixed lifetime of a session token. Sessions do not slide.
const SessionTTL = 7 * 24 * time.Hour

// SessionClaim is the identity carried by a session cookie
type SessionClaim struct {
	SubjectID string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// sessionPayload is the signed wire form
type sessionPayload struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	IAT   int64  `json:"iat"`
	EXP   int64  `json:"exp"`
}

// SessionCodec issues and parses session tokens
type SessionCodec struct {
	signer *crypto.Signer
	now    func() time.Time
}

// NewSessionCodec creates a session codec over the given signer
func NewSessionCodec(signer *crypto.Signer, opts ...Option) *SessionCodec {
	o := buildOptions(opts)
	return &SessionCodec{signer: signer, now: o.now}
}

// Issue mints a token for subjectID valid for SessionTTL from now.
func (c *SessionCodec) Issue(subjectID, email string) (string, SessionClaim, error) {
	if subjectID == "" {
		return "", SessionClaim{}, fmt.Errorf("%w: subject id", ErrMissingFields)
	}

	issuedAt := c.now().Truncate(time.Second)
	claim := SessionClaim{
		SubjectID: subjectID,
		Email:     email,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(SessionTTL),
	}

	data, err := json.Marshal(sessionPayload{
		UID:   claim.SubjectID,
		Email: claim.Email,
		IAT:   claim.IssuedAt.Unix(),
		EXP:   claim.ExpiresAt.Unix(),
	})
	if err != nil {
		return "", SessionClaim{}, fmt.Errorf("failed to marshal session: %w", err)
	}

	return c.signer.Sign(data), claim, nil
}

// Parse verifies token and returns its claim. A claim is valid strictly
// before its expiry.
func (c *SessionCodec) Parse(token string) (SessionClaim, error) {
	data, err := verify(c.signer, token)
	if err != nil {
		return SessionClaim{}, err
	}

	var p sessionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return SessionClaim{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.UID == "" || p.EXP == 0 {
		return SessionClaim{}, ErrMissingFields
	}
	if p.EXP <= p.IAT {
		return SessionClaim{}, fmt.Errorf("%w: expiry not after issue time", ErrMalformed)
	}

	claim := SessionClaim{
		SubjectID: p.UID,
		Email:     p.Email,
		IssuedAt:  time.Unix(p.IAT, 0),
		ExpiresAt: time.Unix(p.EXP, 0),
	}
	if !c.now().Before(claim.ExpiresAt) {
		return SessionClaim{}, ErrExpired
	}
	return claim, nil
}
