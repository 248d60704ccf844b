package tokens

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shortsai/backend/internal/crypto"
)

const (
	// StateTTL bounds how long an OAuth state survives the provider round-trip
	StateTTL = 10 * time.Minute

	// DefaultReturnTo is used when the caller gives no usable destination
	DefaultReturnTo = "/settings"
)

// StateClaim is the intent carried through the OAuth redirect
type StateClaim struct {
	SubjectID string
	ReturnTo  string
	Nonce     string
	IssuedAt  time.Time
}

// ExpiresAt is the last instant the claim is accepted
func (c StateClaim) ExpiresAt() time.Time {
	return c.IssuedAt.Add(StateTTL)
}

// statePayload is the signed wire form. Timestamp is unix milliseconds.
type statePayload struct {
	UserID    string `json:"userId"`
	ReturnTo  string `json:"returnTo"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// StateCodec issues and parses OAuth state tokens
type StateCodec struct {
	signer *crypto.Signer
	now    func() time.Time
}

// NewStateCodec creates a state codec over the given signer
func NewStateCodec(signer *crypto.Signer, opts ...Option) *StateCodec {
	o := buildOptions(opts)
	return &StateCodec{signer: signer, now: o.now}
}

// Issue mints a state token. An empty nonce is replaced with a fresh random one.
func (c *StateCodec) Issue(subjectID, returnTo, nonce string) (string, StateClaim, error) {
	if subjectID == "" {
		return "", StateClaim{}, fmt.Errorf("%w: subject id", ErrMissingFields)
	}
	if nonce == "" {
		n, err := crypto.GenerateNonce()
		if err != nil {
			return "", StateClaim{}, err
		}
		nonce = n
	}

	claim := StateClaim{
		SubjectID: subjectID,
		ReturnTo:  SanitizeReturnTo(returnTo),
		Nonce:     nonce,
		IssuedAt:  c.now().Truncate(time.Millisecond),
	}

	data, err := json.Marshal(statePayload{
		UserID:    claim.SubjectID,
		ReturnTo:  claim.ReturnTo,
		Nonce:     claim.Nonce,
		Timestamp: claim.IssuedAt.UnixMilli(),
	})
	if err != nil {
		return "", StateClaim{}, fmt.Errorf("failed to marshal state: %w", err)
	}

	return c.signer.Sign(data), claim, nil
}

// Parse checks, in order: structure, signature, required fields, then the
// timestamp window.
func (c *StateCodec) Parse(token string) (StateClaim, error) {
	data, err := verify(c.signer, token)
	if err != nil {
		return StateClaim{}, err
	}

	var p statePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return StateClaim{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var missing []string
	if p.UserID == "" {
		missing = append(missing, "userId")
	}
	if p.Nonce == "" {
		missing = append(missing, "nonce")
	}
	if p.Timestamp == 0 {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return StateClaim{}, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}

	issuedAt := time.UnixMilli(p.Timestamp)
	age := c.now().Sub(issuedAt)
	if age < 0 {
		return StateClaim{}, fmt.Errorf("%w: %s ahead", ErrFutureTimestamp, -age)
	}
	if age > StateTTL {
		return StateClaim{}, fmt.Errorf("%w: age %s", ErrExpired, age)
	}

	return StateClaim{
		SubjectID: p.UserID,
		ReturnTo:  SanitizeReturnTo(p.ReturnTo),
		Nonce:     p.Nonce,
		IssuedAt:  issuedAt,
	}, nil
}

// SanitizeReturnTo keeps only same-site relative paths. Anything that could
// leave the frontend origin falls back to DefaultReturnTo.
func SanitizeReturnTo(returnTo string) string {
	if returnTo == "" ||
		!strings.HasPrefix(returnTo, "/") ||
		strings.HasPrefix(returnTo, "//") ||
		strings.ContainsAny(returnTo, "\\\r\n") {
		return DefaultReturnTo
	}
	return returnTo
}
