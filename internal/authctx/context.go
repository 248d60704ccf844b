package authctx

import (
	"context"
)

type contextKey string

const identityKey contextKey = "auth.identity"

// Source records where the identity's email came from
type Source string

const (
	// SourceToken means only the signed session claim was used
	SourceToken Source = "token"
	// SourceProvider means the identity provider confirmed the subject
	SourceProvider Source = "provider"
)

// Identity is the authenticated caller attached by the session gate
type Identity struct {
	SubjectID string
	Email     string
	Source    Source
}

// WithIdentity adds the caller's identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the caller's identity from context
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.SubjectID == "" {
		return Identity{}, false
	}
	return id, true
}

// SubjectID retrieves only the subject id from context
func SubjectID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", false
	}
	return id.SubjectID, true
}
