package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shortsai/backend/internal/authctx"
	"github.com/shortsai/backend/internal/cookie"
	"github.com/shortsai/backend/internal/emailutil"
	"github.com/shortsai/backend/internal/idp"
	jsonwriter "github.com/shortsai/backend/internal/json"
	"github.com/shortsai/backend/internal/log"
	"github.com/shortsai/backend/internal/tokens"
)

const (
	msgSessionMissing = "Session cookie is missing. Please login first."
	msgSessionInvalid = "Invalid or expired session. Please login again."
)

// SessionGateConfig wires the session gate. Directory may be nil, in which
// case the signed claim is trusted on its own.
type SessionGateConfig struct {
	Sessions      *tokens.SessionCodec
	Cookie        *cookie.Session
	Directory     idp.Directory
	LookupTimeout time.Duration
	Metrics       *Metrics
}

// NewSessionGate rejects requests without a valid session cookie and
// attaches the caller's identity to the request context.
func NewSessionGate(cfg SessionGateConfig) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()

			value, err := cfg.Cookie.Value(r)
			if err != nil || value == "" {
				log.LogWarnWithFields("session", "Session cookie missing", log.Fields(ctx, map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
					"error":  tokens.ErrUnauthenticated.Error(),
				}))
				cfg.Metrics.sessionCheck(OutcomeMissing)
				jsonwriter.WriteUnauthorized(w, msgSessionMissing)
				return
			}

			claim, err := cfg.Sessions.Parse(value)
			if err != nil {
				log.LogWarnWithFields("session", "Session verification failed", log.Fields(ctx, map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"error":       err.Error(),
					"tokenPrefix": tokens.Prefix(value),
				}))
				cfg.Metrics.sessionCheck(OutcomeInvalid)
				jsonwriter.WriteUnauthorized(w, msgSessionInvalid)
				return
			}

			identity := resolveIdentity(ctx, cfg, claim)
			next.ServeHTTP(w, r.WithContext(authctx.WithIdentity(ctx, identity)))
		})
	}
}

// resolveIdentity cross-checks the claim with the directory. Any failure
// falls back to the claim itself.
func resolveIdentity(ctx context.Context, cfg SessionGateConfig, claim tokens.SessionClaim) authctx.Identity {
	identity := authctx.Identity{
		SubjectID: claim.SubjectID,
		Email:     claim.Email,
		Source:    authctx.SourceToken,
	}

	if cfg.Directory == nil {
		cfg.Metrics.sessionCheck(OutcomeTokenOnly)
		log.LogDebugWithFields("session", "Session verified (token only)", log.Fields(ctx, map[string]any{
			"uid": claim.SubjectID,
		}))
		return identity
	}

	lookupCtx := ctx
	if cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, cfg.LookupTimeout)
		defer cancel()
	}

	result := cfg.Directory.Lookup(lookupCtx, claim.SubjectID)
	if !result.Confirmed {
		fields := map[string]any{
			"uid":         claim.SubjectID,
			"userMissing": errors.Is(result.Reason, idp.ErrUserNotFound),
		}
		if result.Reason != nil {
			fields["error"] = result.Reason.Error()
		}
		log.LogWarnWithFields("session", "Identity provider check failed, trusting signed session", log.Fields(ctx, fields))
		cfg.Metrics.sessionCheck(OutcomeFailOpen)
		return identity
	}

	if result.Identity.Email != "" {
		identity.Email = result.Identity.Email
	}
	identity.Source = authctx.SourceProvider
	cfg.Metrics.sessionCheck(OutcomeConfirmed)

	log.LogDebugWithFields("session", "Session verified", log.Fields(ctx, map[string]any{
		"uid":   identity.SubjectID,
		"email": emailutil.Mask(identity.Email),
	}))
	return identity
}
