package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/shortsai/backend/internal/authctx"
	"github.com/shortsai/backend/internal/cookie"
	"github.com/shortsai/backend/internal/emailutil"
	"github.com/shortsai/backend/internal/idp"
	jsonwriter "github.com/shortsai/backend/internal/json"
	"github.com/shortsai/backend/internal/log"
	"github.com/shortsai/backend/internal/storage"
	"github.com/shortsai/backend/internal/tokens"
)

// maxLoginBody bounds the login request body. ID tokens are a few KB.
const maxLoginBody = 64 << 10

// SessionUser is the public view of a logged-in user
type SessionUser struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
}

type loginRequest struct {
	IDToken string `json:"idToken"`
}

type loginResponse struct {
	Success bool        `json:"success"`
	User    SessionUser `json:"user"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type userIDResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

// AuthHandlers serves the session login, logout and identity endpoints
type AuthHandlers struct {
	verifier idp.TokenVerifier
	sessions *tokens.SessionCodec
	cookie   *cookie.Session
	users    storage.UserStore
	metrics  *Metrics
}

// NewAuthHandlers creates auth handlers. A nil verifier makes login answer
// 503 until the identity provider is configured.
func NewAuthHandlers(
	verifier idp.TokenVerifier,
	sessions *tokens.SessionCodec,
	sessionCookie *cookie.Session,
	users storage.UserStore,
	metrics *Metrics,
) *AuthHandlers {
	return &AuthHandlers{
		verifier: verifier,
		sessions: sessions,
		cookie:   sessionCookie,
		users:    users,
		metrics:  metrics,
	}
}

// LoginHandler exchanges an identity provider ID token for a session cookie
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		log.LogWarnWithFields("auth", "Login with unsupported content type", log.Fields(ctx, map[string]any{
			"contentType": r.Header.Get("Content-Type"),
			"origin":      r.Header.Get("Origin"),
		}))
		h.metrics.login("bad_request")
		jsonwriter.WriteBadRequest(w, "Content-Type must be application/json")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil || strings.TrimSpace(req.IDToken) == "" {
		log.LogWarnWithFields("auth", "Login without idToken", log.Fields(ctx, map[string]any{
			"origin": r.Header.Get("Origin"),
		}))
		h.metrics.login("bad_request")
		jsonwriter.WriteBadRequest(w, "idToken is required in request body")
		return
	}

	if h.verifier == nil {
		log.LogErrorWithFields("auth", "Login attempted but identity provider is not configured", log.Fields(ctx, nil))
		h.metrics.login("unavailable")
		jsonwriter.WriteServiceUnavailable(w, "Authentication service unavailable")
		return
	}

	identity, err := h.verifier.Verify(ctx, req.IDToken)
	if err != nil {
		if errors.Is(err, idp.ErrVerifierUnavailable) {
			log.LogErrorWithFields("auth", "Identity provider unreachable", log.Fields(ctx, map[string]any{
				"error": err.Error(),
			}))
			h.metrics.login("unavailable")
			jsonwriter.WriteServiceUnavailable(w, "Authentication service unavailable")
			return
		}
		log.LogWarnWithFields("auth", "ID token rejected", log.Fields(ctx, map[string]any{
			"error":       err.Error(),
			"tokenPrefix": tokens.Prefix(req.IDToken),
		}))
		h.metrics.login("invalid_token")
		jsonwriter.WriteInvalidToken(w, "Invalid or expired ID token")
		return
	}

	value, claim, err := h.sessions.Issue(identity.SubjectID, identity.Email)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to issue session", log.Fields(ctx, map[string]any{
			"uid":   identity.SubjectID,
			"error": err.Error(),
		}))
		h.metrics.login("error")
		jsonwriter.WriteInternalServerError(w, "Failed to create session")
		return
	}

	// The session is valid without a profile record
	if h.users != nil {
		if err := h.users.UpsertUser(ctx, identity.SubjectID, emailutil.Normalize(identity.Email)); err != nil {
			log.LogWarnWithFields("auth", "Failed to record user profile", log.Fields(ctx, map[string]any{
				"uid":   identity.SubjectID,
				"error": err.Error(),
			}))
		}
	}

	h.cookie.Set(w, value)
	h.metrics.login("success")

	log.LogInfoWithFields("auth", "Session created", log.Fields(ctx, map[string]any{
		"uid":       claim.SubjectID,
		"email":     emailutil.Mask(claim.Email),
		"expiresAt": claim.ExpiresAt,
	}))

	_ = jsonwriter.Write(w, loginResponse{
		Success: true,
		User:    SessionUser{UID: claim.SubjectID, Email: claim.Email},
	})
}

// LogoutHandler clears the session cookie. The token itself stays valid
// until it expires.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.cookie.Clear(w)

	log.LogInfoWithFields("auth", "Session cleared", log.Fields(r.Context(), nil))

	_ = jsonwriter.Write(w, successResponse{Success: true, Message: "Session cleared"})
}

// UserIDHandler returns the identity resolved by the session gate. Sessions
// minted without an email fall back to the stored profile.
func (h *AuthHandlers) UserIDHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := authctx.IdentityFrom(ctx)
	if !ok {
		jsonwriter.WriteUnauthorized(w, msgSessionMissing)
		return
	}

	email := identity.Email
	if email == "" && h.users != nil {
		user, err := h.users.GetUser(ctx, identity.SubjectID)
		switch {
		case err == nil:
			email = user.Email
		case !errors.Is(err, storage.ErrUserNotFound):
			log.LogWarnWithFields("auth", "Failed to read user profile", log.Fields(ctx, map[string]any{
				"uid":   identity.SubjectID,
				"error": err.Error(),
			}))
		}
	}

	_ = jsonwriter.Write(w, userIDResponse{UserID: identity.SubjectID, Email: email})
}
