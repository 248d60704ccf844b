package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/shortsai/backend/internal/authctx"
	"github.com/shortsai/backend/internal/driveauth"
	jsonwriter "github.com/shortsai/backend/internal/json"
	"github.com/shortsai/backend/internal/log"
	"github.com/shortsai/backend/internal/storage"
	"github.com/shortsai/backend/internal/tokens"
	"github.com/shortsai/backend/internal/urlutil"
)

// Reasons reported to the frontend in the drive=error redirect
const (
	ReasonOAuthConfig  = "oauth_config"
	ReasonOAuthStart   = "oauth_start"
	ReasonMissingCode  = "missing_code"
	ReasonMissingState = "missing_state"
	ReasonInvalidState = "invalid_state"
	ReasonOAuth        = "oauth"
	ReasonUnexpected   = "unexpected"
)

// DriveConnector runs the Google Drive authorization code flow.
// *driveauth.Client implements it.
type DriveConnector interface {
	AuthURL(state string) string
	Connect(ctx context.Context, subjectID, code string) (driveauth.Status, error)
	Status(ctx context.Context, subjectID string) (driveauth.Status, error)
	Disconnect(ctx context.Context, subjectID string) error
}

// DriveHandlers serves the Google Drive connect, callback, status and
// disconnect endpoints
type DriveHandlers struct {
	connector      DriveConnector
	states         *tokens.StateCodec
	nonces         storage.NonceStore
	store          storage.DriveTokenStore
	frontendOrigin string
	metrics        *Metrics
}

// NewDriveHandlers creates Drive handlers. connector is nil when Drive
// OAuth is not configured; nonces is nil when replay protection is off.
func NewDriveHandlers(
	connector DriveConnector,
	states *tokens.StateCodec,
	nonces storage.NonceStore,
	store storage.DriveTokenStore,
	frontendOrigin string,
	metrics *Metrics,
) *DriveHandlers {
	return &DriveHandlers{
		connector:      connector,
		states:         states,
		nonces:         nonces,
		store:          store,
		frontendOrigin: frontendOrigin,
		metrics:        metrics,
	}
}

func (h *DriveHandlers) redirectError(w http.ResponseWriter, r *http.Request, returnTo, reason string) {
	params := url.Values{"drive": {"error"}}
	if reason != "" {
		params.Set("reason", reason)
	}
	target := urlutil.FrontendURL(h.frontendOrigin, returnTo, params)

	log.LogInfoWithFields("drive", "Redirecting to frontend (error)", log.Fields(r.Context(), map[string]any{
		"reason":   reason,
		"redirect": target,
	}))
	http.Redirect(w, r, target, http.StatusFound)
}

// StartHandler redirects the signed-in user to Google's consent screen
func (h *DriveHandlers) StartHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := authctx.IdentityFrom(ctx)
	if !ok {
		jsonwriter.WriteUnauthorized(w, msgSessionMissing)
		return
	}

	returnTo := tokens.SanitizeReturnTo(r.URL.Query().Get("returnTo"))

	if h.connector == nil {
		log.LogErrorWithFields("drive", "Drive OAuth is not configured", log.Fields(ctx, map[string]any{
			"uid": identity.SubjectID,
		}))
		h.redirectError(w, r, returnTo, ReasonOAuthConfig)
		return
	}

	state, claim, err := h.states.Issue(identity.SubjectID, returnTo, "")
	if err != nil {
		log.LogErrorWithFields("drive", "Failed to start OAuth flow", log.Fields(ctx, map[string]any{
			"uid":   identity.SubjectID,
			"error": err.Error(),
		}))
		h.redirectError(w, r, returnTo, ReasonOAuthStart)
		return
	}

	log.LogInfoWithFields("drive", "OAuth flow started", log.Fields(ctx, map[string]any{
		"uid":      identity.SubjectID,
		"returnTo": claim.ReturnTo,
	}))

	http.Redirect(w, r, h.connector.AuthURL(state), http.StatusFound)
}

// CallbackHandler completes the Drive connection. It always answers with a
// redirect to the frontend, never with an error page.
func (h *DriveHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer func() {
		if p := recover(); p != nil {
			log.LogErrorWithFields("drive", "Unexpected callback failure", log.Fields(ctx, map[string]any{
				"panic": p,
			}))
			h.metrics.driveCallback(ReasonUnexpected)
			h.redirectError(w, r, tokens.DefaultReturnTo, ReasonUnexpected)
		}
	}()

	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		log.LogWarnWithFields("drive", "OAuth error from Google", log.Fields(ctx, map[string]any{
			"error":       providerErr,
			"description": q.Get("error_description"),
		}))
		h.metrics.driveCallback("provider_error")
		h.redirectError(w, r, tokens.DefaultReturnTo, "")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.metrics.driveCallback(ReasonMissingCode)
		h.redirectError(w, r, tokens.DefaultReturnTo, ReasonMissingCode)
		return
	}

	rawState := q.Get("state")
	if rawState == "" {
		h.metrics.driveCallback(ReasonMissingState)
		h.redirectError(w, r, tokens.DefaultReturnTo, ReasonMissingState)
		return
	}

	claim, err := h.states.Parse(rawState)
	if err != nil {
		log.LogWarnWithFields("drive", "State validation failed", log.Fields(ctx, map[string]any{
			"error":       err.Error(),
			"stateLength": len(rawState),
		}))
		h.metrics.driveCallback(ReasonInvalidState)
		h.redirectError(w, r, tokens.DefaultReturnTo, ReasonInvalidState)
		return
	}

	if h.nonces != nil {
		if err := h.nonces.ClaimNonce(ctx, claim.Nonce, claim.ExpiresAt()); err != nil {
			if errors.Is(err, storage.ErrNonceReused) {
				log.LogWarnWithFields("drive", "State replayed", log.Fields(ctx, map[string]any{
					"uid":   claim.SubjectID,
					"error": tokens.ErrStateReused.Error(),
				}))
				h.metrics.driveCallback(ReasonInvalidState)
				h.redirectError(w, r, tokens.DefaultReturnTo, ReasonInvalidState)
				return
			}
			log.LogErrorWithFields("drive", "Failed to record state nonce", log.Fields(ctx, map[string]any{
				"uid":   claim.SubjectID,
				"error": err.Error(),
			}))
			h.metrics.driveCallback(ReasonUnexpected)
			h.redirectError(w, r, tokens.DefaultReturnTo, ReasonUnexpected)
			return
		}
	}

	if h.connector == nil {
		log.LogErrorWithFields("drive", "Callback received but Drive OAuth is not configured", log.Fields(ctx, map[string]any{
			"uid": claim.SubjectID,
		}))
		h.metrics.driveCallback(ReasonOAuthConfig)
		h.redirectError(w, r, claim.ReturnTo, ReasonOAuthConfig)
		return
	}

	status, err := h.connector.Connect(ctx, claim.SubjectID, code)
	if err != nil {
		log.LogErrorWithFields("drive", "Callback processing failed", log.Fields(ctx, map[string]any{
			"uid":   claim.SubjectID,
			"error": err.Error(),
		}))
		h.metrics.driveCallback(ReasonOAuth)
		h.redirectError(w, r, claim.ReturnTo, ReasonOAuth)
		return
	}

	target := urlutil.FrontendURL(h.frontendOrigin, claim.ReturnTo, url.Values{"drive": {"connected"}})
	log.LogInfoWithFields("drive", "Integration connected", log.Fields(ctx, map[string]any{
		"uid":      claim.SubjectID,
		"hasEmail": status.Email != "",
		"redirect": target,
	}))
	h.metrics.driveCallback("connected")
	http.Redirect(w, r, target, http.StatusFound)
}

// StatusHandler reports whether the signed-in user has connected Drive
func (h *DriveHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := authctx.SubjectID(ctx)
	if !ok {
		jsonwriter.WriteUnauthorized(w, msgSessionMissing)
		return
	}

	var (
		status driveauth.Status
		err    error
	)
	if h.connector != nil {
		status, err = h.connector.Status(ctx, uid)
	} else {
		status, err = driveauth.StatusOf(ctx, h.store, uid)
	}
	if err != nil {
		log.LogErrorWithFields("drive", "Failed to load Drive status", log.Fields(ctx, map[string]any{
			"uid":   uid,
			"error": err.Error(),
		}))
		jsonwriter.WriteInternalServerError(w, "Failed to load Drive status")
		return
	}

	_ = jsonwriter.Write(w, status)
}

// DisconnectHandler removes the signed-in user's Drive grant
func (h *DriveHandlers) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := authctx.SubjectID(ctx)
	if !ok {
		jsonwriter.WriteUnauthorized(w, msgSessionMissing)
		return
	}

	var err error
	if h.connector != nil {
		err = h.connector.Disconnect(ctx, uid)
	} else {
		err = h.store.DeleteDriveTokens(ctx, uid)
	}
	if err != nil {
		log.LogErrorWithFields("drive", "Failed to disconnect Drive", log.Fields(ctx, map[string]any{
			"uid":   uid,
			"error": err.Error(),
		}))
		jsonwriter.WriteInternalServerError(w, "Failed to disconnect Google Drive")
		return
	}

	_ = jsonwriter.Write(w, successResponse{Success: true})
}
