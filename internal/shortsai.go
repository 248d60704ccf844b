package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shortsai/backend/internal/config"
	"github.com/shortsai/backend/internal/cookie"
	"github.com/shortsai/backend/internal/crypto"
	"github.com/shortsai/backend/internal/driveauth"
	"github.com/shortsai/backend/internal/idp"
	"github.com/shortsai/backend/internal/log"
	"github.com/shortsai/backend/internal/server"
	"github.com/shortsai/backend/internal/storage"
	"github.com/shortsai/backend/internal/tokens"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// App is the assembled backend: HTTP server plus background workers
type App struct {
	config     config.Config
	httpServer *server.HTTPServer
	storage    storage.Storage
	cleanup    *storage.CleanupManager
}

// handlerDeps is everything buildHTTPHandler routes to
type handlerDeps struct {
	config    config.Config
	sessions  *tokens.SessionCodec
	states    *tokens.StateCodec
	cookie    *cookie.Session
	verifier  idp.TokenVerifier
	directory idp.Directory
	drive     server.DriveConnector
	storage   storage.Storage
	metrics   *server.Metrics
}

// NewApp builds the application with all dependencies wired
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	log.LogInfoWithFields("app", "Building application", map[string]any{
		"frontendOrigin": cfg.FrontendOrigin,
		"backendBaseURL": cfg.BackendBaseURL,
		"production":     cfg.Production,
		"storage":        cfg.Storage.Kind,
	})

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	sessions, states, err := setupCodecs(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup token codecs: %w", err)
	}

	verifier, directory := setupIdentity(ctx, cfg)

	drive, err := setupDrive(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("failed to setup Google Drive OAuth: %w", err)
	}

	attrs := cookie.Decide(cfg.FrontendOrigin, cfg.BackendBaseURL, cfg.Production)
	log.LogInfoWithFields("app", "Session cookie policy", map[string]any{
		"name":     cfg.Session.CookieName,
		"domain":   attrs.Domain,
		"secure":   attrs.Secure,
		"sameSite": cookie.SameSiteName(attrs.SameSite),
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler := buildHTTPHandler(handlerDeps{
		config:    cfg,
		sessions:  sessions,
		states:    states,
		cookie:    cookie.NewSession(cfg.Session.CookieName, attrs),
		verifier:  verifier,
		directory: directory,
		drive:     drive,
		storage:   store,
		metrics:   server.NewMetrics(registry),
	})

	app := &App{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
		storage:    store,
	}
	if cfg.OAuthState.ReplayProtection && cfg.Storage.CleanupInterval > 0 {
		app.cleanup = storage.NewCleanupManager(store, cfg.Storage.CleanupInterval)
	}
	return app, nil
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.LogInfoWithFields("app", "Starting application", map[string]any{
		"addr": a.config.Addr,
	})

	if a.cleanup != nil {
		a.cleanup.Start(ctx)
		defer a.cleanup.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.LogInfoWithFields("app", "Starting graceful shutdown", map[string]any{
			"reason":  context.Cause(gctx).Error(),
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Stop(shutdownCtx)
	})

	err := g.Wait()

	if cerr := a.storage.Close(); cerr != nil {
		log.LogErrorWithFields("app", "Failed to close storage", map[string]any{
			"error": cerr.Error(),
		})
	}

	if err != nil {
		log.LogErrorWithFields("app", "Application stopped with error", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	log.LogInfoWithFields("app", "Application shutdown complete", nil)
	return nil
}

// setupStorage creates storage based on configuration
func setupStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	if cfg.Storage.Kind != config.StorageFirestore {
		log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
		return storage.NewMemoryStorage(), nil
	}

	log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
		"project":  cfg.Storage.GCPProject,
		"database": cfg.Storage.Database,
		"prefix":   cfg.Storage.CollectionPrefix,
	})
	encryptor, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	firestoreStorage, err := storage.NewFirestoreStorage(ctx, storage.FirestoreConfig{
		ProjectID:        cfg.Storage.GCPProject,
		Database:         cfg.Storage.Database,
		CollectionPrefix: cfg.Storage.CollectionPrefix,
	}, encryptor)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore storage: %w", err)
	}
	return firestoreStorage, nil
}

// setupCodecs derives purpose-bound key rings for sessions and OAuth state
func setupCodecs(cfg config.Config) (*tokens.SessionCodec, *tokens.StateCodec, error) {
	sessionSigner, err := crypto.NewPurposeSigner(crypto.PurposeSession, cfg.SessionSecrets()...)
	if err != nil {
		return nil, nil, fmt.Errorf("session signer: %w", err)
	}
	stateSigner, err := crypto.NewPurposeSigner(crypto.PurposeOAuthState, cfg.StateSecrets()...)
	if err != nil {
		return nil, nil, fmt.Errorf("state signer: %w", err)
	}

	if len(cfg.Session.PreviousSecrets) > 0 {
		log.LogInfoWithFields("app", "Session key rotation active", map[string]any{
			"previousSecrets": len(cfg.Session.PreviousSecrets),
		})
	}

	return tokens.NewSessionCodec(sessionSigner), tokens.NewStateCodec(stateSigner), nil
}

// setupIdentity builds the ID token verifier and the identity directory.
// Either may be nil: login then answers 503, and the session gate trusts
// signed sessions on their own.
func setupIdentity(ctx context.Context, cfg config.Config) (idp.TokenVerifier, idp.Directory) {
	if cfg.Firebase.ProjectID == "" {
		log.LogWarnWithFields("app", "Firebase project not configured, login is unavailable", nil)
		return nil, nil
	}

	var verifier idp.TokenVerifier
	v, err := idp.NewFirebaseVerifier(cfg.Firebase.ProjectID)
	if err != nil {
		log.LogErrorWithFields("app", "Failed to create ID token verifier", map[string]any{
			"error": err.Error(),
		})
	} else {
		verifier = v
	}

	opts := []idp.DirectoryOption{idp.WithLookupTimeout(cfg.Firebase.IdentityLookupTimeout)}
	if cfg.Firebase.APIKey != "" {
		opts = append(opts, idp.WithAPIKey(string(cfg.Firebase.APIKey)))
	}
	d, err := idp.NewIdentityToolkitDirectory(ctx, cfg.Firebase.ProjectID, opts...)
	if err != nil {
		log.LogWarnWithFields("app", "Identity cross-check disabled", map[string]any{
			"error": err.Error(),
		})
		return verifier, nil
	}
	return verifier, d
}

// setupDrive returns nil when Drive OAuth credentials are absent
func setupDrive(cfg config.Config, store storage.DriveTokenStore) (server.DriveConnector, error) {
	if !cfg.GoogleDrive.Configured() {
		log.LogWarnWithFields("app", "Google Drive OAuth not configured", nil)
		return nil, nil
	}

	redirectURL, err := cfg.GoogleDrive.ResolveRedirectURL(cfg.BackendBaseURL)
	if err != nil {
		return nil, fmt.Errorf("resolving redirect url: %w", err)
	}

	client, err := driveauth.NewClient(driveauth.Config{
		ClientID:     cfg.GoogleDrive.ClientID,
		ClientSecret: string(cfg.GoogleDrive.ClientSecret),
		RedirectURL:  redirectURL,
		Scopes:       cfg.GoogleDrive.Scopes,
	}, store)
	if err != nil {
		return nil, err
	}

	log.LogInfoWithFields("app", "Google Drive OAuth configured", map[string]any{
		"redirectURL": client.RedirectURL(),
	})
	return client, nil
}

// callbackPath is the path Google redirects back to. An explicit redirect
// URL wins over the configured path.
func callbackPath(cfg config.Config) string {
	if cfg.GoogleDrive.RedirectURL != "" {
		if u, err := url.Parse(cfg.GoogleDrive.RedirectURL); err == nil && u.Path != "" {
			return u.Path
		}
	}
	if cfg.GoogleDrive.RedirectPath != "" {
		return cfg.GoogleDrive.RedirectPath
	}
	return config.DefaultRedirectPath
}

// buildHTTPHandler creates the complete HTTP handler with all routing and middleware
func buildHTTPHandler(deps handlerDeps) http.Handler {
	cfg := deps.config
	mux := http.NewServeMux()

	authLogger := server.NewLoggerMiddleware("auth")
	driveLogger := server.NewLoggerMiddleware("drive")
	recoverMW := server.NewRecoverMiddleware("http")
	loginLimit := server.NewRateLimitMiddleware(cfg.RateLimit.LoginRequestsPerMinute, cfg.RateLimit.TrustedProxyHops)
	sessionGate := server.NewSessionGate(server.SessionGateConfig{
		Sessions:      deps.sessions,
		Cookie:        deps.cookie,
		Directory:     deps.directory,
		LookupTimeout: cfg.Firebase.IdentityLookupTimeout,
		Metrics:       deps.metrics,
	})

	authHandlers := server.NewAuthHandlers(deps.verifier, deps.sessions, deps.cookie, deps.storage, deps.metrics)

	var nonces storage.NonceStore
	if cfg.OAuthState.ReplayProtection {
		nonces = deps.storage
	}
	driveHandlers := server.NewDriveHandlers(deps.drive, deps.states, nonces, deps.storage, cfg.FrontendOrigin, deps.metrics)

	mux.Handle("GET /health", server.NewHealthHandler())
	mux.Handle("GET /health/auth", server.NewAuthHealthHandler(deps.verifier != nil))
	mux.Handle("GET /metrics", deps.metrics.Handler())

	mux.Handle("POST /api/auth/session", server.ChainMiddleware(http.HandlerFunc(authHandlers.LoginHandler), loginLimit, authLogger))
	mux.Handle("POST /api/auth/session/logout", server.ChainMiddleware(http.HandlerFunc(authHandlers.LogoutHandler), authLogger))
	mux.Handle("GET /api/auth/user-id", server.ChainMiddleware(http.HandlerFunc(authHandlers.UserIDHandler), sessionGate, authLogger))

	mux.Handle("GET /api/auth/google/drive", server.ChainMiddleware(http.HandlerFunc(driveHandlers.StartHandler), sessionGate, driveLogger))
	mux.Handle("GET "+callbackPath(cfg), server.ChainMiddleware(http.HandlerFunc(driveHandlers.CallbackHandler), driveLogger))
	mux.Handle("GET /api/integrations/google-drive/status", server.ChainMiddleware(http.HandlerFunc(driveHandlers.StatusHandler), sessionGate, driveLogger))
	mux.Handle("DELETE /api/integrations/google-drive", server.ChainMiddleware(http.HandlerFunc(driveHandlers.DisconnectHandler), sessionGate, driveLogger))

	log.LogInfoWithFields("app", "Routes registered", map[string]any{
		"callbackPath": callbackPath(cfg),
		"corsOrigins":  cfg.CORSOrigins(),
	})

	return server.ChainMiddleware(mux,
		server.NewCORSMiddleware(cfg.CORSOrigins()),
		recoverMW,
		server.NewRequestIDMiddleware(),
	)
}
