// Package app wires the data hub's dependencies together and runs the HTTP
// server. It is the only package that knows about every other package.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vaultmesh/datahub/internal/account"
	"github.com/vaultmesh/datahub/internal/alerting"
	"github.com/vaultmesh/datahub/internal/audit"
	"github.com/vaultmesh/datahub/internal/capability"
	"github.com/vaultmesh/datahub/internal/config"
	"github.com/vaultmesh/datahub/internal/httpserver"
	"github.com/vaultmesh/datahub/internal/hub"
	"github.com/vaultmesh/datahub/internal/invocation"
	"github.com/vaultmesh/datahub/internal/platform"
	"github.com/vaultmesh/datahub/internal/query"
	"github.com/vaultmesh/datahub/internal/store"
	"github.com/vaultmesh/datahub/internal/telemetry"
)

// Run reads config, connects to infrastructure, and serves HTTP until ctx is
// canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting datahub", "listen", cfg.ListenAddr(), "base_url", cfg.BaseURL)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)

	// --- Core domain (C1-C5) ---
	documentStore := store.New(db)
	planner := query.New(documentStore)
	delegations := capability.NewDelegationStore(db)
	replayGuard := invocation.NewReplayGuard(rdb)
	serverURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing base URL: %w", err)
	}
	verifier := &invocation.Verifier{
		Store:       documentStore,
		Delegations: delegations,
		Replay:      replayGuard,
		Host:        serverURL.Host,
		BaseURL:     cfg.BaseURL,
		ClockSkew:   cfg.InvocationClockSkew,
		NonceTTL:    cfg.InvocationNonceTTL,
	}

	// --- Account plane (C7's caller side) ---
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = account.GenerateDevSecret()
		logger.Info("session: using auto-generated dev secret (set DATAHUB_SESSION_SECRET in production)")
	}
	sessionMgr, err := account.NewSessionManager(sessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	accounts := account.NewStore(db)

	var oidcAuth *account.OIDCAuthenticator
	var oidcFlow *account.OIDCFlowHandler
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err = account.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		oidcFlow = account.NewOIDCFlowHandler(oidcAuth, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL, sessionMgr, accounts, rdb, logger)
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("OIDC authentication disabled (OIDC_ISSUER_URL not set)")
	}

	pats := account.NewPATStore(db)
	rateLimiter := account.NewRateLimiter(rdb, 10, 15*time.Minute)
	loginHandler := account.NewLoginHandler(sessionMgr, accounts, rateLimiter, logger, oidcAuth != nil)
	patHandler := account.NewPATHandler(pats, logger)
	accountMiddleware := account.Middleware(sessionMgr, oidcAuth, pats, logger)
	bridge := account.NewAccountBridge()

	// --- Security alerting ---
	alerts := alerting.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger, cfg.AlertThreshold, cfg.AlertWindow)
	if alerts.IsEnabled() {
		logger.Info("security alerting enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("security alerting disabled (SLACK_BOT_TOKEN not set)")
	}

	// --- Invocation audit log ---
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()
	auditHandler := audit.NewHandler(db, logger)

	// --- Service facade (C6) ---
	hubHandler := hub.New(documentStore, planner, delegations, verifier, bridge, alerts, auditWriter, logger, cfg.BaseURL)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	srv.Router.Post("/auth/login", loginHandler.HandleLogin)
	srv.Router.Get("/auth/config", loginHandler.HandleAuthConfig)
	srv.Router.Post("/auth/logout", loginHandler.HandleLogout)
	if oidcFlow != nil {
		srv.Router.Get("/auth/oidc/login", oidcFlow.HandleLogin)
		srv.Router.Get("/auth/oidc/callback", oidcFlow.HandleCallback)
	}
	srv.Router.Group(func(r chi.Router) {
		r.Use(accountMiddleware)
		r.Get("/auth/me", loginHandler.HandleMe)
		r.Mount("/auth/tokens", patHandler.Routes())
		r.Mount("/audit-log", auditHandler.Routes())
	})

	hubHandler.Routes(srv.Router, func(r chi.Router) {
		r.Use(accountMiddleware)
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
