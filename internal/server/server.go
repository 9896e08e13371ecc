// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and
// routes, and decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - Which outbound collaborators (SMTP, S3, NATS) are real or no-ops
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB ─┬→ AccountService ─┬→ AuthHandler
//	  mailer    ─┤                  └→ OAuthHandler
//	  media     ─┤
//	  events    ─┘
//	  sqlite.DB ──→ SnippetService ───→ SnippetHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/snippet-keeper/internal/auth"
	"github.com/sakif/snippet-keeper/internal/config"
	"github.com/sakif/snippet-keeper/internal/events"
	"github.com/sakif/snippet-keeper/internal/handler"
	"github.com/sakif/snippet-keeper/internal/mail"
	"github.com/sakif/snippet-keeper/internal/media"
	"github.com/sakif/snippet-keeper/internal/middleware"
	sqliteRepo "github.com/sakif/snippet-keeper/internal/repository/sqlite"
	"github.com/sakif/snippet-keeper/internal/service"
)

// publisher is an event sink the server owns and must close.
type publisher interface {
	service.EventPublisher
	Close(ctx context.Context) error
}

// mediaStore is what both the account service and the upload handler need.
type mediaStore interface {
	service.MediaStore
	handler.MediaUploader
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the event publisher. Both are
// closed in Close, which Start calls during graceful shutdown.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	events  publisher
	metrics *prometheus.Registry
}

// New creates a new Server with the given config.
//
// DEPENDENCY INJECTION & WIRING:
//  1. Open the database and apply migrations (sqlite.New)
//  2. Pick the mail, media and event backends from config
//  3. Create the services with the repositories and backends
//  4. Create the handlers with the services
//  5. Wire handlers to routes
//
// A database that cannot be opened is fatal. An unreachable NATS server is
// not: events are best-effort, so the server falls back to a no-op sink.
//
// IMPORT ALIAS:
// repository/sqlite is imported as sqliteRepo to avoid confusion with the
// sqlite driver package.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		events:  events.Noop{},
		metrics: prometheus.NewRegistry(),
	}

	if err := s.setupRoutes(ctx); err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler returns the root handler, including tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "snippet-keeper",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) newMailer() (service.Mailer, error) {
	if s.config.SMTP.Host == "" {
		s.logger.Warn("SMTP_HOST not set, mail links will only be logged")
		return mail.NewLogSender(s.config.BaseURL, s.config.TokenTTL, s.logger)
	}
	return mail.NewSMTPSender(mail.Config{
		Host:     s.config.SMTP.Host,
		Port:     s.config.SMTP.Port,
		Username: s.config.SMTP.User,
		Password: s.config.SMTP.Password,
		From:     s.config.SMTP.From,
		BaseURL:  s.config.BaseURL,
		Lifetime: s.config.TokenTTL,
	}, s.logger)
}

func (s *Server) newMedia(ctx context.Context) (mediaStore, error) {
	if s.config.S3.Bucket == "" {
		s.logger.Warn("S3_BUCKET not set, profile image uploads are disabled")
		return media.Noop{}, nil
	}
	return media.NewS3Store(ctx, media.Config{
		Endpoint:      s.config.S3.Endpoint,
		Region:        s.config.S3.Region,
		Bucket:        s.config.S3.Bucket,
		AccessKey:     s.config.S3.AccessKey,
		SecretKey:     s.config.S3.SecretKey,
		PublicBaseURL: s.config.S3.PublicBaseURL,
		UsePathStyle:  s.config.S3.PathStyle,
	}, s.logger)
}

func (s *Server) connectEvents() {
	if s.config.NATS.URL == "" {
		return
	}
	pub, err := events.Connect(s.config.NATS.URL, s.logger)
	if err != nil {
		s.logger.Warn("NATS unavailable, account events are disabled", slog.String("error", err.Error()))
		return
	}
	s.events = pub
}

func (s *Server) oauthProviders() []handler.OAuthProvider {
	var providers []handler.OAuthProvider
	if c := s.config.GitHub; c.Enabled() {
		providers = append(providers, auth.NewGitHubProvider(c.ClientID, c.ClientSecret, s.config.CallbackURL("github")))
	}
	if c := s.config.Google; c.Enabled() {
		providers = append(providers, auth.NewGoogleProvider(c.ClientID, c.ClientSecret, s.config.CallbackURL("google")))
	}
	return providers
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                        → database ping
//	GET    /metrics                        → Prometheus
//	POST   /api/auth/register              → create account (rate limited)
//	POST   /api/auth/login                 → session cookie (rate limited)
//	POST   /api/auth/logout                → clear cookie
//	GET    /api/auth/verify?token=         → does the token exist
//	POST   /api/auth/verify                → consume verification token
//	POST   /api/auth/forgot-password       → mail reset link (rate limited)
//	GET    /api/auth/reset-password?token= → is the reset token usable
//	POST   /api/auth/reset-password        → consume reset token
//	POST   /api/auth/resend                → mail a fresh token (rate limited)
//	GET    /auth/{provider}/login|callback → OAuth
//	--- session required ---
//	DELETE /api/auth/account[?id=]         → delete account
//	GET    /api/me, PATCH /api/me          → profile
//	*      /api/snippets[/{id}]            → snippet CRUD
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns a unique ID to each request
//  2. RealIP: extracts the client IP from proxy headers (rate limiting keys on it)
//  3. Recoverer: catches panics and returns 500 instead of crashing
//  4. Logger, Metrics: observe the final status
//  5. Authenticate: reads the session cookie
//  6. GuardMiddleware: page redirects for signed-in/out users
func (s *Server) setupRoutes(ctx context.Context) error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret)
	if err != nil {
		return err
	}
	mailer, err := s.newMailer()
	if err != nil {
		return fmt.Errorf("creating mailer: %w", err)
	}
	store, err := s.newMedia(ctx)
	if err != nil {
		return fmt.Errorf("creating media store: %w", err)
	}
	s.connectEvents()

	accounts := service.NewAccountService(service.AccountDeps{
		Users:     s.db,
		Accounts:  s.db,
		Snippets:  s.db,
		Passwords: auth.NewPasswordService(),
		Sessions:  tokens,
		Mailer:    mailer,
		Media:     store,
		Events:    s.events,
		Logger:    s.logger,
		TokenTTL:  s.config.TokenTTL,
	})
	snippets := service.NewSnippetService(s.db, s.logger)
	sessions := auth.NewSessions(tokens, s.db, s.config.RefreshAfter, s.config.CookieSecure, s.logger)

	authHandler := handler.NewAuthHandler(accounts, sessions, store, s.logger)
	oauthHandler := handler.NewOAuthHandler(accounts, sessions, s.config.CookieSecure, s.logger, s.oauthProviders()...)
	snippetHandler := handler.NewSnippetHandler(snippets, s.logger)

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.NewMetrics(s.metrics).Handler)
	s.router.Use(sessions.Authenticate)
	s.router.Use(auth.GuardMiddleware)

	// === Operational ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, s.metrics},
		promhttp.HandlerOpts{},
	))

	// === OAuth ===
	if oauthHandler.Enabled() {
		s.router.Get("/auth/{provider}/login", oauthHandler.HandleLogin)
		s.router.Get("/auth/{provider}/callback", oauthHandler.HandleCallback)
	}

	// === API Routes ===
	// Credential endpoints that send mail or check passwords are limited per
	// client IP; everything else is not.
	limited := httprate.LimitByIP(s.config.Rate.Requests, s.config.Rate.Window)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(limited).Post("/register", authHandler.HandleRegister)
			r.With(limited).Post("/login", authHandler.HandleLogin)
			r.With(limited).Post("/forgot-password", authHandler.HandleForgotPassword)
			r.With(limited).Post("/resend", authHandler.HandleResend)
			r.Post("/logout", authHandler.HandleLogout)
			r.Get("/verify", authHandler.HandleCheckVerification)
			r.Post("/verify", authHandler.HandleVerify)
			r.Get("/reset-password", authHandler.HandleValidateReset)
			r.Post("/reset-password", authHandler.HandleResetPassword)
			r.With(auth.RequireAuth).Delete("/account", authHandler.HandleDeleteAccount)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Get("/me", authHandler.HandleMe)
			r.Patch("/me", authHandler.HandleUpdateMe)

			r.Get("/snippets", snippetHandler.HandleList)
			r.Get("/snippets/{id}", snippetHandler.HandleGet)
			r.Post("/snippets", snippetHandler.HandleCreate)
			r.Put("/snippets/{id}", snippetHandler.HandleUpdate)
			r.Delete("/snippets/{id}", snippetHandler.HandleDelete)
		})
	})

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Close releases the event connection and the database.
func (s *Server) Close(ctx context.Context) error {
	return errors.Join(s.events.Close(ctx), s.db.Close())
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Flush pending events and close the database (flushes WAL, releases file lock)
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", s.config.Addr),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		} else {
			s.logger.Info("server stopped gracefully")
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Close(closeCtx); err != nil {
		s.logger.Error("closing resources", slog.String("error", err.Error()))
	}
	return runErr
}
