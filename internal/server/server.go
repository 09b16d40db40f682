// Package server is the composition root: it builds every store, client,
// service and handler from the config, mounts the routes and runs the HTTP
// server until SIGINT/SIGTERM.
//
//	config → sqlite.DB ─┬→ AuthService ─→ OAuth/Session/GitHub handlers
//	                    ├→ RepoService ─→ Repository handler
//	audit.Store ────────┴→ Dispatcher  ─→ Audit handler
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/ghostwriter/internal/analysis"
	"github.com/sakif/ghostwriter/internal/audit"
	"github.com/sakif/ghostwriter/internal/auth"
	"github.com/sakif/ghostwriter/internal/config"
	"github.com/sakif/ghostwriter/internal/githubapp"
	"github.com/sakif/ghostwriter/internal/handler"
	"github.com/sakif/ghostwriter/internal/middleware"
	"github.com/sakif/ghostwriter/internal/notify"
	sqliteRepo "github.com/sakif/ghostwriter/internal/repository/sqlite"
	"github.com/sakif/ghostwriter/internal/scm"
	"github.com/sakif/ghostwriter/internal/service"
)

// Server owns the router and the database connection.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New wires all dependencies. The database is closed again if wiring fails.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
		db:     db,
	}
	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// auditStore picks the audit backend. Memory is the default; sqlite keeps
// audits across restarts.
func (s *Server) auditStore() audit.Store {
	if s.cfg.AuditStore == config.StoreSQLite {
		return s.db.Audits()
	}
	return audit.NewMemoryStore()
}

// notifier returns nil when SMTP is not configured; the dispatcher then
// skips reports.
func (s *Server) notifier() (service.ReportSender, error) {
	if !s.cfg.MailConfigured() {
		s.logger.Info("SMTP not configured, audit reports will not be emailed")
		return nil, nil
	}
	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     s.cfg.SMTP.Host,
		Port:     s.cfg.SMTP.Port,
		Username: s.cfg.SMTP.Username,
		Password: s.cfg.SMTP.Password,
	})
	n, err := notify.New(mailer, s.cfg.SMTP.From, s.logger)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// githubApp returns nil when the app credentials are missing.
func (s *Server) githubApp() (handler.InstallationTokens, error) {
	if !s.cfg.GitHubAppConfigured() {
		s.logger.Warn("GitHub App not configured, installation repository sync is disabled")
		return nil, nil
	}
	signer, err := githubapp.NewSigner(s.cfg.GitHubApp.ID, s.cfg.GitHubApp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("github app signer: %w", err)
	}
	return githubapp.NewClient(signer, nil, s.cfg.GitHub.APIURL), nil
}

func (s *Server) setupRoutes() error {
	cfg := s.cfg

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// === Auth primitives ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("session tokens: %w", err)
	}
	cookies := auth.Cookies{Secure: cfg.Production(), SessionTTL: cfg.SessionTTL}
	states := auth.NewStateStore(cfg.JWTSecret, cfg.Production())

	// === External clients ===
	github := scm.New(nil, cfg.GitHub.APIURL, s.logger)
	engine := analysis.NewHTTPEngine(cfg.AnalysisEngineURL, nil, s.logger)
	app, err := s.githubApp()
	if err != nil {
		return err
	}
	reports, err := s.notifier()
	if err != nil {
		return err
	}

	// === Services ===
	store := s.auditStore()
	authSvc := service.NewAuthService(s.db.Users(), tokens, auth.NewPasswordService(), s.logger)
	dispatcher := service.NewDispatcher(github, engine, store, reports, cfg.GitHub.Token, s.logger)
	repoSvc := service.NewRepoService(s.db.Repos(), store, github, cfg.GitHub.Token, s.logger)

	// === Handlers ===
	sessionH := handler.NewSessionHandler(authSvc, cookies, s.logger)
	auditH := handler.NewAuditHandler(dispatcher, store, authSvc, cfg.GitHub.WebhookSecret, s.logger)
	githubH := handler.NewGitHubHandler(cfg.GitHubApp.Name, app, github, repoSvc, authSvc, cookies, cfg.FrontendURL, s.logger)
	repoH := handler.NewRepositoryHandler(repoSvc, authSvc, s.logger)

	var providers []auth.Provider
	if cfg.GitHubConfigured() {
		providers = append(providers, auth.NewGitHubProvider(auth.ProviderConfig{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			CallbackURL:  cfg.GitHub.CallbackURL,
			APIBaseURL:   cfg.GitHub.APIURL,
		}))
	} else {
		s.logger.Warn("GitHub OAuth not configured, /api/auth/github is disabled")
	}
	if cfg.GoogleConfigured() {
		providers = append(providers, auth.NewGoogleProvider(auth.ProviderConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			CallbackURL:  cfg.Google.CallbackURL,
		}))
	} else {
		s.logger.Warn("Google OAuth not configured, /api/auth/google is disabled")
	}

	s.router.Route("/api", func(r chi.Router) {
		// Audits
		r.Get("/audits", auditH.HandleList)
		r.Get("/audits/{owner}/{repo}/{number}", auditH.HandleGet)
		r.Get("/stats", auditH.HandleStats)
		r.Post("/webhook/github", auditH.HandleWebhook)
		r.Post("/analyze", auditH.HandleAnalyze)

		// Auth
		for _, p := range providers {
			h := handler.NewOAuthHandler(p, states, authSvc, cookies, cfg.FrontendURL, s.logger)
			r.Get("/auth/"+string(p.Name()), h.HandleStart)
			r.Get("/auth/"+string(p.Name())+"/callback", h.HandleCallback)
		}
		r.Post("/auth/register", sessionH.HandleRegister)
		r.Post("/auth/login", sessionH.HandleLogin)
		r.Post("/auth/logout", sessionH.HandleLogout)
		r.Get("/auth/logout", sessionH.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalSession(tokens))
			r.Get("/auth/session", sessionH.HandleSession)
			r.Get("/github/install/callback", githubH.HandleInstallCallback)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(tokens))
			r.Post("/submit-pr", auditH.HandleSubmitPR)
			r.Get("/github/install", githubH.HandleInstall)
			r.Get("/github/repos", githubH.HandleUserRepos)
			r.Get("/github/installation/repos", githubH.HandleInstallationRepos)
			r.Get("/repositories", repoH.HandleList)
			r.Get("/repositories/{id}", repoH.HandleGet)
			r.Get("/repositories/{id}/audits", repoH.HandleAudits)
			r.Get("/repositories/{id}/contributors", repoH.HandleContributors)
		})
	})

	return nil
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up to
// 30 seconds and closes the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Dispatch waits on GitHub and the analysis engine.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("url", s.cfg.BaseURL),
			slog.String("database", s.cfg.DBPath),
			slog.String("auditStore", s.cfg.AuditStore),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
