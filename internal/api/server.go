// Package api exposes the service's public surface over HTTP: account and
// session endpoints plus the authenticated bot, chain and position
// operations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tbardale/strikesentry/internal/auth"
	"github.com/tbardale/strikesentry/internal/engine"
	"github.com/tbardale/strikesentry/internal/models"
	"github.com/tbardale/strikesentry/internal/session"
)

type contextKey string

const usernameKey contextKey = "username"

// Server is the HTTP front of the core engine.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	creds     *auth.Store
	registry  *session.Registry
	engine    *engine.Engine
	logger    *logrus.Logger
	addr      string
	symbolMap map[string]string
}

// Config holds server settings.
type Config struct {
	Addr      string
	SymbolMap map[string]string // index name -> chain symbol, for config updates
}

// NewServer wires the routes.
func NewServer(cfg Config, creds *auth.Store, registry *session.Registry, eng *engine.Engine, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		creds:     creds,
		registry:  registry,
		engine:    eng,
		logger:    logger,
		addr:      cfg.Addr,
		symbolMap: cfg.SymbolMap,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Post("/api/signup", s.handleSignup)
	s.router.Post("/api/login", s.handleLogin)

	s.router.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Post("/api/logout", s.handleLogout)
		r.Post("/api/broker/link", s.handleBrokerLink)

		r.Post("/api/bot/start", s.handleBotStart)
		r.Post("/api/bot/stop", s.handleBotStop)
		r.Post("/api/bot/reset", s.handleBotReset)
		r.Get("/api/bot/status", s.handleBotStatus)
		r.Put("/api/bot/config", s.handleBotConfig)

		r.Get("/api/chain", s.handleChain)

		r.Get("/api/positions", s.handlePositions)
		r.Post("/api/positions/exit-all", s.handleExitAll)
		r.Post("/api/positions/exit", s.handleExitOne)
	})
}

// sessionMiddleware validates the caller's session and records activity.
// Missing and expired sessions fail with distinct codes so clients can
// implement a single re-authentication path.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := r.Header.Get("X-Username")
		token := r.Header.Get("X-Session-Token")
		if username == "" || token == "" {
			s.writeError(w, models.ErrAuthRequired)
			return
		}

		if err := s.registry.Validate(username, token); err != nil {
			s.writeError(w, err)
			return
		}
		s.registry.Touch(username)

		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) username(r *http.Request) string {
	username, _ := r.Context().Value(usernameKey).(string)
	return username
}

// Start runs the HTTP server until ctx is canceled, then drains it.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("API server listening on %s", s.addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("encoding response failed")
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps the core error taxonomy onto HTTP statuses and stable
// error codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, models.ErrAuthRequired):
		status, code = http.StatusUnauthorized, "auth_required"
	case errors.Is(err, models.ErrSessionExpired):
		status, code = http.StatusUnauthorized, "session_expired"
	case errors.Is(err, models.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, models.ErrUserExists):
		status, code = http.StatusConflict, "user_exists"
	case errors.Is(err, models.ErrUserNotFound):
		status, code = http.StatusNotFound, "user_not_found"
	case errors.Is(err, models.ErrInvalidOperation):
		status, code = http.StatusConflict, "invalid_operation"
	case errors.Is(err, models.ErrUpstreamUnavailable):
		status, code = http.StatusBadGateway, "upstream_unavailable"
	}

	if status >= 500 {
		s.logger.WithError(err).Error("request failed")
	}
	s.writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.registry.Active()),
		"time":     time.Now().UTC(),
	})
}
