// Package api implements the HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/novanahq/novana/internal/auth"
	"github.com/novanahq/novana/internal/buildinfo"
	"github.com/novanahq/novana/internal/chat"
	"github.com/novanahq/novana/internal/ingest"
	"github.com/novanahq/novana/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	listen  string
	auth    *auth.Service
	chat    *chat.Service
	store   *store.Store
	indexer *ingest.Indexer
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates the API server.
func NewServer(listen string, authSvc *auth.Service, chatSvc *chat.Service, st *store.Store, indexer *ingest.Indexer, logger *slog.Logger) *Server {
	return &Server{
		listen:  listen,
		auth:    authSvc,
		chat:    chatSvc,
		store:   st,
		indexer: indexer,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("GET /api/auth/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("DELETE /api/auth/account", s.requireAuth(s.handleDeleteAccount))

	mux.HandleFunc("POST /api/persons", s.requireAuth(s.handlePersonCreate))
	mux.HandleFunc("GET /api/persons", s.requireAuth(s.handlePersonList))
	mux.HandleFunc("GET /api/persons/{id}", s.requireAuth(s.handlePersonGet))
	mux.HandleFunc("PATCH /api/persons/{id}", s.requireAuth(s.handlePersonUpdateDates))
	mux.HandleFunc("POST /api/persons/{id}/memories", s.requireAuth(s.handleMemoryCreate))

	mux.HandleFunc("POST /api/ai/chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("GET /api/ai/history/{personId}", s.requireAuth(s.handleHistory))

	return s.withLogging(mux)
}

// Start runs the server until it fails or is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.Must(uuid.NewV7()).String()
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
			"duration", time.Since(start),
		)
	})
}

// requireAuth resolves the bearer token and passes the user through.
func (s *Server) requireAuth(next func(w http.ResponseWriter, r *http.Request, user *store.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		user, err := s.auth.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrSessionExpired) {
				s.writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			s.logger.Error("auth check failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		next(w, r, user)
	}
}

// bearerToken pulls the session token from the Authorization header,
// falling back to X-Access-Token for older clients.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.Header.Get("X-Access-Token")
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Novana",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.Info())
}
