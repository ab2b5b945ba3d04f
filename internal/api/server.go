// Package api implements the REST and websocket chat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/autoyou/autoyou-agent/internal/agent"
	"github.com/autoyou/autoyou-agent/internal/buildinfo"
	"github.com/autoyou/autoyou-agent/internal/llm"
	"github.com/autoyou/autoyou-agent/internal/notes"
	"github.com/autoyou/autoyou-agent/internal/router"
	"github.com/autoyou/autoyou-agent/internal/session"
)

// ChatAgent is the request-processing surface the server needs.
type ChatAgent interface {
	Process(ctx context.Context, req *agent.Request) (*agent.Response, error)
	ProcessStream(ctx context.Context, req *agent.Request, callback llm.StreamCallback) (*agent.Response, error)
}

// Pinger reports whether a model backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	address        string
	port           int
	agent          ChatAgent
	selector       *router.Selector
	notes          *notes.Store
	sessions       *session.Store
	allowedOrigins []string
	logger         *slog.Logger
	server         *http.Server
	localBackend   Pinger
}

// NewServer creates a new API server.
func NewServer(address string, port int, ag ChatAgent, selector *router.Selector, noteStore *notes.Store, sessions *session.Store, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Server{
		address:        address,
		port:           port,
		agent:          ag,
		selector:       selector,
		notes:          noteStore,
		sessions:       sessions,
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "api"),
	}
}

// SetLocalBackend registers the local model backend so /api/status can
// report whether it is reachable.
func (s *Server) SetLocalBackend(p Pinger) {
	s.localBackend = p
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)

	mux.HandleFunc("GET /api/sessions/{userID}", s.handleSessionList)
	mux.HandleFunc("GET /api/sessions/{userID}/{sessionID}", s.handleSessionGet)

	mux.HandleFunc("GET /api/notes/{id}/export", s.handleNoteExport)
	mux.HandleFunc("POST /api/notes/reindex", s.handleNoteReindex)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(s.withCORS(mux))
}

// Start begins serving HTTP requests and blocks until the server
// stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
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
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.corsOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsOrigin returns the Access-Control-Allow-Origin value for a
// request origin, or "" when the origin is not allowed.
func (s *Server) corsOrigin(origin string) string {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
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

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validation *notes.ValidationError
		notFound   *notes.NotFoundError
		configErr  *llm.ConfigurationError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &configErr):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	resp, err := s.agent.Process(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	sessionID := r.PathValue("sessionID")

	sess, err := s.sessions.Get(r.Context(), userID, sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sess == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	sessions, err := s.sessions.ListForUser(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"sessions": sessions,
	})
}

func (s *Server) handleNoteExport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid note id"})
		return
	}

	note, err := s.notes.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	html, err := notes.RenderHTML(note)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(html)); err != nil {
		s.logger.Debug("failed to write export", "error", err)
	}
}

func (s *Server) handleNoteReindex(w http.ResponseWriter, r *http.Request) {
	if err := s.notes.RebuildIndex(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reindexed"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":           "ok",
		"build":            buildinfo.Info(),
		"uptime":           buildinfo.Uptime().String(),
		"routing":          s.selector.Stats(),
		"recent_decisions": s.selector.History(10),
		"notes":            s.notes.Stats(r.Context()),
		"sessions":         s.sessions.Stats(r.Context()),
	}
	if s.localBackend != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.localBackend.Ping(pingCtx); err != nil {
			status["local_backend"] = map[string]string{"status": "unreachable", "error": err.Error()}
		} else {
			status["local_backend"] = map[string]string{"status": "healthy"}
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":    agent.Name,
		"version": buildinfo.Version,
		"status":  "ok",
	})
}
