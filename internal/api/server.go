// Package api exposes the chat engine over a JSON HTTP API.
package api

import (
	"errors"
	"net/http"

	"github.com/uzhavan/uzhavan/internal/log"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator Orchestrator // Required
	SessionStore SessionStore // Required
	Pinger       Pinger       // Optional: nil disables DB check in /ready
	CORSOrigins  []string     // Allowed origins for CORS
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.SessionStore == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	ch := &chatHandler{orchestrator: cfg.Orchestrator, logger: cfg.Logger}
	sh := &sessionHandler{store: cfg.SessionStore, logger: cfg.Logger}

	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/v1/chat", ch.send)

	// Session CRUD
	mux.HandleFunc("GET /api/v1/sessions", sh.list)
	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)
	mux.HandleFunc("DELETE /api/v1/sessions", sh.clear)

	// Middleware stack (outermost first):
	//   Recovery → Logging → CORS → User → Routes
	// CORS before User so preflight OPTIONS succeeds without an identity
	// header.
	var handler http.Handler = mux
	handler = userMiddleware(cfg.Logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(cfg.Logger)(handler)
	handler = recoveryMiddleware(cfg.Logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(cfg.Logger))
	topMux.Handle("GET /ready", readiness(cfg.Pinger, cfg.Logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
