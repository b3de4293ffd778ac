package api

import (
	"context"
	"net/http"
	"time"
)

// ServerOption customizes the HTTP server wiring.
type ServerOption func(*Server)

// WithRoute mounts an extra handler on the server mux, e.g. the metrics
// snapshot or the websocket event stream.
func WithRoute(pattern string, handler http.Handler) ServerOption {
	return func(s *Server) { s.mux.Handle(pattern, handler) }
}

// WithMiddleware wraps the full route set, e.g. for ingress throttling.
func WithMiddleware(wrap func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) { s.httpServer.Handler = wrap(s.httpServer.Handler) }
}

// Server is the HTTP face of the orchestration client.
type Server struct {
	mux        *http.ServeMux
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer builds the server with its routes.
func NewServer(addr string, handlers *Handlers, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/orders", handlers.HandleStartOrder)
	mux.HandleFunc("POST /api/v1/workflows", handlers.HandleSubmitSchema)
	mux.HandleFunc("GET /api/v1/workflows", handlers.HandleListWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{id}", handlers.HandleGetWorkflow)
	mux.HandleFunc("POST /api/v1/workflows/{id}/signal/{name}", handlers.HandleSignal)
	mux.HandleFunc("POST /api/v1/workflows/{id}/query/{name}", handlers.HandleQuery)
	mux.HandleFunc("POST /api/v1/workflows/{id}/cancel", handlers.HandleCancel)
	mux.HandleFunc("GET /api/v1/workflows/{id}/result", handlers.HandleResult)

	s := &Server{
		mux:      mux,
		handlers: handlers,
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route mux, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until the listener closes.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
