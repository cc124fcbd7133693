// Package server provides the HTTP API for gs-assist: entity resolution,
// entity snapshot sync/delete, and index stats.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Growth-System-ERP/gs-assist/internal/config"
	"github.com/Growth-System-ERP/gs-assist/internal/index"
	"github.com/Growth-System-ERP/gs-assist/internal/resolver"
	"github.com/Growth-System-ERP/gs-assist/internal/schema"
)

// HealthChecker reports whether a dependency is reachable. The embedding
// client implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP server for the gs-assist API.
type Server struct {
	resolver *resolver.Resolver
	index    index.VectorIndex
	graph    *schema.LinkGraph
	health   HealthChecker
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. graph and health
// may be nil.
func NewServer(
	res *resolver.Resolver,
	idx index.VectorIndex,
	graph *schema.LinkGraph,
	health HealthChecker,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		resolver: res,
		index:    idx,
		graph:    graph,
		health:   health,
		config:   cfg,
		logger:   logger,
	}
}

// Routes builds the router. Exposed separately so tests can drive the API
// without a listening socket.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/api/resolve", s.handleResolve)
	r.Put("/api/entities", s.handleSyncEntity)
	r.Delete("/api/entities/{canonical}", s.handleDeleteEntity)
	r.Get("/api/stats", s.handleStats)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
