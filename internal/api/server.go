// Package api exposes retrieval and ingestion over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/docfusion/docfusion/internal/ingest"
	"github.com/docfusion/docfusion/internal/search"
	"github.com/docfusion/docfusion/internal/store"
)

// Config holds server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	// DefaultTopK is applied when a search request omits top_k.
	DefaultTopK int
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	config     Config

	retriever search.Retriever
	pipeline  *ingest.Pipeline
	metadata  store.MetadataStore
	checker   *search.ConsistencyChecker
	logger    *slog.Logger
}

// NewServer creates the API server and wires its routes.
func NewServer(
	cfg Config,
	retriever search.Retriever,
	pipeline *ingest.Pipeline,
	metadata store.MetadataStore,
	checker *search.ConsistencyChecker,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}

	s := &Server{
		router:    http.NewServeMux(),
		config:    cfg,
		retriever: retriever,
		pipeline:  pipeline,
		metadata:  metadata,
		checker:   checker,
		logger:    logger.With("component", "api"),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.requestLog(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /version", s.handleVersion)

	s.router.HandleFunc("POST /v1/search", s.handleSearch)
	s.router.HandleFunc("GET /v1/stats", s.handleStats)
	s.router.HandleFunc("GET /v1/consistency", s.handleConsistency)

	s.router.HandleFunc("POST /v1/documents", s.handleIngest)
	s.router.HandleFunc("GET /v1/documents", s.handleListDocuments)
	s.router.HandleFunc("DELETE /v1/documents/{id}", s.handleDeleteDocument)

	s.router.HandleFunc("POST /v1/conversations", s.handleCreateConversation)
	s.router.HandleFunc("GET /v1/conversations", s.handleListConversations)
	s.router.HandleFunc("POST /v1/conversations/{id}/messages", s.handleAppendMessage)
	s.router.HandleFunc("GET /v1/conversations/{id}/messages", s.handleListMessages)
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
