// Package server provides the HTTP API for Kagami.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/reader"
	"github.com/hyperjump/kagami/internal/store"
	"github.com/hyperjump/kagami/internal/syncer"
	"github.com/hyperjump/kagami/internal/vector"
)

// Server is the HTTP server for the Kagami API.
type Server struct {
	reader     *reader.Reader
	syncs      *syncer.SyncOrchestrator
	embeddings *syncer.EmbeddingOrchestrator
	index      *vector.Index
	provider   embedding.Provider
	store      store.Store
	config     *config.ServerConfig
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	rd *reader.Reader,
	syncs *syncer.SyncOrchestrator,
	embeddings *syncer.EmbeddingOrchestrator,
	index *vector.Index,
	provider embedding.Provider,
	s store.Store,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		reader:     rd,
		syncs:      syncs,
		embeddings: embeddings,
		index:      index,
		provider:   provider,
		store:      s,
		config:     cfg,
		logger:     logger,
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync", s.handleStartSync)
		r.Get("/sync/active", s.handleActiveSyncs)
		r.Get("/sync/{id}", s.handleGetSync)
		r.Get("/sync/{id}/history", s.handleSyncHistory)
		r.Post("/sync/{id}/pause", s.handlePauseSync)
		r.Post("/sync/{id}/resume", s.handleResumeSync)
		r.Post("/sync/{id}/stop", s.handleStopSync)

		r.Post("/embeddings", s.handleStartEmbedding)
		r.Get("/embeddings/active", s.handleActiveEmbeddings)
		r.Get("/embeddings/{id}", s.handleGetEmbedding)
		r.Get("/embeddings/{id}/history", s.handleEmbeddingHistory)
		r.Post("/embeddings/{id}/pause", s.handlePauseEmbedding)
		r.Post("/embeddings/{id}/resume", s.handleResumeEmbedding)
		r.Post("/embeddings/{id}/stop", s.handleStopEmbedding)

		r.Get("/entities/{type}", s.handleListEntities)
		r.Get("/entities/{type}/{id}", s.handleGetEntity)
		r.Post("/search", s.handleSearch)

		r.Get("/config", s.handleListConfig)
		r.Get("/config/{key}", s.handleGetConfig)
		r.Put("/config/{key}", s.handleSetConfig)
	})
	r.Get("/health", s.handleHealth)

	return r
}

// Handler returns the fully routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router()
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
