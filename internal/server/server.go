// Package server exposes the HTTP/SSE surface: health, stats, rebuild,
// synchronous ask, and streaming ask. The server binds to loopback only.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/obsidianrag/obsidianrag/internal/index"
	"github.com/obsidianrag/obsidianrag/internal/llm"
	"github.com/obsidianrag/obsidianrag/internal/qa"
	"github.com/obsidianrag/obsidianrag/internal/store"
	"github.com/obsidianrag/obsidianrag/pkg/version"
)

// Config configures the HTTP server.
type Config struct {
	// BindPort is the loopback port to listen on.
	BindPort int

	// VaultPath is the vault root, reported by /stats.
	VaultPath string
}

// Server is the HTTP front of the QA pipeline.
type Server struct {
	config       Config
	orchestrator *qa.Orchestrator
	indexer      *index.Indexer
	generator    *llm.Client
	vectors      *store.VectorStore

	httpServer *http.Server
}

// New creates the server over its collaborators.
func New(cfg Config, orchestrator *qa.Orchestrator, indexer *index.Indexer, generator *llm.Client, vectors *store.VectorStore) *Server {
	if cfg.BindPort == 0 {
		cfg.BindPort = 8000
	}
	return &Server{
		config:       cfg,
		orchestrator: orchestrator,
		indexer:      indexer,
		generator:    generator,
		vectors:      vectors,
	}
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/ask", s.handleAsk)
	r.Post("/ask/stream", s.handleAskStream)
	r.Post("/rebuild_db", s.handleRebuild)

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.config.BindPort)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_listening", slog.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// requestLogger logs one line per completed request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}

// healthResponse is the /health payload.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Model   string `json:"model"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	if !s.generator.Available(ctx) {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  status,
		Version: version.Short(),
		Model:   s.generator.Model(),
	})
}
