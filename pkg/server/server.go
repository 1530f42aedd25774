// Package server exposes the HTTP/JSON surface over the memory engine and
// the curation pipeline, plus the admin and MCP mounts.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrained/engram/pkg/auth"
	"github.com/entrained/engram/pkg/curation"
	"github.com/entrained/engram/pkg/engine"
)

// Options wires the server's collaborators.
type Options struct {
	Engine   *engine.Engine
	Pipeline *curation.Pipeline

	APISecretKey  string
	EnableAPIAuth bool
	AdminUsername string
	AdminPassword string

	Limiter   *auth.Limiter
	Sanitizer *auth.Sanitizer

	// MCPHandler serves POST /mcp/; nil disables the mount.
	MCPHandler http.Handler

	MaxBodyBytes int64
	Version      string
}

// Server is the HTTP façade.
type Server struct {
	opts   Options
	router chi.Router
	http   *http.Server
	logger *slog.Logger
}

// New assembles the router.
func New(opts Options) *Server {
	if opts.Sanitizer == nil {
		opts.Sanitizer = auth.NewSanitizer(0, 0)
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		opts:   opts,
		logger: slog.Default().With("component", "server"),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Unauthenticated probes.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	protect := func(next chi.Router) {
		if s.opts.Limiter != nil {
			next.Use(auth.RateLimit(s.opts.Limiter))
		}
		next.Use(auth.APIKey(auth.APIKeyConfig{
			SecretKey: s.opts.APISecretKey,
			Enabled:   s.opts.EnableAPIAuth,
		}))
	}

	r.Route("/cam", func(cam chi.Router) {
		protect(cam)
		cam.Post("/store", s.handleStoreSingle)
		cam.Post("/retrieve", s.handleRetrieveSingle)
		cam.Get("/memory/{id}", s.handleGetMemory)
		cam.Post("/memory/{id}/annotate", s.handleAnnotate)
		cam.Get("/memory/{id}/annotations", s.handleAnnotations)

		cam.Post("/multi/store", s.handleStoreMulti)
		cam.Post("/multi/retrieve", s.handleRetrieveMulti)
		cam.Get("/multi/memory/{id}", s.handleGetMemoryMulti)
		cam.Get("/multi/situations/{entity_id}", s.handleSituations)

		cam.Post("/curated/analyze", s.handleCuratedAnalyze)
		cam.Post("/curated/store", s.handleCuratedStore)
		cam.Post("/curated/retrieve", s.handleCuratedRetrieve)
		cam.Get("/curated/stats/{entity_id}", s.handleCuratedStats)
	})

	if s.opts.MCPHandler != nil {
		r.Route("/mcp", func(mcp chi.Router) {
			protect(mcp)
			mcp.Handle("/", s.opts.MCPHandler)
		})
	}

	r.Route("/api/v1/admin", func(admin chi.Router) {
		protect(admin)
		if s.opts.AdminUsername != "" {
			admin.Use(auth.BasicAuth(s.opts.AdminUsername, s.opts.AdminPassword))
		}
		admin.Post("/flush/memories", s.handleAdminFlush)
		admin.Post("/recreate/indexes", s.handleAdminRecreateIndexes)
		admin.Get("/status", s.handleAdminStatus)
	})

	return r
}

// Handler returns the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.opts.Version,
	})
}
