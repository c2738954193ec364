// Package server exposes the digest and exposure state over a JSON HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cyberbrief/internal/config"
	"cyberbrief/internal/exposure"
	"cyberbrief/internal/persistence"
	"cyberbrief/internal/pipeline"
)

// Server is the HTTP API server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	db         persistence.Database
	pipeline   *pipeline.Pipeline
	exposure   *exposure.Engine
	config     config.Server
}

// New creates the HTTP server and wires its routes.
func New(db persistence.Database, pipe *pipeline.Pipeline, engine *exposure.Engine, cfg config.Server, frontendURL string) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		db:       db,
		pipeline: pipe,
		exposure: engine,
		config:   cfg,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(120 * time.Second))

	allowedOrigins := []string{"*"}
	if frontendURL != "" {
		allowedOrigins = []string{frontendURL}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		MaxAge:         300,
	}))

	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)

		r.Post("/digest/run", s.handleDigestRun)
		r.Get("/feed/brief", s.handleFeedBrief)

		r.Route("/exposure", func(r chi.Router) {
			r.Get("/", s.handleListExposure)
			r.Get("/metrics", s.handleExposureMetrics)
			r.Put("/{cveId}", s.handleSetExposure)
		})

		r.Route("/techstack", func(r chi.Router) {
			r.Get("/", s.handleListTechStack)
			r.Post("/", s.handleCreateTechStack)
			r.Delete("/{id}", s.handleDeleteTechStack)
		})
	})
}

// Start runs the server until ListenAndServe returns.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
