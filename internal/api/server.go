// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api serves the status and control HTTP surface.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/api/handlers"
	"github.com/autobrr/autolimit/internal/api/middleware"
	"github.com/autobrr/autolimit/internal/config"
	"github.com/autobrr/autolimit/internal/events"
	"github.com/autobrr/autolimit/pkg/httphelpers"
)

const (
	compressMinSize = 1024
	compressLevel   = 5

	// Every API call may fan out to all media servers and download clients.
	throttleLimit   = 16
	throttleBacklog = 64
	throttleTimeout = 30 * time.Second
)

// EventRecorder is both where API actions are logged and where /api/events reads.
type EventRecorder interface {
	events.Sink
	handlers.EventLog
}

type Dependencies struct {
	Config    *config.AppConfig
	Settings  handlers.SettingsStore
	Scheduler handlers.SchedulerControl
	Limits    handlers.AppliedLimits
	Adapters  handlers.Adapters
	Events    EventRecorder
}

type Server struct {
	deps *Dependencies

	mu     sync.Mutex
	server *http.Server
}

func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the router. It fails when the status allowlist cannot be parsed.
func (s *Server) Handler() (*chi.Mux, error) {
	cfg := s.deps.Config.Config

	if _, err := cfg.ParseStatusAllowedCIDRs(); err != nil {
		return nil, errors.Wrap(err, "could not build status allowlist")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log.Logger))

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler)
	}

	r.Use(middleware.SelectiveCompress(compressMinSize, compressLevel))

	r.Route("/health", handlers.NewHealthHandler().Routes)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireStatusAllowlist(cfg))
		r.Use(middleware.ThrottleBacklog(throttleLimit, throttleBacklog, throttleTimeout))

		handlers.NewStatusHandler(s.deps.Scheduler, s.deps.Limits, s.deps.Settings, s.deps.Events).RegisterRoutes(r)
		handlers.NewSessionsHandler(s.deps.Settings, s.deps.Adapters).RegisterRoutes(r)
		handlers.NewEventsHandler(s.deps.Events).RegisterRoutes(r)
		handlers.NewTestConnectionHandler(s.deps.Settings, s.deps.Adapters, s.deps.Events).RegisterRoutes(r)
		handlers.NewSettingsHandler(s.deps.Settings, s.deps.Scheduler, s.deps.Events).RegisterRoutes(r)
		handlers.NewConfigHandler(s.deps.Config).RegisterRoutes(r)
	})

	basePath := httphelpers.NormalizeBasePath(cfg.BaseURL)
	if basePath == "" {
		return r, nil
	}

	root := chi.NewRouter()
	root.Mount(basePath, r)
	return root, nil
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	router, err := s.Handler()
	if err != nil {
		return err
	}

	cfg := s.deps.Config.Config
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	log.Info().Str("address", srv.Addr).Str("baseUrl", cfg.BaseURL).Msg("Starting API server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api server failed")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
