// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/autolimit/internal/api"
	"github.com/autobrr/autolimit/internal/buildinfo"
	"github.com/autobrr/autolimit/internal/config"
	"github.com/autobrr/autolimit/internal/events"
	"github.com/autobrr/autolimit/internal/governor"
	"github.com/autobrr/autolimit/internal/metrics"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/plugin/builtin"
	"github.com/autobrr/autolimit/internal/scheduler"
	"github.com/autobrr/autolimit/internal/state"
)

const shutdownTimeout = 10 * time.Second

func RunServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the governor and the status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

// schedulerControl drops adapters of removed instances before a restart.
type schedulerControl struct {
	*scheduler.Scheduler
	pool     *plugin.Pool
	settings *config.Store
}

func (c schedulerControl) RequestRestart() {
	c.pool.Prune(c.settings.Settings())
	c.Scheduler.RequestRestart()
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return err
	}
	if err := cfg.InitLogger(); err != nil {
		return err
	}

	log.Info().
		Str("version", buildinfo.Version).
		Str("config", cfg.ConfigPath()).
		Str("settings", cfg.Config.SettingsPath).
		Msg("Starting autolimit")

	store, err := config.NewStore(cfg.Config.SettingsPath)
	if err != nil {
		return err
	}

	metricsManager := metrics.NewManager()
	activity := metricsManager.Activity()
	recorder := events.NewRecorder(events.DefaultCapacity, activity)

	registry := builtin.Registry()
	pool := plugin.NewPool(registry, plugin.Deps{
		Timeout: cfg.Config.RequestTimeoutDuration(),
		Tokens:  store,
	})

	st := state.New()
	gov := governor.New(st, registry, pool, recorder, activity)
	sched := scheduler.New(scheduler.Deps{
		Settings: store,
		Sources:  pool,
		State:    st,
		Governor: gov,
		Events:   recorder,
		Metrics:  activity,
	})
	control := schedulerControl{Scheduler: sched, pool: pool, settings: store}

	if err := metricsManager.RegisterGovernor(st, sched, store); err != nil {
		return err
	}
	if err := metricsManager.RegisterDownloaders(store, pool); err != nil {
		return err
	}

	server := api.NewServer(&api.Dependencies{
		Config:    cfg,
		Settings:  store,
		Scheduler: control,
		Limits:    st,
		Adapters:  pool,
		Events:    recorder,
	})

	sched.Start(ctx)
	defer sched.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.ListenAndServe)

	var metricsServer *metrics.MetricsServer
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(metricsManager, cfg.Config.MetricsHost, cfg.Config.MetricsPort, cfg.Config.MetricsBasicAuthUsers)
		g.Go(metricsServer.ListenAndServe)
	}

	g.Go(func() error {
		return store.Watch(gctx, func() {
			recorder.Log(events.CategoryConfig, "Settings file changed, restarting scheduler")
			control.RequestRestart()
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down API server")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shut down metrics server")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
