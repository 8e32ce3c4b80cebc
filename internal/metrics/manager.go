// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/metrics/collector"
)

// Manager owns the Prometheus registry. The activity counters exist from the
// start so the event recorder can use them; the state collectors are added
// once the governor and scheduler are built.
type Manager struct {
	registry *prometheus.Registry
	activity *collector.ActivityCollector
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	activity := collector.NewActivityCollector(registry)

	log.Debug().Msg("Metrics manager initialized")

	return &Manager{
		registry: registry,
		activity: activity,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Activity returns the event, poll and apply counters.
func (m *Manager) Activity() *collector.ActivityCollector {
	return m.activity
}

// RegisterGovernor adds gauges for the shared state and scheduler.
func (m *Manager) RegisterGovernor(state GovernorState, scheduler RunningReporter, settings SettingsProvider) error {
	return m.registry.Register(NewGovernorCollector(state, scheduler, settings))
}

// RegisterDownloaders adds live transfer speed gauges. Every scrape queries
// the download clients.
func (m *Manager) RegisterDownloaders(settings collector.SettingsProvider, sinks collector.SinkResolver) error {
	return m.registry.Register(collector.NewDownloaderCollector(settings, sinks))
}
