// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/autobrr/autolimit/internal/domain"
)

// GovernorState exposes the shared playback and limit state.
type GovernorState interface {
	ActiveCount() int
	AppliedLimits() map[string]domain.SpeedLimits
}

// RunningReporter tells whether the polling scheduler is active.
type RunningReporter interface {
	Running() bool
}

type SettingsProvider interface {
	Settings() domain.Settings
}

// GovernorCollector reports what the governor currently believes: how many
// sessions are playing and which limits it last applied.
type GovernorCollector struct {
	state     GovernorState
	scheduler RunningReporter
	settings  SettingsProvider

	activeSessionsDesc *prometheus.Desc
	runningDesc        *prometheus.Desc
	appliedLimitDesc   *prometheus.Desc
	throttledDesc      *prometheus.Desc
}

func NewGovernorCollector(state GovernorState, scheduler RunningReporter, settings SettingsProvider) *GovernorCollector {
	return &GovernorCollector{
		state:     state,
		scheduler: scheduler,
		settings:  settings,

		activeSessionsDesc: prometheus.NewDesc(
			"autolimit_active_sessions",
			"Number of playing sessions counted across all media servers",
			nil,
			nil,
		),
		runningDesc: prometheus.NewDesc(
			"autolimit_scheduler_running",
			"Whether the polling scheduler is running (1=running, 0=stopped)",
			nil,
			nil,
		),
		appliedLimitDesc: prometheus.NewDesc(
			"autolimit_applied_limit",
			"Last speed limit applied per download client and direction (0 KiB/s or 100% means unlimited)",
			[]string{"downloader_id", "downloader_name", "direction", "unit"},
			nil,
		),
		throttledDesc: prometheus.NewDesc(
			"autolimit_downloader_throttled",
			"Whether the last applied limit restricts the download client (1=throttled, 0=unlimited)",
			[]string{"downloader_id", "downloader_name"},
			nil,
		),
	}
}

func (c *GovernorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.runningDesc
	ch <- c.appliedLimitDesc
	ch <- c.throttledDesc
}

func (c *GovernorCollector) Collect(ch chan<- prometheus.Metric) {
	if c.state != nil {
		ch <- prometheus.MustNewConstMetric(c.activeSessionsDesc, prometheus.GaugeValue, float64(c.state.ActiveCount()))
	}

	if c.scheduler != nil {
		running := 0.0
		if c.scheduler.Running() {
			running = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.runningDesc, prometheus.GaugeValue, running)
	}

	if c.state == nil {
		return
	}

	names := map[string]string{}
	if c.settings != nil {
		settings := c.settings.Settings()
		for _, d := range settings.Downloaders {
			names[d.ID] = d.DisplayName()
		}
	}

	for id, limits := range c.state.AppliedLimits() {
		name := names[id]
		if name == "" {
			name = id
		}

		throttled := 0.0
		for direction, rate := range map[string]domain.Rate{"download": limits.Download, "upload": limits.Upload} {
			if !rate.Supported() {
				continue
			}
			if !rate.Unlimited() {
				throttled = 1.0
			}
			ch <- prometheus.MustNewConstMetric(
				c.appliedLimitDesc,
				prometheus.GaugeValue,
				float64(rate.Value),
				id,
				name,
				direction,
				rate.Unit.String(),
			)
		}

		ch <- prometheus.MustNewConstMetric(c.throttledDesc, prometheus.GaugeValue, throttled, id, name)
	}
}
