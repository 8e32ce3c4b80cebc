// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
)

// probeTimeout bounds one scrape across all download clients.
const probeTimeout = 30 * time.Second

type SettingsProvider interface {
	Settings() domain.Settings
}

type SinkResolver interface {
	Sink(instance domain.DownloaderInstance) (plugin.Sink, error)
}

// DownloaderCollector reports live transfer speeds of every enabled download
// client that can measure them.
type DownloaderCollector struct {
	settings SettingsProvider
	sinks    SinkResolver

	downloadSpeedDesc *prometheus.Desc
	uploadSpeedDesc   *prometheus.Desc
	limitPercentDesc  *prometheus.Desc
	reachableDesc     *prometheus.Desc
}

func NewDownloaderCollector(settings SettingsProvider, sinks SinkResolver) *DownloaderCollector {
	labels := []string{"downloader_id", "downloader_name", "type"}

	return &DownloaderCollector{
		settings: settings,
		sinks:    sinks,

		downloadSpeedDesc: prometheus.NewDesc(
			"autolimit_downloader_download_speed_kibibytes_per_second",
			"Current download speed in KiB/s by download client",
			labels,
			nil,
		),
		uploadSpeedDesc: prometheus.NewDesc(
			"autolimit_downloader_upload_speed_kibibytes_per_second",
			"Current upload speed in KiB/s by download client",
			labels,
			nil,
		),
		limitPercentDesc: prometheus.NewDesc(
			"autolimit_downloader_limit_percent",
			"Current speed limit as a percentage of line speed for percentage based clients",
			labels,
			nil,
		),
		reachableDesc: prometheus.NewDesc(
			"autolimit_downloader_reachable",
			"Whether the last speed probe succeeded (1=reachable, 0=unreachable)",
			labels,
			nil,
		),
	}
}

func (c *DownloaderCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.downloadSpeedDesc
	ch <- c.uploadSpeedDesc
	ch <- c.limitPercentDesc
	ch <- c.reachableDesc
}

func (c *DownloaderCollector) Collect(ch chan<- prometheus.Metric) {
	if c.settings == nil || c.sinks == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	settings := c.settings.Settings()
	for _, d := range settings.EnabledDownloaders() {
		labels := []string{d.ID, d.DisplayName(), string(d.Type)}

		sink, err := c.sinks.Sink(d)
		if err != nil {
			log.Debug().Err(err).Str("downloaderID", d.ID).Msg("Skipping metrics for unavailable download client")
			ch <- prometheus.MustNewConstMetric(c.reachableDesc, prometheus.GaugeValue, 0, labels...)
			continue
		}

		probe, ok := sink.(plugin.SpeedProbe)
		if !ok {
			continue
		}

		speeds, err := probe.CurrentSpeeds(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("downloaderID", d.ID).
				Str("downloaderName", d.DisplayName()).
				Msg("Failed to get download client speeds for metrics")
			ch <- prometheus.MustNewConstMetric(c.reachableDesc, prometheus.GaugeValue, 0, labels...)
			continue
		}

		ch <- prometheus.MustNewConstMetric(c.reachableDesc, prometheus.GaugeValue, 1, labels...)
		ch <- prometheus.MustNewConstMetric(c.downloadSpeedDesc, prometheus.GaugeValue, speeds.Download, labels...)
		ch <- prometheus.MustNewConstMetric(c.uploadSpeedDesc, prometheus.GaugeValue, speeds.Upload, labels...)
		if speeds.LimitPercent != nil {
			ch <- prometheus.MustNewConstMetric(c.limitPercentDesc, prometheus.GaugeValue, float64(*speeds.LimitPercent), labels...)
		}
	}
}
