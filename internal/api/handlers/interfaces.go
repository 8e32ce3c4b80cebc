// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/events"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/scheduler"
)

// SchedulerControl is the part of the scheduler the API drives.
type SchedulerControl interface {
	Snapshot() scheduler.Status
	Restart(ctx context.Context)
	RequestRestart()
}

// SettingsStore reads and replaces the instance settings.
type SettingsStore interface {
	Settings() domain.Settings
	SaveSettings(next domain.Settings) (domain.Settings, error)
}

// Adapters resolves cached adapters and builds throwaway ones for checks.
type Adapters interface {
	Source(instance domain.MediaServerInstance) (plugin.Source, error)
	Sink(instance domain.DownloaderInstance) (plugin.Sink, error)
	TestMediaServer(ctx context.Context, instance domain.MediaServerInstance) (string, error)
	TestDownloader(ctx context.Context, instance domain.DownloaderInstance) (string, error)
}

type AppliedLimits interface {
	AppliedLimits() map[string]domain.SpeedLimits
}

type EventLog interface {
	Recent(limit int) []events.Event
}
