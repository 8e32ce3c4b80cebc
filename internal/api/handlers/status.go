// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/buildinfo"
	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/events"
)

// RateView is how a single direction limit is rendered to clients.
type RateView struct {
	Value     int64  `json:"value"`
	Unit      string `json:"unit"`
	Unlimited bool   `json:"unlimited"`
}

func newRateView(r domain.Rate) *RateView {
	if !r.Supported() {
		return nil
	}
	return &RateView{Value: r.Value, Unit: r.Unit.String(), Unlimited: r.Unlimited()}
}

type AppliedLimitView struct {
	DownloaderID   string    `json:"downloader_id"`
	DownloaderName string    `json:"downloader_name"`
	Download       *RateView `json:"download"`
	Upload         *RateView `json:"upload,omitempty"`
}

type StatusResponse struct {
	Version        string             `json:"version"`
	Running        bool               `json:"running"`
	ActiveSessions int                `json:"active_sessions"`
	Sessions       []string           `json:"sessions"`
	AppliedLimits  []AppliedLimitView `json:"applied_limits"`
}

// StatusHandler serves the scheduler state and controls its lifecycle.
type StatusHandler struct {
	scheduler SchedulerControl
	limits    AppliedLimits
	settings  SettingsStore
	events    events.Sink
}

func NewStatusHandler(scheduler SchedulerControl, limits AppliedLimits, settings SettingsStore, sink events.Sink) *StatusHandler {
	if sink == nil {
		sink = events.Discard
	}
	return &StatusHandler{scheduler: scheduler, limits: limits, settings: settings, events: sink}
}

func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Post("/scheduler/restart", h.RestartScheduler)
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.scheduler.Snapshot()

	sessions := snapshot.Sessions
	if sessions == nil {
		sessions = []string{}
	}

	RespondJSON(w, http.StatusOK, StatusResponse{
		Version:        buildinfo.Version,
		Running:        snapshot.Running,
		ActiveSessions: snapshot.ActiveSessions,
		Sessions:       sessions,
		AppliedLimits:  h.appliedLimits(),
	})
}

func (h *StatusHandler) appliedLimits() []AppliedLimitView {
	applied := h.limits.AppliedLimits()
	settings := h.settings.Settings()

	views := make([]AppliedLimitView, 0, len(applied))
	for id, limits := range applied {
		name := id
		if d, ok := settings.Downloader(id); ok {
			name = d.DisplayName()
		}
		views = append(views, AppliedLimitView{
			DownloaderID:   id,
			DownloaderName: name,
			Download:       newRateView(limits.Download),
			Upload:         newRateView(limits.Upload),
		})
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].DownloaderName < views[j].DownloaderName
	})
	return views
}

// RestartScheduler stops every polling task and starts them again from the
// current settings. Applied limits are kept.
func (h *StatusHandler) RestartScheduler(w http.ResponseWriter, r *http.Request) {
	log.Info().Msg("Scheduler restart requested")

	// The scheduler outlives this request.
	h.scheduler.Restart(context.WithoutCancel(r.Context()))
	h.events.Log(events.CategoryScheduler, "Scheduler restarted via API")

	RespondJSON(w, http.StatusOK, map[string]bool{"running": h.scheduler.Snapshot().Running})
}
