// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/events"
)

// SettingsHandler reads and replaces the media server and download client
// records. Secrets never leave the process.
type SettingsHandler struct {
	store     SettingsStore
	scheduler SchedulerControl
	events    events.Sink
}

func NewSettingsHandler(store SettingsStore, scheduler SchedulerControl, sink events.Sink) *SettingsHandler {
	if sink == nil {
		sink = events.Discard
	}
	return &SettingsHandler{store: store, scheduler: scheduler, events: sink}
}

func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Put("/", h.UpdateSettings)
	})
}

func (h *SettingsHandler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, withEmptyLists(h.store.Settings().Redacted()))
}

// UpdateSettings replaces all instances. Fields still holding the redaction
// placeholder keep their stored value. A successful save restarts the
// scheduler after the usual debounce.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var next domain.Settings
	if !DecodeJSON(w, r, &next) {
		return
	}

	saved, err := h.store.SaveSettings(next)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInstance) {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Failed to save settings")
		RespondError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	h.events.Logf(events.CategoryConfig, "Settings saved: %d media servers, %d downloaders",
		len(saved.MediaServers), len(saved.Downloaders))
	h.scheduler.RequestRestart()

	RespondJSON(w, http.StatusOK, withEmptyLists(saved.Redacted()))
}

func withEmptyLists(s domain.Settings) domain.Settings {
	if s.MediaServers == nil {
		s.MediaServers = []domain.MediaServerInstance{}
	}
	if s.Downloaders == nil {
		s.Downloaders = []domain.DownloaderInstance{}
	}
	return s
}
