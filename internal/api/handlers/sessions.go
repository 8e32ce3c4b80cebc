// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/sessions"
)

type ServerErrorView struct {
	ServerID string `json:"server_id"`
	Error    string `json:"error"`
}

type SessionsResponse struct {
	Sessions []domain.PlaybackSession `json:"sessions"`
	Errors   []ServerErrorView        `json:"errors,omitempty"`
}

type DownloaderSpeedView struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Type      domain.DownloaderType  `json:"type"`
	Supported bool                   `json:"supported"`
	Speeds    *domain.TransferSpeeds `json:"speeds,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type MediaServerSpeedView struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Type      domain.MediaServerType `json:"type"`
	Supported bool                   `json:"supported"`
	Network   *domain.NetworkSpeeds  `json:"network,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type SpeedsResponse struct {
	Downloaders  []DownloaderSpeedView  `json:"downloaders"`
	MediaServers []MediaServerSpeedView `json:"media_servers"`
}

// SessionsHandler queries media servers and download clients on demand. It
// never changes governor state.
type SessionsHandler struct {
	settings SettingsStore
	adapters Adapters
}

func NewSessionsHandler(settings SettingsStore, adapters Adapters) *SessionsHandler {
	return &SessionsHandler{settings: settings, adapters: adapters}
}

func (h *SessionsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.ListSessions)
	r.Get("/speeds", h.GetSpeeds)
}

func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	settings := h.settings.Settings()

	playing, failures := sessions.Live(r.Context(), settings.EnabledMediaServers(), h.adapters)
	if playing == nil {
		playing = []domain.PlaybackSession{}
	}

	resp := SessionsResponse{Sessions: playing}
	for _, f := range failures {
		log.Warn().Err(f.Err).Str("serverID", f.ServerID).Msg("Failed to fetch live sessions")
		resp.Errors = append(resp.Errors, ServerErrorView{ServerID: f.ServerID, Error: f.Err.Error()})
	}

	RespondJSON(w, http.StatusOK, resp)
}

func (h *SessionsHandler) GetSpeeds(w http.ResponseWriter, r *http.Request) {
	settings := h.settings.Settings()
	downloaders := settings.EnabledDownloaders()
	servers := settings.EnabledMediaServers()

	resp := SpeedsResponse{
		Downloaders:  make([]DownloaderSpeedView, len(downloaders)),
		MediaServers: make([]MediaServerSpeedView, len(servers)),
	}

	g, ctx := errgroup.WithContext(r.Context())
	for i, d := range downloaders {
		g.Go(func() error {
			resp.Downloaders[i] = h.downloaderSpeeds(ctx, d)
			return nil
		})
	}
	for i, m := range servers {
		g.Go(func() error {
			resp.MediaServers[i] = h.networkSpeeds(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	RespondJSON(w, http.StatusOK, resp)
}

func (h *SessionsHandler) downloaderSpeeds(ctx context.Context, d domain.DownloaderInstance) DownloaderSpeedView {
	view := DownloaderSpeedView{ID: d.ID, Name: d.DisplayName(), Type: d.Type}

	sink, err := h.adapters.Sink(d)
	if err != nil {
		view.Error = err.Error()
		return view
	}
	probe, ok := sink.(plugin.SpeedProbe)
	if !ok {
		return view
	}
	view.Supported = true

	speeds, err := probe.CurrentSpeeds(ctx)
	if err != nil {
		log.Debug().Err(err).Str("downloaderID", d.ID).Msg("Failed to read transfer speeds")
		view.Error = err.Error()
		return view
	}
	view.Speeds = speeds
	return view
}

func (h *SessionsHandler) networkSpeeds(ctx context.Context, m domain.MediaServerInstance) MediaServerSpeedView {
	view := MediaServerSpeedView{ID: m.ID, Name: m.DisplayName(), Type: m.Type}

	src, err := h.adapters.Source(m)
	if err != nil {
		view.Error = err.Error()
		return view
	}
	reporter, ok := src.(plugin.NetworkReporter)
	if !ok {
		return view
	}
	view.Supported = true

	network, err := reporter.NetworkSpeeds(ctx)
	if err != nil {
		log.Debug().Err(err).Str("serverID", m.ID).Msg("Failed to read network speeds")
		view.Error = err.Error()
		return view
	}
	view.Network = network
	return view
}
