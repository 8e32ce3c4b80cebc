// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/events"
)

const (
	KindMediaServer = "media"
	KindDownloader  = "downloader"

	// unsavedInstanceID stands in for records that have not been saved yet.
	unsavedInstanceID = "unsaved"
)

var errInstanceNotFound = errors.New("instance not found")

// TestConnectionRequest names a stored instance by id, carries an unsaved
// record, or both. Redacted secrets in the record are filled in from the
// stored instance with the same id.
type TestConnectionRequest struct {
	Kind        string                      `json:"kind"`
	ID          string                      `json:"id,omitempty"`
	MediaServer *domain.MediaServerInstance `json:"mediaServer,omitempty"`
	Downloader  *domain.DownloaderInstance  `json:"downloader,omitempty"`
}

type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type TestConnectionHandler struct {
	settings SettingsStore
	adapters Adapters
	events   events.Sink
}

func NewTestConnectionHandler(settings SettingsStore, adapters Adapters, sink events.Sink) *TestConnectionHandler {
	if sink == nil {
		sink = events.Discard
	}
	return &TestConnectionHandler{settings: settings, adapters: adapters, events: sink}
}

func (h *TestConnectionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/test-connection", h.TestConnection)
}

func (h *TestConnectionHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req TestConnectionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	var (
		name    string
		message string
		err     error
	)

	switch strings.ToLower(req.Kind) {
	case KindMediaServer:
		instance, lookupErr := h.mediaServer(req)
		if lookupErr != nil {
			respondLookupError(w, lookupErr)
			return
		}
		name = instance.DisplayName()
		message, err = h.adapters.TestMediaServer(r.Context(), instance)
	case KindDownloader:
		instance, lookupErr := h.downloader(req)
		if lookupErr != nil {
			respondLookupError(w, lookupErr)
			return
		}
		name = instance.DisplayName()
		message, err = h.adapters.TestDownloader(r.Context(), instance)
	default:
		RespondError(w, http.StatusBadRequest, "kind must be media or downloader")
		return
	}

	resp := TestConnectionResponse{Success: err == nil, Message: message}
	if err != nil {
		log.Debug().Err(err).Str("kind", req.Kind).Str("instance", name).Msg("Connection test failed")
		resp.Message = err.Error()
		h.events.Logf(events.CategoryTestConnection, "%s failed: %s", name, resp.Message)
	} else {
		h.events.Logf(events.CategoryTestConnection, "%s: %s", name, resp.Message)
	}

	RespondJSON(w, http.StatusOK, resp)
}

// mediaServer resolves the record to test. Disabled instances can be tested.
func (h *TestConnectionHandler) mediaServer(req TestConnectionRequest) (domain.MediaServerInstance, error) {
	stored := h.settings.Settings()

	if req.MediaServer == nil {
		if req.ID == "" {
			return domain.MediaServerInstance{}, errors.New("id or mediaServer is required")
		}
		for _, m := range stored.MediaServers {
			if m.ID == req.ID {
				return m, nil
			}
		}
		return domain.MediaServerInstance{}, errInstanceNotFound
	}

	instance := *req.MediaServer
	if instance.ID == "" {
		instance.ID = req.ID
	}
	restored := domain.RestoreSecrets(domain.Settings{MediaServers: []domain.MediaServerInstance{instance}}, stored)
	instance = restored.MediaServers[0]
	if instance.ID == "" {
		instance.ID = unsavedInstanceID
	}
	return instance, nil
}

func (h *TestConnectionHandler) downloader(req TestConnectionRequest) (domain.DownloaderInstance, error) {
	stored := h.settings.Settings()

	if req.Downloader == nil {
		if req.ID == "" {
			return domain.DownloaderInstance{}, errors.New("id or downloader is required")
		}
		for _, d := range stored.Downloaders {
			if d.ID == req.ID {
				return d, nil
			}
		}
		return domain.DownloaderInstance{}, errInstanceNotFound
	}

	instance := *req.Downloader
	if instance.ID == "" {
		instance.ID = req.ID
	}
	restored := domain.RestoreSecrets(domain.Settings{Downloaders: []domain.DownloaderInstance{instance}}, stored)
	instance = restored.Downloaders[0]
	if instance.ID == "" {
		instance.ID = unsavedInstanceID
	}
	return instance, nil
}

func respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, errInstanceNotFound) {
		RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	RespondError(w, http.StatusBadRequest, err.Error())
}
