// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/autolimit/internal/events"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = events.DefaultCapacity
)

type EventsResponse struct {
	Events []events.Event `json:"events"`
}

type EventsHandler struct {
	log EventLog
}

func NewEventsHandler(log EventLog) *EventsHandler {
	return &EventsHandler{log: log}
}

func (h *EventsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.ListEvents)
}

// ListEvents returns the most recent activity, newest first.
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := ParseLimitQuery(w, r, "limit", defaultEventLimit, maxEventLimit)
	if !ok {
		return
	}

	RespondJSON(w, http.StatusOK, EventsResponse{Events: h.log.Recent(limit)})
}
