// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/config"
)

// ConfigHandler exposes the process configuration.
type ConfigHandler struct {
	cfg *config.AppConfig
}

// ConfigResponse represents the configuration payload returned to clients.
type ConfigResponse struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	BaseURL        string `json:"base_url"`
	LogLevel       string `json:"log_level"`
	LogPath        string `json:"log_path"`
	LogMaxSize     int    `json:"log_max_size"`
	LogMaxBackups  int    `json:"log_max_backups"`
	SettingsPath   string `json:"settings_path"`
	MetricsEnabled bool   `json:"metrics_enabled"`
	RequestTimeout int    `json:"request_timeout"`
	Version        string `json:"version"`
}

// ConfigUpdateRequest carries the log settings that can change at runtime.
type ConfigUpdateRequest struct {
	LogLevel      *string `json:"log_level"`
	LogPath       *string `json:"log_path"`
	LogMaxSize    *int    `json:"log_max_size"`
	LogMaxBackups *int    `json:"log_max_backups"`
}

var validLogLevels = map[string]struct{}{
	"ERROR": {}, "WARN": {}, "INFO": {}, "DEBUG": {}, "TRACE": {},
}

func NewConfigHandler(cfg *config.AppConfig) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// RegisterRoutes wires handler routes under /config.
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Route("/config", func(r chi.Router) {
		r.Get("/", h.getConfig)
		r.Patch("/", h.updateConfig)
	})
}

func (h *ConfigHandler) getConfig(w http.ResponseWriter, _ *http.Request) {
	c := h.cfg.Config
	RespondJSON(w, http.StatusOK, ConfigResponse{
		Host:           c.Host,
		Port:           c.Port,
		BaseURL:        c.BaseURL,
		LogLevel:       c.LogLevel,
		LogPath:        c.LogPath,
		LogMaxSize:     c.LogMaxSize,
		LogMaxBackups:  c.LogMaxBackups,
		SettingsPath:   c.SettingsPath,
		MetricsEnabled: c.MetricsEnabled,
		RequestTimeout: c.RequestTimeout,
		Version:        c.Version,
	})
}

func (h *ConfigHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	c := h.cfg.Config
	level, path, maxSize, maxBackups := c.LogLevel, c.LogPath, c.LogMaxSize, c.LogMaxBackups

	if req.LogLevel != nil {
		level = strings.ToUpper(strings.TrimSpace(*req.LogLevel))
		if _, ok := validLogLevels[level]; !ok {
			RespondError(w, http.StatusBadRequest, "invalid log_level")
			return
		}
	}
	if req.LogPath != nil {
		path = strings.TrimSpace(*req.LogPath)
	}
	if req.LogMaxSize != nil {
		if *req.LogMaxSize <= 0 {
			RespondError(w, http.StatusBadRequest, "log_max_size must be positive")
			return
		}
		maxSize = *req.LogMaxSize
	}
	if req.LogMaxBackups != nil {
		if *req.LogMaxBackups < 0 {
			RespondError(w, http.StatusBadRequest, "log_max_backups must not be negative")
			return
		}
		maxBackups = *req.LogMaxBackups
	}

	if err := h.cfg.UpdateLogSettings(level, path, maxSize, maxBackups); err != nil {
		log.Error().Err(err).Msg("Failed to update log settings")
		RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
