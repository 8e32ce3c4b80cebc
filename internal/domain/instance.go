// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInstance is returned when an instance record is missing required fields.
var ErrInvalidInstance = errors.New("invalid instance")

const (
	DefaultPollInterval = 15
	MinPollInterval     = 5
)

type MediaServerType string

const (
	MediaServerPlex     MediaServerType = "plex"
	MediaServerEmby     MediaServerType = "emby"
	MediaServerJellyfin MediaServerType = "jellyfin"
)

type DownloaderType string

const (
	DownloaderQbittorrent  DownloaderType = "qbittorrent"
	DownloaderTransmission DownloaderType = "transmission"
	DownloaderSabnzbd      DownloaderType = "sabnzbd"
	DownloaderCloudDrive2  DownloaderType = "clouddrive2"
)

// MediaServerInstance is one configured media server.
type MediaServerInstance struct {
	ID                string          `yaml:"id" json:"id"`
	Name              string          `yaml:"name" json:"name"`
	Type              MediaServerType `yaml:"type" json:"type"`
	URL               string          `yaml:"url" json:"url"`
	APIKey            string          `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	Token             string          `yaml:"token,omitempty" json:"token,omitempty"`
	PollIntervalSecs  int             `yaml:"pollInterval" json:"pollInterval"`
	Enabled           bool            `yaml:"enabled" json:"enabled"`
	SkipLocalPlayback bool            `yaml:"skipLocalPlayback" json:"skipLocalPlayback"`
	IPWhitelist       string          `yaml:"ipWhitelist,omitempty" json:"ipWhitelist,omitempty"`
	UserWhitelist     string          `yaml:"userWhitelist,omitempty" json:"userWhitelist,omitempty"`
}

// PollInterval returns the effective polling interval. Zero means the default,
// anything below the minimum is raised to it.
func (m MediaServerInstance) PollInterval() time.Duration {
	secs := m.PollIntervalSecs
	switch {
	case secs == 0:
		secs = DefaultPollInterval
	case secs < MinPollInterval:
		secs = MinPollInterval
	}
	return time.Duration(secs) * time.Second
}

// DisplayName prefers the configured name and falls back to the id.
func (m MediaServerInstance) DisplayName() string {
	if strings.TrimSpace(m.Name) != "" {
		return m.Name
	}
	return m.ID
}

func (m MediaServerInstance) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: media server id is required", ErrInvalidInstance)
	}
	if m.Type == "" {
		return fmt.Errorf("%w: media server %s has no type", ErrInvalidInstance, m.ID)
	}
	if strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("%w: media server %s has no url", ErrInvalidInstance, m.ID)
	}
	return nil
}

// DownloaderInstance is one configured download client.
type DownloaderInstance struct {
	ID       string         `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	Type     DownloaderType `yaml:"type" json:"type"`
	URL      string         `yaml:"url" json:"url"`
	Username string         `yaml:"username,omitempty" json:"username,omitempty"`
	Password string         `yaml:"password,omitempty" json:"password,omitempty"`
	APIKey   string         `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	Enabled  bool           `yaml:"enabled" json:"enabled"`

	// MaxBandwidthKB is the line speed used by percentage based clients.
	MaxBandwidthKB int64 `yaml:"maxBandwidthKb,omitempty" json:"maxBandwidthKb,omitempty"`

	DefaultDownloadLimit int64 `yaml:"defaultDownloadLimit" json:"defaultDownloadLimit"`
	DefaultUploadLimit   int64 `yaml:"defaultUploadLimit" json:"defaultUploadLimit"`
	BackupDownloadLimit  int64 `yaml:"backupDownloadLimit" json:"backupDownloadLimit"`
	BackupUploadLimit    int64 `yaml:"backupUploadLimit" json:"backupUploadLimit"`

	SavedToken string `yaml:"savedToken,omitempty" json:"-"`
}

func (d DownloaderInstance) DisplayName() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	return d.ID
}

func (d DownloaderInstance) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: downloader id is required", ErrInvalidInstance)
	}
	if d.Type == "" {
		return fmt.Errorf("%w: downloader %s has no type", ErrInvalidInstance, d.ID)
	}
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("%w: downloader %s has no url", ErrInvalidInstance, d.ID)
	}
	return nil
}

// Settings is the instance configuration consumed by the scheduler.
type Settings struct {
	MediaServers []MediaServerInstance `yaml:"mediaServers" json:"mediaServers"`
	Downloaders  []DownloaderInstance  `yaml:"downloaders" json:"downloaders"`
}

// MediaServer looks up an enabled media server by id.
func (s *Settings) MediaServer(id string) (MediaServerInstance, bool) {
	for _, m := range s.MediaServers {
		if m.ID == id && m.Enabled {
			return m, true
		}
	}
	return MediaServerInstance{}, false
}

// Downloader looks up a downloader by id regardless of its enabled flag.
func (s *Settings) Downloader(id string) (DownloaderInstance, bool) {
	for _, d := range s.Downloaders {
		if d.ID == id {
			return d, true
		}
	}
	return DownloaderInstance{}, false
}

// EnabledMediaServers returns the enabled media servers in configuration order.
func (s *Settings) EnabledMediaServers() []MediaServerInstance {
	out := make([]MediaServerInstance, 0, len(s.MediaServers))
	for _, m := range s.MediaServers {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// EnabledDownloaders returns the enabled downloaders in configuration order.
func (s *Settings) EnabledDownloaders() []DownloaderInstance {
	out := make([]DownloaderInstance, 0, len(s.Downloaders))
	for _, d := range s.Downloaders {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := Settings{
		MediaServers: make([]MediaServerInstance, len(s.MediaServers)),
		Downloaders:  make([]DownloaderInstance, len(s.Downloaders)),
	}
	copy(out.MediaServers, s.MediaServers)
	copy(out.Downloaders, s.Downloaders)
	return out
}
