// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package emby reads playback sessions from Emby and Jellyfin servers, which
// share the same sessions API under different path prefixes.
package emby

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/pkg/httphelpers"
	"github.com/autobrr/autolimit/pkg/redact"
)

// bpsThreshold marks bitrates that are reported in bits rather than kilobits.
const bpsThreshold = 100000

type Client struct {
	flavor     domain.MediaServerType
	baseURL    string
	prefix     string
	apiKey     string
	httpClient *http.Client
}

// New builds a client for an Emby or Jellyfin instance. The API key is required.
func New(instance domain.MediaServerInstance, deps plugin.Deps) (*Client, error) {
	if strings.TrimSpace(instance.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s server %s has no api key", domain.ErrInvalidInstance, instance.Type, instance.ID)
	}

	c := &Client{
		flavor:     instance.Type,
		baseURL:    strings.TrimRight(instance.URL, "/"),
		apiKey:     instance.APIKey,
		httpClient: deps.HTTPClient(),
	}
	if instance.Type == domain.MediaServerEmby {
		c.prefix = "/emby"
	}
	return c, nil
}

// NewSource adapts New to the plugin registry.
func NewSource(instance domain.MediaServerInstance, deps plugin.Deps) (plugin.Source, error) {
	return New(instance, deps)
}

func (c *Client) product() string {
	if c.flavor == domain.MediaServerJellyfin {
		return "Jellyfin"
	}
	return "Emby"
}

func (c *Client) getJSON(ctx context.Context, path string, withKey bool, out any) error {
	endpoint := c.baseURL + c.prefix + path
	if withKey {
		endpoint += "?" + url.Values{"api_key": {c.apiKey}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", plugin.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return redact.URLError(err)
	}
	defer httphelpers.DrainAndClose(resp)

	if err := httphelpers.CheckStatus(resp); err != nil {
		return fmt.Errorf("%s %s: %w", c.product(), path, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.product(), err)
	}
	return nil
}

type session struct {
	ID             string `json:"Id"`
	UserName       string `json:"UserName"`
	DeviceName     string `json:"DeviceName"`
	RemoteEndPoint string `json:"RemoteEndPoint"`
	PlayState      struct {
		IsPaused bool `json:"IsPaused"`
	} `json:"PlayState"`
	NowPlayingItem  *nowPlaying      `json:"NowPlayingItem"`
	TranscodingInfo *transcodingInfo `json:"TranscodingInfo"`
}

type nowPlaying struct {
	Name         string        `json:"Name"`
	SeriesName   string        `json:"SeriesName"`
	Bitrate      int64         `json:"Bitrate"`
	MediaSources []mediaSource `json:"MediaSources"`
	MediaStreams []mediaStream `json:"MediaStreams"`
}

type mediaSource struct {
	Bitrate int64 `json:"Bitrate"`
}

type mediaStream struct {
	BitRate int64 `json:"BitRate"`
}

type transcodingInfo struct {
	Bitrate      int64 `json:"Bitrate"`
	VideoBitrate int64 `json:"VideoBitrate"`
	AudioBitrate int64 `json:"AudioBitrate"`
}

func (s session) playing() bool {
	return s.NowPlayingItem != nil && !s.PlayState.IsPaused
}

func (s session) itemName() string {
	if s.NowPlayingItem.SeriesName != "" {
		return s.NowPlayingItem.SeriesName + " - " + s.NowPlayingItem.Name
	}
	return s.NowPlayingItem.Name
}

// bitrateKbps walks transcoding info, media source, item and stream bitrates
// in that order. Large values are treated as bits per second.
func (s session) bitrateKbps() (kbps int64, transcoding bool) {
	var bitrate int64
	if ti := s.TranscodingInfo; ti != nil {
		transcoding = true
		bitrate = ti.Bitrate
		if bitrate == 0 {
			bitrate = ti.VideoBitrate + ti.AudioBitrate
		}
	}

	item := s.NowPlayingItem
	if bitrate == 0 && len(item.MediaSources) > 0 {
		bitrate = item.MediaSources[0].Bitrate
	}
	if bitrate == 0 {
		bitrate = item.Bitrate
	}
	if bitrate == 0 {
		for _, stream := range item.MediaStreams {
			bitrate += stream.BitRate
		}
	}

	if bitrate > bpsThreshold {
		bitrate /= 1000
	}
	return bitrate, transcoding
}

// hostOnly strips a port from a remote endpoint, handling bracketed and bare
// IPv6 addresses.
func hostOnly(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}
	return strings.Trim(endpoint, "[]")
}

func (c *Client) sessions(ctx context.Context) ([]session, error) {
	var out []session
	if err := c.getJSON(ctx, "/Sessions", true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ActiveSessions(ctx context.Context) ([]domain.PlaybackSession, error) {
	all, err := c.sessions(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]domain.PlaybackSession, 0, len(all))
	for _, s := range all {
		if !s.playing() {
			continue
		}
		bitrate, _ := s.bitrateKbps()
		active = append(active, domain.PlaybackSession{
			SessionID:        s.ID,
			UserName:         s.UserName,
			ItemName:         s.itemName(),
			ClientIP:         hostOnly(s.RemoteEndPoint),
			DeviceName:       s.DeviceName,
			MediaBitrateKbps: bitrate,
		})
	}
	return active, nil
}

// NetworkSpeeds estimates streaming load from media bitrates in Kbps. Only
// transcoded sessions report what is actually sent.
func (c *Client) NetworkSpeeds(ctx context.Context) (*domain.NetworkSpeeds, error) {
	all, err := c.sessions(ctx)
	if err != nil {
		return nil, err
	}

	out := &domain.NetworkSpeeds{Kind: domain.SpeedKindBitrate, Sessions: []domain.SessionSpeed{}}
	for _, s := range all {
		if !s.playing() {
			continue
		}
		bitrate, transcoding := s.bitrateKbps()
		if bitrate <= 0 {
			continue
		}
		out.Total += float64(bitrate)
		out.Sessions = append(out.Sessions, domain.SessionSpeed{
			UserName:         s.UserName,
			ItemName:         s.itemName(),
			DeviceName:       s.DeviceName,
			Rate:             float64(bitrate),
			MediaBitrateKbps: bitrate,
			Transcoding:      transcoding,
			Estimated:        !transcoding,
		})
	}
	return out, nil
}

type publicInfo struct {
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
}

func (c *Client) TestConnection(ctx context.Context) (string, error) {
	var info publicInfo
	if err := c.getJSON(ctx, "/System/Info/Public", false, &info); err != nil {
		return "", err
	}

	name := info.ServerName
	if name == "" {
		name = c.product() + " Server"
	}
	version := info.Version
	if version == "" {
		version = "unknown version"
	}
	return fmt.Sprintf("Connected to %s (%s)", name, version), nil
}
