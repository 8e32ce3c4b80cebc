// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package plex reads playback sessions and bandwidth statistics from a Plex
// Media Server.
package plex

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/pkg/httphelpers"
	"github.com/autobrr/autolimit/pkg/redact"
)

const (
	bandwidthTimespan = 6
	bandwidthWindow   = 10 * time.Second
	// mainStreamKBps separates a user's main stream from side traffic.
	mainStreamKBps = 100.0
	minSampleKBps  = 0.1
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

// New builds a Plex client. The token is required.
func New(instance domain.MediaServerInstance, deps plugin.Deps) (*Client, error) {
	if strings.TrimSpace(instance.Token) == "" {
		return nil, fmt.Errorf("%w: plex server %s has no token", domain.ErrInvalidInstance, instance.ID)
	}
	return &Client{
		baseURL:    strings.TrimRight(instance.URL, "/"),
		token:      instance.Token,
		httpClient: deps.HTTPClient(),
		now:        time.Now,
	}, nil
}

// NewSource adapts New to the plugin registry.
func NewSource(instance domain.MediaServerInstance, deps plugin.Deps) (plugin.Source, error) {
	return New(instance, deps)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, accept string) (*http.Response, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("X-Plex-Token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("User-Agent", plugin.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, redact.URLError(err)
	}
	if err := httphelpers.CheckStatus(resp); err != nil {
		httphelpers.DrainAndClose(resp)
		return nil, err
	}
	return resp, nil
}

type mediaContainer struct {
	FriendlyName string        `xml:"friendlyName,attr"`
	Version      string        `xml:"version,attr"`
	Items        []sessionItem `xml:",any"`
}

type sessionItem struct {
	SessionKey       string  `xml:"sessionKey,attr"`
	Title            string  `xml:"title,attr"`
	GrandparentTitle string  `xml:"grandparentTitle,attr"`
	Player           *player `xml:"Player"`
	User             *user   `xml:"User"`
	Media            []media `xml:"Media"`
}

type player struct {
	State   string `xml:"state,attr"`
	Address string `xml:"address,attr"`
	Title   string `xml:"title,attr"`
}

type user struct {
	Title string `xml:"title,attr"`
}

type media struct {
	Bitrate string `xml:"bitrate,attr"`
	Parts   []struct {
		Bitrate string `xml:"bitrate,attr"`
	} `xml:"Part"`
}

func (i sessionItem) itemName() string {
	if i.GrandparentTitle != "" {
		return i.GrandparentTitle + " - " + i.Title
	}
	return i.Title
}

// bitrateKbps prefers the Media bitrate and falls back to the first Part.
func (i sessionItem) bitrateKbps() int64 {
	for _, m := range i.Media {
		if v, err := strconv.ParseInt(m.Bitrate, 10, 64); err == nil {
			return v
		}
		for _, p := range m.Parts {
			if v, err := strconv.ParseInt(p.Bitrate, 10, 64); err == nil {
				return v
			}
		}
	}
	return 0
}

func (c *Client) ActiveSessions(ctx context.Context) ([]domain.PlaybackSession, error) {
	resp, err := c.get(ctx, "/status/sessions", nil, "application/xml")
	if err != nil {
		return nil, err
	}
	defer httphelpers.DrainAndClose(resp)

	var container mediaContainer
	if err := xml.NewDecoder(resp.Body).Decode(&container); err != nil {
		return nil, fmt.Errorf("decode plex sessions: %w", err)
	}

	sessions := make([]domain.PlaybackSession, 0, len(container.Items))
	for _, item := range container.Items {
		if item.SessionKey == "" || item.Player == nil || item.User == nil {
			continue
		}
		if item.Player.State != "playing" {
			continue
		}
		sessions = append(sessions, domain.PlaybackSession{
			SessionID:        item.SessionKey,
			UserName:         item.User.Title,
			ItemName:         item.itemName(),
			ClientIP:         item.Player.Address,
			DeviceName:       item.Player.Title,
			MediaBitrateKbps: item.bitrateKbps(),
		})
	}
	return sessions, nil
}

func (c *Client) TestConnection(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, "/", nil, "application/xml")
	if err != nil {
		var statusErr *httphelpers.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("authentication failed, check the X-Plex-Token: %w", err)
		}
		return "", err
	}
	defer httphelpers.DrainAndClose(resp)

	var container mediaContainer
	if err := xml.NewDecoder(resp.Body).Decode(&container); err != nil {
		return "Connected", nil
	}
	name := container.FriendlyName
	if name == "" {
		name = "Plex Media Server"
	}
	version := container.Version
	if version == "" {
		version = "unknown version"
	}
	return fmt.Sprintf("Connected to %s (%s)", name, version), nil
}

type bandwidthResponse struct {
	MediaContainer struct {
		Device []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"Device"`
		Account []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"Account"`
		StatisticsBandwidth []bandwidthSample `json:"StatisticsBandwidth"`
	} `json:"MediaContainer"`
}

type bandwidthSample struct {
	AccountID int64 `json:"accountID"`
	DeviceID  int64 `json:"deviceID"`
	Timespan  int64 `json:"timespan"`
	At        int64 `json:"at"`
	Bytes     int64 `json:"bytes"`
}

// NetworkSpeeds reports measured throughput per user in KB/s from the last
// few seconds of bandwidth statistics.
func (c *Client) NetworkSpeeds(ctx context.Context) (*domain.NetworkSpeeds, error) {
	out := &domain.NetworkSpeeds{Kind: domain.SpeedKindBandwidth, Sessions: []domain.SessionSpeed{}}

	active, err := c.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return out, nil
	}

	resp, err := c.get(ctx, "/statistics/bandwidth", url.Values{"timespan": {strconv.Itoa(bandwidthTimespan)}}, "application/json")
	if err != nil {
		return nil, err
	}
	defer httphelpers.DrainAndClose(resp)

	var stats bandwidthResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode plex bandwidth: %w", err)
	}

	devices := make(map[int64]string, len(stats.MediaContainer.Device))
	for _, d := range stats.MediaContainer.Device {
		devices[d.ID] = d.Name
	}
	accounts := make(map[int64]string, len(stats.MediaContainer.Account))
	for _, a := range stats.MediaContainer.Account {
		accounts[a.ID] = a.Name
	}

	return mergeBandwidth(out, stats.MediaContainer.StatisticsBandwidth, devices, accounts, active, c.now()), nil
}

type deviceRate struct {
	accountID int64
	total     float64
	samples   int
}

type userRate struct {
	name    string
	device  string
	total   float64
	max     float64
	devices int
}

// mergeBandwidth averages recent samples per device, then folds devices into
// users. A user's main stream wins when it is large, otherwise small streams
// are summed.
func mergeBandwidth(out *domain.NetworkSpeeds, samples []bandwidthSample, devices, accounts map[int64]string, active []domain.PlaybackSession, now time.Time) *domain.NetworkSpeeds {
	cutoff := now.Add(-bandwidthWindow).Unix()

	var order []int64
	perDevice := make(map[int64]*deviceRate)
	for _, s := range samples {
		if s.At < cutoff || s.DeviceID == 0 || s.Bytes <= 0 {
			continue
		}
		span := s.Timespan
		if span <= 0 {
			span = bandwidthTimespan
		}
		d, ok := perDevice[s.DeviceID]
		if !ok {
			d = &deviceRate{accountID: s.AccountID}
			perDevice[s.DeviceID] = d
			order = append(order, s.DeviceID)
		}
		d.total += float64(s.Bytes) / float64(span) / 1024
		d.samples++
	}

	var users []*userRate
	byName := make(map[string]*userRate)
	for _, id := range order {
		d := perDevice[id]
		avg := d.total / float64(d.samples)
		if avg <= minSampleKBps {
			continue
		}

		name, ok := accounts[d.accountID]
		if !ok {
			name = "Unknown User"
		}
		device, ok := devices[id]
		if !ok {
			device = "Unknown Device"
		}

		u, ok := byName[name]
		if !ok {
			u = &userRate{name: name, device: device}
			byName[name] = u
			users = append(users, u)
		}
		u.total += avg
		u.devices++
		if avg > u.max {
			u.max = avg
			u.device = device
		}
	}

	for _, u := range users {
		rate := u.max
		if u.devices > 1 && rate <= mainStreamKBps {
			rate = u.total
		}
		out.Total += rate

		speed := domain.SessionSpeed{
			UserName:   u.name,
			ItemName:   u.device,
			DeviceName: u.device,
			Rate:       rate,
		}
		for _, s := range active {
			if s.UserName == u.name {
				speed.ItemName = s.ItemName
				speed.MediaBitrateKbps = s.MediaBitrateKbps
				break
			}
		}
		out.Sessions = append(out.Sessions, speed)
	}
	return out
}
