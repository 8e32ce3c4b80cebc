// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sabnzbd limits SABnzbd downloads. SABnzbd throttles as a percentage
// of its configured maximum line speed and has no upload limit.
package sabnzbd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/pkg/httphelpers"
	"github.com/autobrr/autolimit/pkg/redact"
)

const (
	// DefaultMaxBandwidthKB is used when the instance has no line speed configured.
	DefaultMaxBandwidthKB = 50 * 1024
	verifyTolerance       = 2
)

type Client struct {
	apiURL         string
	apiKey         string
	maxBandwidthKB int64
	httpClient     *http.Client

	mu              sync.Mutex
	bandwidthSynced bool
}

// New builds a SABnzbd client. The API key is required.
func New(instance domain.DownloaderInstance, deps plugin.Deps) (*Client, error) {
	if strings.TrimSpace(instance.APIKey) == "" {
		return nil, fmt.Errorf("%w: sabnzbd %s has no api key", domain.ErrInvalidInstance, instance.ID)
	}

	maxKB := instance.MaxBandwidthKB
	if maxKB <= 0 {
		maxKB = DefaultMaxBandwidthKB
		log.Debug().Str("downloaderID", instance.ID).Int64("maxBandwidthKB", maxKB).Msg("SABnzbd has no max bandwidth configured, using default")
	}

	return &Client{
		apiURL:         strings.TrimRight(instance.URL, "/") + "/api",
		apiKey:         instance.APIKey,
		maxBandwidthKB: maxKB,
		httpClient:     deps.HTTPClient(),
	}, nil
}

// NewSink adapts New to the plugin registry.
func NewSink(instance domain.DownloaderInstance, deps plugin.Deps) (plugin.Sink, error) {
	return New(instance, deps)
}

func (c *Client) api(ctx context.Context, params url.Values, out any) error {
	params.Set("apikey", c.apiKey)
	params.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", plugin.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return redact.URLError(err)
	}
	defer httphelpers.DrainAndClose(resp)

	if err := httphelpers.CheckStatus(resp); err != nil {
		return fmt.Errorf("sabnzbd mode=%s: %w", params.Get("mode"), err)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// config calls may answer with an empty body
		return nil
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("sabnzbd mode=%s: %s", params.Get("mode"), envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode sabnzbd mode=%s: %w", params.Get("mode"), err)
		}
	}
	return nil
}

// bandwidthValue formats a KB/s line speed the way SABnzbd stores it.
func bandwidthValue(kb int64) string {
	if kb >= 1024 {
		return strconv.FormatInt(kb/1024, 10) + "M"
	}
	return strconv.FormatInt(kb, 10) + "K"
}

// ensureMaxBandwidth writes bandwidth_max once per client so percentage limits
// have a reference.
func (c *Client) ensureMaxBandwidth(ctx context.Context) error {
	c.mu.Lock()
	synced := c.bandwidthSynced
	c.mu.Unlock()
	if synced {
		return nil
	}

	params := url.Values{
		"mode":    {"set_config"},
		"section": {"misc"},
		"keyword": {"bandwidth_max"},
		"value":   {bandwidthValue(c.maxBandwidthKB)},
	}
	if err := c.api(ctx, params, nil); err != nil {
		return fmt.Errorf("set sabnzbd bandwidth_max: %w", err)
	}

	c.mu.Lock()
	c.bandwidthSynced = true
	c.mu.Unlock()
	return nil
}

type queueResponse struct {
	Queue struct {
		KBPerSec   string `json:"kbpersec"`
		SpeedLimit string `json:"speedlimit"`
	} `json:"queue"`
}

func (c *Client) queue(ctx context.Context) (*queueResponse, error) {
	var q queueResponse
	if err := c.api(ctx, url.Values{"mode": {"queue"}, "limit": {"0"}}, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func parsePercent(s string) (int64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// verified reports whether the read back limit matches what was set. SABnzbd
// reports an unlimited queue as either 100 or 0.
func verified(expected, actual int64) bool {
	if expected >= 100 {
		return actual == 100 || actual == 0
	}
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	return diff <= verifyTolerance
}

// SetSpeedLimits applies the download percentage and verifies it through the
// queue. Upload is ignored.
func (c *Client) SetSpeedLimits(ctx context.Context, limits domain.SpeedLimits) error {
	if err := c.ensureMaxBandwidth(ctx); err != nil {
		return err
	}

	pct := limits.Download.Value
	if pct <= 0 || pct > 100 {
		pct = 100
	}

	params := url.Values{
		"mode":  {"config"},
		"name":  {"speedlimit"},
		"value": {strconv.FormatInt(pct, 10)},
	}
	if err := c.api(ctx, params, nil); err != nil {
		return fmt.Errorf("set sabnzbd speed limit: %w", err)
	}

	q, err := c.queue(ctx)
	if err != nil {
		return fmt.Errorf("verify sabnzbd speed limit: %w", err)
	}
	actual, ok := parsePercent(q.Queue.SpeedLimit)
	if !ok || !verified(pct, actual) {
		return fmt.Errorf("sabnzbd speed limit verification failed: expected %d%%, got %q", pct, q.Queue.SpeedLimit)
	}
	return nil
}

// CurrentSpeeds reports the queue download speed in KB/s and the active limit percentage.
func (c *Client) CurrentSpeeds(ctx context.Context) (*domain.TransferSpeeds, error) {
	q, err := c.queue(ctx)
	if err != nil {
		return nil, err
	}

	out := &domain.TransferSpeeds{}
	if v, err := strconv.ParseFloat(strings.TrimSpace(q.Queue.KBPerSec), 64); err == nil {
		out.Download = v
	}
	if pct, ok := parsePercent(q.Queue.SpeedLimit); ok {
		p := int(pct)
		out.LimitPercent = &p
	}
	return out, nil
}

func (c *Client) TestConnection(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.api(ctx, url.Values{"mode": {"version"}}, &resp); err != nil {
		return "", err
	}
	// version is public, the queue call proves the key works
	if _, err := c.queue(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Connected to SABnzbd %s (max bandwidth %d KB/s)", resp.Version, c.maxBandwidthKB), nil
}
