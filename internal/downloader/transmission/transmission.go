// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transmission sets global speed limits through the Transmission RPC
// interface.
package transmission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/pkg/httphelpers"
	"github.com/autobrr/autolimit/pkg/redact"
)

const sessionIDHeader = "X-Transmission-Session-Id"

// ErrUnauthorized is returned when the RPC endpoint rejects the credentials.
var ErrUnauthorized = errors.New("transmission rejected the credentials")

type Client struct {
	rpcURL     string
	username   string
	password   string
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
}

func New(instance domain.DownloaderInstance, deps plugin.Deps) (*Client, error) {
	base := strings.TrimRight(instance.URL, "/")
	rpcURL := base
	if !strings.HasSuffix(base, "/rpc") {
		rpcURL = base + "/transmission/rpc"
	}

	return &Client{
		rpcURL:     rpcURL,
		username:   instance.Username,
		password:   instance.Password,
		httpClient: deps.HTTPClient(),
	}, nil
}

// NewSink adapts New to the plugin registry.
func NewSink(instance domain.DownloaderInstance, deps plugin.Deps) (plugin.Sink, error) {
	return New(instance, deps)
}

type rpcRequest struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

func (c *Client) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// call performs an RPC request. A 409 carries a fresh session id, the request
// is repeated once with it.
func (c *Client) call(ctx context.Context, method string, args map[string]any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.post(ctx, body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusConflict {
			id := resp.Header.Get(sessionIDHeader)
			httphelpers.DrainAndClose(resp)
			if id == "" {
				return fmt.Errorf("transmission %s: 409 without %s header", method, sessionIDHeader)
			}
			c.setSessionID(id)
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			httphelpers.DrainAndClose(resp)
			return ErrUnauthorized
		}

		if err := httphelpers.CheckStatus(resp); err != nil {
			httphelpers.DrainAndClose(resp)
			return fmt.Errorf("transmission %s: %w", method, err)
		}

		var rpcResp rpcResponse
		err = json.NewDecoder(resp.Body).Decode(&rpcResp)
		httphelpers.DrainAndClose(resp)
		if err != nil {
			return fmt.Errorf("decode transmission %s response: %w", method, err)
		}
		if rpcResp.Result != "success" {
			return fmt.Errorf("transmission %s failed: %s", method, rpcResp.Result)
		}
		if out != nil && len(rpcResp.Arguments) > 0 {
			if err := json.Unmarshal(rpcResp.Arguments, out); err != nil {
				return fmt.Errorf("decode transmission %s arguments: %w", method, err)
			}
		}
		return nil
	}

	return fmt.Errorf("transmission %s: session id handshake did not settle", method)
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", plugin.UserAgent())
	if id := c.currentSessionID(); id != "" {
		req.Header.Set(sessionIDHeader, id)
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, redact.URLError(err)
	}
	return resp, nil
}

// limitArgs maps a rate onto Transmission's enabled flag and KB/s value.
func limitArgs(args map[string]any, direction string, r domain.Rate) {
	if !r.Supported() {
		return
	}
	if r.Unlimited() {
		args["speed-limit-"+direction+"-enabled"] = false
		return
	}
	args["speed-limit-"+direction+"-enabled"] = true
	args["speed-limit-"+direction] = r.Value
}

func (c *Client) SetSpeedLimits(ctx context.Context, limits domain.SpeedLimits) error {
	args := make(map[string]any, 4)
	limitArgs(args, "down", limits.Download)
	limitArgs(args, "up", limits.Upload)
	return c.call(ctx, "session-set", args, nil)
}

type sessionStats struct {
	DownloadSpeed int64 `json:"downloadSpeed"`
	UploadSpeed   int64 `json:"uploadSpeed"`
}

// CurrentSpeeds reads the session throughput, converted from bytes/s to KB/s.
func (c *Client) CurrentSpeeds(ctx context.Context) (*domain.TransferSpeeds, error) {
	var stats sessionStats
	if err := c.call(ctx, "session-stats", nil, &stats); err != nil {
		return nil, err
	}
	return &domain.TransferSpeeds{
		Download: float64(stats.DownloadSpeed) / 1024,
		Upload:   float64(stats.UploadSpeed) / 1024,
	}, nil
}

func (c *Client) TestConnection(ctx context.Context) (string, error) {
	var session struct {
		Version    string `json:"version"`
		RPCVersion int    `json:"rpc-version"`
	}
	if err := c.call(ctx, "session-get", map[string]any{"fields": []string{"version", "rpc-version"}}, &session); err != nil {
		return "", err
	}
	version := session.Version
	if version == "" {
		version = "unknown version"
	}
	return fmt.Sprintf("Connected to Transmission %s (RPC %d)", version, session.RPCVersion), nil
}
