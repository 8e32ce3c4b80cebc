// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package clouddrive2 controls CloudDrive2 transfer limits over gRPC-Web
// without generated protobuf stubs.
package clouddrive2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/wire"
	"github.com/autobrr/autolimit/pkg/httphelpers"
	"github.com/autobrr/autolimit/pkg/redact"
)

const (
	service = "clouddrive.CloudDriveFileSrv"

	grpcUnauthenticated = 16
	maxResponseSize     = 1 << 20
)

// Field numbers of the messages used here.
const (
	getTokenUserName = 1
	getTokenPassword = 2

	tokenSuccess      = 1
	tokenErrorMessage = 2
	tokenToken        = 3

	settingsMaxDownloadKBps = 11
	settingsMaxUploadKBps   = 12

	systemInfoIsLogin  = 1
	systemInfoUserName = 2
)

// ErrLoginThrottled is returned by Login when too many logins were attempted
// recently. The caller fails the current apply instead of waiting.
var ErrLoginThrottled = errors.New("clouddrive2 login throttled")

type Client struct {
	baseURL      string
	downloaderID string
	username     string
	password     string
	httpClient   *http.Client
	deps         plugin.Deps

	login        singleflight.Group
	loginLimiter *rate.Limiter

	mu    sync.RWMutex
	token string
}

// New builds a client. A previously saved token is reused until the server
// rejects it.
func New(instance domain.DownloaderInstance, deps plugin.Deps) (*Client, error) {
	if instance.Username == "" || instance.Password == "" {
		return nil, fmt.Errorf("%w: clouddrive2 %s needs a username and password", domain.ErrInvalidInstance, instance.ID)
	}

	return &Client{
		baseURL:      strings.TrimRight(instance.URL, "/"),
		downloaderID: instance.ID,
		username:     instance.Username,
		password:     instance.Password,
		httpClient:   deps.HTTPClient(),
		deps:         deps,
		loginLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		token:        instance.SavedToken,
	}, nil
}

// NewSink adapts New to the plugin registry.
func NewSink(instance domain.DownloaderInstance, deps plugin.Deps) (plugin.Sink, error) {
	return New(instance, deps)
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	if err := c.deps.SaveToken(c.downloaderID, token); err != nil {
		log.Warn().Err(err).Str("downloaderID", c.downloaderID).Msg("Failed to persist CloudDrive2 token")
	}
}

// InvalidateToken drops the cached token and clears the persisted copy.
func (c *Client) InvalidateToken() {
	if c.currentToken() == "" {
		return
	}
	c.setToken("")
}

// Login requests a new token. Concurrent callers share one request.
func (c *Client) Login(ctx context.Context) error {
	_, err, _ := c.login.Do("login", func() (any, error) {
		if !c.loginLimiter.Allow() {
			return nil, ErrLoginThrottled
		}

		resp, err := c.call(ctx, "GetToken", wire.Message{
			getTokenUserName: c.username,
			getTokenPassword: c.password,
		}, false)
		if err != nil {
			return nil, fmt.Errorf("clouddrive2 login: %w", err)
		}

		token := resp.String(tokenToken)
		if !resp.Bool(tokenSuccess) || token == "" {
			msg := resp.String(tokenErrorMessage)
			if msg == "" {
				msg = "no token returned"
			}
			return nil, fmt.Errorf("clouddrive2 login rejected: %s", msg)
		}

		hadToken := c.currentToken() != ""
		c.setToken(token)

		log.Debug().Str("downloaderID", c.downloaderID).Bool("relogin", hadToken).Msg("CloudDrive2 login succeeded")
		return nil, nil
	})
	return err
}

func (c *Client) ensureToken(ctx context.Context) error {
	if c.currentToken() != "" {
		return nil
	}
	return c.Login(ctx)
}

// call sends one unary gRPC-Web request and decodes the first data frame.
// Authentication failures clear the token and wrap plugin.ErrAuthExpired.
func (c *Client) call(ctx context.Context, method string, msg wire.Message, authed bool) (wire.Message, error) {
	body := wire.Frame(wire.Marshal(msg))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+service+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/grpc-web+proto")
	req.Header.Set("Accept", "application/grpc-web+proto")
	req.Header.Set("Grpc-Accept-Encoding", "identity,gzip")
	req.Header.Set("X-Grpc-Web", "1")
	req.Header.Set("X-User-Agent", "grpc-web-go")
	req.Header.Set("User-Agent", plugin.UserAgent())
	if authed {
		if token := c.currentToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, redact.URLError(err)
	}
	defer httphelpers.DrainAndClose(resp)

	if resp.StatusCode == http.StatusUnauthorized && authed {
		c.InvalidateToken()
		return nil, fmt.Errorf("clouddrive2 %s: %w", method, plugin.ErrAuthExpired)
	}
	if err := httphelpers.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("clouddrive2 %s: %w", method, err)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read clouddrive2 %s response: %w", method, err)
	}

	frames, err := wire.ReadFrames(raw)
	if err != nil {
		return nil, fmt.Errorf("clouddrive2 %s: %w", method, err)
	}

	status := frames.Status
	if !status.Present {
		status = wire.ParseStatus(textproto.MIMEHeader(resp.Header))
	}
	if !status.OK() {
		if status.Code == grpcUnauthenticated && authed {
			c.InvalidateToken()
			return nil, fmt.Errorf("clouddrive2 %s: %s: %w", method, status.Message, plugin.ErrAuthExpired)
		}
		return nil, fmt.Errorf("clouddrive2 %s: %w", method, status)
	}

	return wire.Unmarshal(frames.First()), nil
}

// kbps converts a rate to the double CloudDrive2 expects. Zero is unlimited.
func kbps(r domain.Rate) float64 {
	if r.Unlimited() {
		return 0
	}
	return float64(r.Value)
}

// SetSpeedLimits updates both limits in one SetSystemSettings call. The
// response is empty, so success is judged by HTTP and grpc status only.
func (c *Client) SetSpeedLimits(ctx context.Context, limits domain.SpeedLimits) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	msg := wire.Message{settingsMaxDownloadKBps: kbps(limits.Download)}
	if limits.Upload.Supported() {
		msg[settingsMaxUploadKBps] = kbps(limits.Upload)
	}

	_, err := c.call(ctx, "SetSystemSettings", msg, true)
	return err
}

func (c *Client) TestConnection(ctx context.Context) (string, error) {
	if err := c.Login(ctx); err != nil {
		return "", err
	}

	info, err := c.call(ctx, "GetSystemInfo", nil, true)
	if err != nil {
		if errors.Is(err, plugin.ErrAuthExpired) {
			return "", fmt.Errorf("token rejected right after login: %w", err)
		}
		return "", err
	}

	if user := info.String(systemInfoUserName); user != "" && info.Bool(systemInfoIsLogin) {
		return fmt.Sprintf("Connected to CloudDrive2 as %s", user), nil
	}
	return "Connected to CloudDrive2", nil
}
