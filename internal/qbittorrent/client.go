// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent applies global speed limits to a qBittorrent instance.
package qbittorrent

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
)

// minWebAPIVersion is the first Web API exposing the transfer endpoints used here.
var minWebAPIVersion = semver.MustParse("2.0.0")

type Client struct {
	api          *qbt.Client
	downloaderID string
	host         string

	mu            sync.RWMutex
	loggedIn      bool
	webAPIVersion string
	appInfoMu     sync.RWMutex
	appInfo       *AppInfo
	appInfoAt     time.Time
}

// filteredWriter wraps stderr to filter out HTTP "unsolicited response" errors.
//
// qBittorrent occasionally sends extra HTTP responses after the main request completes,
// which causes Go's HTTP client to log "Unsolicited response received on idle HTTP channel"
// errors to stderr. The go-qbittorrent library doesn't expose its HTTP client, so these
// are filtered at the standard library log level.
type filteredWriter struct {
	writer io.Writer
}

func (fw *filteredWriter) Write(p []byte) (n int, err error) {
	if strings.Contains(string(p), "Unsolicited response received on idle HTTP channel") {
		return len(p), nil
	}
	return fw.writer.Write(p)
}

func init() {
	stdlog.SetOutput(&filteredWriter{writer: os.Stderr})
}

// New builds a client without contacting the instance. The first request logs in.
func New(instance domain.DownloaderInstance, deps plugin.Deps) (*Client, error) {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cfg := qbt.Config{
		Host:     strings.TrimRight(instance.URL, "/"),
		Username: instance.Username,
		Password: instance.Password,
		Timeout:  int(timeout.Seconds()),
	}

	return &Client{
		api:          qbt.NewClient(cfg),
		downloaderID: instance.ID,
		host:         cfg.Host,
	}, nil
}

// NewSink adapts New to the plugin registry.
func NewSink(instance domain.DownloaderInstance, deps plugin.Deps) (plugin.Sink, error) {
	return New(instance, deps)
}

// Login authenticates and refreshes the cached Web API version.
func (c *Client) Login(ctx context.Context) error {
	if err := c.api.LoginCtx(ctx); err != nil {
		return fmt.Errorf("login to qBittorrent at %s: %w", c.host, err)
	}

	webAPIVersion, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		webAPIVersion = ""
	}

	c.mu.Lock()
	c.loggedIn = true
	c.webAPIVersion = strings.TrimSpace(webAPIVersion)
	c.mu.Unlock()

	log.Debug().
		Str("downloaderID", c.downloaderID).
		Str("host", c.host).
		Str("webAPIVersion", webAPIVersion).
		Msg("qBittorrent login succeeded")

	return nil
}

// InvalidateToken forces a fresh login on the next request.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
}

func (c *Client) ensureLogin(ctx context.Context) error {
	c.mu.RLock()
	loggedIn := c.loggedIn
	c.mu.RUnlock()
	if loggedIn {
		return nil
	}
	return c.Login(ctx)
}

// WebAPIVersion returns the version seen at the last login, empty when unknown.
func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

// supportedVersion reports whether version is at least minWebAPIVersion.
// Unparseable versions are assumed supported.
func supportedVersion(version string) bool {
	if version == "" {
		return true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return true
	}
	return !v.LessThan(minWebAPIVersion)
}
