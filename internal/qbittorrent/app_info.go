// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const appInfoCacheTTL = 5 * time.Minute

// AppInfo captures the qBittorrent application metadata exposed via the API.
type AppInfo struct {
	Version       string `json:"version"`
	WebAPIVersion string `json:"webAPIVersion,omitempty"`
	Libtorrent    string `json:"libtorrent,omitempty"`
}

// AppInfo returns cached application metadata, refreshing it when stale.
func (c *Client) AppInfo(ctx context.Context) (*AppInfo, error) {
	c.appInfoMu.RLock()
	if c.appInfo != nil && time.Since(c.appInfoAt) < appInfoCacheTTL {
		cached := *c.appInfo
		c.appInfoMu.RUnlock()
		return &cached, nil
	}
	c.appInfoMu.RUnlock()

	return c.refreshAppInfo(ctx)
}

func (c *Client) refreshAppInfo(ctx context.Context) (*AppInfo, error) {
	version, err := c.api.GetAppVersionCtx(ctx)
	if err != nil {
		return nil, fmt.Errorf("get app version: %w", err)
	}

	webAPIVersion, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return nil, fmt.Errorf("get web API version: %w", err)
	}
	webAPIVersion = strings.TrimSpace(webAPIVersion)
	if webAPIVersion == "" {
		return nil, errors.New("web API version is empty")
	}

	info := &AppInfo{
		Version:       strings.TrimSpace(version),
		WebAPIVersion: webAPIVersion,
	}

	// build info is optional on older releases
	if buildInfo, err := c.api.GetBuildInfoCtx(ctx); err == nil {
		info.Libtorrent = buildInfo.Libtorrent
	}

	c.mu.Lock()
	c.webAPIVersion = webAPIVersion
	c.mu.Unlock()

	c.appInfoMu.Lock()
	c.appInfo = info
	c.appInfoAt = time.Now()
	c.appInfoMu.Unlock()

	cached := *info
	return &cached, nil
}
