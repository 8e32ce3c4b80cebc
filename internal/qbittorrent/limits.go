// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"

	"github.com/autobrr/autolimit/internal/domain"
)

// bytesPerSecond converts a KiB/s rate into the byte based value the Web API
// expects. Zero lifts the limit.
func bytesPerSecond(r domain.Rate) int64 {
	if r.Unlimited() {
		return 0
	}
	return r.Value * 1024
}

func (c *Client) SetSpeedLimits(ctx context.Context, limits domain.SpeedLimits) error {
	if err := c.ensureLogin(ctx); err != nil {
		return err
	}

	if err := c.api.SetGlobalDownloadLimitCtx(ctx, bytesPerSecond(limits.Download)); err != nil {
		c.InvalidateToken()
		return fmt.Errorf("set qBittorrent download limit: %w", err)
	}

	if limits.Upload.Supported() {
		if err := c.api.SetGlobalUploadLimitCtx(ctx, bytesPerSecond(limits.Upload)); err != nil {
			c.InvalidateToken()
			return fmt.Errorf("set qBittorrent upload limit: %w", err)
		}
	}

	return nil
}

// CurrentSpeeds reads the global transfer rates in KB/s.
func (c *Client) CurrentSpeeds(ctx context.Context) (*domain.TransferSpeeds, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	info, err := c.api.GetTransferInfoCtx(ctx)
	if err != nil {
		c.InvalidateToken()
		return nil, fmt.Errorf("get qBittorrent transfer info: %w", err)
	}

	return &domain.TransferSpeeds{
		Download: float64(info.DlInfoSpeed) / 1024,
		Upload:   float64(info.UpInfoSpeed) / 1024,
	}, nil
}

func (c *Client) TestConnection(ctx context.Context) (string, error) {
	if err := c.Login(ctx); err != nil {
		return "", err
	}

	info, err := c.AppInfo(ctx)
	if err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Connected to qBittorrent %s (Web API %s)", info.Version, info.WebAPIVersion)
	if !supportedVersion(info.WebAPIVersion) {
		msg += fmt.Sprintf(", Web API %s or newer is recommended", minWebAPIVersion)
	}
	return msg, nil
}
