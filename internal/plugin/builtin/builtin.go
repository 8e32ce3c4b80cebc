// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package builtin registers every adapter shipped with autolimit.
package builtin

import (
	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/downloader/clouddrive2"
	"github.com/autobrr/autolimit/internal/downloader/sabnzbd"
	"github.com/autobrr/autolimit/internal/downloader/transmission"
	"github.com/autobrr/autolimit/internal/mediaserver/emby"
	"github.com/autobrr/autolimit/internal/mediaserver/plex"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/qbittorrent"
)

func Registry() *plugin.Registry {
	r := plugin.NewRegistry()

	r.RegisterSource(domain.MediaServerPlex, plex.NewSource)
	r.RegisterSource(domain.MediaServerEmby, emby.NewSource)
	r.RegisterSource(domain.MediaServerJellyfin, emby.NewSource)

	absolute := plugin.Semantics{Unit: domain.UnitKiBps, UploadSupported: true}
	r.RegisterSink(domain.DownloaderQbittorrent, absolute, qbittorrent.NewSink)
	r.RegisterSink(domain.DownloaderTransmission, absolute, transmission.NewSink)
	r.RegisterSink(domain.DownloaderCloudDrive2, absolute, clouddrive2.NewSink)
	r.RegisterSink(domain.DownloaderSabnzbd, plugin.Semantics{Unit: domain.UnitPercent}, sabnzbd.NewSink)

	return r
}
