// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// PlaybackSession is a playing (not paused) session reported by a media server.
type PlaybackSession struct {
	ServerID         string `json:"serverId"`
	ServerName       string `json:"source_server"`
	SessionID        string `json:"sessionId"`
	UserName         string `json:"user_name"`
	ItemName         string `json:"item_name"`
	ClientIP         string `json:"client_ip,omitempty"`
	DeviceName       string `json:"device_name,omitempty"`
	MediaBitrateKbps int64  `json:"media_bitrate,omitempty"`
}

// CompositeID is unique across servers because server ids are unique.
func (s PlaybackSession) CompositeID() string {
	return CompositeSessionID(s.ServerID, s.SessionID)
}

// CompositeSessionID joins a server id and a native session id.
func CompositeSessionID(serverID, sessionID string) string {
	return serverID + ":" + sessionID
}

// SpeedKind tells callers what a NetworkSpeeds value measures.
type SpeedKind string

const (
	// SpeedKindBandwidth is measured transfer throughput in KB/s.
	SpeedKindBandwidth SpeedKind = "bandwidth"
	// SpeedKindBitrate is the encoded media bitrate in Kbps, not observed throughput.
	SpeedKindBitrate SpeedKind = "bitrate"
)

type SessionSpeed struct {
	UserName         string  `json:"user_name"`
	ItemName         string  `json:"item_name"`
	DeviceName       string  `json:"device_name,omitempty"`
	Rate             float64 `json:"bitrate"`
	MediaBitrateKbps int64   `json:"media_bitrate,omitempty"`
	Transcoding      bool    `json:"is_transcoding"`
	Estimated        bool    `json:"is_estimated"`
}

// NetworkSpeeds is a best-effort snapshot of what a media server is streaming.
type NetworkSpeeds struct {
	Kind     SpeedKind      `json:"kind"`
	Total    float64        `json:"total_bitrate"`
	Sessions []SessionSpeed `json:"sessions"`
}

// TransferSpeeds reports what a download client is currently moving, in KB/s.
type TransferSpeeds struct {
	Download     float64 `json:"download_speed"`
	Upload       float64 `json:"upload_speed"`
	LimitPercent *int    `json:"current_limit_percentage,omitempty"`
}
