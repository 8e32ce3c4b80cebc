// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package plugin defines the contracts between the governor and the media
// servers and download clients it talks to.
package plugin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/autobrr/autolimit/internal/buildinfo"
	"github.com/autobrr/autolimit/internal/domain"
)

var (
	// ErrAuthExpired marks a request rejected because the cached credentials
	// are no longer valid. The caller may log in again and retry once.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrUnknownType is returned for instance types nothing is registered for.
	ErrUnknownType = errors.New("unknown instance type")
)

// Source reports what a media server is currently playing.
type Source interface {
	// ActiveSessions returns playing sessions only; paused ones are left out.
	ActiveSessions(ctx context.Context) ([]domain.PlaybackSession, error)
	TestConnection(ctx context.Context) (string, error)
}

// NetworkReporter is implemented by sources that can describe their current
// streaming load.
type NetworkReporter interface {
	NetworkSpeeds(ctx context.Context) (*domain.NetworkSpeeds, error)
}

// Sink applies speed limits to a download client.
type Sink interface {
	// SetSpeedLimits applies both directions. A KiBps value of zero lifts the
	// limit and an unsupported upload is ignored.
	SetSpeedLimits(ctx context.Context, limits domain.SpeedLimits) error
	TestConnection(ctx context.Context) (string, error)
}

// SpeedProbe is implemented by sinks that can report their current throughput.
type SpeedProbe interface {
	CurrentSpeeds(ctx context.Context) (*domain.TransferSpeeds, error)
}

// Authenticator is implemented by token based sinks.
type Authenticator interface {
	Login(ctx context.Context) error
	InvalidateToken()
}

// TokenStore persists auth tokens between runs. An empty token clears it.
type TokenStore interface {
	SaveToken(downloaderID, token string) error
}

const defaultTimeout = 10 * time.Second

// sharedTransport enables connection pooling across clients.
var sharedTransport = func() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 50
	t.MaxIdleConnsPerHost = 4
	t.IdleConnTimeout = 90 * time.Second
	return t
}()

// Deps carries what adapters need from the host process.
type Deps struct {
	Timeout   time.Duration
	Transport http.RoundTripper
	Tokens    TokenStore
}

// HTTPClient returns a client with the configured timeout on the shared transport.
func (d Deps) HTTPClient() *http.Client {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := d.Transport
	if transport == nil {
		transport = sharedTransport
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// UserAgent is sent by every adapter that controls its own requests.
func UserAgent() string {
	return buildinfo.UserAgent
}

func (d Deps) withoutTokens() Deps {
	d.Tokens = nil
	return d
}

// SaveToken forwards to the token store when one is configured.
func (d Deps) SaveToken(downloaderID, token string) error {
	if d.Tokens == nil {
		return nil
	}
	return d.Tokens.SaveToken(downloaderID, token)
}
