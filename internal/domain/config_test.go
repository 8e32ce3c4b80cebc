// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		cfg := &Config{Port: 7480, SettingsPath: "/config/settings.yaml"}

		require.NoError(t, cfg.Validate())
	})

	t.Run("fails on bad port", func(t *testing.T) {
		cfg := &Config{Port: 0, SettingsPath: "settings.yaml"}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid port")
	})

	t.Run("checks metrics port only when enabled", func(t *testing.T) {
		cfg := &Config{Port: 7480, SettingsPath: "settings.yaml", MetricsPort: -1}
		require.NoError(t, cfg.Validate())

		cfg.MetricsEnabled = true
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metricsPort")
	})

	t.Run("fails without settings path", func(t *testing.T) {
		cfg := &Config{Port: 7480}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "settingsPath")
	})

	t.Run("fails on invalid status entry", func(t *testing.T) {
		cfg := &Config{Port: 7480, SettingsPath: "settings.yaml", StatusAllowedCIDRs: []string{"nope"}}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid statusAllowedCIDRs entry")
	})
}

func TestParseStatusAllowedCIDRs(t *testing.T) {
	cfg := &Config{
		StatusAllowedCIDRs: []string{
			"192.168.1.0/24",
			" ",
			"10.0.0.5",
			"::1",
			"172.16.5.9/12",
		},
	}

	prefixes, err := cfg.ParseStatusAllowedCIDRs()
	require.NoError(t, err)
	require.Len(t, prefixes, 4)
	assert.Equal(t, "192.168.1.0/24", prefixes[0].String())
	assert.Equal(t, "10.0.0.5/32", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())
	assert.Equal(t, "172.16.0.0/12", prefixes[3].String())
}

func TestRequestTimeoutDuration(t *testing.T) {
	assert.Equal(t, 10*time.Second, (&Config{}).RequestTimeoutDuration())
	assert.Equal(t, 3*time.Second, (&Config{RequestTimeout: 3}).RequestTimeoutDuration())
}

func TestPollInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		secs int
		want time.Duration
	}{
		{name: "zero uses default", secs: 0, want: 15 * time.Second},
		{name: "below minimum is clamped", secs: 2, want: 5 * time.Second},
		{name: "negative is clamped", secs: -4, want: 5 * time.Second},
		{name: "minimum is kept", secs: 5, want: 5 * time.Second},
		{name: "large value is kept", secs: 120, want: 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := MediaServerInstance{PollIntervalSecs: tt.secs}
			assert.Equal(t, tt.want, m.PollInterval())
		})
	}
}

func TestCompositeID(t *testing.T) {
	t.Parallel()

	a := PlaybackSession{ServerID: "plex-a", SessionID: "42"}
	b := PlaybackSession{ServerID: "plex-b", SessionID: "42"}

	assert.Equal(t, "plex-a:42", a.CompositeID())
	assert.NotEqual(t, a.CompositeID(), b.CompositeID())
}

func TestSpeedLimitsComparable(t *testing.T) {
	t.Parallel()

	a := SpeedLimits{Download: Percent(50), Upload: Unsupported()}
	b := SpeedLimits{Download: Percent(50), Upload: Unsupported()}
	c := SpeedLimits{Download: KiBps(50), Upload: Unsupported()}

	assert.True(t, a == b)
	assert.False(t, a == c)
	assert.True(t, KiBps(0).Unlimited())
	assert.True(t, Percent(100).Unlimited())
	assert.False(t, Unsupported().Supported())
	assert.Equal(t, "down 50% / up n/a", a.String())
}

func TestSettingsLookups(t *testing.T) {
	t.Parallel()

	s := Settings{
		MediaServers: []MediaServerInstance{{ID: "a", Enabled: true}, {ID: "b"}},
		Downloaders:  []DownloaderInstance{{ID: "x", Enabled: false}, {ID: "y", Enabled: true}},
	}

	_, ok := s.MediaServer("b")
	assert.False(t, ok, "disabled media server must not resolve")

	d, ok := s.Downloader("x")
	require.True(t, ok)
	assert.Equal(t, "x", d.ID)

	assert.Len(t, s.EnabledMediaServers(), 1)
	assert.Len(t, s.EnabledDownloaders(), 1)

	require.ErrorIs(t, MediaServerInstance{ID: "a"}.Validate(), ErrInvalidInstance)
	require.ErrorIs(t, DownloaderInstance{ID: "x", Type: DownloaderSabnzbd}.Validate(), ErrInvalidInstance)
}
