// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuild(t *testing.T, version, commit, date string) {
	t.Helper()
	prevVersion, prevCommit, prevDate := Version, Commit, Date
	Version, Commit, Date = version, commit, date
	t.Cleanup(func() {
		Version, Commit, Date = prevVersion, prevCommit, prevDate
	})
}

func TestVersionOutput(t *testing.T) {
	withBuild(t, "v0.4.1", "9f1c2ab", "2026-03-02T10:00:00Z")

	lines := strings.Split(strings.TrimSuffix(String(), "\n"), "\n")
	assert.Equal(t, []string{
		"Version: v0.4.1",
		"Commit: 9f1c2ab",
		"Build date: 2026-03-02T10:00:00Z",
	}, lines)

	raw, err := JSON()
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]string{
		"version": "v0.4.1",
		"commit":  "9f1c2ab",
		"date":    "2026-03-02T10:00:00Z",
		"goos":    runtime.GOOS,
		"goarch":  runtime.GOARCH,
	}, got)
}

func TestUserAgent(t *testing.T) {
	// computed once at init from the link-time version
	assert.True(t, strings.HasPrefix(UserAgent, "autolimit/"), UserAgent)
	assert.Contains(t, UserAgent, runtime.GOOS+" "+runtime.GOARCH)
}
