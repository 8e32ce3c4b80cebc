// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Set at link time with -ldflags "-X github.com/autobrr/autolimit/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent is sent with every outbound request.
var UserAgent string

func init() {
	UserAgent = fmt.Sprintf("autolimit/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String renders the build metadata for the version command.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\n", Version, Commit, Date)
}

func JSON() ([]byte, error) {
	return json.Marshal(struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Date    string `json:"date"`
		GoOS    string `json:"goos"`
		GoArch  string `json:"goarch"`
	}{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
		GoOS:    runtime.GOOS,
		GoArch:  runtime.GOARCH,
	})
}
