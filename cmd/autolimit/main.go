// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "autolimit",
		Short:        "Throttle download clients while media is playing",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml or the directory holding it")

	cmd.AddCommand(
		RunServeCommand(&configPath),
		RunVersionCommand(),
		RunTestConnectionCommand(&configPath),
		RunStatusCommand(&configPath),
	)
	return cmd
}
