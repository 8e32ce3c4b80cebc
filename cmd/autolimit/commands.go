// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/autobrr/autolimit/internal/buildinfo"
	"github.com/autobrr/autolimit/internal/config"
	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/plugin/builtin"
	"github.com/autobrr/autolimit/internal/sessions"
)

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !asJSON {
				cmd.Print(buildinfo.String())
				return nil
			}
			out, err := buildinfo.JSON()
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// offline holds what one-shot commands need without starting the scheduler.
type offline struct {
	settings domain.Settings
	pool     *plugin.Pool
}

func loadOffline(configPath string) (*offline, error) {
	cfg, err := config.New(configPath)
	if err != nil {
		return nil, err
	}

	store, err := config.NewStore(cfg.Config.SettingsPath)
	if err != nil {
		return nil, err
	}

	return &offline{
		settings: store.Settings(),
		pool: plugin.NewPool(builtin.Registry(), plugin.Deps{
			Timeout: cfg.Config.RequestTimeoutDuration(),
			Tokens:  store,
		}),
	}, nil
}

func RunTestConnectionCommand(configPath *string) *cobra.Command {
	var kind, id string

	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that a configured media server or download client is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				return errors.New("--id is required")
			}

			env, err := loadOffline(*configPath)
			if err != nil {
				return err
			}

			var (
				name    string
				message string
			)
			switch strings.ToLower(kind) {
			case "media":
				instance, ok := findMediaServer(env.settings, id)
				if !ok {
					return fmt.Errorf("media server %s not found", id)
				}
				name = instance.DisplayName()
				message, err = env.pool.TestMediaServer(cmd.Context(), instance)
			case "downloader":
				instance, ok := findDownloader(env.settings, id)
				if !ok {
					return fmt.Errorf("downloader %s not found", id)
				}
				name = instance.DisplayName()
				message, err = env.pool.TestDownloader(cmd.Context(), instance)
			default:
				return errors.New("--kind must be media or downloader")
			}

			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			cmd.Printf("%s: %s\n", name, message)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "media", "Instance kind: media or downloader")
	cmd.Flags().StringVar(&id, "id", "", "Instance id")
	return cmd
}

func RunStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Poll every enabled media server once and print what is playing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadOffline(*configPath)
			if err != nil {
				return err
			}

			servers := env.settings.EnabledMediaServers()
			playing, failures := sessions.Live(cmd.Context(), servers, env.pool)

			cmd.Printf("Media servers: %d\n", len(servers))
			cmd.Printf("Playing sessions: %d\n", len(playing))
			for _, s := range playing {
				cmd.Printf("  - [%s] %s: %s", s.ServerName, s.UserName, s.ItemName)
				if s.ClientIP != "" {
					cmd.Printf(" (%s)", s.ClientIP)
				}
				cmd.Println()
			}
			for _, f := range failures {
				cmd.Printf("Error: %v\n", f)
			}
			return nil
		},
	}
}

// Lookups include disabled instances so they can be checked before enabling.
func findMediaServer(settings domain.Settings, id string) (domain.MediaServerInstance, bool) {
	for _, m := range settings.MediaServers {
		if m.ID == id {
			return m, true
		}
	}
	return domain.MediaServerInstance{}, false
}

func findDownloader(settings domain.Settings, id string) (domain.DownloaderInstance, bool) {
	for _, d := range settings.Downloaders {
		if d.ID == id {
			return d, true
		}
	}
	return domain.DownloaderInstance{}, false
}
