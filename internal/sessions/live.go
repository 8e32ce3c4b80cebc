// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sessions

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/plugin"
)

// SourceResolver hands out media server adapters.
type SourceResolver interface {
	Source(instance domain.MediaServerInstance) (plugin.Source, error)
}

// ServerError ties a failure to the server it came from.
type ServerError struct {
	ServerID string
	Err      error
}

func (e ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.ServerID, e.Err)
}

func (e ServerError) Unwrap() error { return e.Err }

// Live fetches playing sessions from every server concurrently without
// touching shared state. Sessions keep the order of servers; servers that
// fail are reported separately.
func Live(ctx context.Context, servers []domain.MediaServerInstance, resolver SourceResolver) ([]domain.PlaybackSession, []ServerError) {
	results := make([][]domain.PlaybackSession, len(servers))
	errs := make([]error, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	for i, server := range servers {
		g.Go(func() error {
			src, err := resolver.Source(server)
			if err != nil {
				errs[i] = err
				return nil
			}
			playing, err := src.ActiveSessions(gctx)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = Annotate(server, playing)
			return nil
		})
	}
	_ = g.Wait()

	var (
		out      []domain.PlaybackSession
		failures []ServerError
	)
	for i, server := range servers {
		if errs[i] != nil {
			failures = append(failures, ServerError{ServerID: server.ID, Err: errs[i]})
			continue
		}
		out = append(out, results[i]...)
	}
	return out, failures
}
