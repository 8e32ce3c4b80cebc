// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sessions turns media server polls into the shared active session set.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/events"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/skiprule"
	"github.com/autobrr/autolimit/internal/state"
)

// Result summarises one poll of one server.
type Result struct {
	// Changed is true when the server's contribution to the active set changed.
	Changed bool
	// Total is the size of the active set across all servers after the merge.
	Total int
	// Visible counts every playing session the server reported.
	Visible int
	Skipped int
	// Active counts the sessions this server contributes.
	Active   int
	Sessions []domain.PlaybackSession
}

type Aggregator struct {
	state  *state.State
	events events.Sink
	now    func() time.Time
}

func NewAggregator(st *state.State, sink events.Sink) *Aggregator {
	if sink == nil {
		sink = events.Discard
	}
	return &Aggregator{state: st, events: sink, now: time.Now}
}

// Poll fetches the sessions of server and merges the non-skipped ones into the
// shared state. On error, or when ctx is cancelled while fetching, the state
// is left untouched.
func (a *Aggregator) Poll(ctx context.Context, server domain.MediaServerInstance, src plugin.Source) (Result, error) {
	playing, err := src.ActiveSessions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch sessions from %s: %w", server.DisplayName(), err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	annotated := Annotate(server, playing)

	res := Result{Visible: len(annotated), Sessions: annotated}
	ids := make([]string, 0, len(annotated))
	for _, s := range annotated {
		skip, reason := skiprule.Evaluate(s, server)
		if skip {
			res.Skipped++
			a.reportSkip(s, reason)
			continue
		}
		ids = append(ids, s.CompositeID())
	}

	res.Changed, res.Total = a.state.MergeServer(server.ID, ids)
	res.Active = len(ids)

	log.Trace().
		Str("serverID", server.ID).
		Int("visible", res.Visible).
		Int("skipped", res.Skipped).
		Int("total", res.Total).
		Bool("changed", res.Changed).
		Msg("Merged media server sessions")

	return res, nil
}

func (a *Aggregator) reportSkip(s domain.PlaybackSession, reason skiprule.Reason) {
	if !a.state.ShouldLogSkip(s.UserName, a.now()) {
		return
	}
	a.events.Logf(events.CategorySkipLimit, "Not limiting for %s on %s (%s, %s)",
		s.UserName, s.ServerName, s.ClientIP, reason)
}

// Annotate stamps each session with the server it came from.
func Annotate(server domain.MediaServerInstance, playing []domain.PlaybackSession) []domain.PlaybackSession {
	out := make([]domain.PlaybackSession, len(playing))
	for i, s := range playing {
		s.ServerID = server.ID
		s.ServerName = server.DisplayName()
		out[i] = s
	}
	return out
}
