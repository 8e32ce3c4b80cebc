// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler polls every enabled media server on its own interval and
// asks the governor to reconcile limits after each successful poll.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/events"
	"github.com/autobrr/autolimit/internal/governor"
	"github.com/autobrr/autolimit/internal/metrics/collector"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/sessions"
	"github.com/autobrr/autolimit/internal/state"
	"github.com/autobrr/autolimit/pkg/debounce"
)

// DefaultRestartDelay coalesces bursts of configuration writes.
const DefaultRestartDelay = 2 * time.Second

type SettingsProvider interface {
	Settings() domain.Settings
}

type SourceResolver interface {
	Source(instance domain.MediaServerInstance) (plugin.Source, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, settings domain.Settings) governor.Report
}

// Status is a point in time view of the scheduler.
type Status struct {
	ActiveSessions int      `json:"active_sessions"`
	Sessions       []string `json:"sessions"`
	Running        bool     `json:"running"`
}

type Deps struct {
	Settings SettingsProvider
	Sources  SourceResolver
	State    *state.State
	Governor Reconciler
	Events   events.Sink
	Metrics  *collector.ActivityCollector

	// RestartDelay debounces RequestRestart. Zero uses DefaultRestartDelay.
	RestartDelay time.Duration
}

type Scheduler struct {
	settings   SettingsProvider
	sources    SourceResolver
	state      *state.State
	governor   Reconciler
	aggregator *sessions.Aggregator
	events     events.Sink
	metrics    *collector.ActivityCollector
	restarts   *debounce.Debouncer
	now        func() time.Time
	intervalOf func(domain.MediaServerInstance) time.Duration

	mu      sync.Mutex
	running bool
	parent  context.Context
	cancel  context.CancelFunc
	tasks   sync.WaitGroup
}

func New(deps Deps) *Scheduler {
	sink := deps.Events
	if sink == nil {
		sink = events.Discard
	}
	delay := deps.RestartDelay
	if delay <= 0 {
		delay = DefaultRestartDelay
	}

	return &Scheduler{
		settings:   deps.Settings,
		sources:    deps.Sources,
		state:      deps.State,
		governor:   deps.Governor,
		aggregator: sessions.NewAggregator(deps.State, sink),
		events:     sink,
		metrics:    deps.Metrics,
		restarts:   debounce.New(delay),
		now:        time.Now,
		intervalOf: domain.MediaServerInstance.PollInterval,
	}
}

// Start launches one polling task per enabled media server. Each task polls
// for the first time after one interval. Starting twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.parent = ctx
	s.cancel = cancel
	s.running = true

	settings := s.settings.Settings()
	servers := settings.EnabledMediaServers()
	for _, server := range servers {
		interval := s.intervalOf(server)
		s.events.Logf(events.CategoryScheduler, "Polling %s every %s", server.DisplayName(), interval)

		s.tasks.Add(1)
		go s.run(runCtx, server.ID, interval)
	}

	s.events.Logf(events.CategoryScheduler, "Scheduler started with %d media server(s)", len(servers))
}

// Stop cancels every task, waits for them to exit and clears all state.
func (s *Scheduler) Stop() {
	if s.stopTasks() {
		s.state.Reset()
		s.events.Log(events.CategoryScheduler, "Scheduler stopped")
	}
}

// Restart picks up configuration changes. The active session set is rebuilt
// from scratch while the last applied limits survive, so unchanged targets
// are not re-sent.
func (s *Scheduler) Restart(ctx context.Context) {
	s.stopTasks()
	s.state.ResetSessions()
	s.events.Log(events.CategoryScheduler, "Scheduler restarting")
	s.Start(ctx)
}

// RequestRestart schedules a debounced Restart using the context Start was
// given. It does nothing while the scheduler is stopped.
func (s *Scheduler) RequestRestart() {
	s.restarts.Do(func() {
		s.mu.Lock()
		running, parent := s.running, s.parent
		s.mu.Unlock()

		if !running || parent.Err() != nil {
			return
		}
		s.Restart(parent)
	})
}

// Close flushes a pending restart request and stops the scheduler.
func (s *Scheduler) Close() {
	s.restarts.Stop()
	s.Stop()
}

func (s *Scheduler) stopTasks() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.tasks.Wait()
	return true
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) Snapshot() Status {
	ids := s.state.ActiveIDs()
	return Status{
		ActiveSessions: len(ids),
		Sessions:       ids,
		Running:        s.Running(),
	}
}

func (s *Scheduler) run(ctx context.Context, serverID string, interval time.Duration) {
	defer s.tasks.Done()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, ok := s.tick(ctx, serverID)
		if !ok {
			return
		}
		timer.Reset(next)
	}
}

// tick polls one server once. It returns the delay until the next poll, or
// false when the task should end.
func (s *Scheduler) tick(ctx context.Context, serverID string) (time.Duration, bool) {
	settings := s.settings.Settings()

	server, ok := settings.MediaServer(serverID)
	if !ok {
		s.events.Logf(events.CategoryScheduler, "Stopped polling %s, it was disabled or removed", serverID)
		if changed, total := s.state.MergeServer(serverID, nil); changed {
			s.afterChange(ctx, settings, total)
		}
		return 0, false
	}
	interval := s.intervalOf(server)

	src, err := s.sources.Source(server)
	if err != nil {
		s.events.Logf(events.CategoryPluginError, "Failed to load %s plugin for %s: %v", server.Type, server.DisplayName(), err)
		s.metrics.ObservePoll(server.ID, server.DisplayName(), "error")
		return interval, true
	}

	res, err := s.aggregator.Poll(ctx, server, src)
	if ctx.Err() != nil {
		return 0, false
	}
	if err != nil {
		log.Warn().Err(err).Str("serverID", server.ID).Msg("Media server poll failed")
		s.events.Logf(events.CategoryPluginError, "Failed to poll %s: %v", server.DisplayName(), err)
		s.metrics.ObservePoll(server.ID, server.DisplayName(), "error")
		return interval, true
	}
	s.metrics.ObservePoll(server.ID, server.DisplayName(), "ok")

	if res.Changed {
		s.logStatus(res.Total)
	}
	// Reconcile on every poll: failed applies are retried and unchanged
	// targets cost no network calls.
	s.reconcile(ctx, settings, res.Total)
	return interval, true
}

func (s *Scheduler) afterChange(ctx context.Context, settings domain.Settings, total int) {
	s.logStatus(total)
	s.reconcile(ctx, settings, total)
}

func (s *Scheduler) logStatus(total int) {
	if !s.state.ShouldLogStatus(total, s.now()) {
		return
	}
	if total > 0 {
		s.events.Logf(events.CategoryPlayStatus, "%d active playback session(s)", total)
	} else {
		s.events.Log(events.CategoryPlayStatus, "All playback stopped")
	}
}

func (s *Scheduler) reconcile(ctx context.Context, settings domain.Settings, total int) {
	report := s.governor.Reconcile(ctx, settings)
	if applied := report.Applied(); applied > 0 {
		log.Debug().Int("active", total).Int("applied", applied).Msg("Reconciled download client limits")
	}
}
