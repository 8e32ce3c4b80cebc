// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package governor decides and applies download client speed limits from the
// shared active session count.
package governor

import (
	"context"
	"errors"
	"sync"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/events"
	"github.com/autobrr/autolimit/internal/metrics/collector"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/state"
)

// SinkResolver hands out download client adapters.
type SinkResolver interface {
	Sink(instance domain.DownloaderInstance) (plugin.Sink, error)
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

type Result struct {
	DownloaderID string
	Limits       domain.SpeedLimits
	Outcome      Outcome
	Err          error
}

// Report lists one result per enabled downloader in configuration order.
type Report struct {
	Results []Result
}

// Applied counts downloaders whose limits were changed.
func (r Report) Applied() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeApplied {
			n++
		}
	}
	return n
}

type Governor struct {
	state    *state.State
	registry *plugin.Registry
	sinks    SinkResolver
	events   events.Sink
	metrics  *collector.ActivityCollector

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// endpoints holds the connection fingerprint each downloader was last seen with.
	endpointsMu sync.Mutex
	endpoints   map[string]uint64
}

func New(st *state.State, registry *plugin.Registry, sinks SinkResolver, sink events.Sink, metrics *collector.ActivityCollector) *Governor {
	if sink == nil {
		sink = events.Discard
	}
	return &Governor{
		state:    st,
		registry: registry,
		sinks:    sinks,
		events:   sink,
		metrics:  metrics,
		locks:    make(map[string]*sync.Mutex),

		endpoints: make(map[string]uint64),
	}
}

// ComputeTargets returns the limits every enabled downloader should have for
// the current active session count. Downloaders of unknown type are left out.
func (g *Governor) ComputeTargets(settings domain.Settings) map[string]domain.SpeedLimits {
	active := g.state.ActiveCount() > 0
	targets := make(map[string]domain.SpeedLimits)
	for _, d := range settings.EnabledDownloaders() {
		limits, err := g.target(d, active)
		if err != nil {
			continue
		}
		targets[d.ID] = limits
	}
	return targets
}

func (g *Governor) target(d domain.DownloaderInstance, active bool) (domain.SpeedLimits, error) {
	sem, err := g.registry.Semantics(d.Type)
	if err != nil {
		return domain.SpeedLimits{}, err
	}
	return Targets(d, sem, active), nil
}

// Targets picks backup limits while anything is playing and default limits
// otherwise, translated into the client's units.
func Targets(d domain.DownloaderInstance, sem plugin.Semantics, active bool) domain.SpeedLimits {
	down, up := d.DefaultDownloadLimit, d.DefaultUploadLimit
	if active {
		down, up = d.BackupDownloadLimit, d.BackupUploadLimit
	}

	limits := domain.SpeedLimits{
		Download: translate(down, sem.Unit),
		Upload:   domain.Unsupported(),
	}
	if sem.UploadSupported {
		limits.Upload = translate(up, sem.Unit)
	}
	return limits
}

func translate(v int64, unit domain.Unit) domain.Rate {
	switch unit {
	case domain.UnitPercent:
		if v <= 0 || v > 100 {
			v = 100
		}
		return domain.Percent(v)
	case domain.UnitKiBps:
		return domain.KiBps(max(v, 0))
	default:
		return domain.Unsupported()
	}
}

// Apply pushes targets to every enabled downloader that has one. Downloaders
// run concurrently; calls for the same downloader are serialized.
func (g *Governor) Apply(ctx context.Context, settings domain.Settings, targets map[string]domain.SpeedLimits) Report {
	return g.run(ctx, settings, func(d domain.DownloaderInstance) (domain.SpeedLimits, bool) {
		limits, ok := targets[d.ID]
		return limits, ok
	})
}

// Reconcile computes and applies targets. Each target is computed after the
// downloader's lock is taken so a late caller never overwrites newer state
// with a stale decision.
func (g *Governor) Reconcile(ctx context.Context, settings domain.Settings) Report {
	return g.run(ctx, settings, func(d domain.DownloaderInstance) (domain.SpeedLimits, bool) {
		limits, err := g.target(d, g.state.ActiveCount() > 0)
		if err != nil {
			g.events.Logf(events.CategoryPluginError, "%s: %v", d.DisplayName(), err)
			return domain.SpeedLimits{}, false
		}
		return limits, true
	})
}

func (g *Governor) run(ctx context.Context, settings domain.Settings, pick func(domain.DownloaderInstance) (domain.SpeedLimits, bool)) Report {
	downloaders := settings.EnabledDownloaders()
	results := make([]Result, len(downloaders))

	var eg errgroup.Group
	for i, d := range downloaders {
		eg.Go(func() error {
			results[i] = g.applyOne(ctx, d, pick)
			return nil
		})
	}
	_ = eg.Wait()

	return Report{Results: results}
}

func (g *Governor) lockFor(id string) *sync.Mutex {
	g.locksMu.Lock()
	defer g.locksMu.Unlock()

	mu, ok := g.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		g.locks[id] = mu
	}
	return mu
}

func (g *Governor) applyOne(ctx context.Context, d domain.DownloaderInstance, pick func(domain.DownloaderInstance) (domain.SpeedLimits, bool)) Result {
	mu := g.lockFor(d.ID)
	mu.Lock()
	defer mu.Unlock()

	res := Result{DownloaderID: d.ID}

	target, ok := pick(d)
	if !ok {
		res.Outcome = OutcomeSkipped
		return res
	}
	res.Limits = target

	endpoint := plugin.SinkFingerprint(d)
	if g.endpointChanged(d.ID, endpoint) {
		log.Debug().Str("downloaderID", d.ID).Msg("Download client connection changed, forgetting applied limits")
		g.state.ForgetApplied(d.ID)
	}

	if last, ok := g.state.LastApplied(d.ID); ok && last == target {
		res.Outcome = OutcomeUnchanged
		return res
	}

	sink, err := g.sinks.Sink(d)
	if err != nil {
		g.events.Logf(events.CategoryPluginError, "%s: %v", d.DisplayName(), err)
		g.metrics.ObserveApply(d.ID, d.DisplayName(), string(OutcomeSkipped))
		res.Outcome = OutcomeSkipped
		res.Err = err
		return res
	}

	if err := setWithReauth(ctx, sink, target); err != nil {
		g.events.Logf(events.CategorySpeedError, "Failed to set %s to %s: %v", d.DisplayName(), target, err)
		g.metrics.ObserveApply(d.ID, d.DisplayName(), string(OutcomeFailed))
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	g.state.RecordApplied(d.ID, target)
	g.events.Logf(events.CategorySpeedChange, "%s set to %s", d.DisplayName(), target)
	g.metrics.ObserveApply(d.ID, d.DisplayName(), string(OutcomeApplied))

	res.Outcome = OutcomeApplied
	return res
}

// endpointChanged records endpoint for id and reports whether it differs from
// the previous one. The first sighting counts as unchanged.
func (g *Governor) endpointChanged(id string, endpoint uint64) bool {
	g.endpointsMu.Lock()
	defer g.endpointsMu.Unlock()

	prev, ok := g.endpoints[id]
	g.endpoints[id] = endpoint
	return ok && prev != endpoint
}

// setWithReauth calls SetSpeedLimits and, when the first attempt fails with an
// expired login on a sink that can log in, logs in once and tries again.
func setWithReauth(ctx context.Context, sink plugin.Sink, target domain.SpeedLimits) error {
	auth, canLogin := sink.(plugin.Authenticator)

	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			if attempt > 1 {
				log.Debug().Msg("Login expired, authenticating again before retry")
				if err := auth.Login(ctx); err != nil {
					return err
				}
			}
			return sink.SetSpeedLimits(ctx, target)
		},
		retry.Attempts(2),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return canLogin && errors.Is(err, plugin.ErrAuthExpired)
		}),
	)
}
