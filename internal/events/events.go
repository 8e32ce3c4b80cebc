// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package events records the user-facing activity log.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/metrics/collector"
)

type Category string

const (
	CategoryScheduler      Category = "SCHEDULER"
	CategoryPlayStatus     Category = "PLAY_STATUS"
	CategorySpeedChange    Category = "SPEED_CHANGE"
	CategorySpeedError     Category = "SPEED_ERROR"
	CategorySkipLimit      Category = "SKIP_LIMIT"
	CategoryPluginError    Category = "PLUGIN_ERROR"
	CategoryConfig         Category = "CONFIG"
	CategoryTestConnection Category = "TEST_CONNECTION"
)

// DefaultCapacity is the number of events kept in memory.
const DefaultCapacity = 500

// Sink receives activity events.
type Sink interface {
	Log(category Category, msg string)
	Logf(category Category, format string, args ...any)
}

type Event struct {
	Time     time.Time `json:"timestamp"`
	Category Category  `json:"type"`
	Message  string    `json:"message"`
}

// Recorder writes events to the global logger, counts them and keeps the most
// recent ones in a fixed-size ring.
type Recorder struct {
	mu      sync.RWMutex
	ring    []Event
	next    int
	full    bool
	metrics *collector.ActivityCollector
	now     func() time.Time
}

// NewRecorder creates a Recorder. A capacity below one uses DefaultCapacity and
// metrics may be nil.
func NewRecorder(capacity int, metrics *collector.ActivityCollector) *Recorder {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		ring:    make([]Event, capacity),
		metrics: metrics,
		now:     time.Now,
	}
}

func (r *Recorder) Log(category Category, msg string) {
	ev := Event{Time: r.now(), Category: category, Message: msg}

	levelFor(category).
		Str("category", string(category)).
		Msg(msg)

	r.metrics.ObserveEvent(string(category))

	r.mu.Lock()
	r.ring[r.next] = ev
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func (r *Recorder) Logf(category Category, format string, args ...any) {
	r.Log(category, fmt.Sprintf(format, args...))
}

// Recent returns up to limit events, newest first. A limit of zero or less
// returns everything retained.
func (r *Recorder) Recent(limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Event, 0, limit)
	idx := r.next
	for range limit {
		idx = (idx - 1 + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

func levelFor(category Category) *zerolog.Event {
	switch category {
	case CategorySpeedError, CategoryPluginError:
		return log.Warn()
	case CategorySkipLimit:
		return log.Debug()
	default:
		return log.Info()
	}
}

type discard struct{}

func (discard) Log(Category, string)         {}
func (discard) Logf(Category, string, ...any) {}

// Discard drops every event.
var Discard Sink = discard{}
