// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package events

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/autolimit/internal/metrics/collector"
)

func TestRecorderRecent(t *testing.T) {
	t.Parallel()

	r := NewRecorder(3, nil)
	assert.Empty(t, r.Recent(0))

	r.Log(CategoryScheduler, "one")
	r.Log(CategoryPlayStatus, "two")

	got := r.Recent(0)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Message)
	assert.Equal(t, CategoryPlayStatus, got[0].Category)
	assert.Equal(t, "one", got[1].Message)
}

func TestRecorderWrapsAround(t *testing.T) {
	t.Parallel()

	r := NewRecorder(3, nil)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		r.Log(CategoryConfig, msg)
	}

	got := r.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{got[0].Message, got[1].Message, got[2].Message})

	limited := r.Recent(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "e", limited[0].Message)
	assert.Equal(t, "d", limited[1].Message)
}

func TestRecorderLogf(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecorder(0, nil)
	r.now = func() time.Time { return fixed }

	r.Logf(CategorySpeedChange, "%s set to %d KiB/s", "qb", 1024)

	got := r.Recent(1)
	require.Len(t, got, 1)
	assert.Equal(t, "qb set to 1024 KiB/s", got[0].Message)
	assert.Equal(t, fixed, got[0].Time)
	assert.Len(t, r.ring, DefaultCapacity)
}

func TestRecorderCountsCategories(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := collector.NewActivityCollector(reg)
	r := NewRecorder(10, metrics)

	r.Log(CategorySpeedError, "boom")
	r.Log(CategorySpeedError, "boom again")
	r.Log(CategorySkipLimit, "skipped")

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.EventsTotal.WithLabelValues(string(CategorySpeedError))), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.EventsTotal.WithLabelValues(string(CategorySkipLimit))), 0)
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		Discard.Log(CategoryConfig, "ignored")
		Discard.Logf(CategoryConfig, "ignored %d", 1)
	})
}
