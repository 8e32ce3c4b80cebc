// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package state holds the mutable view shared by the polling tasks.
package state

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autolimit/internal/domain"
)

const (
	// SkipLogInterval throttles skip notices per user.
	SkipLogInterval = 5 * time.Minute
	// StatusLogInterval is the minimum gap between status notices that report
	// an unchanged session count.
	StatusLogInterval = 30 * time.Second
)

// State is safe for concurrent use. Every read and write happens under one lock.
type State struct {
	mu sync.Mutex

	active      map[string]struct{}
	lastApplied map[string]domain.SpeedLimits
	skipLogged  map[string]time.Time

	lastStatusCount int
	lastStatusAt    time.Time
}

func New() *State {
	return &State{
		active:          make(map[string]struct{}),
		lastApplied:     make(map[string]domain.SpeedLimits),
		skipLogged:      make(map[string]time.Time),
		lastStatusCount: -1,
	}
}

// MergeServer replaces everything serverID contributed to the active set with
// ids. It reports whether that contribution changed and the new total.
func (s *State) MergeServer(serverID string, ids []string) (changed bool, total int) {
	prefix := serverID + ":"

	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := make(map[string]struct{})
	for id := range s.active {
		if strings.HasPrefix(id, prefix) {
			prev[id] = struct{}{}
			delete(s.active, id)
		}
	}
	for id := range next {
		s.active[id] = struct{}{}
	}

	return !maps.Equal(prev, next), len(s.active)
}

func (s *State) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// ActiveIDs returns the composite session ids in sorted order.
func (s *State) ActiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.active))
}

func (s *State) LastApplied(downloaderID string) (domain.SpeedLimits, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limits, ok := s.lastApplied[downloaderID]
	return limits, ok
}

// RecordApplied must only be called after the download client confirmed the change.
func (s *State) RecordApplied(downloaderID string, limits domain.SpeedLimits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastApplied[downloaderID] = limits
}

func (s *State) ForgetApplied(downloaderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastApplied, downloaderID)
}

func (s *State) AppliedLimits() map[string]domain.SpeedLimits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.lastApplied)
}

// ShouldLogSkip reports whether a skip notice for user is due and, if so,
// records it as sent.
func (s *State) ShouldLogSkip(user string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.skipLogged[user]; ok && now.Sub(last) < SkipLogInterval {
		return false
	}
	s.skipLogged[user] = now
	return true
}

// ShouldLogStatus is consulted after the active set changed. A notice is due
// when the count differs from the last notice or the last one is old enough.
func (s *State) ShouldLogStatus(count int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count == s.lastStatusCount && now.Sub(s.lastStatusAt) < StatusLogInterval {
		return false
	}
	s.lastStatusCount = count
	s.lastStatusAt = now
	return true
}

// ResetSessions clears sessions and log throttles but keeps applied limits.
func (s *State) ResetSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.active)
	clear(s.skipLogged)
	s.lastStatusCount = -1
	s.lastStatusAt = time.Time{}
}

// Reset clears everything including applied limits.
func (s *State) Reset() {
	s.ResetSessions()

	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.lastApplied)
}
