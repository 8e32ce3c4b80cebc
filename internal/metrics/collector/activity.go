// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ActivityCollector counts what the governor does. All methods are safe on a
// nil receiver so callers can run without metrics.
type ActivityCollector struct {
	EventsTotal *prometheus.CounterVec
	PollsTotal  *prometheus.CounterVec
	ApplyTotal  *prometheus.CounterVec
}

func NewActivityCollector(r prometheus.Registerer) *ActivityCollector {
	m := &ActivityCollector{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autolimit",
			Name:      "events_total",
			Help:      "Total number of logged events by category",
		}, []string{"category"}),
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autolimit",
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Total number of media server polls by result",
		}, []string{"server_id", "server_name", "result"}),
		ApplyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autolimit",
			Subsystem: "governor",
			Name:      "apply_total",
			Help:      "Total number of speed limit applications by result",
		}, []string{"downloader_id", "downloader_name", "result"}),
	}

	r.MustRegister(m.EventsTotal)
	r.MustRegister(m.PollsTotal)
	r.MustRegister(m.ApplyTotal)
	return m
}

func (m *ActivityCollector) ObserveEvent(category string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(category).Inc()
}

func (m *ActivityCollector) ObservePoll(serverID, serverName, result string) {
	if m == nil {
		return
	}
	m.PollsTotal.With(prometheus.Labels{
		"server_id":   serverID,
		"server_name": serverName,
		"result":      result,
	}).Inc()
}

func (m *ActivityCollector) ObserveApply(downloaderID, downloaderName, result string) {
	if m == nil {
		return
	}
	m.ApplyTotal.With(prometheus.Labels{
		"downloader_id":   downloaderID,
		"downloader_name": downloaderName,
		"result":          result,
	}).Inc()
}
