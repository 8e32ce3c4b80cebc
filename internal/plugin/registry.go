// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package plugin

import (
	"fmt"
	"slices"

	"github.com/autobrr/autolimit/internal/domain"
)

type SourceFactory func(instance domain.MediaServerInstance, deps Deps) (Source, error)

type SinkFactory func(instance domain.DownloaderInstance, deps Deps) (Sink, error)

// Semantics describes how a download client type interprets limits.
type Semantics struct {
	Unit            domain.Unit
	UploadSupported bool
}

type sinkEntry struct {
	factory   SinkFactory
	semantics Semantics
}

// Registry maps instance types to their factories.
type Registry struct {
	sources map[domain.MediaServerType]SourceFactory
	sinks   map[domain.DownloaderType]sinkEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.MediaServerType]SourceFactory),
		sinks:   make(map[domain.DownloaderType]sinkEntry),
	}
}

func (r *Registry) RegisterSource(t domain.MediaServerType, factory SourceFactory) {
	r.sources[t] = factory
}

func (r *Registry) RegisterSink(t domain.DownloaderType, semantics Semantics, factory SinkFactory) {
	r.sinks[t] = sinkEntry{factory: factory, semantics: semantics}
}

func (r *Registry) NewSource(instance domain.MediaServerInstance, deps Deps) (Source, error) {
	factory, ok := r.sources[instance.Type]
	if !ok {
		return nil, fmt.Errorf("media server %s: %w %q", instance.ID, ErrUnknownType, instance.Type)
	}
	if err := instance.Validate(); err != nil {
		return nil, err
	}
	return factory(instance, deps)
}

func (r *Registry) NewSink(instance domain.DownloaderInstance, deps Deps) (Sink, error) {
	entry, ok := r.sinks[instance.Type]
	if !ok {
		return nil, fmt.Errorf("downloader %s: %w %q", instance.ID, ErrUnknownType, instance.Type)
	}
	if err := instance.Validate(); err != nil {
		return nil, err
	}
	return entry.factory(instance, deps)
}

func (r *Registry) Semantics(t domain.DownloaderType) (Semantics, error) {
	entry, ok := r.sinks[t]
	if !ok {
		return Semantics{}, fmt.Errorf("%w %q", ErrUnknownType, t)
	}
	return entry.semantics, nil
}

// SourceTypes lists the registered media server types in sorted order.
func (r *Registry) SourceTypes() []domain.MediaServerType {
	out := make([]domain.MediaServerType, 0, len(r.sources))
	for t := range r.sources {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// SinkTypes lists the registered download client types in sorted order.
func (r *Registry) SinkTypes() []domain.DownloaderType {
	out := make([]domain.DownloaderType, 0, len(r.sinks))
	for t := range r.sinks {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
