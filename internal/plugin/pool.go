// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package plugin

import (
	"context"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/domain"
)

type pooledSource struct {
	fingerprint uint64
	source      Source
}

type pooledSink struct {
	fingerprint uint64
	sink        Sink
}

// Pool caches adapters per instance id so HTTP sessions and auth tokens
// survive between polls. An entry is rebuilt when its configuration changes.
type Pool struct {
	registry *Registry
	deps     Deps

	mu      sync.Mutex
	sources map[string]pooledSource
	sinks   map[string]pooledSink
}

func NewPool(registry *Registry, deps Deps) *Pool {
	return &Pool{
		registry: registry,
		deps:     deps,
		sources:  make(map[string]pooledSource),
		sinks:    make(map[string]pooledSink),
	}
}

func (p *Pool) Registry() *Registry {
	return p.registry
}

// Source returns the cached adapter for instance or builds a new one.
func (p *Pool) Source(instance domain.MediaServerInstance) (Source, error) {
	fp := sourceFingerprint(instance)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.sources[instance.ID]; ok && cached.fingerprint == fp {
		return cached.source, nil
	}

	src, err := p.registry.NewSource(instance, p.deps)
	if err != nil {
		return nil, err
	}
	p.sources[instance.ID] = pooledSource{fingerprint: fp, source: src}

	log.Debug().
		Str("serverID", instance.ID).
		Str("type", string(instance.Type)).
		Msg("Media server adapter created")

	return src, nil
}

// Sink returns the cached adapter for instance or builds a new one.
func (p *Pool) Sink(instance domain.DownloaderInstance) (Sink, error) {
	fp := SinkFingerprint(instance)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.sinks[instance.ID]; ok && cached.fingerprint == fp {
		return cached.sink, nil
	}

	sink, err := p.registry.NewSink(instance, p.deps)
	if err != nil {
		return nil, err
	}
	p.sinks[instance.ID] = pooledSink{fingerprint: fp, sink: sink}

	log.Debug().
		Str("downloaderID", instance.ID).
		Str("type", string(instance.Type)).
		Msg("Download client adapter created")

	return sink, nil
}

// Prune drops adapters for instances no longer present in settings.
func (p *Pool) Prune(settings domain.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.sources {
		if !hasMediaServer(settings, id) {
			delete(p.sources, id)
		}
	}
	for id := range p.sinks {
		if _, ok := settings.Downloader(id); !ok {
			delete(p.sinks, id)
		}
	}
}

func hasMediaServer(settings domain.Settings, id string) bool {
	for _, m := range settings.MediaServers {
		if m.ID == id {
			return true
		}
	}
	return false
}

func sourceFingerprint(m domain.MediaServerInstance) uint64 {
	d := xxhash.New()
	for _, s := range []string{string(m.Type), m.URL, m.APIKey, m.Token} {
		_, _ = d.WriteString(s)
		_, _ = d.WriteString("\x00")
	}
	return d.Sum64()
}

// SinkFingerprint identifies the download client an instance record points at.
// It leaves out SavedToken since the adapter updates it itself.
func SinkFingerprint(dl domain.DownloaderInstance) uint64 {
	d := xxhash.New()
	for _, s := range []string{
		string(dl.Type), dl.URL, dl.Username, dl.Password, dl.APIKey,
		strconv.FormatInt(dl.MaxBandwidthKB, 10),
	} {
		_, _ = d.WriteString(s)
		_, _ = d.WriteString("\x00")
	}
	return d.Sum64()
}

// TestMediaServer checks an instance record that may not be saved yet. The
// adapter is built fresh and never cached.
func (p *Pool) TestMediaServer(ctx context.Context, instance domain.MediaServerInstance) (string, error) {
	src, err := p.registry.NewSource(instance, p.deps.withoutTokens())
	if err != nil {
		return "", err
	}
	return src.TestConnection(ctx)
}

// TestDownloader checks a download client record that may not be saved yet.
// Tokens obtained during the check are not persisted.
func (p *Pool) TestDownloader(ctx context.Context, instance domain.DownloaderInstance) (string, error) {
	sink, err := p.registry.NewSink(instance, p.deps.withoutTokens())
	if err != nil {
		return "", err
	}
	return sink.TestConnection(ctx)
}
