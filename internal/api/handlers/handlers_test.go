// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/autolimit/internal/config"
	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/internal/events"
	"github.com/autobrr/autolimit/internal/plugin"
	"github.com/autobrr/autolimit/internal/scheduler"
)

type fakeScheduler struct {
	mu       sync.Mutex
	status   scheduler.Status
	restarts int
	requests int
}

func (f *fakeScheduler) Snapshot() scheduler.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeScheduler) Restart(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() == nil {
		f.restarts++
		f.status.Running = true
	}
}

func (f *fakeScheduler) RequestRestart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
}

type fakeLimits map[string]domain.SpeedLimits

func (f fakeLimits) AppliedLimits() map[string]domain.SpeedLimits { return f }

type fakeSource struct {
	playing []domain.PlaybackSession
	network *domain.NetworkSpeeds
	err     error
}

func (f *fakeSource) ActiveSessions(context.Context) ([]domain.PlaybackSession, error) {
	return f.playing, f.err
}

func (f *fakeSource) TestConnection(context.Context) (string, error) { return "ok", nil }

func (f *fakeSource) NetworkSpeeds(context.Context) (*domain.NetworkSpeeds, error) {
	return f.network, f.err
}

type plainSink struct{}

func (plainSink) SetSpeedLimits(context.Context, domain.SpeedLimits) error { return nil }
func (plainSink) TestConnection(context.Context) (string, error)           { return "ok", nil }

type probeSink struct {
	plainSink
	speeds *domain.TransferSpeeds
}

func (p probeSink) CurrentSpeeds(context.Context) (*domain.TransferSpeeds, error) {
	return p.speeds, nil
}

type fakeAdapters struct {
	mu      sync.Mutex
	sources map[string]plugin.Source
	sinks   map[string]plugin.Sink
	tested  []string
	testErr error
}

func (f *fakeAdapters) Source(instance domain.MediaServerInstance) (plugin.Source, error) {
	if src, ok := f.sources[instance.ID]; ok {
		return src, nil
	}
	return nil, plugin.ErrUnknownType
}

func (f *fakeAdapters) Sink(instance domain.DownloaderInstance) (plugin.Sink, error) {
	if sink, ok := f.sinks[instance.ID]; ok {
		return sink, nil
	}
	return nil, plugin.ErrUnknownType
}

func (f *fakeAdapters) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tested = append(f.tested, name)
}

func (f *fakeAdapters) TestMediaServer(_ context.Context, instance domain.MediaServerInstance) (string, error) {
	f.record(instance.ID + "/" + instance.Token)
	if f.testErr != nil {
		return "", f.testErr
	}
	return "Connected to " + instance.DisplayName(), nil
}

func (f *fakeAdapters) TestDownloader(_ context.Context, instance domain.DownloaderInstance) (string, error) {
	f.record(instance.ID + "/" + instance.Password)
	if f.testErr != nil {
		return "", f.testErr
	}
	return "Connected to " + instance.DisplayName(), nil
}

func newTestStore(t *testing.T) *config.Store {
	t.Helper()

	store, err := config.NewStore(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	_, err = store.SaveSettings(domain.Settings{
		MediaServers: []domain.MediaServerInstance{
			{ID: "plex-1", Name: "Plex", Type: domain.MediaServerPlex, URL: "http://plex:32400", Token: "plex-token", Enabled: true},
			{ID: "emby-1", Name: "Emby", Type: domain.MediaServerEmby, URL: "http://emby:8096", APIKey: "emby-key", Enabled: false},
		},
		Downloaders: []domain.DownloaderInstance{
			{ID: "qb-1", Name: "qBit", Type: domain.DownloaderQbittorrent, URL: "http://qb:8080", Username: "admin", Password: "secret", Enabled: true},
			{ID: "sab-1", Name: "SAB", Type: domain.DownloaderSabnzbd, URL: "http://sab:8080", APIKey: "sab-key", Enabled: true},
		},
	})
	require.NoError(t, err)
	return store
}

func serve(t *testing.T, register func(chi.Router), method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := chi.NewRouter()
	r.Route("/api", register)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// keepLogger restores the global logger replaced when log settings change.
func keepLogger(t *testing.T) {
	t.Helper()
	prev, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(level)
	})
}

func TestStatusHandler(t *testing.T) {
	store := newTestStore(t)
	sched := &fakeScheduler{status: scheduler.Status{ActiveSessions: 1, Sessions: []string{"plex-1:abc"}, Running: true}}
	limits := fakeLimits{
		"qb-1":  {Download: domain.KiBps(500), Upload: domain.KiBps(0)},
		"sab-1": {Download: domain.Percent(40), Upload: domain.Unsupported()},
	}
	h := NewStatusHandler(sched, limits, store, nil)

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[StatusResponse](t, rec)
	assert.True(t, resp.Running)
	assert.Equal(t, 1, resp.ActiveSessions)
	assert.Equal(t, []string{"plex-1:abc"}, resp.Sessions)
	require.Len(t, resp.AppliedLimits, 2)

	assert.Equal(t, "SAB", resp.AppliedLimits[0].DownloaderName)
	assert.Equal(t, &RateView{Value: 40, Unit: "%"}, resp.AppliedLimits[0].Download)
	assert.Nil(t, resp.AppliedLimits[0].Upload, "unsupported direction is left out")

	assert.Equal(t, "qBit", resp.AppliedLimits[1].DownloaderName)
	assert.Equal(t, &RateView{Value: 500, Unit: "KiB/s"}, resp.AppliedLimits[1].Download)
	assert.Equal(t, &RateView{Value: 0, Unit: "KiB/s", Unlimited: true}, resp.AppliedLimits[1].Upload)
}

func TestStatusHandlerEmptySessions(t *testing.T) {
	h := NewStatusHandler(&fakeScheduler{}, fakeLimits{}, newTestStore(t), nil)

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":[]`)
	assert.Contains(t, rec.Body.String(), `"applied_limits":[]`)
}

func TestRestartScheduler(t *testing.T) {
	sched := &fakeScheduler{}
	recorder := events.NewRecorder(10, nil)
	h := NewStatusHandler(sched, fakeLimits{}, newTestStore(t), recorder)

	rec := serve(t, h.RegisterRoutes, http.MethodPost, "/api/scheduler/restart", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, sched.restarts)
	assert.Equal(t, map[string]bool{"running": true}, decode[map[string]bool](t, rec))

	recent := recorder.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, events.CategoryScheduler, recent[0].Category)
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)
	adapters := &fakeAdapters{sources: map[string]plugin.Source{
		"plex-1": &fakeSource{playing: []domain.PlaybackSession{
			{ServerID: "plex-1", SessionID: "abc", UserName: "alice", ItemName: "Movie"},
		}},
	}}
	h := NewSessionsHandler(store, adapters)

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[SessionsResponse](t, rec)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "Plex", resp.Sessions[0].ServerName)
	assert.Equal(t, "alice", resp.Sessions[0].UserName)
	assert.Empty(t, resp.Errors, "disabled servers are not queried")
}

func TestListSessionsReportsFailures(t *testing.T) {
	adapters := &fakeAdapters{sources: map[string]plugin.Source{
		"plex-1": &fakeSource{err: errors.New("connection refused")},
	}}
	h := NewSessionsHandler(newTestStore(t), adapters)

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	resp := decode[SessionsResponse](t, rec)
	assert.Empty(t, resp.Sessions)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "plex-1", resp.Errors[0].ServerID)
	assert.Contains(t, resp.Errors[0].Error, "connection refused")
	assert.Contains(t, body, `"sessions":[]`)
}

func TestGetSpeeds(t *testing.T) {
	adapters := &fakeAdapters{
		sources: map[string]plugin.Source{
			"plex-1": &fakeSource{network: &domain.NetworkSpeeds{Kind: domain.SpeedKindBandwidth, Total: 1200}},
		},
		sinks: map[string]plugin.Sink{
			"qb-1":  probeSink{speeds: &domain.TransferSpeeds{Download: 2048, Upload: 128}},
			"sab-1": plainSink{},
		},
	}
	h := NewSessionsHandler(newTestStore(t), adapters)

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/speeds", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[SpeedsResponse](t, rec)
	require.Len(t, resp.Downloaders, 2)
	require.Len(t, resp.MediaServers, 1)

	assert.Equal(t, "qb-1", resp.Downloaders[0].ID)
	assert.True(t, resp.Downloaders[0].Supported)
	require.NotNil(t, resp.Downloaders[0].Speeds)
	assert.InDelta(t, 2048, resp.Downloaders[0].Speeds.Download, 0.001)

	assert.Equal(t, "sab-1", resp.Downloaders[1].ID)
	assert.False(t, resp.Downloaders[1].Supported)
	assert.Nil(t, resp.Downloaders[1].Speeds)

	assert.True(t, resp.MediaServers[0].Supported)
	require.NotNil(t, resp.MediaServers[0].Network)
	assert.Equal(t, domain.SpeedKindBandwidth, resp.MediaServers[0].Network.Kind)
}

func TestListEvents(t *testing.T) {
	recorder := events.NewRecorder(10, nil)
	for _, msg := range []string{"one", "two", "three"} {
		recorder.Log(events.CategoryConfig, msg)
	}
	h := NewEventsHandler(recorder)

	t.Run("default limit", func(t *testing.T) {
		rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/events", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[EventsResponse](t, rec)
		require.Len(t, resp.Events, 3)
		assert.Equal(t, "three", resp.Events[0].Message)
	})

	t.Run("explicit limit", func(t *testing.T) {
		rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/events?limit=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[EventsResponse](t, rec).Events, 2)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/events?limit=-1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTestConnection(t *testing.T) {
	tests := []struct {
		name       string
		body       TestConnectionRequest
		testErr    error
		wantStatus int
		wantOK     bool
		wantTested string
	}{
		{
			name:       "stored downloader by id",
			body:       TestConnectionRequest{Kind: KindDownloader, ID: "qb-1"},
			wantStatus: http.StatusOK,
			wantOK:     true,
			wantTested: "qb-1/secret",
		},
		{
			name:       "disabled media server by id",
			body:       TestConnectionRequest{Kind: KindMediaServer, ID: "emby-1"},
			wantStatus: http.StatusOK,
			wantOK:     true,
			wantTested: "emby-1/",
		},
		{
			name: "edited record keeps stored secret",
			body: TestConnectionRequest{Kind: KindMediaServer, MediaServer: &domain.MediaServerInstance{
				ID: "plex-1", Type: domain.MediaServerPlex, URL: "http://plex2:32400", Token: domain.RedactedStr,
			}},
			wantStatus: http.StatusOK,
			wantOK:     true,
			wantTested: "plex-1/plex-token",
		},
		{
			name: "unsaved record",
			body: TestConnectionRequest{Kind: KindDownloader, Downloader: &domain.DownloaderInstance{
				Type: domain.DownloaderTransmission, URL: "http://tr:9091", Password: "pw",
			}},
			wantStatus: http.StatusOK,
			wantOK:     true,
			wantTested: unsavedInstanceID + "/pw",
		},
		{
			name:       "adapter failure",
			body:       TestConnectionRequest{Kind: KindDownloader, ID: "qb-1"},
			testErr:    errors.New("login failed"),
			wantStatus: http.StatusOK,
			wantTested: "qb-1/secret",
		},
		{
			name:       "unknown id",
			body:       TestConnectionRequest{Kind: KindDownloader, ID: "missing"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "nothing to test",
			body:       TestConnectionRequest{Kind: KindMediaServer},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad kind",
			body:       TestConnectionRequest{Kind: "ftp", ID: "qb-1"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapters := &fakeAdapters{testErr: tt.testErr}
			recorder := events.NewRecorder(10, nil)
			h := NewTestConnectionHandler(newTestStore(t), adapters, recorder)

			rec := serve(t, h.RegisterRoutes, http.MethodPost, "/api/test-connection", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Empty(t, adapters.tested)
				return
			}

			resp := decode[TestConnectionResponse](t, rec)
			assert.Equal(t, tt.wantOK, resp.Success)
			assert.Equal(t, []string{tt.wantTested}, adapters.tested)
			if tt.testErr != nil {
				assert.Equal(t, tt.testErr.Error(), resp.Message)
			}

			recent := recorder.Recent(1)
			require.Len(t, recent, 1)
			assert.Equal(t, events.CategoryTestConnection, recent[0].Category)
		})
	}
}

func TestTestConnectionRejectsInvalidBody(t *testing.T) {
	h := NewTestConnectionHandler(newTestStore(t), &fakeAdapters{}, nil)

	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/test-connection", strings.NewReader("{")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsHandler(t *testing.T) {
	store := newTestStore(t)
	sched := &fakeScheduler{}
	recorder := events.NewRecorder(10, nil)
	h := NewSettingsHandler(store, sched, recorder)

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.NotContains(t, rec.Body.String(), "plex-token")

	got := decode[domain.Settings](t, rec)
	require.Len(t, got.Downloaders, 2)
	assert.Equal(t, domain.RedactedStr, got.Downloaders[0].Password)

	got.Downloaders[0].Name = "qBittorrent"
	rec = serve(t, h.RegisterRoutes, http.MethodPut, "/api/settings", got)
	require.Equal(t, http.StatusOK, rec.Code)

	saved := store.Settings()
	assert.Equal(t, "qBittorrent", saved.Downloaders[0].Name)
	assert.Equal(t, "secret", saved.Downloaders[0].Password, "redacted placeholder keeps stored secret")
	assert.Equal(t, 1, sched.requests)

	recent := recorder.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, events.CategoryConfig, recent[0].Category)
}

func TestSettingsHandlerRejectsInvalidInstance(t *testing.T) {
	store := newTestStore(t)
	sched := &fakeScheduler{}
	h := NewSettingsHandler(store, sched, nil)

	invalid := domain.Settings{Downloaders: []domain.DownloaderInstance{{ID: "x", Type: domain.DownloaderQbittorrent}}}
	rec := serve(t, h.RegisterRoutes, http.MethodPut, "/api/settings", invalid)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "no url")
	assert.Zero(t, sched.requests)
	assert.Len(t, store.Settings().Downloaders, 2)
}

func TestConfigHandler(t *testing.T) {
	keepLogger(t)

	cfg, err := config.New(t.TempDir())
	require.NoError(t, err)
	h := NewConfigHandler(cfg)

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ConfigResponse](t, rec)
	assert.Equal(t, 7480, resp.Port)
	assert.Equal(t, "INFO", resp.LogLevel)

	rec = serve(t, h.RegisterRoutes, http.MethodPatch, "/api/config", map[string]any{"log_level": "debug", "log_max_backups": 7})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "DEBUG", cfg.Config.LogLevel)
	assert.Equal(t, 7, cfg.Config.LogMaxBackups)

	rec = serve(t, h.RegisterRoutes, http.MethodPatch, "/api/config", map[string]any{"log_level": "verbose"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DEBUG", cfg.Config.LogLevel)
}

func TestParseLimitQuery(t *testing.T) {
	tests := []struct {
		query  string
		want   int
		wantOK bool
	}{
		{"", 100, true},
		{"?limit=5", 5, true},
		{"?limit=9999", 500, true},
		{"?limit=0", 0, false},
		{"?limit=abc", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			got, ok := ParseLimitQuery(rec, httptest.NewRequest(http.MethodGet, "/"+tt.query, nil), "limit", 100, 500)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			if !ok {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			}
		})
	}
}

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusCreated, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"hello"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	RespondError(rec, http.StatusBadRequest, "bad request")
	assert.JSONEq(t, `{"error":"bad request"}`, rec.Body.String())
}
