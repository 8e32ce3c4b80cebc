// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsServer(t *testing.T) {
	t.Parallel()

	manager := NewManager()

	tests := []struct {
		name             string
		host             string
		port             int
		basicAuthUsers   string
		expectedAddr     string
		expectedAuthSize int
	}{
		{
			name:         "default config",
			host:         "127.0.0.1",
			port:         9074,
			expectedAddr: "127.0.0.1:9074",
		},
		{
			name:             "multiple users with whitespace",
			host:             "0.0.0.0",
			port:             9191,
			basicAuthUsers:   " user1:pass1 , user2:pass2 ",
			expectedAddr:     "0.0.0.0:9191",
			expectedAuthSize: 2,
		},
		{
			name:             "malformed entries skipped",
			host:             "localhost",
			port:             9074,
			basicAuthUsers:   "user1:pass1,invalidentry,:nouser,user2:pa:ss",
			expectedAddr:     "localhost:9074",
			expectedAuthSize: 2,
		},
		{
			name:         "ipv6 host",
			host:         "::1",
			port:         9074,
			expectedAddr: "[::1]:9074",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := NewMetricsServer(manager, tt.host, tt.port, tt.basicAuthUsers)

			require.NotNil(t, server)
			assert.Equal(t, tt.expectedAddr, server.server.Addr)
			assert.Len(t, server.basicAuthUsers, tt.expectedAuthSize)
			assert.Same(t, manager, server.manager)
		})
	}

	t.Run("password may contain colons", func(t *testing.T) {
		t.Parallel()

		server := NewMetricsServer(manager, "localhost", 9074, "user2:pa:ss")
		assert.Equal(t, "pa:ss", server.basicAuthUsers["user2"])
	})
}

func TestMetricsServerEndpoint(t *testing.T) {
	t.Parallel()

	manager := NewManager()
	manager.Activity().ObserveEvent("SPEED_CHANGE")

	server := NewMetricsServer(manager, "localhost", 9074, "")

	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, `autolimit_events_total{category="SPEED_CHANGE"} 1`)

	rec = httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsServerBasicAuth(t *testing.T) {
	t.Parallel()

	server := NewMetricsServer(NewManager(), "localhost", 9074, "admin:secret")

	tests := []struct {
		name         string
		user         string
		pass         string
		expectedCode int
	}{
		{name: "without credentials", expectedCode: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "wrong", expectedCode: http.StatusUnauthorized},
		{name: "unknown user", user: "root", pass: "secret", expectedCode: http.StatusUnauthorized},
		{name: "correct credentials", user: "admin", pass: "secret", expectedCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()

			server.server.Handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedCode, rec.Code)
			if tt.expectedCode == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="metrics"`, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestMetricsServerShutdown(t *testing.T) {
	server := NewMetricsServer(NewManager(), "127.0.0.1", 0, "")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	// Give it a moment to start
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.NoError(t, server.Stop(), "stopping twice is harmless")
}
