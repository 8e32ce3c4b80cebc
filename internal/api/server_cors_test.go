// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preflight(headers string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	if headers != "" {
		req.Header.Set("Access-Control-Request-Headers", headers)
	}
	return req
}

func TestCORSPreflight(t *testing.T) {
	router := routerFor(t, newTestDependencies(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, preflight(""))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSAllowsXRequestedWithHeader(t *testing.T) {
	router := routerFor(t, newTestDependencies(t))

	// browsers send this header in lowercase
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, preflight("x-requested-with"))

	require.Equal(t, http.StatusNoContent, rec.Code)

	// rs/cors echoes back allowed headers (normalized to lowercase)
	allowedHeaders := strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers"))
	require.Contains(t, allowedHeaders, "x-requested-with")
}

func TestCORSDisabledWithoutOrigins(t *testing.T) {
	deps := newTestDependencies(t)
	deps.Config.Config.CORSAllowedOrigins = nil
	router := routerFor(t, deps)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
