// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, body)
	})
}

func TestNegotiateAlgorithm(t *testing.T) {
	tests := []struct {
		header string
		want   CompressionAlgorithm
	}{
		{"", AlgorithmNone},
		{"identity", AlgorithmNone},
		{"gzip", AlgorithmGzip},
		{"gzip, deflate, br, zstd", AlgorithmZstd},
		{"zstd;q=0, gzip;q=0.5", AlgorithmGzip},
		{"deflate", AlgorithmDeflate},
		{"*", AlgorithmZstd},
		{"*;q=0.1, zstd;q=0", AlgorithmGzip},
		{"GZIP", AlgorithmGzip},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, negotiateAlgorithm(tt.header))
		})
	}
}

func TestSelectiveCompress(t *testing.T) {
	large := `{"sessions":"` + strings.Repeat("a", 4096) + `"}`

	t.Run("gzip above threshold", func(t *testing.T) {
		handler := SelectiveCompress(1024, 5)(jsonHandler(large))

		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
		assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))

		zr, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		got, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, large, string(got))
	})

	t.Run("zstd above threshold", func(t *testing.T) {
		handler := SelectiveCompress(1024, 3)(jsonHandler(large))

		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.Header.Set("Accept-Encoding", "zstd, gzip")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))

		dec, err := zstd.NewReader(rec.Body)
		require.NoError(t, err)
		defer dec.Close()
		got, err := io.ReadAll(dec)
		require.NoError(t, err)
		assert.Equal(t, large, string(got))
	})

	t.Run("small responses pass through", func(t *testing.T) {
		handler := SelectiveCompress(1024, 5)(jsonHandler(`{"status":"ok"}`))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("binary content is not compressed", func(t *testing.T) {
		handler := SelectiveCompress(16, 5)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, 64, rec.Body.Len())
	})

	t.Run("status code survives buffering", func(t *testing.T) {
		handler := SelectiveCompress(1024, 5)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"not found"}`)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, `{"error":"not found"}`, rec.Body.String())
	})
}
