// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Re-exported so the router only imports this package.
var (
	RequestID       = chimiddleware.RequestID
	ThrottleBacklog = chimiddleware.ThrottleBacklog
)

// Logger writes one access log line per request and turns panics into 500s.
func Logger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Str("type", "error").
						Timestamp().
						Interface("recover_info", rec).
						Bytes("debug_stack", debug.Stack()).
						Msg(fmt.Sprintf("%v", rec))
					http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}

				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				event := logger.Trace()
				if status >= http.StatusInternalServerError {
					event = logger.Warn()
				}

				event.
					Str("type", "access").
					Timestamp().
					Str("remote_ip", r.RemoteAddr).
					Str("url", r.URL.Path).
					Str("proto", r.Proto).
					Str("method", r.Method).
					Str("user_agent", r.Header.Get("User-Agent")).
					Int("status", status).
					Float64("latency_ms", float64(time.Since(start).Nanoseconds())/1e6).
					Int64("bytes_in", r.ContentLength).
					Int("bytes_out", ww.BytesWritten()).
					Msg("incoming_request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
