// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type CompressionAlgorithm int

const (
	AlgorithmNone CompressionAlgorithm = iota
	AlgorithmGzip
	AlgorithmZstd
	AlgorithmDeflate
)

// compressionWriter buffers up to minSize bytes before deciding whether the
// response is worth compressing.
type compressionWriter struct {
	http.ResponseWriter
	algorithm CompressionAlgorithm
	level     int
	minSize   int

	status  int
	buf     []byte
	writer  io.Writer
	decided bool
}

func (w *compressionWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *compressionWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if w.decided {
		return w.writer.Write(data)
	}

	w.buf = append(w.buf, data...)
	if len(w.buf) < w.minSize {
		return len(data), nil
	}

	if err := w.decide(true); err != nil {
		return 0, err
	}
	return len(data), nil
}

// decide picks the output writer and flushes what was buffered so far.
func (w *compressionWriter) decide(large bool) error {
	w.decided = true
	w.writer = w.ResponseWriter

	if large && w.compressible() {
		if enc, err := w.encoder(); err == nil {
			w.Header().Del("Content-Length")
			w.writer = enc
		}
	}

	w.ResponseWriter.WriteHeader(w.status)
	buffered := w.buf
	w.buf = nil
	if len(buffered) == 0 {
		return nil
	}
	_, err := w.writer.Write(buffered)
	return err
}

func (w *compressionWriter) compressible() bool {
	if w.Header().Get("Content-Encoding") != "" {
		return false
	}
	contentType := w.Header().Get("Content-Type")
	return strings.Contains(contentType, "text/") ||
		strings.Contains(contentType, "application/json") ||
		strings.Contains(contentType, "application/openmetrics-text")
}

func (w *compressionWriter) encoder() (io.WriteCloser, error) {
	switch w.algorithm {
	case AlgorithmZstd:
		enc, err := zstd.NewWriter(w.ResponseWriter, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(w.level)))
		if err != nil {
			return nil, err
		}
		w.Header().Set("Content-Encoding", "zstd")
		return enc, nil
	case AlgorithmGzip:
		enc, err := gzip.NewWriterLevel(w.ResponseWriter, w.level)
		if err != nil {
			return nil, err
		}
		w.Header().Set("Content-Encoding", "gzip")
		return enc, nil
	case AlgorithmDeflate:
		enc, err := flate.NewWriter(w.ResponseWriter, w.level)
		if err != nil {
			return nil, err
		}
		w.Header().Set("Content-Encoding", "deflate")
		return enc, nil
	}
	return nil, http.ErrNotSupported
}

// finish flushes small responses unchanged and closes the encoder.
func (w *compressionWriter) finish() error {
	if !w.decided {
		if w.status == 0 {
			return nil
		}
		if err := w.decide(false); err != nil {
			return err
		}
	}
	if closer, ok := w.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (w *compressionWriter) Flush() {
	if !w.decided && w.status != 0 {
		_ = w.decide(len(w.buf) >= w.minSize)
	}
	if flusher, ok := w.writer.(interface{ Flush() error }); ok {
		_ = flusher.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// negotiateAlgorithm prefers zstd, then gzip, then deflate among the encodings
// the client accepts with a non-zero quality.
func negotiateAlgorithm(acceptEncoding string) CompressionAlgorithm {
	encodings := parseAcceptEncoding(acceptEncoding)

	switch {
	case encodings["zstd"] > 0:
		return AlgorithmZstd
	case encodings["gzip"] > 0:
		return AlgorithmGzip
	case encodings["deflate"] > 0:
		return AlgorithmDeflate
	}
	return AlgorithmNone
}

func parseAcceptEncoding(acceptEncoding string) map[string]float64 {
	encodings := make(map[string]float64)

	for part := range strings.SplitSeq(acceptEncoding, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, params, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))

		quality := 1.0
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil {
				quality = v
			}
		}

		if name == "*" {
			for _, enc := range []string{"zstd", "gzip", "deflate"} {
				if _, set := encodings[enc]; !set {
					encodings[enc] = quality
				}
			}
			continue
		}
		encodings[name] = quality
	}

	return encodings
}

// SelectiveCompress compresses text responses of at least minSize bytes with
// the best algorithm the client accepts. Levels are clamped to 1..9.
func SelectiveCompress(minSize, level int) func(http.Handler) http.Handler {
	level = max(1, min(level, 9))
	if minSize < 0 {
		minSize = 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			algorithm := negotiateAlgorithm(r.Header.Get("Accept-Encoding"))
			if algorithm == AlgorithmNone {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Accept-Encoding")
			wrapped := &compressionWriter{
				ResponseWriter: w,
				algorithm:      algorithm,
				level:          level,
				minSize:        minSize,
			}

			next.ServeHTTP(wrapped, r)
			_ = wrapped.finish()
		})
	}
}
