// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	headerLen = 5

	flagCompressed byte = 0x01
	flagTrailer    byte = 0x80
)

// ErrShortFrame is returned when a body is too short to hold a frame header.
var ErrShortFrame = errors.New("grpc-web frame shorter than header")

// Frame wraps payload in an uncompressed gRPC-Web data frame.
func Frame(payload []byte) []byte {
	out := make([]byte, headerLen, headerLen+len(payload))
	out[0] = 0x00
	binary.BigEndian.PutUint32(out[1:headerLen], uint32(len(payload)))
	return append(out, payload...)
}

// Unframe returns the payload of the first frame in body. When the declared
// length runs past the end of body the remainder is returned.
func Unframe(body []byte) ([]byte, error) {
	if len(body) < headerLen {
		return nil, ErrShortFrame
	}
	size := int(binary.BigEndian.Uint32(body[1:headerLen]))
	rest := body[headerLen:]
	if size <= len(rest) {
		return rest[:size], nil
	}
	return rest, nil
}

// Status is the grpc-status/grpc-message pair from a trailer.
type Status struct {
	Code    int
	Message string
	// Present is false when no grpc-status was seen.
	Present bool
}

// OK reports a missing status or status 0.
func (s Status) OK() bool {
	return !s.Present || s.Code == 0
}

func (s Status) Error() string {
	return fmt.Sprintf("grpc-status %d: %s", s.Code, s.Message)
}

// ParseStatus reads grpc-status and grpc-message from a header map, which may
// be the HTTP response headers of a trailers-only response.
func ParseStatus(h textproto.MIMEHeader) Status {
	raw := h.Get("Grpc-Status")
	if raw == "" {
		return Status{}
	}
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return Status{}
	}
	return Status{Code: code, Message: h.Get("Grpc-Message"), Present: true}
}

// Frames is a decoded gRPC-Web response body.
type Frames struct {
	Data   [][]byte
	Status Status
}

// First returns the first data payload or nil.
func (f Frames) First() []byte {
	if len(f.Data) == 0 {
		return nil
	}
	return f.Data[0]
}

// ReadFrames walks every frame in body. Data frames are collected in order,
// compressed ones are inflated, and the trailer frame is parsed into Status.
// A truncated final frame ends the walk without error.
func ReadFrames(body []byte) (Frames, error) {
	var out Frames
	for len(body) >= headerLen {
		flag := body[0]
		size := int(binary.BigEndian.Uint32(body[1:headerLen]))
		body = body[headerLen:]
		if size > len(body) {
			break
		}
		payload := body[:size]
		body = body[size:]

		if flag&flagCompressed != 0 {
			inflated, err := gunzip(payload)
			if err != nil {
				return out, fmt.Errorf("inflate grpc-web frame: %w", err)
			}
			payload = inflated
		}

		if flag&flagTrailer != 0 {
			out.Status = parseTrailer(payload)
			continue
		}
		out.Data = append(out.Data, payload)
	}
	return out, nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// parseTrailer reads the HTTP/1 style header block carried in a trailer frame.
func parseTrailer(b []byte) Status {
	h := textproto.MIMEHeader{}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimRight(line, "\r")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h.Add(textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key)), strings.TrimSpace(value))
	}
	return ParseStatus(h)
}
