// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package redact masks credentials before errors reach logs or API responses.
package redact

import (
	"errors"
	"net/url"
	"strings"
)

const placeholder = "REDACTED"

var sensitiveParams = []string{
	"apikey",
	"api_key",
	"token",
	"x-plex-token",
	"passkey",
	"password",
	"pass",
}

// URLError returns err with secrets in any wrapped *url.Error URL masked. The
// returned error is a *url.Error when err contains one.
func URLError(err error) error {
	if err == nil {
		return nil
	}

	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}

	masked := &url.Error{
		Op:  urlErr.Op,
		URL: URL(urlErr.URL),
		Err: urlErr.Err,
	}
	if err == error(urlErr) {
		return masked
	}

	return &wrappedError{
		msg: strings.ReplaceAll(err.Error(), urlErr.URL, masked.URL),
		err: masked,
	}
}

// wrappedError keeps the caller's context around a masked *url.Error.
type wrappedError struct {
	msg string
	err *url.Error
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.err }

// URL masks sensitive query parameters and userinfo passwords in raw.
// Unparseable input is returned unchanged.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), placeholder)
		}
	}

	q := u.Query()
	changed := false
	for key := range q {
		if isSensitive(key) {
			q.Set(key, placeholder)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}

	return u.String()
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, p := range sensitiveParams {
		if key == p {
			return true
		}
	}
	return false
}
