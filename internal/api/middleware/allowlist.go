// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/autolimit/internal/domain"
)

// RequireStatusAllowlist limits the status API to statusAllowedCIDRs. An empty
// list lets everyone through. The list is parsed once; an invalid list blocks
// every request rather than silently opening the API.
func RequireStatusAllowlist(cfg *domain.Config) func(http.Handler) http.Handler {
	var (
		prefixes []netip.Prefix
		parseErr error
	)
	if cfg != nil {
		prefixes, parseErr = cfg.ParseStatusAllowedCIDRs()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if parseErr != nil {
				log.Error().Err(parseErr).Msg("statusAllowedCIDRs is invalid, rejecting request")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			if len(prefixes) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			addr, err := parseRemoteAddrIP(r.RemoteAddr)
			if err != nil {
				log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to parse remote address for status allowlist")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			for _, prefix := range prefixes {
				if prefix.Contains(addr) {
					next.ServeHTTP(w, r)
					return
				}
			}

			log.Warn().
				Str("remote_addr", r.RemoteAddr).
				Str("ip", addr.String()).
				Msg("Blocked status request: client IP not in statusAllowedCIDRs")
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}

func parseRemoteAddrIP(remoteAddr string) (netip.Addr, error) {
	trimmed := strings.TrimSpace(remoteAddr)
	if addr, err := netip.ParseAddr(strings.Trim(trimmed, "[]")); err == nil {
		return addr.Unmap(), nil
	}

	host, _, err := net.SplitHostPort(trimmed)
	if err != nil {
		return netip.Addr{}, err
	}

	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, err
	}

	return addr.Unmap(), nil
}
