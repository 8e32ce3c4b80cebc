// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package skiprule decides which playback sessions should not count towards
// throttling.
package skiprule

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/autobrr/autolimit/internal/domain"
)

// Reason explains why a session was skipped.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonIPWhitelist   Reason = "ip whitelist"
	ReasonUserWhitelist Reason = "user whitelist"
	ReasonLocalNetwork  Reason = "local network"
)

// ParseList splits whitelist text on newlines, commas and semicolons,
// dropping blank entries.
func ParseList(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		for _, item := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ';' }) {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

// Evaluate reports whether session should be left out of the active set.
// Nothing is skipped unless the server has local playback skipping enabled.
func Evaluate(session domain.PlaybackSession, server domain.MediaServerInstance) (bool, Reason) {
	if !server.SkipLocalPlayback {
		return false, ReasonNone
	}

	if MatchIP(session.ClientIP, ParseList(server.IPWhitelist)) {
		return true, ReasonIPWhitelist
	}
	if MatchUser(session.UserName, ParseList(server.UserWhitelist)) {
		return true, ReasonUserWhitelist
	}
	if IsLocalIP(session.ClientIP) {
		return true, ReasonLocalNetwork
	}
	return false, ReasonNone
}

func ShouldSkip(session domain.PlaybackSession, server domain.MediaServerInstance) bool {
	skip, _ := Evaluate(session, server)
	return skip
}

// IsLocalIP reports private, loopback and link-local addresses. Anything that
// does not parse as an IP is not local.
func IsLocalIP(raw string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}

// MatchIP checks raw against whitelist entries. Entries containing a slash are
// CIDR ranges, others exact addresses. Entries that do not parse, and every
// entry when raw itself is not an address, fall back to substring matching.
func MatchIP(raw string, whitelist []string) bool {
	if len(whitelist) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		for _, item := range whitelist {
			if item = strings.TrimSpace(item); item != "" && strings.Contains(raw, item) {
				return true
			}
		}
		return false
	}
	addr = addr.Unmap()

	for _, item := range whitelist {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		if strings.Contains(item, "/") {
			prefix, err := netip.ParsePrefix(item)
			if err == nil {
				if prefix.Masked().Contains(addr) {
					return true
				}
				continue
			}
		} else if entry, err := netip.ParseAddr(item); err == nil {
			if entry.Unmap() == addr {
				return true
			}
			continue
		}

		if strings.Contains(raw, item) {
			return true
		}
	}
	return false
}

// MatchUser compares case-insensitively. A '*' in an entry matches any run of
// characters and the rest of the entry is literal.
func MatchUser(name string, whitelist []string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(whitelist) == 0 {
		return false
	}

	for _, entry := range whitelist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if entry == name {
			return true
		}
		if strings.Contains(entry, "*") && globMatch(entry, name) {
			return true
		}
	}
	return false
}

func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
