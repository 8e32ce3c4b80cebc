// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// RedactedStr replaces secret values in API responses.
const RedactedStr = "<redacted>"

// RedactString replaces a non-empty string with RedactedStr
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return RedactedStr
}

// IsRedactedString checks if a value is the redaction placeholder
func IsRedactedString(value string) bool {
	return value == RedactedStr
}

// Redacted returns a copy safe to hand out over the API.
func (m MediaServerInstance) Redacted() MediaServerInstance {
	m.APIKey = RedactString(m.APIKey)
	m.Token = RedactString(m.Token)
	return m
}

func (d DownloaderInstance) Redacted() DownloaderInstance {
	d.Password = RedactString(d.Password)
	d.APIKey = RedactString(d.APIKey)
	d.SavedToken = ""
	return d
}

// Redacted returns a copy of the settings with all secrets masked.
func (s Settings) Redacted() Settings {
	out := s.Clone()
	for i := range out.MediaServers {
		out.MediaServers[i] = out.MediaServers[i].Redacted()
	}
	for i := range out.Downloaders {
		out.Downloaders[i] = out.Downloaders[i].Redacted()
	}
	return out
}

// RestoreSecrets copies secrets from previous into incoming wherever incoming
// still carries the redaction placeholder, matching instances by id.
func RestoreSecrets(incoming, previous Settings) Settings {
	out := incoming.Clone()
	for i, m := range out.MediaServers {
		for _, old := range previous.MediaServers {
			if old.ID != m.ID {
				continue
			}
			if IsRedactedString(m.APIKey) {
				out.MediaServers[i].APIKey = old.APIKey
			}
			if IsRedactedString(m.Token) {
				out.MediaServers[i].Token = old.Token
			}
		}
	}
	for i, d := range out.Downloaders {
		for _, old := range previous.Downloaders {
			if old.ID != d.ID {
				continue
			}
			if IsRedactedString(d.Password) {
				out.Downloaders[i].Password = old.Password
			}
			if IsRedactedString(d.APIKey) {
				out.Downloaders[i].APIKey = old.APIKey
			}
			if d.SavedToken == "" && old.URL == d.URL && old.Username == d.Username {
				out.Downloaders[i].SavedToken = old.SavedToken
			}
		}
	}
	return out
}
