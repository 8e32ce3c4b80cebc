// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/autolimit/internal/domain"
	"github.com/autobrr/autolimit/pkg/debounce"
)

// watchDelay collapses the burst of events editors produce for one save.
const watchDelay = 300 * time.Millisecond

// Store owns the instance settings file. Writes made through the Store are
// recognised by content hash, so Watch only reports outside edits.
type Store struct {
	path string

	// writeMu serialises read-modify-write cycles.
	writeMu sync.Mutex

	mu       sync.RWMutex
	settings domain.Settings
	lastHash uint64
}

// NewStore loads path, creating an empty settings file when it does not exist.
func NewStore(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not resolve settings path %s", path)
	}

	s := &Store{path: abs}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// SaveSettings replaces all instances. Redacted secrets keep their stored
// values and instances without an id get a new one.
func (s *Store) SaveSettings(next domain.Settings) (domain.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next = domain.RestoreSecrets(next, s.Settings())
	assignIDs(&next)

	if err := validateSettings(next); err != nil {
		return domain.Settings{}, err
	}

	if err := s.persist(next); err != nil {
		return domain.Settings{}, err
	}
	return next.Clone(), nil
}

// SavedToken returns the persisted auth token for a downloader.
func (s *Store) SavedToken(downloaderID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.settings.Downloaders {
		if d.ID == downloaderID {
			return d.SavedToken
		}
	}
	return ""
}

// SaveToken persists an auth token. An empty token clears it.
func (s *Store) SaveToken(downloaderID, token string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Settings()
	for i, d := range next.Downloaders {
		if d.ID != downloaderID {
			continue
		}
		if d.SavedToken == token {
			return nil
		}
		next.Downloaders[i].SavedToken = token
		return s.persist(next)
	}

	return errors.Errorf("unknown downloader %s", downloaderID)
}

// Reload reads the file and reports whether its content differs from what the
// Store last read or wrote.
func (s *Store) Reload() (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		log.Info().Str("path", s.path).Msg("Creating empty settings file")
		return false, s.persist(domain.Settings{})
	}
	if err != nil {
		return false, errors.Wrapf(err, "could not read settings file %s", s.path)
	}

	hash := xxhash.Sum64(data)
	s.mu.RLock()
	unchanged := hash == s.lastHash
	s.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	var next domain.Settings
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &next); err != nil {
			return false, errors.Wrapf(err, "could not parse settings file %s", s.path)
		}
	}

	if assignIDs(&next) {
		return true, s.persist(next)
	}

	s.mu.Lock()
	s.settings = next
	s.lastHash = hash
	s.mu.Unlock()

	return true, nil
}

// Watch calls onChange after the settings file was changed by someone else
// and reloaded. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create settings watcher")
	}
	defer watcher.Close()

	// Watch the directory so atomic renames keep being seen.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return errors.Wrapf(err, "could not watch %s", filepath.Dir(s.path))
	}

	d := debounce.New(watchDelay)
	defer d.Stop()

	reload := func() {
		if ctx.Err() != nil {
			return
		}
		changed, err := s.Reload()
		if err != nil {
			log.Error().Err(err).Str("path", s.path).Msg("Failed to reload settings")
			return
		}
		if changed {
			log.Info().Str("path", s.path).Msg("Settings file changed")
			onChange()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				d.Do(reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Settings watcher error")
		}
	}
}

// persist writes next atomically and makes it current. Callers hold writeMu.
func (s *Store) persist(next domain.Settings) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(next); err != nil {
		return errors.Wrap(err, "could not encode settings")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "could not encode settings")
	}
	data := buf.Bytes()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "could not create settings directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return errors.Wrap(err, "could not create temporary settings file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "could not write settings")
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "could not set settings file mode")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "could not write settings")
	}

	// Record the hash first so the watcher never sees our own write as foreign.
	s.mu.Lock()
	prevHash := s.lastHash
	s.lastHash = xxhash.Sum64(data)
	s.mu.Unlock()

	if err := os.Rename(tmpName, s.path); err != nil {
		s.mu.Lock()
		s.lastHash = prevHash
		s.mu.Unlock()
		return errors.Wrapf(err, "could not replace settings file %s", s.path)
	}

	s.mu.Lock()
	s.settings = next.Clone()
	s.mu.Unlock()
	return nil
}

// assignIDs gives every instance without an id a random one and reports
// whether anything changed.
func assignIDs(s *domain.Settings) bool {
	changed := false
	for i := range s.MediaServers {
		if s.MediaServers[i].ID == "" {
			s.MediaServers[i].ID = uuid.NewString()
			changed = true
		}
	}
	for i := range s.Downloaders {
		if s.Downloaders[i].ID == "" {
			s.Downloaders[i].ID = uuid.NewString()
			changed = true
		}
	}
	return changed
}

func validateSettings(s domain.Settings) error {
	seen := make(map[string]struct{}, len(s.MediaServers))
	for _, m := range s.MediaServers {
		if err := m.Validate(); err != nil {
			return err
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: duplicate media server id %s", domain.ErrInvalidInstance, m.ID)
		}
		seen[m.ID] = struct{}{}
	}

	seen = make(map[string]struct{}, len(s.Downloaders))
	for _, d := range s.Downloaders {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate downloader id %s", domain.ErrInvalidInstance, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
