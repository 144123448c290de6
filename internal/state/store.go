// Package state persists the vault's sync state: which local relative paths
// correspond to which remote tokens. The store is what lets the orchestrator
// tell "deleted on one side" apart from "newly created on the other side".
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileName is the hidden state file at the vault root.
const FileName = ".doc_sync_state.json"

// Entity kinds.
const (
	KindDocument = "document"
	KindFolder   = "folder"
)

// Entry is the persisted record for one local path.
type Entry struct {
	Token         string `json:"token"`
	Kind          string `json:"kind"`
	LastSyncMtime int64  `json:"last_sync_mtime,omitempty"`
}

// fileFormat is the on-disk JSON shape. Only the forward map is persisted;
// the reverse index is rebuilt on load.
type fileFormat struct {
	Entries map[string]Entry `json:"entries"`
}

// Store is the sync-state store for one vault. Paths are stored
// vault-relative (slash-separated) so the state survives vault moves.
// Reads take a shared lock; every mutation saves to disk atomically.
type Store struct {
	vaultRoot string
	path      string
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry  // relative path -> entry
	byToken map[string]string // token -> relative path
}

// Open loads (or lazily creates) the state store for the vault at vaultRoot.
func Open(vaultRoot string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(vaultRoot)
	if err != nil {
		return nil, fmt.Errorf("state: resolving vault root: %w", err)
	}

	s := &Store{
		vaultRoot: absRoot,
		path:      filepath.Join(absRoot, FileName),
		logger:    logger,
		entries:   make(map[string]Entry),
		byToken:   make(map[string]string),
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("state: reading %s: %w", s.path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("state: decoding %s: %w", s.path, err)
	}

	if ff.Entries != nil {
		s.entries = ff.Entries
	}

	for rel, e := range s.entries {
		s.byToken[e.Token] = rel
	}

	logger.Debug("sync state loaded",
		slog.String("path", s.path),
		slog.Int("entries", len(s.entries)),
	)

	return s, nil
}

// relPath converts an absolute (or already relative) path into the stored
// vault-relative slash form.
func (s *Store) relPath(path string) string {
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(s.vaultRoot, path); err == nil {
			path = rel
		}
	}

	return filepath.ToSlash(path)
}

// Update writes the forward and reverse entries for path and saves.
func (s *Store) Update(path, token, kind string, mtime int64) error {
	rel := s.relPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A token moving to a different path invalidates the old reverse entry.
	if old, ok := s.entries[rel]; ok && old.Token != token {
		delete(s.byToken, old.Token)
	}

	s.entries[rel] = Entry{Token: token, Kind: kind, LastSyncMtime: mtime}
	s.byToken[token] = rel

	return s.save()
}

// Remove deletes the entry for path, if any, and saves.
func (s *Store) Remove(path string) error {
	rel := s.relPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[rel]
	if !ok {
		return nil
	}

	delete(s.entries, rel)
	delete(s.byToken, e.Token)

	return s.save()
}

// RemoveByToken deletes the entry holding token, if any, and saves.
func (s *Store) RemoveByToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.byToken[token]
	if !ok {
		return nil
	}

	delete(s.byToken, token)
	delete(s.entries, rel)

	return s.save()
}

// RemoveDirectory deletes the entry for dirPath and every entry underneath
// it, cascading when a folder is deleted locally.
func (s *Store) RemoveDirectory(dirPath string) error {
	rel := s.relPath(dirPath)
	prefix := rel + "/"

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for p, e := range s.entries {
		if p == rel || strings.HasPrefix(p, prefix) {
			delete(s.entries, p)
			delete(s.byToken, e.Token)

			removed++
		}
	}

	if removed == 0 {
		return nil
	}

	s.logger.Debug("removed directory subtree from state",
		slog.String("dir", rel),
		slog.Int("entries", removed),
	)

	return s.save()
}

// GetByPath returns the entry for a path.
func (s *Store) GetByPath(path string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[s.relPath(path)]

	return e, ok
}

// GetByToken returns the relative path recorded for a token.
func (s *Store) GetByToken(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rel, ok := s.byToken[token]

	return rel, ok
}

// Entries returns a snapshot of every forward entry, keyed by vault-relative
// path. The orchestrator scans it to detect local deletions.
func (s *Store) Entries() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(s.entries))
	for p, e := range s.entries {
		out[p] = e
	}

	return out
}

// AbsPath converts a stored vault-relative path back to an absolute one.
func (s *Store) AbsPath(rel string) string {
	return filepath.Join(s.vaultRoot, filepath.FromSlash(rel))
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// save persists the forward map atomically. Caller holds s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(fileFormat{Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encoding: %w", err)
	}

	tmp, err := os.CreateTemp(s.vaultRoot, ".sync-state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("state: writing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: renaming: %w", err)
	}

	return nil
}
