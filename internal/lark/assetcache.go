package lark

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultAssetCachePath returns the user-home location of the asset cache.
func DefaultAssetCachePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("lark: resolving home directory: %w", err)
	}

	return filepath.Join(home, ".doc_sync", "assets_cache.json"), nil
}

// AssetStore deduplicates asset uploads by content hash. The cache maps
// hex SHA-256 to remote asset token and is persisted as JSON. Entries are
// append-only; staleness is tolerated because the remote deduplicates by
// content. Concurrent uploads of identical content may race; both complete
// and the cache keeps whichever token lands last.
type AssetStore struct {
	client *Client
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]string // hex sha256 -> remote token
}

// NewAssetStore loads the cache at path (an absent file yields an empty
// cache) and wraps client uploads with deduplication.
func NewAssetStore(client *Client, path string, logger *slog.Logger) (*AssetStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &AssetStore{
		client: client,
		path:   path,
		logger: logger,
		cache:  make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("lark: reading asset cache %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.cache); err != nil {
		// A corrupt cache only costs re-uploads; start fresh.
		logger.Warn("asset cache corrupt, starting empty",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		s.cache = make(map[string]string)
	}

	logger.Debug("asset cache loaded",
		slog.String("path", path),
		slog.Int("entries", len(s.cache)),
	)

	return s, nil
}

// Upload returns the remote token for the file's content, uploading only
// when the content hash is not already cached.
func (s *AssetStore) Upload(ctx context.Context, localPath, parentType, parentNode string) (string, error) {
	hash, err := hashFile(localPath)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	token, hit := s.cache[hash]
	s.mu.RUnlock()

	if hit {
		s.logger.Debug("asset cache hit",
			slog.String("path", localPath),
			slog.String("hash", hash),
		)

		return token, nil
	}

	token, err = s.client.UploadMedia(ctx, localPath, parentType, parentNode)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[hash] = token
	saveErr := s.save()
	s.mu.Unlock()

	if saveErr != nil {
		// The upload succeeded; a cache persistence failure only costs a
		// future re-upload.
		s.logger.Warn("asset cache save failed",
			slog.String("path", s.path),
			slog.String("error", saveErr.Error()),
		)
	}

	return token, nil
}

// Lookup returns the cached token for a content hash, if present.
func (s *AssetStore) Lookup(hash string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.cache[hash]

	return token, ok
}

// save writes the cache atomically. Caller holds s.mu.
func (s *AssetStore) save() error {
	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return fmt.Errorf("lark: encoding asset cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lark: creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".assets-*.tmp")
	if err != nil {
		return fmt.Errorf("lark: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("lark: writing asset cache: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("lark: closing asset cache: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("lark: renaming asset cache: %w", err)
	}

	return nil
}

// hashFile computes the hex SHA-256 of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("lark: opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("lark: hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
