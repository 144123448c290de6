// Package vault provides local-vault services: the one-shot resource index
// used to resolve document references, and backup file management.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned by Index.Find for unresolvable references.
var ErrNotFound = errors.New("vault: resource not found")

// skipDirs are directory names never scanned. Hidden directories (leading
// dot) are skipped independently of this list.
var skipDirs = map[string]bool{
	"node_modules": true,
	"build":        true,
	"dist":         true,
	"target":       true,
	"__pycache__":  true,
}

// DefaultAssetExtensions is the allow-set of indexed file extensions:
// everything a document can embed or attach.
var DefaultAssetExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".svg", ".webp",
	".mp4", ".mov", ".mp3", ".wav",
	".pdf", ".zip", ".7z", ".tar", ".gz",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".md", ".excalidraw",
}

// Index resolves "shortest unambiguous path" references to absolute paths.
// It is built once per vault per process with a single recursive walk and
// is immutable afterwards, so lookups are lock-free.
type Index struct {
	root   string
	byName map[string]string // NFC bare filename -> first-seen absolute path
}

// NewIndex scans the vault rooted at root, recording the first-seen
// absolute path for each bare filename whose extension is in allowExts
// (DefaultAssetExtensions when nil). Hidden directories and well-known
// build directories are skipped.
func NewIndex(root string, allowExts []string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if allowExts == nil {
		allowExts = DefaultAssetExtensions
	}

	extSet := make(map[string]bool, len(allowExts))
	for _, ext := range allowExts {
		extSet[strings.ToLower(ext)] = true
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vault: resolving root %s: %w", root, err)
	}

	idx := &Index{
		root:   absRoot,
		byName: make(map[string]string),
	}

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("index walk error, skipping",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		name := d.Name()

		if d.IsDir() {
			if path == absRoot {
				return nil
			}

			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}

			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}

		if !extSet[strings.ToLower(filepath.Ext(name))] {
			return nil
		}

		// First-seen wins, matching the ecosystem's shortest-path
		// disambiguation for duplicate filenames.
		key := norm.NFC.String(name)
		if _, seen := idx.byName[key]; !seen {
			idx.byName[key] = path
		}

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("vault: scanning %s: %w", absRoot, walkErr)
	}

	logger.Debug("vault index built",
		slog.String("root", absRoot),
		slog.Int("files", len(idx.byName)),
	)

	return idx, nil
}

// Root returns the absolute vault root.
func (idx *Index) Root() string {
	return idx.root
}

// Len returns the number of indexed files.
func (idx *Index) Len() int {
	return len(idx.byName)
}

// Find resolves a document reference to an absolute path:
//  1. an existing absolute path is returned as-is;
//  2. the reference joined with the vault root, if it exists;
//  3. a bare-filename lookup in the index;
//  4. references ending in .excalidraw retry with .excalidraw.md appended.
//
// Returns ErrNotFound when nothing matches.
func (idx *Index) Find(reference string) (string, error) {
	if reference == "" {
		return "", fmt.Errorf("vault: empty reference: %w", ErrNotFound)
	}

	if filepath.IsAbs(reference) {
		if fileExists(reference) {
			return reference, nil
		}
	} else {
		joined := filepath.Join(idx.root, filepath.FromSlash(reference))
		if fileExists(joined) {
			return joined, nil
		}
	}

	name := norm.NFC.String(filepath.Base(filepath.FromSlash(reference)))
	if path, ok := idx.byName[name]; ok {
		return path, nil
	}

	// Ecosystem idiom: drawings are stored as <name>.excalidraw.md.
	if strings.HasSuffix(name, ".excalidraw") {
		if path, ok := idx.byName[name+".md"]; ok {
			return path, nil
		}
	}

	return "", fmt.Errorf("vault: resolving %q: %w", reference, ErrNotFound)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
