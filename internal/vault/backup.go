package vault

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BatchIDFormat is the timestamp layout used for batch IDs and backup
// suffixes: one batch ID is shared by all files of a single run.
const BatchIDFormat = "20060102_150405"

// NewBatchID returns a batch ID for the current time.
func NewBatchID() string {
	return time.Now().Format(BatchIDFormat)
}

// bakMarker separates the original filename from the batch ID.
const bakMarker = ".bak."

// Backup is one backup file found under a directory.
type Backup struct {
	Path     string // absolute path of the backup file
	Original string // absolute path of the file it backs up
	BatchID  string
	ModTime  time.Time
}

// BackupFile copies path to <path>.bak.<batchID> before it is overwritten.
// Missing source files are not an error, there is nothing to back up.
func BackupFile(path, batchID string, logger *slog.Logger) error {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("vault: opening %s for backup: %w", path, err)
	}
	defer src.Close()

	bakPath := path + bakMarker + batchID

	dst, err := os.Create(bakPath)
	if err != nil {
		return fmt.Errorf("vault: creating backup %s: %w", bakPath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(bakPath)

		return fmt.Errorf("vault: writing backup %s: %w", bakPath, err)
	}

	if err := dst.Close(); err != nil {
		return fmt.Errorf("vault: closing backup %s: %w", bakPath, err)
	}

	if logger != nil {
		logger.Debug("backed up file",
			slog.String("path", path),
			slog.String("backup", bakPath),
		)
	}

	return nil
}

// ListBackups finds every *.bak.* file under root, newest batch first.
func ListBackups(root string) ([]Backup, error) {
	var backups []Backup

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}

			return nil
		}

		i := strings.LastIndex(d.Name(), bakMarker)
		if i < 0 {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil //nolint:nilerr // racing deletion; skip
		}

		backups = append(backups, Backup{
			Path:     path,
			Original: filepath.Join(filepath.Dir(path), d.Name()[:i]),
			BatchID:  d.Name()[i+len(bakMarker):],
			ModTime:  info.ModTime(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vault: scanning backups under %s: %w", root, err)
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].BatchID != backups[j].BatchID {
			return backups[i].BatchID > backups[j].BatchID
		}

		return backups[i].Path < backups[j].Path
	})

	return backups, nil
}

// Restore copies a backup file over its original.
func (b Backup) Restore() error {
	src, err := os.Open(b.Path)
	if err != nil {
		return fmt.Errorf("vault: opening backup %s: %w", b.Path, err)
	}
	defer src.Close()

	dst, err := os.Create(b.Original)
	if err != nil {
		return fmt.Errorf("vault: restoring %s: %w", b.Original, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("vault: restoring %s: %w", b.Original, err)
	}

	return dst.Close()
}

// CleanBackups removes every *.bak.* file under root and returns how many
// were deleted.
func CleanBackups(root string, logger *slog.Logger) (int, error) {
	backups, err := ListBackups(root)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, b := range backups {
		if err := os.Remove(b.Path); err != nil {
			if logger != nil {
				logger.Warn("failed to remove backup",
					slog.String("path", b.Path),
					slog.String("error", err.Error()),
				)
			}

			continue
		}

		removed++
	}

	return removed, nil
}
