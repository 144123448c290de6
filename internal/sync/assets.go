// Package sync drives document and folder synchronization between a local
// vault and the remote document service: direction decisions per file,
// task collection across a folder pair, and the worker pool that runs them.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/larksync/larksync/internal/lark"
	"github.com/larksync/larksync/internal/vault"
)

// DefaultAttachmentDir is the vault subdirectory that receives downloaded
// assets.
const DefaultAttachmentDir = "attachments"

// assetBridge wires the converter's upload and download capabilities to the
// vault index, the deduplicating asset store, and the gateway. One bridge is
// scoped to a single document: uploads attach to docID, download references
// are emitted relative to the document's directory.
type assetBridge struct {
	client *lark.Client
	assets *lark.AssetStore
	index  *vault.Index
	docID  string
	docDir string // absolute directory of the markdown file
	logger *slog.Logger
}

// UploadAsset resolves a markdown reference through the vault index and
// uploads the file, returning the remote token. The asset store skips the
// network for content already uploaded.
func (b *assetBridge) UploadAsset(ctx context.Context, reference string, isImage bool) (string, error) {
	localPath, err := b.index.Find(reference)
	if err != nil {
		return "", err
	}

	parentType := lark.ParentTypeFile
	if isImage {
		parentType = lark.ParentTypeImage
	}

	return b.assets.Upload(ctx, localPath, parentType, b.docID)
}

// DownloadAsset fetches a remote asset into the vault's attachment directory
// and returns a reference relative to the document, so the emitted link
// resolves from the markdown file.
func (b *assetBridge) DownloadAsset(ctx context.Context, token string) (string, error) {
	dir := filepath.Join(b.index.Root(), DefaultAttachmentDir)
	localPath := filepath.Join(dir, token+".png")

	if _, err := os.Stat(localPath); err != nil {
		if err := b.client.DownloadMedia(ctx, token, localPath); err != nil {
			return "", err
		}
	}

	rel, err := filepath.Rel(b.docDir, localPath)
	if err != nil {
		return "", fmt.Errorf("sync: relativizing asset path: %w", err)
	}

	return filepath.ToSlash(rel), nil
}
