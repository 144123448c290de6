package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/larksync/larksync/internal/convert"
	"github.com/larksync/larksync/internal/diff"
	"github.com/larksync/larksync/internal/lark"
	"github.com/larksync/larksync/internal/state"
	"github.com/larksync/larksync/internal/vault"
)

// Action describes what a document sync run did.
type Action string

const (
	ActionCreated    Action = "created"
	ActionUploaded   Action = "uploaded"
	ActionDownloaded Action = "downloaded"
	ActionUnchanged  Action = "unchanged"
)

// FileOptions tunes a single document sync.
type FileOptions struct {
	// Force uploads local content regardless of modification times.
	Force bool

	// Overwrite replaces the whole remote document instead of diffing.
	Overwrite bool
}

// FileResult reports the outcome of one document sync.
type FileResult struct {
	Path     string
	DocToken string
	Action   Action
}

// Syncer synchronizes single documents. Direction is decided by comparing
// the local file's modification time against the remote document's, with the
// sync-state store remembering the time of the last successful sync.
type Syncer struct {
	client  *lark.Client
	assets  *lark.AssetStore
	index   *vault.Index
	state   *state.Store
	recon   *diff.Reconciler
	batchID string
	logger  *slog.Logger
}

// NewSyncer builds a Syncer. batchID stamps every backup written during this
// run; diffThreshold of 0 selects the default.
func NewSyncer(client *lark.Client, assets *lark.AssetStore, index *vault.Index, st *state.Store, diffThreshold int, batchID string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Syncer{
		client:  client,
		assets:  assets,
		index:   index,
		state:   st,
		recon:   diff.NewReconciler(client, diffThreshold, logger),
		batchID: batchID,
		logger:  logger,
	}
}

// DocTitle derives the remote document title from a markdown path.
func DocTitle(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".md")
}

// SyncFile synchronizes one markdown file against the document known to the
// state store, creating the document under cloudFolder when none is known.
func (s *Syncer) SyncFile(ctx context.Context, localPath, cloudFolder string, opt FileOptions) (FileResult, error) {
	res := FileResult{Path: localPath}

	info, err := os.Stat(localPath)
	if err != nil {
		return res, fmt.Errorf("sync: reading %s: %w", localPath, err)
	}

	localMtime := info.ModTime().Unix()

	entry, known := s.state.GetByPath(localPath)
	if !known {
		return s.createAndUpload(ctx, localPath, cloudFolder, localMtime)
	}

	res.DocToken = entry.Token

	meta, err := s.client.GetDocMeta(ctx, entry.Token)
	if errors.Is(err, lark.ErrNotFound) {
		// The remote document is gone; local content wins and the
		// document is recreated.
		s.logger.Warn("remote document missing, recreating",
			slog.String("path", localPath),
			slog.String("token", entry.Token),
		)

		if rmErr := s.state.Remove(localPath); rmErr != nil {
			return res, rmErr
		}

		return s.createAndUpload(ctx, localPath, cloudFolder, localMtime)
	}

	if err != nil {
		return res, err
	}

	switch {
	case opt.Force:
		// Upload below.

	case meta.LatestModifyTime <= entry.LastSyncMtime && localMtime <= entry.LastSyncMtime:
		s.logger.Debug("document unchanged", slog.String("path", localPath))

		res.Action = ActionUnchanged

		return res, nil

	case meta.LatestModifyTime > localMtime:
		return s.download(ctx, localPath, entry.Token)
	}

	return s.upload(ctx, localPath, entry.Token, localMtime, opt.Overwrite)
}

// SyncKnownDoc synchronizes a document whose token is already known, for
// documents discovered on the remote side with no local file yet. A missing
// local file triggers a plain download.
func (s *Syncer) SyncKnownDoc(ctx context.Context, localPath, docToken, cloudFolder string, opt FileOptions) (FileResult, error) {
	if _, err := os.Stat(localPath); errors.Is(err, os.ErrNotExist) {
		return s.download(ctx, localPath, docToken)
	}

	if _, known := s.state.GetByPath(localPath); !known {
		// Adopt the pairing: same name on both sides but never synced.
		if err := s.state.Update(localPath, docToken, state.KindDocument, 0); err != nil {
			return FileResult{Path: localPath}, err
		}
	}

	return s.SyncFile(ctx, localPath, cloudFolder, opt)
}

// createAndUpload creates a fresh remote document and pushes local content
// into it.
func (s *Syncer) createAndUpload(ctx context.Context, localPath, cloudFolder string, localMtime int64) (FileResult, error) {
	res := FileResult{Path: localPath}

	docID, err := s.client.CreateDocument(ctx, cloudFolder, DocTitle(localPath))
	if err != nil {
		return res, err
	}

	res.DocToken = docID

	res2, err := s.upload(ctx, localPath, docID, localMtime, false)
	if err != nil {
		return res, err
	}

	res2.Action = ActionCreated

	return res2, nil
}

// upload parses the local file and reconciles the remote document to match.
func (s *Syncer) upload(ctx context.Context, localPath, docID string, localMtime int64, overwrite bool) (FileResult, error) {
	res := FileResult{Path: localPath, DocToken: docID, Action: ActionUploaded}

	src, err := os.ReadFile(localPath)
	if err != nil {
		return res, fmt.Errorf("sync: reading %s: %w", localPath, err)
	}

	bridge := &assetBridge{
		client: s.client,
		assets: s.assets,
		index:  s.index,
		docID:  docID,
		docDir: filepath.Dir(localPath),
		logger: s.logger,
	}

	local, err := convert.Parse(ctx, src, convert.ParseOptions{Uploader: bridge, Logger: s.logger})
	if err != nil {
		return res, err
	}

	if overwrite {
		if err := s.recon.Rewrite(ctx, docID, local); err != nil {
			return res, err
		}
	} else {
		records, err := s.client.ListDocumentBlocks(ctx, docID)
		if err != nil {
			return res, err
		}

		tree := lark.BuildTree(docID, records)

		result, err := s.recon.Sync(ctx, docID, local, tree.Children)
		if err != nil {
			return res, err
		}

		if result.NoChange() {
			res.Action = ActionUnchanged
		}
	}

	if err := s.state.Update(localPath, docID, state.KindDocument, localMtime); err != nil {
		return res, err
	}

	s.logger.Info("uploaded document",
		slog.String("path", localPath),
		slog.String("document", docID),
	)

	return res, nil
}

// download emits the remote document as Markdown, backs up the local file,
// and overwrites it.
func (s *Syncer) download(ctx context.Context, localPath, docID string) (FileResult, error) {
	res := FileResult{Path: localPath, DocToken: docID, Action: ActionDownloaded}

	records, err := s.client.ListDocumentBlocks(ctx, docID)
	if err != nil {
		return res, err
	}

	tree := lark.BuildTree(docID, records)

	bridge := &assetBridge{
		client: s.client,
		assets: s.assets,
		index:  s.index,
		docID:  docID,
		docDir: filepath.Dir(localPath),
		logger: s.logger,
	}

	md, err := convert.Emit(ctx, tree.Children, convert.EmitOptions{Downloader: bridge, Logger: s.logger})
	if err != nil {
		return res, err
	}

	if err := vault.BackupFile(localPath, s.batchID, s.logger); err != nil {
		return res, err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return res, fmt.Errorf("sync: creating directory for %s: %w", localPath, err)
	}

	if err := os.WriteFile(localPath, []byte(md), 0o644); err != nil {
		return res, fmt.Errorf("sync: writing %s: %w", localPath, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return res, fmt.Errorf("sync: reading back %s: %w", localPath, err)
	}

	if err := s.state.Update(localPath, docID, state.KindDocument, info.ModTime().Unix()); err != nil {
		return res, err
	}

	s.logger.Info("downloaded document",
		slog.String("path", localPath),
		slog.String("document", docID),
	)

	return res, nil
}
