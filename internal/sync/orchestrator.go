package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/larksync/larksync/internal/lark"
	"github.com/larksync/larksync/internal/state"
)

// skipSuffixes are local file endings the orchestrator never syncs as
// documents: drawings and canvases have no block representation.
var skipSuffixes = []string{".excalidraw", ".excalidraw.md", ".canvas"}

// defaultDenyNames are remote entry names that are never deleted even when
// no local counterpart exists.
var defaultDenyNames = map[string]bool{
	DefaultAttachmentDir: true,
	"trash":              true,
}

type taskKind int

const (
	taskSyncFile taskKind = iota
	taskSyncRemote
	taskDeleteCloud
)

// task is one unit of work produced by the collection walk.
type task struct {
	id          string
	kind        taskKind
	localPath   string
	cloudFolder string
	token       string
	entityKind  string // drive type for deletions: "docx" or "folder"
}

// Stats aggregates the outcome of a folder sync run.
type Stats struct {
	mu stdsync.Mutex

	Created      int
	Updated      int
	Downloaded   int
	Unchanged    int
	DeletedCloud int
	Failed       int

	Errors []error
}

func (st *Stats) record(res FileResult, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err != nil {
		st.Failed++
		st.Errors = append(st.Errors, err)

		return
	}

	switch res.Action {
	case ActionCreated:
		st.Created++
	case ActionUploaded:
		st.Updated++
	case ActionDownloaded:
		st.Downloaded++
	case ActionUnchanged:
		st.Unchanged++
	}
}

func (st *Stats) recordDelete(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err != nil {
		st.Failed++
		st.Errors = append(st.Errors, err)

		return
	}

	st.DeletedCloud++
}

// Summary renders the counters for log and CLI output.
func (st *Stats) Summary() string {
	st.mu.Lock()
	defer st.mu.Unlock()

	return fmt.Sprintf("created %d, updated %d, downloaded %d, unchanged %d, deleted %d, failed %d",
		st.Created, st.Updated, st.Downloaded, st.Unchanged, st.DeletedCloud, st.Failed)
}

// Orchestrator synchronizes a local directory tree against a remote folder:
// a serial collection walk pairs both sides and creates missing remote
// folders, then a bounded worker pool runs the per-document tasks.
type Orchestrator struct {
	syncer  *Syncer
	client  *lark.Client
	state   *state.Store
	workers int
	deny    map[string]bool
	logger  *slog.Logger
}

// NewOrchestrator builds an Orchestrator running at most workers concurrent
// document syncs.
func NewOrchestrator(syncer *Syncer, client *lark.Client, st *state.Store, workers int, logger *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		syncer:  syncer,
		client:  client,
		state:   st,
		workers: workers,
		deny:    defaultDenyNames,
		logger:  logger,
	}
}

// SyncFolder synchronizes localDir against the remote folder. Task failures
// are counted in the returned stats rather than aborting the run; only a
// failure to collect tasks at all is returned as an error.
func (o *Orchestrator) SyncFolder(ctx context.Context, localDir, cloudFolder string, opt FileOptions) (*Stats, error) {
	var tasks []task

	if err := o.collect(ctx, localDir, cloudFolder, &tasks); err != nil {
		return nil, err
	}

	o.logger.Info("collected sync tasks",
		slog.String("local", localDir),
		slog.String("folder", cloudFolder),
		slog.Int("tasks", len(tasks)),
	)

	stats := &Stats{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, t := range tasks {
		t := t
		g.Go(func() error {
			o.run(ctx, t, opt, stats)

			return nil
		})
	}

	_ = g.Wait()

	o.logger.Info("folder sync finished",
		slog.String("local", localDir),
		slog.String("stats", stats.Summary()),
	)

	return stats, nil
}

// collect recursively merges one local directory with one remote folder,
// creating missing remote folders inline and appending document tasks.
func (o *Orchestrator) collect(ctx context.Context, localDir, folderToken string, tasks *[]task) error {
	remote, err := o.client.ListFolder(ctx, folderToken)
	if err != nil {
		return err
	}

	remoteByName := make(map[string]lark.FileEntry, len(remote))
	for _, e := range remote {
		remoteByName[e.Name] = e
	}

	locals, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("sync: reading %s: %w", localDir, err)
	}

	matched := make(map[string]bool, len(locals))

	for _, entry := range locals {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		localPath := filepath.Join(localDir, name)

		if entry.IsDir() {
			if name == DefaultAttachmentDir {
				continue
			}

			subToken, err := o.ensureRemoteFolder(ctx, localPath, name, folderToken, remoteByName)
			if err != nil {
				return err
			}

			matched[name] = true

			if err := o.collect(ctx, localPath, subToken, tasks); err != nil {
				return err
			}

			continue
		}

		if !strings.HasSuffix(name, ".md") || hasSkipSuffix(name) || strings.Contains(name, ".bak.") {
			continue
		}

		title := strings.TrimSuffix(name, ".md")

		t := task{
			id:          uuid.NewString(),
			kind:        taskSyncFile,
			localPath:   localPath,
			cloudFolder: folderToken,
		}

		if re, ok := remoteByName[title]; ok && re.IsDocument() {
			matched[title] = true
			t.token = re.Token
		}

		*tasks = append(*tasks, t)
	}

	for name, re := range remoteByName {
		if matched[name] || o.deny[name] {
			continue
		}

		switch {
		case re.IsFolder():
			if rel, known := o.state.GetByToken(re.Token); known {
				// The local folder is gone: one remote delete covers the
				// whole subtree, and the state entries cascade with it.
				*tasks = append(*tasks, task{
					id:         uuid.NewString(),
					kind:       taskDeleteCloud,
					localPath:  o.state.AbsPath(rel),
					token:      re.Token,
					entityKind: "folder",
				})

				continue
			}

			// New on the remote side: mirror the folder locally and
			// recurse so its documents are pulled down.
			subDir := filepath.Join(localDir, name)
			if err := os.MkdirAll(subDir, 0o755); err != nil {
				return fmt.Errorf("sync: creating %s: %w", subDir, err)
			}

			if err := o.state.Update(subDir, re.Token, state.KindFolder, 0); err != nil {
				return err
			}

			if err := o.collect(ctx, subDir, re.Token, tasks); err != nil {
				return err
			}

		case re.IsDocument():
			if _, known := o.state.GetByToken(re.Token); known {
				*tasks = append(*tasks, task{
					id:         uuid.NewString(),
					kind:       taskDeleteCloud,
					token:      re.Token,
					entityKind: "docx",
				})

				continue
			}

			*tasks = append(*tasks, task{
				id:          uuid.NewString(),
				kind:        taskSyncRemote,
				localPath:   filepath.Join(localDir, name+".md"),
				cloudFolder: folderToken,
				token:       re.Token,
			})
		}
	}

	return nil
}

// ensureRemoteFolder returns the token of the remote folder matching a local
// directory, creating it when absent.
func (o *Orchestrator) ensureRemoteFolder(ctx context.Context, localPath, name, parentToken string, remoteByName map[string]lark.FileEntry) (string, error) {
	if re, ok := remoteByName[name]; ok && re.IsFolder() {
		if _, known := o.state.GetByPath(localPath); !known {
			if err := o.state.Update(localPath, re.Token, state.KindFolder, 0); err != nil {
				return "", err
			}
		}

		return re.Token, nil
	}

	token, err := o.client.CreateFolder(ctx, parentToken, name)
	if err != nil {
		return "", err
	}

	if err := o.state.Update(localPath, token, state.KindFolder, 0); err != nil {
		return "", err
	}

	return token, nil
}

func hasSkipSuffix(name string) bool {
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}

	return false
}

// run executes one task and records its outcome.
func (o *Orchestrator) run(ctx context.Context, t task, opt FileOptions, stats *Stats) {
	logger := o.logger.With(slog.String("task", t.id))

	switch t.kind {
	case taskSyncFile:
		var (
			res FileResult
			err error
		)

		if t.token != "" {
			res, err = o.syncer.SyncKnownDoc(ctx, t.localPath, t.token, t.cloudFolder, opt)
		} else {
			res, err = o.syncer.SyncFile(ctx, t.localPath, t.cloudFolder, opt)
		}

		if err != nil {
			logger.Error("document sync failed",
				slog.String("path", t.localPath),
				slog.String("error", err.Error()),
			)
		}

		stats.record(res, err)

	case taskSyncRemote:
		res, err := o.syncer.SyncKnownDoc(ctx, t.localPath, t.token, t.cloudFolder, opt)
		if err != nil {
			logger.Error("document download failed",
				slog.String("path", t.localPath),
				slog.String("error", err.Error()),
			)
		}

		stats.record(res, err)

	case taskDeleteCloud:
		err := o.deleteCloud(ctx, t)
		if err != nil {
			logger.Error("remote delete failed",
				slog.String("token", t.token),
				slog.String("error", err.Error()),
			)
		}

		stats.recordDelete(err)
	}
}

// deleteCloud removes a remote entity whose local counterpart was deleted,
// then drops the matching state entries.
func (o *Orchestrator) deleteCloud(ctx context.Context, t task) error {
	if err := o.client.DeleteFile(ctx, t.token, t.entityKind); err != nil {
		return err
	}

	if t.entityKind == "folder" {
		return o.state.RemoveDirectory(t.localPath)
	}

	return o.state.RemoveByToken(t.token)
}
