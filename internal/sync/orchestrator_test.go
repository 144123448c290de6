package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larksync/larksync/internal/state"
)

func folderData(entries string) string {
	return fmt.Sprintf(`{"files":[%s],"has_more":false}`, entries)
}

func newOrchestrator(f *fixture, workers int) *Orchestrator {
	return NewOrchestrator(f.syncer, f.client, f.store, workers, f.syncer.logger)
}

func TestSyncFolderCreatesAndUploads(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/drive/v1/files":
			ok(w, folderData(""))

		case r.Method == http.MethodPost && r.URL.Path == "/open-apis/docx/v1/documents":
			ok(w, `{"document":{"document_id":"doc-new"}}`)

		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/docx/v1/documents/doc-new/blocks":
			ok(w, pageOnly("doc-new"))

		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/docx/v1/documents/doc-new/blocks/doc-new/children":
			ok(w, `{"items":[],"has_more":false}`)

		case r.Method == http.MethodPost && r.URL.Path == "/open-apis/docx/v1/documents/doc-new/blocks/doc-new/children":
			ok(w, "")

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	f := newFixture(t, handler)
	f.writeNote(t, "a.md", "hello\n")

	stats, err := newOrchestrator(f, 2).SyncFolder(context.Background(), f.root, "fold1", FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 0, stats.Failed)
}

func TestSyncFolderCreatesMissingRemoteFolder(t *testing.T) {
	var createdFolder bool

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/drive/v1/files":
			// Both the root folder and the newly created subfolder list empty.
			ok(w, folderData(""))

		case r.Method == http.MethodPost && r.URL.Path == "/open-apis/drive/v1/files/create_folder":
			var req struct {
				Name        string `json:"name"`
				FolderToken string `json:"folder_token"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "sub", req.Name)
			assert.Equal(t, "fold1", req.FolderToken)

			createdFolder = true

			ok(w, `{"token":"fold-sub"}`)

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	f := newFixture(t, handler)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "sub"), 0o755))

	stats, err := newOrchestrator(f, 1).SyncFolder(context.Background(), f.root, "fold1", FileOptions{})
	require.NoError(t, err)
	assert.True(t, createdFolder)
	assert.Equal(t, 0, stats.Failed)

	entry, known := f.store.GetByPath(filepath.Join(f.root, "sub"))
	require.True(t, known)
	assert.Equal(t, "fold-sub", entry.Token)
}

func TestSyncFolderDeletesRemoteDocWhenLocalGone(t *testing.T) {
	var deleted string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/drive/v1/files":
			ok(w, folderData(`{"token":"doc-gone","name":"gone","type":"docx"}`))

		case r.Method == http.MethodDelete && r.URL.Path == "/open-apis/drive/v1/files/doc-gone":
			deleted = r.URL.Query().Get("type")

			ok(w, "")

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	f := newFixture(t, handler)

	// The document was synced before but its local file no longer exists.
	require.NoError(t, f.store.Update(filepath.Join(f.root, "gone.md"), "doc-gone", state.KindDocument, 1))

	stats, err := newOrchestrator(f, 1).SyncFolder(context.Background(), f.root, "fold1", FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletedCloud)
	assert.Equal(t, "docx", deleted)

	_, known := f.store.GetByToken("doc-gone")
	assert.False(t, known)
}

func TestSyncFolderDeletesRemoteFolderWhenLocalGone(t *testing.T) {
	var deleted string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/drive/v1/files":
			ok(w, folderData(`{"token":"fold-gone","name":"project","type":"folder"}`))

		case r.Method == http.MethodDelete && r.URL.Path == "/open-apis/drive/v1/files/fold-gone":
			deleted = r.URL.Query().Get("type")

			ok(w, "")

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	f := newFixture(t, handler)

	dir := filepath.Join(f.root, "project")
	require.NoError(t, f.store.Update(dir, "fold-gone", state.KindFolder, 0))
	require.NoError(t, f.store.Update(filepath.Join(dir, "inner.md"), "doc-inner", state.KindDocument, 1))

	stats, err := newOrchestrator(f, 1).SyncFolder(context.Background(), f.root, "fold1", FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletedCloud)
	assert.Equal(t, "folder", deleted)

	// One remote delete covers the subtree; the state entries cascade.
	assert.Equal(t, 0, f.store.Len())
}

func TestSyncFolderPullsUnknownRemoteDoc(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/drive/v1/files":
			ok(w, folderData(`{"token":"doc-remote","name":"fresh","type":"docx"}`))

		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/docx/v1/documents/doc-remote/blocks":
			ok(w, pageWithText("doc-remote", "b1", "remote only"))

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	f := newFixture(t, handler)

	stats, err := newOrchestrator(f, 1).SyncFolder(context.Background(), f.root, "fold1", FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloaded)

	data, err := os.ReadFile(filepath.Join(f.root, "fresh.md"))
	require.NoError(t, err)
	assert.Equal(t, "remote only\n", string(data))
}

func TestSyncFolderMirrorsUnknownRemoteFolder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/drive/v1/files":
			if r.URL.Query().Get("folder_token") == "fold1" {
				ok(w, folderData(`{"token":"fold-new","name":"incoming","type":"folder"}`))

				return
			}

			ok(w, folderData(""))

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	f := newFixture(t, handler)

	stats, err := newOrchestrator(f, 1).SyncFolder(context.Background(), f.root, "fold1", FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Failed)

	// The remote-only folder now exists locally and is tracked.
	info, err := os.Stat(filepath.Join(f.root, "incoming"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entry, known := f.store.GetByPath(filepath.Join(f.root, "incoming"))
	require.True(t, known)
	assert.Equal(t, "fold-new", entry.Token)
}

func TestSyncFolderNeverDeletesDeniedNames(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/open-apis/drive/v1/files" {
			ok(w, folderData(`{"token":"fold-att","name":"attachments","type":"folder"},
				{"token":"fold-trash","name":"trash","type":"folder"}`))

			return
		}

		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	})

	f := newFixture(t, handler)

	stats, err := newOrchestrator(f, 1).SyncFolder(context.Background(), f.root, "fold1", FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.DeletedCloud)
	assert.Equal(t, 0, stats.Failed)
}

func TestSyncFolderSkipsNonSyncableFiles(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/open-apis/drive/v1/files" {
			ok(w, folderData(""))

			return
		}

		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	})

	f := newFixture(t, handler)
	f.writeNote(t, ".hidden.md", "x")
	f.writeNote(t, "sketch.excalidraw.md", "x")
	f.writeNote(t, "board.canvas", "x")
	f.writeNote(t, "note.md.bak.20260101_000000", "x")
	f.writeNote(t, filepath.Join(DefaultAttachmentDir, "img.png"), "x")

	stats, err := newOrchestrator(f, 1).SyncFolder(context.Background(), f.root, "fold1", FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "created 0, updated 0, downloaded 0, unchanged 0, deleted 0, failed 0", stats.Summary())
}

func TestSyncFolderCountsFailures(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/open-apis/drive/v1/files":
			ok(w, folderData(""))

		case r.Method == http.MethodPost && r.URL.Path == "/open-apis/docx/v1/documents":
			// A permanent API failure for every creation attempt.
			fmt.Fprint(w, `{"code":1061004,"msg":"forbidden"}`)

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	})

	f := newFixture(t, handler)
	f.writeNote(t, "a.md", "x\n")
	f.writeNote(t, "b.md", "y\n")

	stats, err := newOrchestrator(f, 2).SyncFolder(context.Background(), f.root, "fold1", FileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)
	assert.Len(t, stats.Errors, 2)
	assert.Equal(t, 0, stats.Created)
}

func TestStatsRecord(t *testing.T) {
	var st Stats

	st.record(FileResult{Action: ActionCreated}, nil)
	st.record(FileResult{Action: ActionUploaded}, nil)
	st.record(FileResult{Action: ActionDownloaded}, nil)
	st.record(FileResult{Action: ActionUnchanged}, nil)
	st.record(FileResult{}, errors.New("boom"))
	st.recordDelete(nil)

	assert.Equal(t, "created 1, updated 1, downloaded 1, unchanged 1, deleted 1, failed 1", st.Summary())
}
