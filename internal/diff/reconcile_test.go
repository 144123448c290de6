package diff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larksync/larksync/internal/block"
	"github.com/larksync/larksync/internal/lark"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDocSvc records gateway calls in order. Empty batches are not recorded,
// matching the real client's no-op behavior.
type fakeDocSvc struct {
	calls   []string
	batches [][]lark.BlockUpdate
	added   [][]*block.Block

	addErr    error
	deleteErr error
	batchErr  error
	clearErr  error
}

func (f *fakeDocSvc) AddBlocks(_ context.Context, _, _ string, blocks []*block.Block, index int) error {
	if f.addErr != nil {
		return f.addErr
	}

	f.calls = append(f.calls, fmt.Sprintf("add idx=%d n=%d", index, len(blocks)))
	f.added = append(f.added, blocks)

	return nil
}

func (f *fakeDocSvc) DeleteBlockChildren(_ context.Context, _, _ string, startIndex, endIndex int) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}

	f.calls = append(f.calls, fmt.Sprintf("delete %d:%d", startIndex, endIndex))

	return nil
}

func (f *fakeDocSvc) BatchUpdateBlocks(_ context.Context, _ string, updates []lark.BlockUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	if f.batchErr != nil {
		return f.batchErr
	}

	f.calls = append(f.calls, fmt.Sprintf("batch n=%d", len(updates)))
	f.batches = append(f.batches, updates)

	return nil
}

func (f *fakeDocSvc) ClearDocument(_ context.Context, _ string) error {
	if f.clearErr != nil {
		return f.clearErr
	}

	f.calls = append(f.calls, "clear")

	return nil
}

func remoteText(id, content string) *block.Block {
	return &block.Block{ID: id, Type: block.TypeText, Text: &block.TextBody{Elements: []block.TextElement{block.Run(content)}}}
}

func TestSyncNoChange(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	remote := []*block.Block{remoteText("b1", "hello")}
	local := []*block.Block{block.NewText(block.Run("hello"))}

	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)
	assert.True(t, res.NoChange())
	assert.Empty(t, svc.calls)
}

func TestSyncInPlaceTextReplace(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	remote := []*block.Block{remoteText("b1", "old"), remoteText("b2", "kept")}
	local := []*block.Block{
		block.NewText(block.Run("new")),
		block.NewText(block.Run("kept")),
	}

	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)

	assert.Equal(t, 1, res.InPlace)
	assert.Equal(t, 1, res.Changed)
	assert.False(t, res.FullRewrite)

	// One batch, no structural calls.
	require.Equal(t, []string{"batch n=1"}, svc.calls)
	require.Len(t, svc.batches, 1)
	assert.Equal(t, "b1", svc.batches[0][0].BlockID)
	assert.Equal(t, "new", svc.batches[0][0].ReplaceElements[0].TextRun.Content)
}

func TestSyncDeletesRunInReverseOrder(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	remote := []*block.Block{
		remoteText("b1", "a"),
		remoteText("b2", "b"),
		remoteText("b3", "c"),
		remoteText("b4", "d"),
	}
	local := []*block.Block{
		block.NewText(block.Run("a")),
		block.NewText(block.Run("c")),
	}

	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)

	// The later span goes first so the earlier indexes stay valid.
	assert.Equal(t, []string{"delete 3:4", "delete 1:2"}, svc.calls)
}

func TestSyncInsert(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	remote := []*block.Block{remoteText("b1", "a")}
	local := []*block.Block{
		block.NewText(block.Run("a")),
		block.NewText(block.Run("b")),
	}

	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, []string{"add idx=1 n=1"}, svc.calls)

	require.Len(t, svc.added, 1)
	assert.Equal(t, "b", svc.added[0][0].PlainText())
}

func TestSyncCodeLanguageChangeIsStructural(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	remoteCode := block.NewCode(25, block.Run("x"))
	remoteCode.ID = "b1"

	remote := []*block.Block{remoteCode}
	local := []*block.Block{block.NewCode(49, block.Run("x"))}

	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)

	// A language change cannot ride the text-element update, so the block
	// is replaced outright.
	assert.Equal(t, 0, res.InPlace)
	assert.Equal(t, 1, res.Replaced)
	assert.Equal(t, []string{"delete 0:1", "add idx=0 n=1"}, svc.calls)
}

func TestSyncTodoDoneChangeIsStructural(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	remoteTodo := &block.Block{ID: "b1", Type: block.TypeTodo, Text: &block.TextBody{Elements: []block.TextElement{block.Run("t")}}}
	localTodo := &block.Block{Type: block.TypeTodo, Text: &block.TextBody{Done: true, Elements: []block.TextElement{block.Run("t")}}}

	res, err := r.Sync(context.Background(), "doc1", []*block.Block{localTodo}, []*block.Block{remoteTodo})
	require.NoError(t, err)
	assert.Equal(t, 0, res.InPlace)
	assert.Equal(t, 1, res.Replaced)
}

func TestSyncImageTokenUpdateInPlace(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	remote := []*block.Block{{ID: "b1", Type: block.TypeImage, Asset: &block.AssetBody{Token: "old", Resolved: true}}}
	local := []*block.Block{{Type: block.TypeImage, Asset: &block.AssetBody{Token: "new", Resolved: true}}}

	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InPlace)

	require.Len(t, svc.batches, 1)
	assert.Equal(t, "new", svc.batches[0][0].ReplaceImageToken)
}

func TestSyncUnresolvedAssetIsStructural(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	remote := []*block.Block{{ID: "b1", Type: block.TypeImage, Asset: &block.AssetBody{Token: "old", Resolved: true}}}
	local := []*block.Block{{Type: block.TypeImage, Asset: &block.AssetBody{LocalPath: "a.png"}}}

	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)
	assert.Equal(t, 0, res.InPlace)
	assert.Equal(t, 1, res.Replaced)
}

func TestSyncThresholdTriggersRewrite(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 2, testLogger(t))

	remote := []*block.Block{remoteText("b1", "a"), remoteText("b2", "b"), remoteText("b3", "c")}
	local := []*block.Block{
		block.NewText(block.Run("x")),
		block.NewText(block.Run("y")),
		block.NewText(block.Run("z")),
	}

	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)
	assert.True(t, res.FullRewrite)
	assert.Equal(t, []string{"clear", "add idx=-1 n=3"}, svc.calls)
}

func TestSyncAtThresholdStaysIncremental(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 2, testLogger(t))

	remote := []*block.Block{remoteText("b1", "a"), remoteText("b2", "b")}
	local := []*block.Block{
		block.NewText(block.Run("x")),
		block.NewText(block.Run("y")),
	}

	// Exactly as many changed blocks as the threshold: the incremental
	// script still wins over clear-and-add.
	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)
	assert.False(t, res.FullRewrite)
	assert.Equal(t, 2, res.Replaced)
	assert.Equal(t, []string{"delete 0:2", "add idx=0 n=2"}, svc.calls)
}

func TestSyncEmptyRemoteRewrites(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	local := []*block.Block{block.NewText(block.Run("a"))}

	res, err := r.Sync(context.Background(), "doc1", local, nil)
	require.NoError(t, err)
	assert.True(t, res.FullRewrite)
	assert.Equal(t, []string{"clear", "add idx=-1 n=1"}, svc.calls)
}

func TestSyncFallsBackToRewriteOnEditFailure(t *testing.T) {
	svc := &fakeDocSvc{deleteErr: errors.New("boom")}
	r := NewReconciler(svc, 0, testLogger(t))

	remote := []*block.Block{remoteText("b1", "a"), remoteText("b2", "b")}
	local := []*block.Block{block.NewText(block.Run("a"))}

	res, err := r.Sync(context.Background(), "doc1", local, remote)
	require.NoError(t, err)
	assert.True(t, res.FullRewrite)

	// The failed delete never lands in calls; the rewrite pair does.
	assert.Equal(t, []string{"clear", "add idx=-1 n=1"}, svc.calls)
}

func TestSyncFallbackRewriteFailureSurfaces(t *testing.T) {
	svc := &fakeDocSvc{deleteErr: errors.New("edit boom"), clearErr: errors.New("clear boom")}
	r := NewReconciler(svc, 0, testLogger(t))

	remote := []*block.Block{remoteText("b1", "a"), remoteText("b2", "b")}
	local := []*block.Block{block.NewText(block.Run("a"))}

	_, err := r.Sync(context.Background(), "doc1", local, remote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rewrite after failed edit")
}

func TestRewrite(t *testing.T) {
	svc := &fakeDocSvc{}
	r := NewReconciler(svc, 0, testLogger(t))

	local := []*block.Block{block.NewText(block.Run("a"))}

	require.NoError(t, r.Rewrite(context.Background(), "doc1", local))
	assert.Equal(t, []string{"clear", "add idx=-1 n=1"}, svc.calls)
}

func TestNewReconcilerDefaultThreshold(t *testing.T) {
	r := NewReconciler(&fakeDocSvc{}, 0, testLogger(t))
	assert.Equal(t, DefaultThreshold, r.threshold)
}
