package diff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/larksync/larksync/internal/block"
	"github.com/larksync/larksync/internal/lark"
)

// DefaultThreshold is the number of changed top-level blocks above which an
// incremental edit script is abandoned for a full rewrite. Beyond this point
// the request count of the script exceeds the clear-and-add pair.
const DefaultThreshold = 15

// DocumentService is the slice of the gateway the reconciler needs.
type DocumentService interface {
	AddBlocks(ctx context.Context, docID, parentID string, blocks []*block.Block, index int) error
	DeleteBlockChildren(ctx context.Context, docID, parentID string, startIndex, endIndex int) error
	BatchUpdateBlocks(ctx context.Context, docID string, updates []lark.BlockUpdate) error
	ClearDocument(ctx context.Context, docID string) error
}

// Result summarizes what a reconcile run did to the remote document.
type Result struct {
	Changed     int
	Inserted    int
	Deleted     int
	Replaced    int
	InPlace     int
	FullRewrite bool
}

// NoChange reports whether the remote document was already up to date.
func (r Result) NoChange() bool {
	return r.Changed == 0 && !r.FullRewrite
}

// Reconciler pushes a local block tree onto a remote document with as few
// requests as it can.
type Reconciler struct {
	svc       DocumentService
	threshold int
	logger    *slog.Logger
}

// NewReconciler builds a Reconciler. A threshold of 0 selects the default.
func NewReconciler(svc DocumentService, threshold int, logger *slog.Logger) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{svc: svc, threshold: threshold, logger: logger}
}

// Sync makes the remote document's top-level blocks match local. remote is
// the current remote top-level sequence (with IDs); local has none. Small
// edits are applied incrementally in reverse index order so earlier spans
// keep their positions; large edits, or an empty remote document, go through
// a full rewrite. Any failure while applying the incremental script falls
// back to a full rewrite rather than leaving the document half-edited.
func (r *Reconciler) Sync(ctx context.Context, docID string, local, remote []*block.Block) (Result, error) {
	ops := Opcodes(HashAll(remote), HashAll(local))
	changed := ChangedSpan(ops)

	if changed == 0 {
		r.logger.Debug("document already in sync", slog.String("document", docID))

		return Result{}, nil
	}

	if len(remote) == 0 || changed > r.threshold {
		r.logger.Info("rewriting document",
			slog.String("document", docID),
			slog.Int("changed", changed),
			slog.Int("remote_blocks", len(remote)),
		)

		if err := r.Rewrite(ctx, docID, local); err != nil {
			return Result{}, err
		}

		return Result{Changed: changed, FullRewrite: true}, nil
	}

	res, err := r.applyScript(ctx, docID, ops, local, remote)
	if err != nil {
		r.logger.Warn("incremental edit failed, rewriting document",
			slog.String("document", docID),
			slog.String("error", err.Error()),
		)

		if rwErr := r.Rewrite(ctx, docID, local); rwErr != nil {
			return Result{}, fmt.Errorf("diff: rewrite after failed edit: %w", rwErr)
		}

		return Result{Changed: changed, FullRewrite: true}, nil
	}

	res.Changed = changed

	return res, nil
}

// applyScript executes the edit script. Structural ops run immediately in
// reverse order; in-place text replacements are collected and applied in one
// batch at the end, since they do not shift sibling indexes.
func (r *Reconciler) applyScript(ctx context.Context, docID string, ops []Opcode, local, remote []*block.Block) (Result, error) {
	var res Result

	var updates []lark.BlockUpdate

	for k := len(ops) - 1; k >= 0; k-- {
		op := ops[k]

		switch op.Tag {
		case OpEqual:

		case OpDelete:
			if err := r.svc.DeleteBlockChildren(ctx, docID, docID, op.I1, op.I2); err != nil {
				return res, err
			}

			res.Deleted += op.I2 - op.I1

		case OpInsert:
			if err := r.svc.AddBlocks(ctx, docID, docID, local[op.J1:op.J2], op.I1); err != nil {
				return res, err
			}

			res.Inserted += op.J2 - op.J1

		case OpReplace:
			if u, ok := inPlaceUpdate(remote[op.I1:op.I2], local[op.J1:op.J2]); ok {
				updates = append(updates, u)
				res.InPlace++

				continue
			}

			if err := r.svc.DeleteBlockChildren(ctx, docID, docID, op.I1, op.I2); err != nil {
				return res, err
			}

			if err := r.svc.AddBlocks(ctx, docID, docID, local[op.J1:op.J2], op.I1); err != nil {
				return res, err
			}

			res.Replaced += max(op.I2-op.I1, op.J2-op.J1)
		}
	}

	if err := r.svc.BatchUpdateBlocks(ctx, docID, updates); err != nil {
		return res, err
	}

	return res, nil
}

// inPlaceUpdate reports whether a replace span can be expressed as a single
// batch-update entry: one block on each side, same type, and a content
// change the update endpoint can carry.
func inPlaceUpdate(remote, local []*block.Block) (lark.BlockUpdate, bool) {
	if len(remote) != 1 || len(local) != 1 {
		return lark.BlockUpdate{}, false
	}

	rb, lb := remote[0], local[0]
	if rb.Type != lb.Type || len(rb.Children) > 0 || len(lb.Children) > 0 {
		return lark.BlockUpdate{}, false
	}

	switch {
	case rb.Type == block.TypeImage || rb.Type == block.TypeFile:
		if lb.Asset == nil || !lb.Asset.Resolved {
			return lark.BlockUpdate{}, false
		}

		u := lark.BlockUpdate{BlockID: rb.ID}
		if rb.Type == block.TypeImage {
			u.ReplaceImageToken = lb.Asset.Token
		} else {
			u.ReplaceFileToken = lb.Asset.Token
		}

		return u, true

	case rb.Type.IsTextBearing():
		// Language and done-state changes are style updates the text
		// element endpoint cannot express.
		if rb.Type == block.TypeCode && codeLanguage(rb) != codeLanguage(lb) {
			return lark.BlockUpdate{}, false
		}

		if rb.Type == block.TypeTodo && todoDone(rb) != todoDone(lb) {
			return lark.BlockUpdate{}, false
		}

		if lb.Text == nil {
			return lark.BlockUpdate{}, false
		}

		return lark.BlockUpdate{BlockID: rb.ID, ReplaceElements: lb.Text.Elements}, true

	default:
		return lark.BlockUpdate{}, false
	}
}

func codeLanguage(b *block.Block) int {
	if b.Text == nil {
		return 0
	}

	return b.Text.Language
}

func todoDone(b *block.Block) bool {
	return b.Text != nil && b.Text.Done
}

// Rewrite clears the document and re-adds the whole local tree. It is also
// the overwrite mode callers use to skip diffing entirely.
func (r *Reconciler) Rewrite(ctx context.Context, docID string, local []*block.Block) error {
	if err := r.svc.ClearDocument(ctx, docID); err != nil {
		return err
	}

	return r.svc.AddBlocks(ctx, docID, docID, local, -1)
}
