// Package diff computes the minimal edit script between a local document
// tree and its remote counterpart and applies it through the gateway.
// Blocks are compared by content fingerprint, never by remote ID, so the
// local tree (which has no IDs) diffs cleanly against the remote one.
package diff

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/larksync/larksync/internal/block"
)

// Hash returns a stable fingerprint of a block subtree. Two subtrees hash
// equal exactly when type, text content, asset identity, table shape, and
// the ordered child hashes all match. Text styles are deliberately excluded:
// a style-only change is handled as an in-place update, not a structural one.
func Hash(b *block.Block) string {
	sum := md5.Sum([]byte(signature(b)))

	return hex.EncodeToString(sum[:])
}

// HashAll fingerprints a block sequence element-wise.
func HashAll(blocks []*block.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = Hash(b)
	}

	return out
}

func signature(b *block.Block) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%d:%s:", int(b.Type), contentSignature(b))

	for _, c := range b.Children {
		sb.WriteString(Hash(c))
		sb.WriteString(",")
	}

	return sb.String()
}

// contentSignature is the type-specific part of the fingerprint.
func contentSignature(b *block.Block) string {
	switch {
	case b.Type == block.TypeCode:
		lang := 0
		if b.Text != nil {
			lang = b.Text.Language
		}

		return fmt.Sprintf("lang=%d;%s", lang, b.PlainText())

	case b.Type == block.TypeTodo:
		done := false
		if b.Text != nil {
			done = b.Text.Done
		}

		return fmt.Sprintf("done=%t;%s", done, b.PlainText())

	case b.Type == block.TypeImage || b.Type == block.TypeFile:
		if b.Asset == nil {
			return ""
		}

		// An unresolved placeholder must never hash equal to a resolved
		// block, even for the same source path, so the next run retries
		// the upload.
		if !b.Asset.Resolved {
			return "unresolved;" + b.Asset.LocalPath
		}

		return "token;" + b.Asset.Token

	case b.Type == block.TypeTable:
		if b.Table == nil {
			return ""
		}

		return fmt.Sprintf("%dx%d", b.Table.RowSize, b.Table.ColumnSize)

	default:
		return b.PlainText()
	}
}
