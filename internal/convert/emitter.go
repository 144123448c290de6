package convert

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/larksync/larksync/internal/block"
)

// downloadFailedMarker is emitted as the alt text when an asset cannot be
// fetched, so the failure is visible in the document instead of silent.
const downloadFailedMarker = "下载失败"

// listIndent is the per-level indentation for nested list items. Four
// spaces match what the parser normalizes weak indentation to, so nested
// lists round-trip byte-identically.
const listIndent = "    "

// EmitOptions configures an Emit call.
type EmitOptions struct {
	// Downloader fetches asset tokens to local files. When nil, asset
	// blocks emit the failure marker with the raw token.
	Downloader Downloader

	Logger *slog.Logger
}

// Emit renders top-level blocks back into Markdown, the inverse of Parse
// for the supported block types. Blocks of unknown type emit nothing.
func Emit(ctx context.Context, blocks []*block.Block, opts EmitOptions) (string, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &emitter{ctx: ctx, opts: opts, logger: opts.Logger}

	var chunks []chunk

	for _, b := range blocks {
		chunks = append(chunks, e.emitBlock(b, 0)...)
	}

	return joinChunks(chunks), nil
}

// chunk is one rendered block plus the data the separator policy needs.
type chunk struct {
	text      string
	isHeading bool
	isItem    bool // list item: kept tight against the previous item
}

// joinChunks assembles chunks with the blank-line policy: exactly one blank
// line between a non-heading block and a following heading, consecutive
// list items tight, one blank line everywhere else, and never more than one
// blank line in a row.
func joinChunks(chunks []chunk) string {
	var sb strings.Builder

	for i, c := range chunks {
		if i > 0 {
			if c.isItem && chunks[i-1].isItem {
				sb.WriteString("\n")
			} else {
				sb.WriteString("\n\n")
			}
		}

		sb.WriteString(c.text)
	}

	out := sb.String()
	if out == "" {
		return ""
	}

	return collapseBlankRuns(out) + "\n"
}

// collapseBlankRuns normalizes sequences of blank lines to at most one.
func collapseBlankRuns(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blanks++
			if blanks > 1 {
				continue
			}

			line = ""
		} else {
			blanks = 0
		}

		out = append(out, line)
	}

	return strings.TrimRight(strings.Join(out, "\n"), "\n")
}

type emitter struct {
	ctx    context.Context
	opts   EmitOptions
	logger *slog.Logger

	// orderedRun tracks consecutive Ordered siblings per depth for
	// sequential numbering.
	orderedRun map[int]int
}

// emitBlock renders one block (and its children) into chunks.
func (e *emitter) emitBlock(b *block.Block, depth int) []chunk {
	if b.Type != block.TypeOrdered {
		e.resetOrdered(depth)
	}

	switch {
	case b.Type.HeadingLevel() > 0:
		lvl := b.Type.HeadingLevel()

		return []chunk{{
			text:      strings.Repeat("#", lvl) + " " + e.inlineText(b),
			isHeading: true,
		}}

	case b.Type == block.TypeText:
		return []chunk{{text: e.inlineText(b)}}

	case b.Type == block.TypeBullet:
		return e.emitListItem(b, depth, "- ")

	case b.Type == block.TypeOrdered:
		if e.orderedRun == nil {
			e.orderedRun = make(map[int]int)
		}

		e.orderedRun[depth]++

		return e.emitListItem(b, depth, fmt.Sprintf("%d. ", e.orderedRun[depth]))

	case b.Type == block.TypeTodo:
		marker := "- [ ] "
		if b.Text != nil && b.Text.Done {
			marker = "- [x] "
		}

		return e.emitListItem(b, depth, marker)

	case b.Type == block.TypeCode:
		lang := ""
		if b.Text != nil {
			lang = LanguageName(b.Text.Language)
		}

		return []chunk{{text: "```" + lang + "\n" + b.PlainText() + "\n```"}}

	case b.Type == block.TypeQuote:
		text := e.inlineText(b)
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			lines[i] = "> " + line
		}

		return []chunk{{text: strings.Join(lines, "\n")}}

	case b.Type == block.TypeDivider:
		return []chunk{{text: "---"}}

	case b.Type == block.TypeImage, b.Type == block.TypeFile:
		return []chunk{{text: e.emitAsset(b)}}

	case b.Type == block.TypeTable:
		return []chunk{{text: e.emitTable(b)}}

	default:
		// Unknown remote block type: emit nothing.
		e.logger.Debug("skipping block with no markdown form",
			slog.String("type", b.Type.String()),
			slog.String("id", b.ID),
		)

		return nil
	}
}

// resetOrdered ends the ordered-numbering run at depth and deeper.
func (e *emitter) resetOrdered(depth int) {
	for d := range e.orderedRun {
		if d >= depth {
			delete(e.orderedRun, d)
		}
	}
}

// emitListItem renders a list item and recurses into its children with one
// more level of indentation.
func (e *emitter) emitListItem(b *block.Block, depth int, marker string) []chunk {
	indent := strings.Repeat(listIndent, depth)

	out := []chunk{{text: indent + marker + e.inlineText(b), isItem: true}}

	for _, child := range b.Children {
		for _, c := range e.emitBlock(child, depth+1) {
			if !c.isItem {
				// Continuation content inside a list item is indented to
				// stay attached to the item.
				c.text = indentLines(c.text, strings.Repeat(listIndent, depth+1))
				c.isItem = true
			}

			out = append(out, c)
		}
	}

	return out
}

func indentLines(s, indent string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}

	return strings.Join(lines, "\n")
}

// emitAsset downloads the asset (when a downloader is wired) and emits
// image syntax; failures emit the marker with the raw token.
func (e *emitter) emitAsset(b *block.Block) string {
	token := ""
	name := ""

	if b.Asset != nil {
		token = b.Asset.Token
		name = b.Asset.Name
	}

	if e.opts.Downloader != nil && token != "" {
		ref, err := e.opts.Downloader.DownloadAsset(e.ctx, token)
		if err == nil {
			alt := name
			if alt == "" {
				alt = path.Base(ref)
			}

			return fmt.Sprintf("![%s](%s)", alt, strings.ReplaceAll(ref, " ", "%20"))
		}

		e.logger.Warn("asset download failed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
	}

	return fmt.Sprintf("![%s](%s)", downloadFailedMarker, token)
}

// emitTable renders a Table block as a Markdown pipe table. The first row
// is the header. Cell text containing a pipe is escaped.
func (e *emitter) emitTable(b *block.Block) string {
	if b.Table == nil || b.Table.ColumnSize == 0 {
		return ""
	}

	cols := b.Table.ColumnSize

	var rows [][]string

	for i := 0; i < len(b.Children); i += cols {
		row := make([]string, 0, cols)

		for j := 0; j < cols && i+j < len(b.Children); j++ {
			row = append(row, e.cellText(b.Children[i+j]))
		}

		for len(row) < cols {
			row = append(row, "")
		}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return ""
	}

	var sb strings.Builder

	writeRow := func(cells []string) {
		sb.WriteString("| ")
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString(" |")
	}

	writeRow(rows[0])
	sb.WriteString("\n")

	seps := make([]string, cols)
	for i := range seps {
		seps[i] = "---"
	}

	writeRow(seps)

	for _, row := range rows[1:] {
		sb.WriteString("\n")
		writeRow(row)
	}

	return sb.String()
}

// cellText renders the content of a TableCell: its single inner Text block.
func (e *emitter) cellText(cell *block.Block) string {
	var text string

	if len(cell.Children) > 0 {
		text = e.inlineText(cell.Children[0])
	} else {
		text = e.inlineText(cell)
	}

	text = strings.ReplaceAll(text, "|", `\|`)

	// Newlines cannot appear inside a pipe-table cell.
	return strings.ReplaceAll(text, "\n", " ")
}

// inlineText renders a block's text elements as inline Markdown, restoring
// style markers. Adjacent runs with identical style are merged first so
// markers wrap whole spans.
func (e *emitter) inlineText(b *block.Block) string {
	if b.Text == nil {
		return ""
	}

	var sb strings.Builder

	for _, el := range mergeRuns(b.Text.Elements) {
		switch {
		case el.TextRun != nil:
			sb.WriteString(renderRun(el.TextRun))

		case el.MentionUser != nil:
			sb.WriteString("@" + el.MentionUser.UserID)

		case el.MentionDoc != nil:
			sb.WriteString(fmt.Sprintf("[%s](%s)", el.MentionDoc.Token, el.MentionDoc.URL))

		case el.Reminder != nil:
			// Reminders have no Markdown form.
		}
	}

	return sb.String()
}

// mergeRuns coalesces adjacent TextRuns with identical style.
func mergeRuns(els []block.TextElement) []block.TextElement {
	out := make([]block.TextElement, 0, len(els))

	for _, el := range els {
		if el.TextRun != nil && len(out) > 0 {
			if prev := out[len(out)-1].TextRun; prev != nil && prev.Style == el.TextRun.Style {
				merged := *prev
				merged.Content += el.TextRun.Content
				out[len(out)-1] = block.TextElement{TextRun: &merged}

				continue
			}
		}

		out = append(out, el)
	}

	return out
}

// renderRun wraps a run's content in its style markers, line by line so
// markers never span a newline.
func renderRun(run *block.TextRun) string {
	lines := strings.Split(run.Content, "\n")

	for i, line := range lines {
		if line == "" {
			continue
		}

		wrapped := line

		if run.Style.InlineCode {
			wrapped = "`" + wrapped + "`"
		} else {
			if run.Style.Bold {
				wrapped = "**" + wrapped + "**"
			}

			if run.Style.Italic {
				wrapped = "*" + wrapped + "*"
			}

			if run.Style.Strikethrough {
				wrapped = "~~" + wrapped + "~~"
			}
		}

		if run.Style.Link != "" {
			wrapped = fmt.Sprintf("[%s](%s)", wrapped, run.Style.Link)
		}

		lines[i] = wrapped
	}

	return strings.Join(lines, "\n")
}
