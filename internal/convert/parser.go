package convert

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/larksync/larksync/internal/block"
)

// maxHeadingLevel is the deepest heading the block model supports.
const maxHeadingLevel = 9

// ParseOptions configures a Parse call.
type ParseOptions struct {
	// Uploader resolves embedded asset references to remote tokens.
	// When nil, asset blocks keep their local path placeholders unresolved.
	Uploader Uploader

	Logger *slog.Logger
}

// Parse converts a Markdown document into the top-level blocks of a block
// tree. The result is deterministic for identical input: stable element
// order and no wall-clock dependence.
func Parse(ctx context.Context, source []byte, opts ParseOptions) ([]*block.Block, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	pairs, body := Preprocess(string(source))

	p := &mdParser{
		ctx:    ctx,
		src:    []byte(body),
		opts:   opts,
		logger: opts.Logger,
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(p.src))

	var blocks []*block.Block

	if len(pairs) > 0 {
		blocks = append(blocks, frontMatterBlock(pairs))
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		blocks = append(blocks, p.convertBlockNode(n)...)
	}

	return blocks, nil
}

// mdParser carries parse state through the AST walk.
type mdParser struct {
	ctx    context.Context
	src    []byte
	opts   ParseOptions
	logger *slog.Logger
}

// convertBlockNode translates one AST block node into zero or more blocks.
func (p *mdParser) convertBlockNode(n ast.Node) []*block.Block {
	switch n := n.(type) {
	case *ast.Heading:
		level := n.Level
		if level > maxHeadingLevel {
			level = maxHeadingLevel
		}

		els, extra := p.inlines(n, block.TextStyle{})

		out := []*block.Block{{Type: block.Heading(level), Text: &block.TextBody{Elements: els}}}

		return append(out, extra...)

	case *ast.Paragraph:
		return p.convertParagraph(n)

	case *ast.TextBlock:
		return p.convertParagraph(n)

	case *ast.FencedCodeBlock:
		return []*block.Block{p.convertCode(n)}

	case *ast.CodeBlock:
		content := p.nodeLines(n)

		return []*block.Block{block.NewCode(LangPlainText, block.Run(content))}

	case *ast.ThematicBreak:
		return []*block.Block{{Type: block.TypeDivider}}

	case *ast.Blockquote:
		return p.convertBlockquote(n)

	case *ast.List:
		return p.convertList(n)

	case *east.Table:
		return []*block.Block{p.convertTable(n)}

	case *ast.HTMLBlock:
		// No HTML block type exists remotely; keep the raw text so no
		// content is silently lost.
		content := strings.TrimRight(p.nodeLines(n), "\n")
		if content == "" {
			return nil
		}

		return []*block.Block{block.NewText(block.Run(content))}

	default:
		p.logger.Debug("skipping unsupported markdown node",
			slog.String("kind", n.Kind().String()),
		)

		return nil
	}
}

// convertParagraph emits a Text block for the inline content, followed by
// any asset blocks embedded in the paragraph.
func (p *mdParser) convertParagraph(n ast.Node) []*block.Block {
	els, extra := p.inlines(n, block.TextStyle{})

	var out []*block.Block

	if len(els) > 0 {
		out = append(out, &block.Block{Type: block.TypeText, Text: &block.TextBody{Elements: els}})
	}

	return append(out, extra...)
}

// convertCode maps a fenced code block, stripping the terminating newline.
func (p *mdParser) convertCode(n *ast.FencedCodeBlock) *block.Block {
	lang := LanguageCode(string(n.Language(p.src)))
	content := strings.TrimSuffix(p.nodeLines(n), "\n")

	return block.NewCode(lang, block.Run(content))
}

// nodeLines joins the raw source lines of a block node.
func (p *mdParser) nodeLines(n ast.Node) string {
	var sb strings.Builder

	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(p.src))
	}

	return sb.String()
}

// convertBlockquote emits one Quote block per paragraph. Lists inside a
// blockquote are flattened to ordinary list blocks following the quote;
// the remote has no quote-containing-list composite type.
func (p *mdParser) convertBlockquote(n *ast.Blockquote) []*block.Block {
	var out []*block.Block

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			els, extra := p.inlines(c, block.TextStyle{})
			if len(els) > 0 {
				out = append(out, &block.Block{Type: block.TypeQuote, Text: &block.TextBody{Elements: els}})
			}

			out = append(out, extra...)

		case *ast.List:
			out = append(out, p.convertList(c)...)

		case *ast.Blockquote:
			out = append(out, p.convertBlockquote(c)...)

		default:
			out = append(out, p.convertBlockNode(c)...)
		}
	}

	return out
}

// convertList translates a list into sibling item blocks; nesting is
// expressed through each item's children.
func (p *mdParser) convertList(n *ast.List) []*block.Block {
	ordered := n.IsOrdered()

	var out []*block.Block

	for li := n.FirstChild(); li != nil; li = li.NextSibling() {
		if item := p.convertListItem(li, ordered); item != nil {
			out = append(out, item)
		}
	}

	return out
}

// convertListItem builds one Bullet/Ordered/Todo block from a list item.
// The first paragraph provides the item's own elements; nested lists and
// later paragraphs become children.
func (p *mdParser) convertListItem(li ast.Node, ordered bool) *block.Block {
	item := &block.Block{Text: &block.TextBody{}}

	if ordered {
		item.Type = block.TypeOrdered
	} else {
		item.Type = block.TypeBullet
	}

	first := true

	for c := li.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			els, extra := p.inlines(c, block.TextStyle{})

			if first {
				first = false

				done, isTodo, stripped := detectTodo(c, els)
				if isTodo {
					item.Type = block.TypeTodo
					item.Text.Done = done
					els = stripped
				}

				item.Text.Elements = els
				item.Children = append(item.Children, extra...)

				continue
			}

			if len(els) > 0 {
				item.Children = append(item.Children, &block.Block{Type: block.TypeText, Text: &block.TextBody{Elements: els}})
			}

			item.Children = append(item.Children, extra...)

		case *ast.List:
			// A sublist nests under the item goldmark attached it to,
			// which is this one.
			item.Children = append(item.Children, p.convertList(c)...)

		default:
			item.Children = append(item.Children, p.convertBlockNode(c)...)
		}
	}

	return item
}

// detectTodo decides whether a list-item paragraph is a checkbox item.
// The GFM task-list extension parses `- [ ] x` into a TaskCheckBox inline;
// the literal-prefix check catches sources the extension missed. The
// returned element slice has the marker stripped; no Bullet block whose
// content begins with a checkbox marker may survive parsing.
func detectTodo(para ast.Node, els []block.TextElement) (done, isTodo bool, stripped []block.TextElement) {
	if cb, ok := para.FirstChild().(*east.TaskCheckBox); ok {
		return cb.IsChecked, true, els
	}

	if len(els) == 0 || els[0].TextRun == nil {
		return false, false, els
	}

	content := els[0].TextRun.Content

	for _, marker := range []struct {
		prefix string
		done   bool
	}{
		{"[ ] ", false},
		{"[x] ", true},
		{"[X] ", true},
		{"[ ]", false},
		{"[x]", true},
		{"[X]", true},
	} {
		if strings.HasPrefix(content, marker.prefix) {
			rest := strings.TrimPrefix(content, marker.prefix)
			rest = strings.TrimPrefix(rest, " ")

			out := append([]block.TextElement{}, els...)

			if rest == "" && len(out) > 1 {
				out = out[1:]
			} else {
				run := *out[0].TextRun
				run.Content = rest
				out[0] = block.TextElement{TextRun: &run}
			}

			return marker.done, true, out
		}
	}

	return false, false, els
}

// convertTable builds a Table block with RowSize*ColumnSize TableCell
// children in row-major order; every cell holds exactly one Text block.
func (p *mdParser) convertTable(t *east.Table) *block.Block {
	columns := len(t.Alignments)

	tb := &block.Block{Type: block.TypeTable, Table: &block.TableBody{ColumnSize: columns}}

	appendRow := func(row ast.Node) {
		tb.Table.RowSize++

		count := 0

		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			els, _ := p.inlines(cell, block.TextStyle{})

			inner := &block.Block{Type: block.TypeText, Text: &block.TextBody{Elements: els}}
			tb.Children = append(tb.Children, &block.Block{
				Type:     block.TypeTableCell,
				Text:     &block.TextBody{},
				Children: []*block.Block{inner},
			})

			count++
		}

		// Pad short rows so the cell grid stays rectangular.
		for ; count < columns; count++ {
			tb.Children = append(tb.Children, &block.Block{
				Type:     block.TypeTableCell,
				Text:     &block.TextBody{},
				Children: []*block.Block{{Type: block.TypeText, Text: &block.TextBody{}}},
			})
		}
	}

	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		switch row := row.(type) {
		case *east.TableHeader:
			appendRow(row)
		case *east.TableRow:
			appendRow(row)
		}
	}

	return tb
}

// inlines converts the inline children of a node into text elements,
// accumulating embedded assets as separate blocks.
func (p *mdParser) inlines(n ast.Node, style block.TextStyle) ([]block.TextElement, []*block.Block) {
	var (
		els   []block.TextElement
		extra []*block.Block
	)

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			content := string(c.Segment.Value(p.src))
			if content != "" {
				els = append(els, block.StyledRun(content, style))
			}

			// The remote tolerates in-run newlines, so both soft and hard
			// breaks become a newline run.
			if c.SoftLineBreak() || c.HardLineBreak() {
				els = append(els, block.StyledRun("\n", style))
			}

		case *ast.String:
			els = append(els, block.StyledRun(string(c.Value), style))

		case *ast.CodeSpan:
			s := style
			s.InlineCode = true

			els = append(els, block.StyledRun(p.literalText(c), s))

		case *ast.Emphasis:
			s := style
			if c.Level >= 2 {
				s.Bold = true
			} else {
				s.Italic = true
			}

			sub, subExtra := p.inlines(c, s)
			els = append(els, sub...)
			extra = append(extra, subExtra...)

		case *east.Strikethrough:
			s := style
			s.Strikethrough = true

			sub, subExtra := p.inlines(c, s)
			els = append(els, sub...)
			extra = append(extra, subExtra...)

		case *ast.Link:
			s := style
			s.Link = string(c.Destination)

			sub, subExtra := p.inlines(c, s)
			els = append(els, sub...)
			extra = append(extra, subExtra...)

		case *ast.AutoLink:
			u := string(c.URL(p.src))
			s := style
			s.Link = u

			els = append(els, block.StyledRun(u, s))

		case *ast.Image:
			assetEls, assetBlock := p.convertImage(c, style)
			els = append(els, assetEls...)

			if assetBlock != nil {
				extra = append(extra, assetBlock)
			}

		case *east.TaskCheckBox:
			// Consumed by detectTodo at the list-item level.

		case *ast.RawHTML:
			els = append(els, block.StyledRun(p.rawHTMLText(c), style))

		default:
			sub, subExtra := p.inlines(c, style)
			els = append(els, sub...)
			extra = append(extra, subExtra...)
		}
	}

	return els, extra
}

// literalText concatenates the literal segments of a code span.
func (p *mdParser) literalText(n ast.Node) string {
	var sb strings.Builder

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(p.src))
		}
	}

	return sb.String()
}

// rawHTMLText reassembles the source text of a raw HTML inline.
func (p *mdParser) rawHTMLText(n *ast.RawHTML) string {
	var sb strings.Builder

	for i := 0; i < n.Segments.Len(); i++ {
		seg := n.Segments.At(i)
		sb.Write(seg.Value(p.src))
	}

	return sb.String()
}

// convertImage resolves an embedded asset reference. Local references
// become Image or File blocks (by extension); the uploader resolves them to
// remote tokens, and a failed upload leaves the placeholder unresolved.
// External URLs and unresolvable references are preserved as inline text.
func (p *mdParser) convertImage(img *ast.Image, style block.TextStyle) ([]block.TextElement, *block.Block) {
	dest := string(img.Destination)
	alt := p.literalText(img)

	decoded, err := url.PathUnescape(dest)
	if err == nil {
		dest = decoded
	}

	if strings.Contains(dest, "://") {
		// Remote image: no local file to upload; keep the syntax inline.
		return []block.TextElement{block.StyledRun(fmt.Sprintf("![%s](%s)", alt, dest), style)}, nil
	}

	isImage := !mediaExtensions[strings.ToLower(filepath.Ext(dest))]

	asset := &block.AssetBody{
		LocalPath: dest,
		Name:      filepath.Base(dest),
	}

	if p.opts.Uploader != nil {
		token, upErr := p.opts.Uploader.UploadAsset(p.ctx, dest, isImage)
		if upErr != nil {
			p.logger.Warn("asset upload failed, keeping placeholder",
				slog.String("reference", dest),
				slog.String("error", upErr.Error()),
			)
		} else {
			asset.Token = token
			asset.Resolved = true
		}
	}

	t := block.TypeImage
	if !isImage {
		t = block.TypeFile
	}

	return nil, &block.Block{Type: t, Asset: asset}
}
