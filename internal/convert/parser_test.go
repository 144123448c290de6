package convert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark/ast"

	"github.com/larksync/larksync/internal/block"
)

func parse(t *testing.T, src string, opts ParseOptions) []*block.Block {
	t.Helper()

	blocks, err := Parse(context.Background(), []byte(src), opts)
	require.NoError(t, err)

	return blocks
}

func TestParseHeadings(t *testing.T) {
	blocks := parse(t, "# One\n\n### Three\n", ParseOptions{})
	require.Len(t, blocks, 2)

	assert.Equal(t, block.TypeHeading1, blocks[0].Type)
	assert.Equal(t, "One", blocks[0].PlainText())
	assert.Equal(t, block.TypeHeading3, blocks[1].Type)
}

func TestParseParagraphStyles(t *testing.T) {
	blocks := parse(t, "plain **bold** *italic* ~~gone~~ `code`\n", ParseOptions{})
	require.Len(t, blocks, 1)

	els := blocks[0].Text.Elements
	require.GreaterOrEqual(t, len(els), 5)

	byContent := map[string]block.TextStyle{}
	for _, el := range els {
		byContent[el.TextRun.Content] = el.TextRun.Style
	}

	assert.True(t, byContent["bold"].Bold)
	assert.True(t, byContent["italic"].Italic)
	assert.True(t, byContent["gone"].Strikethrough)
	assert.True(t, byContent["code"].InlineCode)
}

func TestParseInlineRawHTML(t *testing.T) {
	blocks := parse(t, "a <b>bold</b> c\n", ParseOptions{})
	require.Len(t, blocks, 1)

	// Inline HTML tags are kept as literal text.
	assert.Equal(t, "a <b>bold</b> c", blocks[0].PlainText())
}

func TestParseLink(t *testing.T) {
	blocks := parse(t, "see [the docs](https://example.com/docs)\n", ParseOptions{})
	require.Len(t, blocks, 1)

	var linked *block.TextRun

	for _, el := range blocks[0].Text.Elements {
		if el.TextRun != nil && el.TextRun.Style.Link != "" {
			linked = el.TextRun
		}
	}

	require.NotNil(t, linked)
	assert.Equal(t, "the docs", linked.Content)
	assert.Equal(t, "https://example.com/docs", linked.Style.Link)
}

func TestParseNestedList(t *testing.T) {
	blocks := parse(t, "- parent\n    - child\n- sibling\n", ParseOptions{})
	require.Len(t, blocks, 2)

	assert.Equal(t, block.TypeBullet, blocks[0].Type)
	assert.Equal(t, "parent", blocks[0].PlainText())

	require.Len(t, blocks[0].Children, 1)
	assert.Equal(t, block.TypeBullet, blocks[0].Children[0].Type)
	assert.Equal(t, "child", blocks[0].Children[0].PlainText())

	assert.Equal(t, "sibling", blocks[1].PlainText())
}

func TestParseWeakIndentIsNested(t *testing.T) {
	// Two-space indentation is below the CommonMark nesting threshold for a
	// two-character marker; the preprocessor deepens it so the child still
	// nests.
	blocks := parse(t, "- parent\n  - child\n", ParseOptions{})
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].Children, 1)
	assert.Equal(t, "child", blocks[0].Children[0].PlainText())
}

func TestParseOrderedList(t *testing.T) {
	blocks := parse(t, "1. first\n2. second\n", ParseOptions{})
	require.Len(t, blocks, 2)

	assert.Equal(t, block.TypeOrdered, blocks[0].Type)
	assert.Equal(t, block.TypeOrdered, blocks[1].Type)
}

func TestParseTodo(t *testing.T) {
	blocks := parse(t, "- [ ] open task\n- [x] done task\n", ParseOptions{})
	require.Len(t, blocks, 2)

	require.Equal(t, block.TypeTodo, blocks[0].Type)
	assert.False(t, blocks[0].Text.Done)
	assert.Equal(t, "open task", blocks[0].PlainText())

	require.Equal(t, block.TypeTodo, blocks[1].Type)
	assert.True(t, blocks[1].Text.Done)
	assert.Equal(t, "done task", blocks[1].PlainText())
}

func TestParseTodoLiteralPrefix(t *testing.T) {
	els := []block.TextElement{block.Run("[x] from literal")}

	done, isTodo, stripped := detectTodo(ast.NewParagraph(), els)
	require.True(t, isTodo)
	assert.True(t, done)
	require.Len(t, stripped, 1)
	assert.Equal(t, "from literal", stripped[0].TextRun.Content)
}

func TestParseCodeBlock(t *testing.T) {
	blocks := parse(t, "```go\nfmt.Println(1)\n```\n", ParseOptions{})
	require.Len(t, blocks, 1)

	require.Equal(t, block.TypeCode, blocks[0].Type)
	assert.Equal(t, 25, blocks[0].Text.Language)
	assert.Equal(t, "fmt.Println(1)", blocks[0].PlainText())
}

func TestParseCodeBlockUnknownLanguage(t *testing.T) {
	blocks := parse(t, "```madeuplang\nx\n```\n", ParseOptions{})
	require.Len(t, blocks, 1)
	assert.Equal(t, LangPlainText, blocks[0].Text.Language)
}

func TestParseBlockquote(t *testing.T) {
	blocks := parse(t, "> first line\n> second line\n\n> another quote\n", ParseOptions{})
	require.Len(t, blocks, 2)

	assert.Equal(t, block.TypeQuote, blocks[0].Type)
	assert.Equal(t, "first line\nsecond line", blocks[0].PlainText())
	assert.Equal(t, block.TypeQuote, blocks[1].Type)
}

func TestParseDivider(t *testing.T) {
	blocks := parse(t, "above\n\n---\n\nbelow\n", ParseOptions{})
	require.Len(t, blocks, 3)
	assert.Equal(t, block.TypeDivider, blocks[1].Type)
}

func TestParseTable(t *testing.T) {
	src := "| Name | Age |\n| --- | --- |\n| Ada | 36 |\n| Alan | 41 |\n"

	blocks := parse(t, src, ParseOptions{})
	require.Len(t, blocks, 1)

	tb := blocks[0]
	require.Equal(t, block.TypeTable, tb.Type)
	assert.Equal(t, 3, tb.Table.RowSize)
	assert.Equal(t, 2, tb.Table.ColumnSize)
	require.Len(t, tb.Children, 6)

	for _, cell := range tb.Children {
		assert.Equal(t, block.TypeTableCell, cell.Type)
		require.Len(t, cell.Children, 1)
		assert.Equal(t, block.TypeText, cell.Children[0].Type)
	}

	assert.Equal(t, "Name", tb.Children[0].Children[0].PlainText())
	assert.Equal(t, "41", tb.Children[5].Children[0].PlainText())
}

func TestParseTableShortRowIsPadded(t *testing.T) {
	src := "| A | B |\n| --- | --- |\n| only |\n"

	blocks := parse(t, src, ParseOptions{})
	require.Len(t, blocks, 1)
	assert.Len(t, blocks[0].Children, 4)
}

func TestParseFrontMatterBecomesQuote(t *testing.T) {
	blocks := parse(t, "---\ntitle: Hello\n---\n\nbody\n", ParseOptions{})
	require.Len(t, blocks, 2)

	assert.Equal(t, block.TypeQuote, blocks[0].Type)
	assert.Contains(t, blocks[0].PlainText(), "title: ")
	assert.Equal(t, "body", blocks[1].PlainText())
}

func TestParseImageUploaded(t *testing.T) {
	var gotRef string

	uploader := UploaderFunc(func(_ context.Context, reference string, isImage bool) (string, error) {
		gotRef = reference

		assert.True(t, isImage)

		return "imgtok1", nil
	})

	blocks := parse(t, "before\n\n![alt](diagram.png)\n", ParseOptions{Uploader: uploader})
	require.Len(t, blocks, 2)

	img := blocks[1]
	require.Equal(t, block.TypeImage, img.Type)
	assert.Equal(t, "diagram.png", gotRef)
	assert.True(t, img.Asset.Resolved)
	assert.Equal(t, "imgtok1", img.Asset.Token)
	assert.Equal(t, "diagram.png", img.Asset.Name)
}

func TestParseImageUploadFailureKeepsPlaceholder(t *testing.T) {
	uploader := UploaderFunc(func(_ context.Context, _ string, _ bool) (string, error) {
		return "", errors.New("boom")
	})

	blocks := parse(t, "![alt](missing.png)\n", ParseOptions{Uploader: uploader})
	require.Len(t, blocks, 1)

	assert.False(t, blocks[0].Asset.Resolved)
	assert.Empty(t, blocks[0].Asset.Token)
	assert.Equal(t, "missing.png", blocks[0].Asset.LocalPath)
}

func TestParseImagePercentEncodedPath(t *testing.T) {
	var gotRef string

	uploader := UploaderFunc(func(_ context.Context, reference string, _ bool) (string, error) {
		gotRef = reference

		return "tok", nil
	})

	parse(t, "![alt](My%20File.png)\n", ParseOptions{Uploader: uploader})
	assert.Equal(t, "My File.png", gotRef)
}

func TestParseWikiEmbed(t *testing.T) {
	uploader := UploaderFunc(func(_ context.Context, reference string, _ bool) (string, error) {
		assert.Equal(t, "photo.jpg", reference)

		return "tok", nil
	})

	blocks := parse(t, "![[photo.jpg]]\n", ParseOptions{Uploader: uploader})
	require.Len(t, blocks, 1)
	assert.Equal(t, block.TypeImage, blocks[0].Type)
}

func TestParseNonImageEmbedIsFile(t *testing.T) {
	uploader := UploaderFunc(func(_ context.Context, _ string, isImage bool) (string, error) {
		assert.False(t, isImage)

		return "filetok", nil
	})

	blocks := parse(t, "![report](report.pdf)\n", ParseOptions{Uploader: uploader})
	require.Len(t, blocks, 1)
	assert.Equal(t, block.TypeFile, blocks[0].Type)
}

func TestParseExternalImageStaysInline(t *testing.T) {
	blocks := parse(t, "![alt](https://example.com/a.png)\n", ParseOptions{})
	require.Len(t, blocks, 1)

	assert.Equal(t, block.TypeText, blocks[0].Type)
	assert.Equal(t, "![alt](https://example.com/a.png)", blocks[0].PlainText())
}

func TestParseHeadingLevelClamped(t *testing.T) {
	// ATX headings stop at six hashes, so clamp via a direct deep heading.
	blocks := parse(t, "###### six\n", ParseOptions{})
	require.Len(t, blocks, 1)
	assert.Equal(t, block.TypeHeading6, blocks[0].Type)
}

func TestParseDeterministic(t *testing.T) {
	src := "# T\n\n- a\n- [ ] b\n\n```go\nx\n```\n"

	first := parse(t, src, ParseOptions{})
	second := parse(t, src, ParseOptions{})
	assert.Equal(t, first, second)
}
