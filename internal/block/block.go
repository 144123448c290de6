// Package block defines the normalized document block model shared by the
// converter, the differ, and the gateway. The on-the-wire JSON shape is a
// serialization concern handled in internal/lark; everything above the
// gateway works with these types.
package block

// Type is the numeric block type used by the docx API.
type Type int

// Block types. The numeric values match the remote service so the gateway
// can serialize without a translation table.
const (
	TypePage      Type = 1
	TypeText      Type = 2
	TypeHeading1  Type = 3
	TypeHeading2  Type = 4
	TypeHeading3  Type = 5
	TypeHeading4  Type = 6
	TypeHeading5  Type = 7
	TypeHeading6  Type = 8
	TypeHeading7  Type = 9
	TypeHeading8  Type = 10
	TypeHeading9  Type = 11
	TypeBullet    Type = 12
	TypeOrdered   Type = 13
	TypeCode      Type = 14
	TypeQuote     Type = 15
	TypeTodo      Type = 17
	TypeDivider   Type = 22
	TypeFile      Type = 23
	TypeImage     Type = 27
	TypeTable     Type = 31
	TypeTableCell Type = 32
)

// Heading returns the heading block type for the given level (1-based).
// Levels above 9 are clamped to Heading9.
func Heading(level int) Type {
	if level < 1 {
		level = 1
	}

	if level > 9 {
		level = 9
	}

	return Type(int(TypeHeading1) + level - 1)
}

// HeadingLevel returns the 1-based heading level, or 0 if t is not a heading.
func (t Type) HeadingLevel() int {
	if t < TypeHeading1 || t > TypeHeading9 {
		return 0
	}

	return int(t-TypeHeading1) + 1
}

// IsTextBearing reports whether blocks of this type carry text elements.
func (t Type) IsTextBearing() bool {
	switch t {
	case TypePage, TypeText, TypeBullet, TypeOrdered, TypeCode, TypeQuote, TypeTodo, TypeTableCell:
		return true
	default:
		return t.HeadingLevel() > 0
	}
}

// String returns the lowercase type name used in logs.
func (t Type) String() string {
	switch t {
	case TypePage:
		return "page"
	case TypeText:
		return "text"
	case TypeBullet:
		return "bullet"
	case TypeOrdered:
		return "ordered"
	case TypeCode:
		return "code"
	case TypeQuote:
		return "quote"
	case TypeTodo:
		return "todo"
	case TypeDivider:
		return "divider"
	case TypeFile:
		return "file"
	case TypeImage:
		return "image"
	case TypeTable:
		return "table"
	case TypeTableCell:
		return "table_cell"
	default:
		if lvl := t.HeadingLevel(); lvl > 0 {
			return "heading" + string(rune('0'+lvl))
		}

		return "unknown"
	}
}

// TextStyle holds inline formatting flags for a TextRun.
// Color codes are the remote service's palette indexes; zero means unset.
type TextStyle struct {
	Bold            bool
	Italic          bool
	Strikethrough   bool
	Underline       bool
	InlineCode      bool
	TextColor       int
	BackgroundColor int
	Link            string
}

// IsZero reports whether no style flags are set.
func (s TextStyle) IsZero() bool {
	return s == TextStyle{}
}

// TextRun is a styled span of text.
type TextRun struct {
	Content string
	Style   TextStyle
}

// MentionUser references a user by open ID.
type MentionUser struct {
	UserID string
}

// MentionDoc references another document.
type MentionDoc struct {
	Token   string
	ObjType int
	URL     string
}

// Reminder is a dated reminder attached to text.
type Reminder struct {
	UserID     string
	ExpireTime int64
	NotifyTime int64
}

// TextElement is a tagged variant: exactly one field is non-nil.
type TextElement struct {
	TextRun     *TextRun
	MentionUser *MentionUser
	MentionDoc  *MentionDoc
	Reminder    *Reminder
}

// Run is a convenience constructor for an unstyled text element.
func Run(content string) TextElement {
	return TextElement{TextRun: &TextRun{Content: content}}
}

// StyledRun constructs a text element with the given style.
func StyledRun(content string, style TextStyle) TextElement {
	return TextElement{TextRun: &TextRun{Content: content, Style: style}}
}

// TextBody is the content record for text-bearing blocks.
// Language is set for Code blocks only; Done for Todo blocks only.
type TextBody struct {
	Elements []TextElement
	Language int
	Done     bool
}

// AssetBody is the content record for Image and File blocks. Token is the
// remote asset token once resolved; until then LocalPath carries the local
// placeholder and Resolved is false. Unresolved placeholders must never hash
// equal to resolved blocks with the same path.
type AssetBody struct {
	Token     string
	Name      string
	LocalPath string
	Resolved  bool
}

// TableBody carries the table dimensions. A table block has exactly
// RowSize*ColumnSize TableCell children in row-major order.
type TableBody struct {
	RowSize    int
	ColumnSize int
}

// Block is one node of a document tree. Exactly one of the body pointers is
// set, matching Type; Divider has none.
type Block struct {
	ID       string
	Type     Type
	Text     *TextBody
	Asset    *AssetBody
	Table    *TableBody
	Children []*Block
}

// PlainText returns the concatenation of TextRun contents, ignoring styles
// and non-run elements. This is the content signature the differ hashes.
func (b *Block) PlainText() string {
	if b.Text == nil {
		return ""
	}

	var out []byte
	for _, el := range b.Text.Elements {
		if el.TextRun != nil {
			out = append(out, el.TextRun.Content...)
		}
	}

	return string(out)
}

// NewText builds a Text block from the given elements.
func NewText(elements ...TextElement) *Block {
	return &Block{Type: TypeText, Text: &TextBody{Elements: elements}}
}

// NewHeading builds a heading block of the given level.
func NewHeading(level int, elements ...TextElement) *Block {
	return &Block{Type: Heading(level), Text: &TextBody{Elements: elements}}
}

// NewTodo builds a Todo block.
func NewTodo(done bool, elements ...TextElement) *Block {
	return &Block{Type: TypeTodo, Text: &TextBody{Elements: elements, Done: done}}
}

// NewCode builds a Code block with the given language code.
func NewCode(language int, elements ...TextElement) *Block {
	return &Block{Type: TypeCode, Text: &TextBody{Elements: elements, Language: language}}
}

// Walk visits b and every descendant in depth-first pre-order.
// Returning false from fn stops the walk.
func (b *Block) Walk(fn func(*Block) bool) bool {
	if !fn(b) {
		return false
	}

	for _, c := range b.Children {
		if !c.Walk(fn) {
			return false
		}
	}

	return true
}

// Count returns the number of blocks in the subtree rooted at b.
func (b *Block) Count() int {
	n := 0
	b.Walk(func(*Block) bool {
		n++
		return true
	})

	return n
}
