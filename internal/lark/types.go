package lark

import (
	"net/url"
	"strconv"

	"github.com/larksync/larksync/internal/block"
)

// Wire structs mirror the docx API JSON exactly. They are unexported;
// callers work with block.Block via the normalization helpers below.

type wireBlock struct {
	BlockID   string   `json:"block_id,omitempty"`
	ParentID  string   `json:"parent_id,omitempty"`
	BlockType int      `json:"block_type"`
	Children  []string `json:"children,omitempty"`

	Text      *wireText  `json:"text,omitempty"`
	Heading1  *wireText  `json:"heading1,omitempty"`
	Heading2  *wireText  `json:"heading2,omitempty"`
	Heading3  *wireText  `json:"heading3,omitempty"`
	Heading4  *wireText  `json:"heading4,omitempty"`
	Heading5  *wireText  `json:"heading5,omitempty"`
	Heading6  *wireText  `json:"heading6,omitempty"`
	Heading7  *wireText  `json:"heading7,omitempty"`
	Heading8  *wireText  `json:"heading8,omitempty"`
	Heading9  *wireText  `json:"heading9,omitempty"`
	Bullet    *wireText  `json:"bullet,omitempty"`
	Ordered   *wireText  `json:"ordered,omitempty"`
	Code      *wireText  `json:"code,omitempty"`
	Quote     *wireText  `json:"quote,omitempty"`
	Todo      *wireText  `json:"todo,omitempty"`
	Divider   *struct{}  `json:"divider,omitempty"`
	Image     *wireImage `json:"image,omitempty"`
	File      *wireFile  `json:"file,omitempty"`
	Table     *wireTable `json:"table,omitempty"`
	TableCell *struct{}  `json:"table_cell,omitempty"`
	Page      *wireText  `json:"page,omitempty"`
}

type wireText struct {
	Elements []wireElement  `json:"elements"`
	Style    *wireTextStyle `json:"style,omitempty"`
}

// wireTextStyle is the block-level style record: done for todo blocks,
// language for code blocks.
type wireTextStyle struct {
	Done     *bool `json:"done,omitempty"`
	Language int   `json:"language,omitempty"`
}

type wireElement struct {
	TextRun     *wireTextRun     `json:"text_run,omitempty"`
	MentionUser *wireMentionUser `json:"mention_user,omitempty"`
	MentionDoc  *wireMentionDoc  `json:"mention_doc,omitempty"`
	Reminder    *wireReminder    `json:"reminder,omitempty"`
}

type wireTextRun struct {
	Content string            `json:"content"`
	Style   *wireElementStyle `json:"text_element_style,omitempty"`
}

type wireElementStyle struct {
	Bold            bool      `json:"bold,omitempty"`
	Italic          bool      `json:"italic,omitempty"`
	Strikethrough   bool      `json:"strikethrough,omitempty"`
	Underline       bool      `json:"underline,omitempty"`
	InlineCode      bool      `json:"inline_code,omitempty"`
	TextColor       int       `json:"text_color,omitempty"`
	BackgroundColor int       `json:"background_color,omitempty"`
	Link            *wireLink `json:"link,omitempty"`
}

type wireLink struct {
	URL string `json:"url"`
}

type wireMentionUser struct {
	UserID string `json:"user_id"`
}

type wireMentionDoc struct {
	Token   string `json:"token"`
	ObjType int    `json:"obj_type"`
	URL     string `json:"url"`
}

type wireReminder struct {
	CreateUserID string `json:"create_user_id"`
	ExpireTime   string `json:"expire_time"`
	NotifyTime   string `json:"notify_time"`
}

type wireImage struct {
	Token string `json:"token,omitempty"`
}

type wireFile struct {
	Token string `json:"token,omitempty"`
	Name  string `json:"name,omitempty"`
}

type wireTable struct {
	Cells    []string           `json:"cells,omitempty"`
	Property *wireTableProperty `json:"property,omitempty"`
}

type wireTableProperty struct {
	RowSize    int `json:"row_size"`
	ColumnSize int `json:"column_size"`
}

// textFacet returns the wireText facet matching the block type, or nil.
func (w *wireBlock) textFacet() *wireText {
	switch block.Type(w.BlockType) {
	case block.TypePage:
		return w.Page
	case block.TypeText:
		return w.Text
	case block.TypeHeading1:
		return w.Heading1
	case block.TypeHeading2:
		return w.Heading2
	case block.TypeHeading3:
		return w.Heading3
	case block.TypeHeading4:
		return w.Heading4
	case block.TypeHeading5:
		return w.Heading5
	case block.TypeHeading6:
		return w.Heading6
	case block.TypeHeading7:
		return w.Heading7
	case block.TypeHeading8:
		return w.Heading8
	case block.TypeHeading9:
		return w.Heading9
	case block.TypeBullet:
		return w.Bullet
	case block.TypeOrdered:
		return w.Ordered
	case block.TypeCode:
		return w.Code
	case block.TypeQuote:
		return w.Quote
	case block.TypeTodo:
		return w.Todo
	default:
		return nil
	}
}

// setTextFacet assigns the wireText facet for the given type.
func (w *wireBlock) setTextFacet(t block.Type, facet *wireText) {
	switch t {
	case block.TypePage:
		w.Page = facet
	case block.TypeText:
		w.Text = facet
	case block.TypeHeading1:
		w.Heading1 = facet
	case block.TypeHeading2:
		w.Heading2 = facet
	case block.TypeHeading3:
		w.Heading3 = facet
	case block.TypeHeading4:
		w.Heading4 = facet
	case block.TypeHeading5:
		w.Heading5 = facet
	case block.TypeHeading6:
		w.Heading6 = facet
	case block.TypeHeading7:
		w.Heading7 = facet
	case block.TypeHeading8:
		w.Heading8 = facet
	case block.TypeHeading9:
		w.Heading9 = facet
	case block.TypeBullet:
		w.Bullet = facet
	case block.TypeOrdered:
		w.Ordered = facet
	case block.TypeCode:
		w.Code = facet
	case block.TypeQuote:
		w.Quote = facet
	case block.TypeTodo:
		w.Todo = facet
	}
}

// toBlock normalizes a wire block into the shared model. Children are not
// attached here; the caller rebuilds the tree from parent pointers.
// Returns nil for block types with no model representation.
func (w *wireBlock) toBlock() *block.Block {
	t := block.Type(w.BlockType)
	b := &block.Block{ID: w.BlockID, Type: t}

	switch t {
	case block.TypeDivider:
		return b

	case block.TypeImage:
		b.Asset = &block.AssetBody{Resolved: true}
		if w.Image != nil {
			b.Asset.Token = w.Image.Token
		}

		return b

	case block.TypeFile:
		b.Asset = &block.AssetBody{Resolved: true}
		if w.File != nil {
			b.Asset.Token = w.File.Token
			b.Asset.Name = w.File.Name
		}

		return b

	case block.TypeTable:
		b.Table = &block.TableBody{}
		if w.Table != nil && w.Table.Property != nil {
			b.Table.RowSize = w.Table.Property.RowSize
			b.Table.ColumnSize = w.Table.Property.ColumnSize
		}

		return b

	case block.TypeTableCell:
		b.Text = &block.TextBody{}
		return b
	}

	facet := w.textFacet()
	if facet == nil {
		// Remote-only block type with no Markdown representation.
		return nil
	}

	body := &block.TextBody{Elements: toElements(facet.Elements)}

	if facet.Style != nil {
		body.Language = facet.Style.Language
		if facet.Style.Done != nil {
			body.Done = *facet.Style.Done
		}
	}

	b.Text = body

	return b
}

func toElements(wes []wireElement) []block.TextElement {
	els := make([]block.TextElement, 0, len(wes))

	for _, we := range wes {
		switch {
		case we.TextRun != nil:
			run := &block.TextRun{Content: we.TextRun.Content}
			if s := we.TextRun.Style; s != nil {
				run.Style = block.TextStyle{
					Bold:            s.Bold,
					Italic:          s.Italic,
					Strikethrough:   s.Strikethrough,
					Underline:       s.Underline,
					InlineCode:      s.InlineCode,
					TextColor:       s.TextColor,
					BackgroundColor: s.BackgroundColor,
				}
				if s.Link != nil {
					// Links arrive URL-encoded on the wire.
					if decoded, err := url.QueryUnescape(s.Link.URL); err == nil {
						run.Style.Link = decoded
					} else {
						run.Style.Link = s.Link.URL
					}
				}
			}

			els = append(els, block.TextElement{TextRun: run})

		case we.MentionUser != nil:
			els = append(els, block.TextElement{MentionUser: &block.MentionUser{UserID: we.MentionUser.UserID}})

		case we.MentionDoc != nil:
			els = append(els, block.TextElement{MentionDoc: &block.MentionDoc{
				Token:   we.MentionDoc.Token,
				ObjType: we.MentionDoc.ObjType,
				URL:     we.MentionDoc.URL,
			}})

		case we.Reminder != nil:
			expire, _ := strconv.ParseInt(we.Reminder.ExpireTime, 10, 64)
			notify, _ := strconv.ParseInt(we.Reminder.NotifyTime, 10, 64)
			els = append(els, block.TextElement{Reminder: &block.Reminder{
				UserID:     we.Reminder.CreateUserID,
				ExpireTime: expire,
				NotifyTime: notify,
			}})
		}
	}

	return els
}

func fromElements(els []block.TextElement) []wireElement {
	wes := make([]wireElement, 0, len(els))

	for _, el := range els {
		switch {
		case el.TextRun != nil:
			wr := &wireTextRun{Content: el.TextRun.Content}
			if s := el.TextRun.Style; !s.IsZero() {
				ws := &wireElementStyle{
					Bold:            s.Bold,
					Italic:          s.Italic,
					Strikethrough:   s.Strikethrough,
					Underline:       s.Underline,
					InlineCode:      s.InlineCode,
					TextColor:       s.TextColor,
					BackgroundColor: s.BackgroundColor,
				}
				if s.Link != "" {
					// The API requires link URLs to be URL-encoded.
					ws.Link = &wireLink{URL: url.QueryEscape(s.Link)}
				}

				wr.Style = ws
			}

			wes = append(wes, wireElement{TextRun: wr})

		case el.MentionUser != nil:
			wes = append(wes, wireElement{MentionUser: &wireMentionUser{UserID: el.MentionUser.UserID}})

		case el.MentionDoc != nil:
			wes = append(wes, wireElement{MentionDoc: &wireMentionDoc{
				Token:   el.MentionDoc.Token,
				ObjType: el.MentionDoc.ObjType,
				URL:     el.MentionDoc.URL,
			}})

		case el.Reminder != nil:
			wes = append(wes, wireElement{Reminder: &wireReminder{
				CreateUserID: el.Reminder.UserID,
				ExpireTime:   strconv.FormatInt(el.Reminder.ExpireTime, 10),
				NotifyTime:   strconv.FormatInt(el.Reminder.NotifyTime, 10),
			}})
		}
	}

	return wes
}

// fromBlock serializes a model block (without children) into wire form.
func fromBlock(b *block.Block) wireBlock {
	w := wireBlock{BlockType: int(b.Type)}

	switch b.Type {
	case block.TypeDivider:
		w.Divider = &struct{}{}

	case block.TypeImage:
		w.Image = &wireImage{}
		if b.Asset != nil && b.Asset.Resolved {
			w.Image.Token = b.Asset.Token
		}

	case block.TypeFile:
		w.File = &wireFile{}
		if b.Asset != nil {
			w.File.Name = b.Asset.Name
			if b.Asset.Resolved {
				w.File.Token = b.Asset.Token
			}
		}

	case block.TypeTable:
		w.Table = &wireTable{}
		if b.Table != nil {
			w.Table.Property = &wireTableProperty{
				RowSize:    b.Table.RowSize,
				ColumnSize: b.Table.ColumnSize,
			}
		}

	case block.TypeTableCell:
		w.TableCell = &struct{}{}

	default:
		facet := &wireText{Elements: []wireElement{}}
		if b.Text != nil {
			facet.Elements = fromElements(b.Text.Elements)

			switch b.Type {
			case block.TypeCode:
				facet.Style = &wireTextStyle{Language: b.Text.Language}
			case block.TypeTodo:
				done := b.Text.Done
				facet.Style = &wireTextStyle{Done: &done}
			}
		}

		w.setTextFacet(b.Type, facet)
	}

	return w
}

// FileEntry is one entry of a folder listing.
type FileEntry struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Type  string `json:"type"` // "doc", "docx", "folder", "file", ...
	URL   string `json:"url"`
}

// IsFolder reports whether the entry is a folder.
func (e FileEntry) IsFolder() bool {
	return e.Type == "folder"
}

// IsDocument reports whether the entry is a (new-style) document.
func (e FileEntry) IsDocument() bool {
	return e.Type == "docx" || e.Type == "doc"
}

// DocMeta is the metadata subset the sync engine needs.
type DocMeta struct {
	Token            string
	Title            string
	LatestModifyTime int64 // epoch seconds (normalized; see NormalizeEpoch)
}

// msEpochThreshold disambiguates second vs millisecond epochs: values above
// 1e10 are milliseconds. The magnitude test breaks in the year 2286, at
// which point seconds pass 1e10; acceptable for this codebase's lifetime.
const msEpochThreshold = int64(1e10)

// NormalizeEpoch converts an epoch that may be seconds or milliseconds
// into seconds.
func NormalizeEpoch(v int64) int64 {
	if v > msEpochThreshold {
		return v / 1000
	}

	return v
}
