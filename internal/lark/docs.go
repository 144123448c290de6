package lark

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/larksync/larksync/internal/block"
)

// listBlocksPageSize is the page_size for block listing requests.
// 500 is the maximum the docx API allows.
const listBlocksPageSize = 500

// BlockRecord is one entry of a flat block listing: the normalized block
// plus the parent pointer and child IDs needed to rebuild the tree.
type BlockRecord struct {
	Block    *block.Block
	ParentID string
	ChildIDs []string
}

type createDocumentRequest struct {
	FolderToken string `json:"folder_token,omitempty"`
	Title       string `json:"title,omitempty"`
}

type createDocumentResponse struct {
	Document struct {
		DocumentID string `json:"document_id"`
		Title      string `json:"title"`
	} `json:"document"`
}

// CreateDocument creates an empty document under the given folder and
// returns its document ID.
func (c *Client) CreateDocument(ctx context.Context, folderToken, title string) (string, error) {
	c.logger.Info("creating document",
		slog.String("folder", folderToken),
		slog.String("title", title),
	)

	var resp createDocumentResponse

	err := c.doJSON(ctx, http.MethodPost, "/open-apis/docx/v1/documents",
		createDocumentRequest{FolderToken: folderToken, Title: title}, &resp)
	if err != nil {
		return "", err
	}

	return resp.Document.DocumentID, nil
}

type listBlocksResponse struct {
	Items     []wireBlock `json:"items"`
	PageToken string      `json:"page_token"`
	HasMore   bool        `json:"has_more"`
}

// ListDocumentBlocks returns every block of a document as a flat sequence
// with parent pointers, handling pagination automatically. Remote-only block
// types with no model representation are skipped.
func (c *Client) ListDocumentBlocks(ctx context.Context, docID string) ([]BlockRecord, error) {
	basePath := fmt.Sprintf("/open-apis/docx/v1/documents/%s/blocks?page_size=%d", docID, listBlocksPageSize)

	return c.fetchAllBlocks(ctx, basePath, "listing document blocks", "listed document blocks",
		slog.String("document", docID))
}

// GetBlockChildren returns the direct children of a block as a flat listing.
// Set withDescendants to include the entire subtree.
func (c *Client) GetBlockChildren(ctx context.Context, docID, blockID string, withDescendants bool) ([]BlockRecord, error) {
	basePath := fmt.Sprintf("/open-apis/docx/v1/documents/%s/blocks/%s/children?page_size=%d",
		docID, blockID, listBlocksPageSize)

	records, err := c.fetchAllBlocks(ctx, basePath, "listing block children", "listed block children",
		slog.String("document", docID), slog.String("block", blockID))
	if err != nil {
		return nil, err
	}

	if withDescendants {
		return records, nil
	}

	direct := make([]BlockRecord, 0, len(records))

	for _, r := range records {
		if r.ParentID == blockID {
			direct = append(direct, r)
		}
	}

	return direct, nil
}

// fetchAllBlocks paginates through a block listing endpoint.
func (c *Client) fetchAllBlocks(ctx context.Context, basePath, entryMsg, doneMsg string, attrs ...any) ([]BlockRecord, error) {
	c.logger.Debug(entryMsg, attrs...)

	var records []BlockRecord

	pageToken := ""

	for {
		path := basePath
		if pageToken != "" {
			path += "&page_token=" + pageToken
		}

		var resp listBlocksResponse
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}

		for i := range resp.Items {
			w := &resp.Items[i]

			b := w.toBlock()
			if b == nil {
				c.logger.Debug("skipping unsupported block type",
					slog.Int("block_type", w.BlockType),
					slog.String("block_id", w.BlockID),
				)

				continue
			}

			records = append(records, BlockRecord{
				Block:    b,
				ParentID: w.ParentID,
				ChildIDs: w.Children,
			})
		}

		if !resp.HasMore || resp.PageToken == "" {
			break
		}

		pageToken = resp.PageToken
	}

	c.logger.Debug(doneMsg, append(attrs, slog.Int("total_blocks", len(records)))...)

	return records, nil
}

// BuildTree rebuilds the document tree from a flat listing. The root is the
// page block whose ID equals docID; its ID is preserved so callers can
// address the document root. Children are attached in the order given by
// each record's ChildIDs, which is the remote sibling order.
func BuildTree(docID string, records []BlockRecord) *block.Block {
	byID := make(map[string]BlockRecord, len(records))
	for _, r := range records {
		byID[r.Block.ID] = r
	}

	root, ok := byID[docID]
	if !ok {
		return &block.Block{ID: docID, Type: block.TypePage, Text: &block.TextBody{}}
	}

	var attach func(r BlockRecord) *block.Block

	attach = func(r BlockRecord) *block.Block {
		b := r.Block
		b.Children = b.Children[:0]

		for _, childID := range r.ChildIDs {
			child, found := byID[childID]
			if !found {
				// Unsupported child type was skipped during listing.
				continue
			}

			b.Children = append(b.Children, attach(child))
		}

		return b
	}

	return attach(root)
}

type addBlocksRequest struct {
	Children []wireBlock `json:"children"`
	Index    *int        `json:"index,omitempty"`
}

type createDescendantRequest struct {
	ChildrenID  []string    `json:"children_id"`
	Index       *int        `json:"index,omitempty"`
	Descendants []wireBlock `json:"descendants"`
}

// AddBlocks inserts blocks under parentID at the given index (-1 appends).
// When any block carries children, the descendant-creation endpoint is used
// so the whole subtree is created in a single request.
func (c *Client) AddBlocks(ctx context.Context, docID, parentID string, blocks []*block.Block, index int) error {
	if len(blocks) == 0 {
		return nil
	}

	c.logger.Info("adding blocks",
		slog.String("document", docID),
		slog.String("parent", parentID),
		slog.Int("count", len(blocks)),
		slog.Int("index", index),
	)

	var idx *int
	if index >= 0 {
		idx = &index
	}

	if hasChildren(blocks) {
		return c.addDescendants(ctx, docID, parentID, blocks, idx)
	}

	wire := make([]wireBlock, 0, len(blocks))
	for _, b := range blocks {
		wire = append(wire, fromBlock(b))
	}

	path := fmt.Sprintf("/open-apis/docx/v1/documents/%s/blocks/%s/children", docID, parentID)

	return c.doJSON(ctx, http.MethodPost, path, addBlocksRequest{Children: wire, Index: idx}, nil)
}

func hasChildren(blocks []*block.Block) bool {
	for _, b := range blocks {
		if len(b.Children) > 0 {
			return true
		}
	}

	return false
}

// addDescendants creates an entire subtree in one request. Every block gets
// a synthetic ID so parent/child edges can be expressed in the flat
// descendants list.
func (c *Client) addDescendants(ctx context.Context, docID, parentID string, blocks []*block.Block, index *int) error {
	req := createDescendantRequest{Index: index}

	nextID := 0

	var flatten func(b *block.Block) string

	flatten = func(b *block.Block) string {
		nextID++
		id := fmt.Sprintf("tmp_%d", nextID)

		w := fromBlock(b)
		w.BlockID = id

		// Reserve the slot before descending so the flat list stays in
		// pre-order, which the API requires.
		slot := len(req.Descendants)
		req.Descendants = append(req.Descendants, w)

		childIDs := make([]string, 0, len(b.Children))
		for _, child := range b.Children {
			childIDs = append(childIDs, flatten(child))
		}

		req.Descendants[slot].Children = childIDs

		return id
	}

	for _, b := range blocks {
		req.ChildrenID = append(req.ChildrenID, flatten(b))
	}

	path := fmt.Sprintf("/open-apis/docx/v1/documents/%s/blocks/%s/descendant", docID, parentID)

	return c.doJSON(ctx, http.MethodPost, path, req, nil)
}

type batchDeleteRequest struct {
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`
}

// DeleteBlockChildren deletes the children of parentID in [startIndex, endIndex).
func (c *Client) DeleteBlockChildren(ctx context.Context, docID, parentID string, startIndex, endIndex int) error {
	c.logger.Info("deleting block range",
		slog.String("document", docID),
		slog.String("parent", parentID),
		slog.Int("start", startIndex),
		slog.Int("end", endIndex),
	)

	path := fmt.Sprintf("/open-apis/docx/v1/documents/%s/blocks/%s/children/batch_delete", docID, parentID)

	return c.doJSON(ctx, http.MethodDelete, path, batchDeleteRequest{StartIndex: startIndex, EndIndex: endIndex}, nil)
}

// MergeTableCells describes a cell-merge region in a table block.
type MergeTableCells struct {
	RowStartIndex    int `json:"row_start_index"`
	RowEndIndex      int `json:"row_end_index"`
	ColumnStartIndex int `json:"column_start_index"`
	ColumnEndIndex   int `json:"column_end_index"`
}

// BlockUpdate is one entry of a batch update. Exactly one field group is
// used per update.
type BlockUpdate struct {
	BlockID string

	// ReplaceElements swaps the block's text elements in place.
	ReplaceElements []block.TextElement

	// UpdateStyle rewrites the style of the named element fields.
	UpdateStyle       *block.TextStyle
	UpdateStyleFields []string

	// ReplaceImageToken / ReplaceFileToken swap the asset token.
	ReplaceImageToken string
	ReplaceFileToken  string

	// MergeCells merges a region of table cells.
	MergeCells *MergeTableCells
}

type updateTextElementsPayload struct {
	Elements []wireElement `json:"elements"`
}

type updateTextStylePayload struct {
	Style  *wireElementStyle `json:"style"`
	Fields []string          `json:"fields"`
}

type replaceTokenPayload struct {
	Token string `json:"token"`
}

type batchUpdateEntry struct {
	BlockID            string                     `json:"block_id"`
	UpdateTextElements *updateTextElementsPayload `json:"update_text_elements,omitempty"`
	UpdateTextStyle    *updateTextStylePayload    `json:"update_text_style,omitempty"`
	ReplaceImage       *replaceTokenPayload       `json:"replace_image,omitempty"`
	ReplaceFile        *replaceTokenPayload       `json:"replace_file,omitempty"`
	MergeTableCells    *MergeTableCells           `json:"merge_table_cells,omitempty"`
}

type batchUpdateRequest struct {
	Requests []batchUpdateEntry `json:"requests"`
}

// BatchUpdateBlocks applies a set of in-place block updates in one request.
func (c *Client) BatchUpdateBlocks(ctx context.Context, docID string, updates []BlockUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	c.logger.Info("batch updating blocks",
		slog.String("document", docID),
		slog.Int("count", len(updates)),
	)

	req := batchUpdateRequest{Requests: make([]batchUpdateEntry, 0, len(updates))}

	for _, u := range updates {
		entry := batchUpdateEntry{BlockID: u.BlockID}

		switch {
		case u.ReplaceElements != nil:
			entry.UpdateTextElements = &updateTextElementsPayload{Elements: fromElements(u.ReplaceElements)}
		case u.UpdateStyle != nil:
			entry.UpdateTextStyle = &updateTextStylePayload{
				Style: &wireElementStyle{
					Bold:            u.UpdateStyle.Bold,
					Italic:          u.UpdateStyle.Italic,
					Strikethrough:   u.UpdateStyle.Strikethrough,
					Underline:       u.UpdateStyle.Underline,
					InlineCode:      u.UpdateStyle.InlineCode,
					TextColor:       u.UpdateStyle.TextColor,
					BackgroundColor: u.UpdateStyle.BackgroundColor,
				},
				Fields: u.UpdateStyleFields,
			}
		case u.ReplaceImageToken != "":
			entry.ReplaceImage = &replaceTokenPayload{Token: u.ReplaceImageToken}
		case u.ReplaceFileToken != "":
			entry.ReplaceFile = &replaceTokenPayload{Token: u.ReplaceFileToken}
		case u.MergeCells != nil:
			entry.MergeTableCells = u.MergeCells
		default:
			return fmt.Errorf("lark: empty batch update for block %s", u.BlockID)
		}

		req.Requests = append(req.Requests, entry)
	}

	path := fmt.Sprintf("/open-apis/docx/v1/documents/%s/blocks/batch_update", docID)

	return c.doJSON(ctx, http.MethodPatch, path, req, nil)
}

// ClearDocument deletes every top-level block of the document.
func (c *Client) ClearDocument(ctx context.Context, docID string) error {
	children, err := c.GetBlockChildren(ctx, docID, docID, false)
	if err != nil {
		return fmt.Errorf("lark: listing blocks for clear: %w", err)
	}

	if len(children) == 0 {
		return nil
	}

	c.logger.Info("clearing document",
		slog.String("document", docID),
		slog.Int("blocks", len(children)),
	)

	return c.DeleteBlockChildren(ctx, docID, docID, 0, len(children))
}

type metaQueryRequest struct {
	RequestDocs []metaRequestDoc `json:"request_docs"`
}

type metaRequestDoc struct {
	DocToken string `json:"doc_token"`
	DocType  string `json:"doc_type"`
}

type metaQueryResponse struct {
	Metas []struct {
		DocToken         string `json:"doc_token"`
		Title            string `json:"title"`
		LatestModifyTime string `json:"latest_modify_time"`
	} `json:"metas"`
}

// GetDocMeta fetches document metadata, normalizing the modify time to
// epoch seconds. Returns ErrNotFound if the service knows no such document.
func (c *Client) GetDocMeta(ctx context.Context, docToken string) (*DocMeta, error) {
	req := metaQueryRequest{
		RequestDocs: []metaRequestDoc{{DocToken: docToken, DocType: "docx"}},
	}

	var resp metaQueryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/open-apis/drive/v1/metas/batch_query", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Metas) == 0 {
		return nil, fmt.Errorf("lark: document %s: %w", docToken, ErrNotFound)
	}

	m := resp.Metas[0]

	return &DocMeta{
		Token:            m.DocToken,
		Title:            m.Title,
		LatestModifyTime: NormalizeEpoch(parseEpoch(m.LatestModifyTime)),
	}, nil
}

// parseEpoch parses a decimal epoch string, tolerating empty values.
func parseEpoch(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}

	return v
}
