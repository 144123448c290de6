package lark

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

// listFolderPageSize is the page_size for folder listing requests.
const listFolderPageSize = 200

type listFolderResponse struct {
	Files         []FileEntry `json:"files"`
	HasMore       bool        `json:"has_more"`
	NextPageToken string      `json:"next_page_token"`
}

// ListFolder returns all entries of a folder, handling pagination.
func (c *Client) ListFolder(ctx context.Context, folderToken string) ([]FileEntry, error) {
	c.logger.Debug("listing folder", slog.String("folder", folderToken))

	var entries []FileEntry

	pageToken := ""

	for {
		path := fmt.Sprintf("/open-apis/drive/v1/files?folder_token=%s&page_size=%d",
			url.QueryEscape(folderToken), listFolderPageSize)
		if pageToken != "" {
			path += "&page_token=" + url.QueryEscape(pageToken)
		}

		var resp listFolderResponse
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}

		entries = append(entries, resp.Files...)

		if !resp.HasMore || resp.NextPageToken == "" {
			break
		}

		pageToken = resp.NextPageToken
	}

	c.logger.Debug("listed folder",
		slog.String("folder", folderToken),
		slog.Int("entries", len(entries)),
	)

	return entries, nil
}

type createFolderRequest struct {
	Name        string `json:"name"`
	FolderToken string `json:"folder_token"`
}

type createFolderResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// CreateFolder creates a folder under parentToken and returns its token.
func (c *Client) CreateFolder(ctx context.Context, parentToken, name string) (string, error) {
	c.logger.Info("creating folder",
		slog.String("parent", parentToken),
		slog.String("name", name),
	)

	var resp createFolderResponse

	err := c.doJSON(ctx, http.MethodPost, "/open-apis/drive/v1/files/create_folder",
		createFolderRequest{Name: name, FolderToken: parentToken}, &resp)
	if err != nil {
		return "", err
	}

	return resp.Token, nil
}

// DeleteFile deletes a drive entity. kind is the drive type string
// ("docx", "folder", "file", ...).
func (c *Client) DeleteFile(ctx context.Context, token, kind string) error {
	c.logger.Info("deleting drive entity",
		slog.String("token", token),
		slog.String("kind", kind),
	)

	path := fmt.Sprintf("/open-apis/drive/v1/files/%s?type=%s", url.PathEscape(token), url.QueryEscape(kind))

	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Asset parent types for media uploads.
const (
	ParentTypeImage = "docx_image"
	ParentTypeFile  = "docx_file"
)

type uploadMediaResponse struct {
	FileToken string `json:"file_token"`
}

// UploadMedia uploads a local file as a document asset and returns its
// token. parentType is ParentTypeImage or ParentTypeFile; parentNode is the
// document ID the asset will be attached to. Deduplication by content hash
// lives in AssetStore.Upload; this method always performs the network call.
func (c *Client) UploadMedia(ctx context.Context, localPath, parentType, parentNode string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("lark: reading upload source: %w", err)
	}

	name := filepath.Base(localPath)

	c.logger.Info("uploading asset",
		slog.String("name", name),
		slog.Int("size", len(data)),
		slog.String("parent_type", parentType),
	)

	build := func() (io.Reader, string) {
		var buf bytes.Buffer

		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("file_name", name)
		_ = mw.WriteField("parent_type", parentType)
		_ = mw.WriteField("parent_node", parentNode)
		_ = mw.WriteField("size", strconv.Itoa(len(data)))

		part, _ := mw.CreateFormFile("file", name)
		_, _ = part.Write(data)
		_ = mw.Close()

		return &buf, mw.FormDataContentType()
	}

	var resp uploadMediaResponse
	if err := c.doRetry(ctx, http.MethodPost, "/open-apis/drive/v1/medias/upload_all", build, &resp); err != nil {
		return "", err
	}

	if resp.FileToken == "" {
		return "", fmt.Errorf("lark: upload of %s returned empty token", name)
	}

	return resp.FileToken, nil
}

// DownloadMedia streams an asset to localPath, creating parent directories
// as needed. The write goes through a temp file so a failed download never
// leaves a truncated asset behind.
func (c *Client) DownloadMedia(ctx context.Context, token, localPath string) error {
	c.logger.Info("downloading asset",
		slog.String("token", token),
		slog.String("path", localPath),
	)

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("lark: creating asset directory: %w", err)
	}

	body, err := c.doRaw(ctx, fmt.Sprintf("/open-apis/drive/v1/medias/%s/download", url.PathEscape(token)))
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*.tmp")
	if err != nil {
		return fmt.Errorf("lark: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("lark: downloading asset %s: %w", token, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("lark: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("lark: renaming download: %w", err)
	}

	return nil
}

// doRaw performs a paced, authenticated GET whose response body is raw
// bytes rather than a JSON envelope. Retries retryable statuses.
func (c *Client) doRaw(ctx context.Context, path string) (io.ReadCloser, error) {
	var attempt int

	for {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("lark: creating request: %w", err)
		}

		tok, err := c.token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("lark: obtaining token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lark: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				if sleepErr := c.sleepFunc(ctx, calcBackoff(attempt)); sleepErr != nil {
					return nil, fmt.Errorf("lark: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("lark: GET %s failed after %d retries: %w", path, maxRetries, err)
		}

		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}

		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if isRetryableStatus(resp.StatusCode) && attempt < maxRetries {
			if sleepErr := c.sleepFunc(ctx, calcBackoff(attempt)); sleepErr != nil {
				return nil, fmt.Errorf("lark: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		return nil, &APIError{
			HTTPStatus: resp.StatusCode,
			Msg:        firstLine(raw),
			Err:        classifyCode(0, resp.StatusCode),
		}
	}
}
