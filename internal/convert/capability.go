// Package convert translates between Markdown documents and block trees.
// The parser and emitter depend on the small Uploader and Downloader
// capabilities below rather than on the gateway concretely, so conversion
// logic stays testable without a network.
package convert

import "context"

// Uploader resolves a local asset reference to a remote asset token.
// The sync layer implements it by resolving the reference through the vault
// index and uploading through the deduplicating asset store.
type Uploader interface {
	UploadAsset(ctx context.Context, reference string, isImage bool) (token string, err error)
}

// Downloader fetches a remote asset to local storage and returns the
// (vault-relative) path to reference from Markdown.
type Downloader interface {
	DownloadAsset(ctx context.Context, token string) (localRef string, err error)
}

// UploaderFunc adapts a function to the Uploader interface.
type UploaderFunc func(ctx context.Context, reference string, isImage bool) (string, error)

// UploadAsset implements Uploader.
func (f UploaderFunc) UploadAsset(ctx context.Context, reference string, isImage bool) (string, error) {
	return f(ctx, reference, isImage)
}

// DownloaderFunc adapts a function to the Downloader interface.
type DownloaderFunc func(ctx context.Context, token string) (string, error)

// DownloadAsset implements Downloader.
func (f DownloaderFunc) DownloadAsset(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

// mediaExtensions route embedded references to File blocks instead of
// Image blocks. Everything else embedded with image syntax is an image.
var mediaExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".pdf":  true,
	".zip":  true,
	".7z":   true,
	".rar":  true,
	".tar":  true,
	".gz":   true,
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
	".ppt":  true,
	".pptx": true,
}
