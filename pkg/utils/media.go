package utils

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/sipeed/mjbridge/pkg/logger"
)

// IsImageFile checks if a file path has an image extension.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

// DetectImageMimeType returns the MIME type for an image file based on extension.
func DetectImageMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return ""
}

// SanitizeFilename removes potentially dangerous characters from a filename
// and returns a safe version for local filesystem storage.
func SanitizeFilename(filename string) string {
	base := filepath.Base(filename)

	base = strings.ReplaceAll(base, "..", "")
	base = strings.ReplaceAll(base, "/", "_")
	base = strings.ReplaceAll(base, "\\", "_")

	return base
}

// FilenameFromURL returns the last path segment of rawURL without its query.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "image"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "image"
	}
	return name
}

// DownloadOptions holds optional parameters for downloading files
type DownloadOptions struct {
	Timeout      time.Duration
	ExtraHeaders map[string]string
	LoggerPrefix string
}

// DownloadFile fetches rawURL into dir and returns the local path. The file
// name is the URL's base name behind a short random prefix.
func DownloadFile(ctx context.Context, rawURL, dir string, opts DownloadOptions) (string, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.LoggerPrefix == "" {
		opts.LoggerPrefix = "media"
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "mjbridge_media")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}

	safeName := SanitizeFilename(FilenameFromURL(rawURL))
	localPath := filepath.Join(dir, uuid.New().String()[:8]+"_"+safeName)

	resp, err := resty.New().
		SetTimeout(opts.Timeout).
		SetHeaders(opts.ExtraHeaders).
		R().
		SetContext(ctx).
		Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if resp.IsError() {
		logger.ErrorCF(opts.LoggerPrefix, "File download returned error status", map[string]interface{}{
			"status": resp.StatusCode(),
			"url":    rawURL,
		})
		return "", fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode())
	}

	if err := os.WriteFile(localPath, resp.Body(), 0600); err != nil {
		return "", fmt.Errorf("write %s: %w", localPath, err)
	}

	logger.DebugCF(opts.LoggerPrefix, "File downloaded successfully", map[string]interface{}{
		"path":  localPath,
		"bytes": len(resp.Body()),
	})
	return localPath, nil
}
