// Package artifact stores the screenshots captured during runs.
package artifact

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKey is returned when a key is empty or escapes the store.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// ContentTypePNG is the content type of screenshot artifacts.
const ContentTypePNG = "image/png"

// Store holds binary artifacts under slash separated keys.
type Store interface {
	// Put stores data from the reader under key.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error

	// Get retrieves the data stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the data stored under key.
	Delete(ctx context.Context, key string) error

	// Exists checks if data is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns a location the artifact can be fetched from. Local stores
	// return a file path, S3 a presigned URL.
	URL(ctx context.Context, key string) (string, error)
}

// Config selects and configures a Store.
type Config struct {
	Type string
	// BaseDir is the root of a local store.
	BaseDir string

	Bucket   string
	Region   string
	Endpoint string
	// PresignExpiry bounds the lifetime of S3 URLs.
	PresignExpiry time.Duration
}

// New creates the Store named by cfg.Type: "local" or "s3".
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "local", "":
		if cfg.BaseDir == "" {
			return nil, fmt.Errorf("base_dir is required for local storage")
		}
		return NewLocalStore(cfg.BaseDir)

	case "s3":
		s3Store, err := NewS3Store(ctx, cfg.Bucket, cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		if cfg.PresignExpiry > 0 {
			s3Store.presignExpiration = cfg.PresignExpiry
		}
		return s3Store, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ScreenshotKey is the key of the screenshot taken in a run's iteration.
func ScreenshotKey(runID string, iteration int) string {
	return fmt.Sprintf("runs/%s/screenshots/%04d.png", runID, iteration)
}

// SaveScreenshot decodes a base64 PNG and stores it under ScreenshotKey.
func SaveScreenshot(ctx context.Context, store Store, runID string, iteration int, b64 string) (string, error) {
	if i := strings.Index(b64, ";base64,"); i >= 0 {
		b64 = b64[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("failed to decode screenshot: %w", err)
	}
	key := ScreenshotKey(runID, iteration)
	if err := store.Put(ctx, key, bytes.NewReader(data), ContentTypePNG); err != nil {
		return "", err
	}
	return key, nil
}

// cleanKey validates a key and returns it in slash form.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	if filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: absolute keys not allowed", ErrInvalidKey)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(key, `..\`) {
		return "", fmt.Errorf("%w: path traversal detected", ErrInvalidKey)
	}
	return clean, nil
}
