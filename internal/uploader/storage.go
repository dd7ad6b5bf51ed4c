// Package uploader sends compressed artifacts to S3-compatible object storage
// and resolves their public URL.
package uploader

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"image-compressor-go/internal/config"
)

// UploadOptions carries per-object settings passed to a Storage backend.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	// Upsert allows replacing an existing object with the same name.
	Upsert bool
}

// Storage is the object storage client the adapter delegates to.
type Storage interface {
	// Upload stores size bytes from r as name in bucket and returns the stored path.
	Upload(ctx context.Context, bucket, name string, r io.Reader, size int64, opts UploadOptions) (string, error)
	// PublicURL returns the browser-reachable URL for a stored path.
	PublicURL(bucket, path string) string
}

// Pinger is implemented by backends that can verify connectivity and bucket access.
type Pinger interface {
	Ping(ctx context.Context, bucket string) error
}

// NewStorage builds the backend selected by cfg.Storage.Driver. It returns
// (nil, nil) when no credentials are configured so callers can treat storage
// as optional.
func NewStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	if !cfg.StorageConfigured() {
		return nil, nil
	}
	switch cfg.Storage.Driver {
	case config.StorageDriverS3:
		s, err := NewS3Storage(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageDriverMinio, "":
		s, err := NewMinioStorage(cfg.Storage)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// cacheControlHeader turns a bare seconds value into a max-age directive.
func cacheControlHeader(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if _, err := strconv.Atoi(v); err == nil {
		return "max-age=" + v
	}
	return v
}

func joinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, p := range parts {
		out += "/" + strings.TrimLeft(p, "/")
	}
	return out
}
