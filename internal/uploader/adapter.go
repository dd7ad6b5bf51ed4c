package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

var (
	ErrNotConfigured    = errors.New("storage not configured. Please add your credentials to .env")
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrEmptyArtifact    = errors.New("compressed file is empty")
)

// Outcome describes a stored artifact.
type Outcome struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Adapter uploads compressed files, one at a time, to a Storage backend.
type Adapter struct {
	storage      Storage
	bucket       string
	prefix       string
	cacheControl string
	log          *logrus.Logger
	stats        *statistics.Statistics
	now          func() time.Time

	mu         sync.Mutex
	uploading  bool
	lastMillis int64
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithClock replaces time.Now for object naming.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithStatistics records upload outcomes on stats.
func WithStatistics(stats *statistics.Statistics) Option {
	return func(a *Adapter) { a.stats = stats }
}

// NewAdapter returns an Adapter. storage may be nil, in which case every
// upload fails with ErrNotConfigured.
func NewAdapter(storage Storage, cfg config.StorageConfig, log *logrus.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		storage:      storage,
		bucket:       cfg.Bucket,
		prefix:       cfg.ObjectPrefix,
		cacheControl: cfg.CacheControl,
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Configured reports whether a storage client is present.
func (a *Adapter) Configured() bool {
	return a.storage != nil
}

// Uploading reports whether an upload is in flight.
func (a *Adapter) Uploading() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uploading
}

// Upload stores f under a timestamped name and resolves its public URL.
// There are no retries; calling it twice stores two distinct objects.
func (a *Adapter) Upload(ctx context.Context, f compressor.File) (*Outcome, error) {
	if a.storage == nil {
		return nil, ErrNotConfigured
	}
	if f.Size() == 0 {
		return nil, ErrEmptyArtifact
	}

	a.mu.Lock()
	if a.uploading {
		a.mu.Unlock()
		return nil, ErrUploadInProgress
	}
	a.uploading = true
	millis := a.nextMillisLocked()
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.uploading = false
		a.mu.Unlock()
	}()

	name := ObjectName(a.prefix, millis, f.Name)
	entry := a.log.WithFields(logrus.Fields{
		"operation": "upload",
		"object":    name,
		"bucket":    a.bucket,
		"size":      f.Size(),
	})
	entry.Info("Uploading compressed image")

	path, err := a.storage.Upload(ctx, a.bucket, name, bytes.NewReader(f.Data), f.Size(), UploadOptions{
		ContentType:  f.MIMEType,
		CacheControl: a.cacheControl,
		Upsert:       false,
	})
	a.stats.RecordUpload(err)
	if err != nil {
		entry.WithError(err).Error("Upload failed")
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	out := &Outcome{
		URL:  a.storage.PublicURL(a.bucket, path),
		Path: path,
		Size: f.Size(),
	}
	entry.WithField("url", out.URL).Info("Upload completed")
	return out, nil
}

// nextMillisLocked returns the current unix millisecond, bumped past the last
// value handed out so names never repeat within the process.
func (a *Adapter) nextMillisLocked() int64 {
	ms := a.now().UnixMilli()
	if ms <= a.lastMillis {
		ms = a.lastMillis + 1
	}
	a.lastMillis = ms
	return ms
}

// ObjectName builds "<prefix><millis>-<name>" with path separators removed from name.
func ObjectName(prefix string, millis int64, name string) string {
	clean := strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(name))
	if clean == "" {
		clean = "image"
	}
	return fmt.Sprintf("%s%d-%s", prefix, millis, clean)
}
