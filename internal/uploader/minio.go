package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"image-compressor-go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectExists is returned when a non-upsert upload targets an existing name.
var ErrObjectExists = errors.New("object already exists")

// MinioStorage implements Storage on any S3-compatible endpoint via minio-go.
type MinioStorage struct {
	client     *minio.Client
	publicBase string
}

// NewMinioStorage creates a MinIO client. No network calls are made here.
func NewMinioStorage(cfg config.StorageConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = client.EndpointURL().String()
	}

	return &MinioStorage{client: client, publicBase: publicBase}, nil
}

// Upload streams r to bucket/name.
func (s *MinioStorage) Upload(ctx context.Context, bucket, name string, r io.Reader, size int64, opts UploadOptions) (string, error) {
	if !opts.Upsert {
		_, err := s.client.StatObject(ctx, bucket, name, minio.StatObjectOptions{})
		if err == nil {
			return "", fmt.Errorf("%w: %s", ErrObjectExists, name)
		}
		if resp := minio.ToErrorResponse(err); resp.StatusCode != http.StatusNotFound && resp.Code != "NoSuchKey" {
			return "", fmt.Errorf("stat object %q: %w", name, err)
		}
	}

	info, err := s.client.PutObject(ctx, bucket, name, r, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: cacheControlHeader(opts.CacheControl),
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", name, err)
	}
	if info.Key != "" {
		return info.Key, nil
	}
	return name, nil
}

// PublicURL returns publicBase/bucket/path, or publicBase/path when a
// bucket-specific public base is configured.
func (s *MinioStorage) PublicURL(bucket, path string) string {
	if s.publicBase == s.client.EndpointURL().String() {
		return joinURL(s.publicBase, bucket, path)
	}
	return joinURL(s.publicBase, path)
}

// Ping checks that the bucket is reachable.
func (s *MinioStorage) Ping(ctx context.Context, bucket string) error {
	ok, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", bucket)
	}
	return nil
}
