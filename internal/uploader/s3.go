package uploader

import (
	"context"
	"fmt"
	"io"

	"image-compressor-go/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Storage implements Storage with the AWS SDK. A custom endpoint turns it
// into a client for R2 or any other S3-compatible provider.
type S3Storage struct {
	client     *s3.Client
	region     string
	endpoint   string
	publicBase string
}

// NewS3Storage builds an S3 client from static credentials.
func NewS3Storage(ctx context.Context, cfg config.StorageConfig) (*S3Storage, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Storage{
		client:     client,
		region:     region,
		endpoint:   cfg.Endpoint,
		publicBase: cfg.PublicBaseURL,
	}, nil
}

// Upload stores the object with PutObject. Without Upsert the request carries
// If-None-Match: * so an existing name is never replaced.
func (s *S3Storage) Upload(ctx context.Context, bucket, name string, r io.Reader, size int64, opts UploadOptions) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(name),
		Body:          r,
		ContentLength: aws.Int64(size),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if cc := cacheControlHeader(opts.CacheControl); cc != "" {
		input.CacheControl = aws.String(cc)
	}
	if !opts.Upsert {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return name, nil
}

// PublicURL returns the object's URL on the public base, the custom endpoint,
// or the virtual-hosted AWS endpoint, in that order of preference.
func (s *S3Storage) PublicURL(bucket, path string) string {
	switch {
	case s.publicBase != "":
		return joinURL(s.publicBase, path)
	case s.endpoint != "":
		return joinURL(s.endpoint, bucket, path)
	default:
		return joinURL(fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, s.region), path)
	}
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Storage) Ping(ctx context.Context, bucket string) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("head bucket %q: %w", bucket, err)
	}
	return nil
}
