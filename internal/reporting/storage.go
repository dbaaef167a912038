package reporting

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore receives exported files and hands out temporary download links.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// S3Config configures the S3-compatible export bucket.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store writes exports to an S3-compatible bucket.
type S3Store struct {
	raw    *minio.Client
	bucket string
}

// NewS3Store connects to the bucket endpoint.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("reporting: s3 client: %w", err)
	}
	return &S3Store{raw: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.raw.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("reporting: check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	return s.raw.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// Upload stores data under key.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.raw.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("reporting: put object %q: %w", key, err)
	}
	return nil
}

// PresignedURL returns a time-limited GET link for key.
func (s *S3Store) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.raw.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("reporting: presign %q: %w", key, err)
	}
	return u.String(), nil
}
