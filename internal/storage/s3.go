package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewS3Client(opts S3Options) (*minio.Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return client, nil
}

// S3Storage keeps album covers in an S3-compatible bucket
type S3Storage struct {
	client  *minio.Client
	bucket  string
	baseURL string

	ensureOnce sync.Once
	ensureErr  error
}

func NewS3Storage(client *minio.Client, bucket, endpoint string, useSSL bool) *S3Storage {
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	bucket = strings.TrimSpace(bucket)
	return &S3Storage{
		client:  client,
		bucket:  bucket,
		baseURL: fmt.Sprintf("%s://%s/%s", scheme, endpoint, bucket),
	}
}

func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if s.bucket == "" {
		return fmt.Errorf("s3 bucket is empty")
	}

	s.ensureOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.ensureErr = err
			return
		}
		if exists {
			return
		}
		s.ensureErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	})

	if s.ensureErr != nil {
		return fmt.Errorf("ensure s3 bucket %q: %w", s.bucket, s.ensureErr)
	}
	return nil
}

func (s *S3Storage) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if key == "" || body == nil {
		return "", fmt.Errorf("s3 put: key and body are required")
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object to s3: %w", err)
	}

	return s.baseURL + "/" + url.PathEscape(key), nil
}
