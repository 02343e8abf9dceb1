package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Guizzs26/openmusic-export/internal/config"
)

// PublicPrefix is the URL path local uploads are served under
const PublicPrefix = "/upload/"

// ObjectStorage stores an uploaded object and returns the URL it is reachable at
type ObjectStorage interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// New builds the backend chosen in cfg. The choice is made once at startup.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (ObjectStorage, error) {
	switch cfg.Backend {
	case config.StorageS3:
		client, err := NewS3Client(S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		s := NewS3Storage(client, cfg.S3Bucket, cfg.S3Endpoint, cfg.S3UseSSL)
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("Album covers stored in S3", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
		return s, nil

	case config.StorageLocal:
		logger.Info("Album covers stored on local disk", "dir", cfg.UploadDir)
		return NewLocalStorage(cfg.UploadDir, cfg.PublicBaseURL), nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// ObjectKey builds a collision-resistant key from an upload's file name
func ObjectKey(unixMillis int64, filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r == ' ' || r == '/' {
			return '_'
		}
		return r
	}, name)
	if name == "." || name == "" {
		name = "cover"
	}
	return fmt.Sprintf("%d%s", unixMillis, name)
}
