package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/internal/storage"
)

type AlbumCoverRepository interface {
	AlbumExists(ctx context.Context, albumID string) (bool, error)
	SetAlbumCover(ctx context.Context, albumID, coverURL string) error
}

// CoverService stores album cover images and records their URL on the album
type CoverService struct {
	repo    AlbumCoverRepository
	objects storage.ObjectStorage
	now     func() time.Time
	logger  *slog.Logger
}

func NewCoverService(r AlbumCoverRepository, o storage.ObjectStorage, l *slog.Logger) *CoverService {
	return &CoverService{repo: r, objects: o, now: time.Now, logger: l}
}

// UploadCover returns the public URL of the stored cover
func (s *CoverService) UploadCover(ctx context.Context, albumID, filename, contentType string, body io.Reader, size int64) (string, error) {
	exists, err := s.repo.AlbumExists(ctx, albumID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", models.ErrAlbumNotFound, albumID)
	}

	key := storage.ObjectKey(s.now().UnixMilli(), filename)
	url, err := s.objects.Put(ctx, key, contentType, body, size)
	if err != nil {
		return "", fmt.Errorf("%w: store cover: %w", models.ErrUpstream, err)
	}

	if err := s.repo.SetAlbumCover(ctx, albumID, url); err != nil {
		return "", err
	}

	s.logger.Info("Album cover uploaded", "album_id", albumID, "key", key)
	return url, nil
}
