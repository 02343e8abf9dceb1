package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/cache"
	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/pkg/metrics"
)

// Cache is a string key-value store. Get returns cache.ErrCacheMiss for absent keys.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type LikesRepository interface {
	AlbumExists(ctx context.Context, albumID string) (bool, error)
	HasLiked(ctx context.Context, userID, albumID string) (bool, error)
	AddLike(ctx context.Context, userID, albumID string) error
	DeleteLike(ctx context.Context, userID, albumID string) (bool, error)
	CountLikes(ctx context.Context, albumID string) (int, error)
}

// LikesService serves album like counts cache-aside. Mutations go to the store
// and delete the cached count; the next read repopulates it.
type LikesService struct {
	repo   LikesRepository
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewLikesService(r LikesRepository, c Cache, ttl time.Duration, l *slog.Logger) *LikesService {
	return &LikesService{repo: r, cache: c, ttl: ttl, logger: l}
}

// GetLikes never fails because of the cache: any cache error is a miss.
func (s *LikesService) GetLikes(ctx context.Context, albumID string) (models.LikesResult, error) {
	key := models.LikesCacheKey(albumID)

	cached, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		count, convErr := strconv.Atoi(cached)
		if convErr == nil {
			metrics.LikesCacheLookups.WithLabelValues("hit").Inc()
			return models.LikesResult{Count: count, Source: models.SourceCache}, nil
		}
		metrics.LikesCacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("Discarding unreadable cached like count", "key", key, "value", cached)
	case errors.Is(err, cache.ErrCacheMiss):
		metrics.LikesCacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.LikesCacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("Likes cache unavailable, reading from store", "key", key, "error", err)
	}

	count, err := s.repo.CountLikes(ctx, albumID)
	if err != nil {
		return models.LikesResult{}, err
	}

	if err := s.cache.Set(ctx, key, strconv.Itoa(count), s.ttl); err != nil {
		s.logger.Warn("Failed to populate likes cache", "key", key, "error", err)
	}

	return models.LikesResult{Count: count, Source: models.SourceStore}, nil
}

func (s *LikesService) Like(ctx context.Context, userID, albumID string) error {
	exists, err := s.repo.AlbumExists(ctx, albumID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", models.ErrAlbumNotFound, albumID)
	}

	liked, err := s.repo.HasLiked(ctx, userID, albumID)
	if err != nil {
		return err
	}
	if liked {
		return models.ErrAlreadyLiked
	}

	// A concurrent like can still win the unique index; AddLike reports it as ErrAlreadyLiked
	if err := s.repo.AddLike(ctx, userID, albumID); err != nil {
		return err
	}

	s.invalidate(ctx, albumID)
	return nil
}

// Unlike is idempotent: removing a like that does not exist succeeds.
func (s *LikesService) Unlike(ctx context.Context, userID, albumID string) error {
	removed, err := s.repo.DeleteLike(ctx, userID, albumID)
	if err != nil {
		return err
	}
	if !removed {
		s.logger.Debug("Unlike on album not liked by user", "album_id", albumID, "user_id", userID)
	}

	s.invalidate(ctx, albumID)
	return nil
}

// invalidate deletes the cached count, retrying once. A key that survives
// both attempts expires with its TTL.
func (s *LikesService) invalidate(ctx context.Context, albumID string) {
	key := models.LikesCacheKey(albumID)

	err := s.cache.Delete(ctx, key)
	if err == nil {
		return
	}
	if err = s.cache.Delete(ctx, key); err == nil {
		return
	}

	metrics.LikesCacheInvalidationFailures.Inc()
	s.logger.Error("Failed to invalidate likes cache", "key", key, "ttl", s.ttl, "error", err)
}
