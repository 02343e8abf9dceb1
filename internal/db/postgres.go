package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/openmusic-export/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresRepository is the relational store for playlists, albums and likes
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresRepository(ctx context.Context, connString string, logger *slog.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	logger.Info("Connected to Postgres successfully", "max_conns", config.MaxConns)

	return &PostgresRepository{pool: p, logger: logger}, nil
}

// GetPlaylistSnapshot reads the playlist and its songs in one read-only transaction
func (r *PostgresRepository) GetPlaylistSnapshot(ctx context.Context, playlistID string) (models.PlaylistSnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return models.PlaylistSnapshot{}, upstream("begin snapshot transaction", err)
	}
	defer tx.Rollback(ctx)

	var snap models.PlaylistSnapshot
	err = tx.QueryRow(ctx, `
		SELECT p.id, p.name, u.username
		FROM playlists p
		JOIN users u ON u.id = p.owner
		WHERE p.id = $1
	`, playlistID).Scan(&snap.ID, &snap.Name, &snap.Owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PlaylistSnapshot{}, fmt.Errorf("%w: %s", models.ErrPlaylistNotFound, playlistID)
		}
		return models.PlaylistSnapshot{}, upstream("read playlist", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT s.id, s.title, s.performer
		FROM playlist_songs ps
		JOIN songs s ON s.id = ps.song_id
		WHERE ps.playlist_id = $1
		ORDER BY s.title ASC, s.id ASC
	`, playlistID)
	if err != nil {
		return models.PlaylistSnapshot{}, upstream("list playlist songs", err)
	}
	defer rows.Close()

	snap.Songs = make([]models.SongSummary, 0)
	for rows.Next() {
		var song models.SongSummary
		if err := rows.Scan(&song.ID, &song.Title, &song.Performer); err != nil {
			return models.PlaylistSnapshot{}, upstream("scan playlist song", err)
		}
		snap.Songs = append(snap.Songs, song)
	}
	if err := rows.Err(); err != nil {
		return models.PlaylistSnapshot{}, upstream("iterate playlist songs", err)
	}

	return snap, nil
}

// VerifyPlaylistOwner returns ErrPlaylistNotFound or ErrForbidden when userID does not own the playlist
func (r *PostgresRepository) VerifyPlaylistOwner(ctx context.Context, playlistID, userID string) error {
	var owner string
	err := r.pool.QueryRow(ctx, `SELECT owner FROM playlists WHERE id = $1`, playlistID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", models.ErrPlaylistNotFound, playlistID)
		}
		return upstream("read playlist owner", err)
	}
	if owner != userID {
		return fmt.Errorf("%w: playlist %s is not owned by the caller", models.ErrForbidden, playlistID)
	}
	return nil
}

func (r *PostgresRepository) AlbumExists(ctx context.Context, albumID string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM albums WHERE id = $1)`, albumID).Scan(&exists); err != nil {
		return false, upstream("check album", err)
	}
	return exists, nil
}

func (r *PostgresRepository) HasLiked(ctx context.Context, userID, albumID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_album_likes WHERE user_id = $1 AND album_id = $2)
	`, userID, albumID).Scan(&exists)
	if err != nil {
		return false, upstream("check like", err)
	}
	return exists, nil
}

// AddLike inserts the like row. A concurrent duplicate surfaces as ErrAlreadyLiked.
func (r *PostgresRepository) AddLike(ctx context.Context, userID, albumID string) error {
	id := "like-" + uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_album_likes (id, user_id, album_id) VALUES ($1, $2, $3)
	`, id, userID, albumID)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrAlreadyLiked
		}
		return upstream("insert like", err)
	}
	r.logger.Debug("Like stored", "like_id", id, "album_id", albumID)
	return nil
}

// DeleteLike reports whether a row was removed
func (r *PostgresRepository) DeleteLike(ctx context.Context, userID, albumID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM user_album_likes WHERE user_id = $1 AND album_id = $2
	`, userID, albumID)
	if err != nil {
		return false, upstream("delete like", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) CountLikes(ctx context.Context, albumID string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_album_likes WHERE album_id = $1`, albumID).Scan(&count); err != nil {
		return 0, upstream("count likes", err)
	}
	return count, nil
}

func (r *PostgresRepository) SetAlbumCover(ctx context.Context, albumID, coverURL string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE albums SET cover_url = $2 WHERE id = $1`, albumID, coverURL)
	if err != nil {
		return upstream("update album cover", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrAlbumNotFound, albumID)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close gracefully shuts down the connection pool
func (r *PostgresRepository) Close() {
	r.logger.Info("Closing Postgres connection pool")
	r.pool.Close()
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrUpstream, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
