package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Guizzs26/openmusic-export/internal/models"

	"github.com/go-chi/chi/v5"
)

// DataSourceHeader marks responses served from the likes cache
const DataSourceHeader = "X-Data-Source"

const maxCoverMemory = 10 << 20

type ExportEnqueuer interface {
	EnqueueExport(ctx context.Context, playlistID, targetEmail string) error
}

type PlaylistOwnership interface {
	VerifyPlaylistOwner(ctx context.Context, playlistID, userID string) error
}

type LikesManager interface {
	GetLikes(ctx context.Context, albumID string) (models.LikesResult, error)
	Like(ctx context.Context, userID, albumID string) error
	Unlike(ctx context.Context, userID, albumID string) error
}

type CoverUploader interface {
	UploadCover(ctx context.Context, albumID, filename, contentType string, body io.Reader, size int64) (string, error)
}

type Handlers struct {
	exports   ExportEnqueuer
	ownership PlaylistOwnership
	likes     LikesManager
	covers    CoverUploader
	logger    *slog.Logger
}

type exportRequest struct {
	TargetEmail string `json:"targetEmail"`
}

// ExportPlaylist answers once the job is queued. The export itself runs in the consumer.
func (h *Handlers) ExportPlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "id")
	userID := UserIDFromContext(r.Context())

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: invalid request body", models.ErrValidation))
		return
	}

	if err := h.ownership.VerifyPlaylistOwner(r.Context(), playlistID, userID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.exports.EnqueueExport(r.Context(), playlistID, req.TargetEmail); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "Your request is being processed", nil)
}

func (h *Handlers) GetLikes(w http.ResponseWriter, r *http.Request) {
	res, err := h.likes.GetLikes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if res.Source == models.SourceCache {
		w.Header().Set(DataSourceHeader, string(models.SourceCache))
	}
	writeSuccess(w, http.StatusOK, "", map[string]int{"likes": res.Count})
}

func (h *Handlers) LikeAlbum(w http.ResponseWriter, r *http.Request) {
	if err := h.likes.Like(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Album liked", nil)
}

func (h *Handlers) UnlikeAlbum(w http.ResponseWriter, r *http.Request) {
	if err := h.likes.Unlike(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Album unliked", nil)
}

func (h *Handlers) UploadCover(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxCoverMemory); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: expected multipart form", models.ErrValidation))
		return
	}

	file, header, err := r.FormFile("cover")
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: cover file is required", models.ErrValidation))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	url, err := h.covers.UploadCover(r.Context(), chi.URLParam(r, "id"), header.Filename, contentType, file, header.Size)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeSuccess(w, http.StatusCreated, "Cover uploaded", map[string]string{"coverUrl": url})
}
