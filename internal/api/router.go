package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/storage"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UserIDHeader carries the caller identity set by the upstream gateway
const UserIDHeader = "X-User-ID"

type ctxKey struct{}

type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Exports   ExportEnqueuer
	Ownership PlaylistOwnership
	Likes     LikesManager
	Covers    CoverUploader
	// UploadDir is served under /upload/ when covers are kept on local disk
	UploadDir string
	Checks    map[string]HealthCheck
	Logger    *slog.Logger
}

func NewRouter(deps Dependencies) http.Handler {
	h := &Handlers{
		exports:   deps.Exports,
		ownership: deps.Ownership,
		likes:     deps.Likes,
		covers:    deps.Covers,
		logger:    deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(requestLogger(deps.Logger))

	r.Get("/health", healthHandler(deps.Checks))
	r.Handle("/metrics", promhttp.Handler())

	if deps.UploadDir != "" {
		fs := http.StripPrefix(storage.PublicPrefix, http.FileServer(http.Dir(deps.UploadDir)))
		r.Handle(storage.PublicPrefix+"*", fs)
	}

	r.Get("/albums/{id}/likes", h.GetLikes)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/playlists/{id}/export", h.ExportPlaylist)
		r.Post("/albums/{id}/likes", h.LikeAlbum)
		r.Delete("/albums/{id}/likes", h.UnlikeAlbum)
	})

	r.Post("/albums/{id}/covers", h.UploadCover)

	return r
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			writeFail(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}

		writeJSON(w, status, report)
	}
}
