package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// LocalStorage writes objects under a directory served by the API at PublicPrefix
type LocalStorage struct {
	dir     string
	baseURL string
}

func NewLocalStorage(dir, baseURL string) *LocalStorage {
	return &LocalStorage{dir: dir, baseURL: baseURL}
}

func (s *LocalStorage) Dir() string {
	return s.dir
}

func (s *LocalStorage) Put(ctx context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" || key != filepath.Base(key) {
		return "", fmt.Errorf("invalid object key %q", key)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(s.dir, key)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	return s.baseURL + PublicPrefix + url.PathEscape(key), nil
}
