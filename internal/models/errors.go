package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrTransient  = errors.New("transient failure")
	ErrUpstream   = errors.New("upstream failure")
)

var (
	ErrPlaylistNotFound = fmt.Errorf("%w: playlist", ErrNotFound)
	ErrAlbumNotFound    = fmt.Errorf("%w: album", ErrNotFound)
	ErrAlreadyLiked     = fmt.Errorf("%w: album already liked by user", ErrConflict)
)

// IsRetryable reports whether a failure may succeed if attempted again later
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUpstream)
}
