package models

import "fmt"

type LikesSource string

const (
	SourceCache LikesSource = "cache"
	SourceStore LikesSource = "store"
)

// LikesResult carries the album like count and where it was read from.
// Source is diagnostic only.
type LikesResult struct {
	Count  int
	Source LikesSource
}

func LikesCacheKey(albumID string) string {
	return fmt.Sprintf("likes:%s", albumID)
}
