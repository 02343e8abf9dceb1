package models

// PlaylistSnapshot is the playlist as read from the store when the job is dequeued
type PlaylistSnapshot struct {
	ID    string
	Name  string
	Owner string
	Songs []SongSummary
}

type SongSummary struct {
	ID        string
	Title     string
	Performer string
}
