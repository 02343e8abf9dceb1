package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/pkg/encoding"
)

type exportDocument struct {
	Playlist exportPlaylist `json:"playlist"`
}

type exportPlaylist struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Owner string       `json:"owner"`
	Songs []exportSong `json:"songs"`
}

type exportSong struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Performer string `json:"performer"`
}

// PlaylistRenderer turns a playlist snapshot into the JSON document mailed to the user
type PlaylistRenderer struct{}

func NewPlaylistRenderer() *PlaylistRenderer {
	return &PlaylistRenderer{}
}

// Render keeps song order and always emits a songs array, empty for an empty playlist
func (r *PlaylistRenderer) Render(snap models.PlaylistSnapshot) (string, error) {
	doc := exportDocument{
		Playlist: exportPlaylist{
			ID:    snap.ID,
			Name:  encoding.NormalizeText(snap.Name),
			Owner: encoding.NormalizeText(snap.Owner),
			Songs: make([]exportSong, 0, len(snap.Songs)),
		},
	}

	for _, s := range snap.Songs {
		doc.Playlist.Songs = append(doc.Playlist.Songs, exportSong{
			ID:        s.ID,
			Title:     encoding.NormalizeText(s.Title),
			Performer: encoding.NormalizeText(s.Performer),
		})
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render playlist %s: %w", snap.ID, err)
	}
	return string(out), nil
}
