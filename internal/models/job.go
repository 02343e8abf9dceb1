package models

import (
	"fmt"
	"strings"
)

// ExportPlaylistTopic is the queue every playlist export job is published to
const ExportPlaylistTopic = "export:playlist"

// ExportJob is the envelope passed from the API process to the export consumer
type ExportJob struct {
	PlaylistID  string `json:"playlistId"`
	TargetEmail string `json:"targetEmail"`
}

// Validate reports a missing field as ErrValidation
func (j ExportJob) Validate() error {
	if strings.TrimSpace(j.PlaylistID) == "" {
		return fmt.Errorf("%w: playlistId is required", ErrValidation)
	}
	if strings.TrimSpace(j.TargetEmail) == "" {
		return fmt.Errorf("%w: targetEmail is required", ErrValidation)
	}
	return nil
}
