// Package events carries lifecycle and progress notifications to connected
// clients and routes their control commands back to the orchestrator.
package events

import "fmt"

type Type string

const (
	TypeQueued           Type = "queued"
	TypeItemInfo         Type = "item_info"
	TypeProgress         Type = "progress"
	TypeComplete         Type = "complete"
	TypeError            Type = "error"
	TypeCancelConfirm    Type = "cancel_confirm"
	TypeStatus           Type = "status"
	TypePlaylistComplete Type = "playlist_complete"
)

// Terminal reports whether this event ends a job's lifecycle.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeError || t == TypeCancelConfirm
}

type Event struct {
	Type           Type    `json:"type"`
	ItemID         string  `json:"itemId,omitempty"`
	Title          string  `json:"title,omitempty"`
	Source         string  `json:"source,omitempty"`
	IsPlaylistItem bool    `json:"isPlaylistItem,omitempty"`
	Thumbnail      string  `json:"thumbnail,omitempty"`
	Percent        float64 `json:"percent,omitempty"`
	SpeedBps       float64 `json:"speedBytesPerSec,omitempty"`
	DownloadURL    string  `json:"downloadUrl,omitempty"`
	Filename       string  `json:"filename,omitempty"`
	ActualSize     int64   `json:"actualSize,omitempty"`
	FullPath       string  `json:"fullPath,omitempty"`
	DownloadFolder string  `json:"downloadFolder,omitempty"`
	Message        string  `json:"message,omitempty"`
}

type DownloadRequest struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
	Source  string `json:"source"`
	// PlaylistAction "full" expands a playlist URL into child jobs;
	// "single" forces one job even for playlist URLs.
	PlaylistAction    string                 `json:"playlistAction"`
	Concurrency       int                    `json:"concurrency"`
	SingleConcurrency int                    `json:"singleConcurrency"`
	Numbering         bool                   `json:"numbering"`
	AudioBitrateCap   int                    `json:"audioBitrateCap"`
	Settings          map[string]interface{} `json:"settings"`
}

// Validate rejects malformed request shapes at the boundary, before they
// can reach orchestration logic.
func (r *DownloadRequest) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("download_request without url")
	}
	switch r.Format {
	case "", "audio", "video":
	default:
		return fmt.Errorf("unknown format %q", r.Format)
	}
	switch r.PlaylistAction {
	case "", "single", "full":
	default:
		return fmt.Errorf("unknown playlistAction %q", r.PlaylistAction)
	}
	if r.Quality != "" && r.Quality != "best" && r.Quality != "highest" {
		for _, c := range r.Quality {
			if c < '0' || c > '9' {
				return fmt.Errorf("quality %q is neither best nor a height", r.Quality)
			}
		}
	}
	if r.Concurrency < 0 || r.SingleConcurrency < 0 {
		return fmt.Errorf("negative concurrency")
	}
	return nil
}
