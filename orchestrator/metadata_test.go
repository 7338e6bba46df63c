package orchestrator

import (
	"testing"

	"github.com/fumino17/Media_Grab/job"
)

func TestClassifySource(t *testing.T) {
	tests := []struct {
		url  string
		want job.Source
	}{
		{"https://www.youtube.com/watch?v=abc", job.SourceYoutube},
		{"https://youtu.be/abc", job.SourceYoutube},
		{"https://music.youtube.com/watch?v=abc", job.SourceYoutube},
		{"https://soundcloud.com/artist/track", job.SourceSoundcloud},
		{"https://vimeo.com/12345", job.SourceGeneric},
		{"not a url at all", job.SourceGeneric},
	}
	for _, tt := range tests {
		if got := ClassifySource(tt.url); got != tt.want {
			t.Errorf("ClassifySource(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestCanonicalMediaID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/playlist?list=PLabc", "PLabc"},
		{"https://soundcloud.com/artist/my-track", "my-track"},
		{"https://youtu.be/short7", "short7"},
	}
	for _, tt := range tests {
		if got := CanonicalMediaID(tt.url); got != tt.want {
			t.Errorf("CanonicalMediaID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestIsPlaylistRef(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/playlist?list=PLabc", true},
		{"https://www.youtube.com/watch?v=a&list=PLabc", true},
		{"https://soundcloud.com/artist/sets/mix", true},
		{"https://www.youtube.com/watch?v=a", false},
		{"https://soundcloud.com/artist/track", false},
	}
	for _, tt := range tests {
		if got := IsPlaylistRef(tt.url); got != tt.want {
			t.Errorf("IsPlaylistRef(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
