package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeTitle(t *testing.T) {
	type args struct {
		Title string
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{"illegal chars", args{Title: "a/b:c?d"}, "a#b#c#d"},
		{"whitespace collapse", args{Title: "a   b\t\tc"}, "a b c"},
		{"emoji", args{Title: "👿clip"}, "clip"},
		{"empty", args{Title: "  "}, "untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeTitle(tt.args.Title); got != tt.want {
				t.Errorf("SanitizeTitle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeTitleBounded(t *testing.T) {
	long := make([]rune, 0, 500)
	for i := 0; i < 500; i++ {
		long = append(long, 'x')
	}
	got := SanitizeTitle(string(long))
	if len([]rune(got)) != MaxTitleLen {
		t.Errorf("SanitizeTitle() len = %v, want %v", len([]rune(got)), MaxTitleLen)
	}
}

func TestUniqueDir(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "My Playlist")
	if got := UniqueDir(target); got != target {
		t.Errorf("UniqueDir() = %v, want %v", got, target)
	}
	_ = os.MkdirAll(target, 0775)
	if got := UniqueDir(target); got != target+" (1)" {
		t.Errorf("UniqueDir() = %v, want %v", got, target+" (1)")
	}
	_ = os.MkdirAll(target+" (1)", 0775)
	if got := UniqueDir(target); got != target+" (2)" {
		t.Errorf("UniqueDir() = %v, want %v", got, target+" (2)")
	}
}

func TestReplaceExt(t *testing.T) {
	tests := []struct {
		name string
		path string
		ext  string
		want string
	}{
		{"swap", "song.webm", "mp3", "song.mp3"},
		{"dotted ext", "clip.mp4", ".mkv", "clip.mkv"},
		{"no ext", "plain", "mp4", "plain.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReplaceExt(tt.path, tt.ext); got != tt.want {
				t.Errorf("ReplaceExt() = %v, want %v", got, tt.want)
			}
		})
	}
}
