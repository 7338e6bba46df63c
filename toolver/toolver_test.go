package toolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fakeRunner(outputs map[string]string) (func(ctx context.Context, tool string, args ...string) (string, error), *int) {
	calls := 0
	run := func(ctx context.Context, tool string, args ...string) (string, error) {
		calls++
		key := tool + " " + args[0]
		out, ok := outputs[key]
		if !ok {
			return "", fmt.Errorf("unknown invocation %q", key)
		}
		return out, nil
	}
	return run, &calls
}

func TestVersionParsesBothStyles(t *testing.T) {
	c := New("yt-dlp", "ffmpeg")
	run, _ := fakeRunner(map[string]string{
		"yt-dlp --version": "2024.08.06",
		"ffmpeg -version":  "ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc",
	})
	c.runVersion = func(ctx context.Context, tool string, args ...string) (string, error) {
		if tool == "yt-dlp" && args[0] == "-version" {
			return "", fmt.Errorf("unknown flag")
		}
		return run(ctx, tool, args...)
	}

	info, err := c.Version(context.Background(), "yt-dlp")
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "2024.08.06" {
		t.Errorf("extractor version = %q", info.Version)
	}

	info, err = c.Version(context.Background(), "ffmpeg")
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "6.1.1" {
		t.Errorf("mux version = %q", info.Version)
	}
}

func TestVersionCachedInsideTTL(t *testing.T) {
	c := New("yt-dlp", "ffmpeg")
	run, calls := fakeRunner(map[string]string{"yt-dlp -version": "2024.08.06"})
	c.runVersion = run

	for i := 0; i < 3; i++ {
		if _, err := c.Version(context.Background(), "yt-dlp"); err != nil {
			t.Fatal(err)
		}
	}
	if *calls != 1 {
		t.Errorf("probe calls = %v, want 1", *calls)
	}
}

func TestUpdateInvalidatesCache(t *testing.T) {
	c := New("yt-dlp", "ffmpeg")
	version := "2024.08.06"
	c.runVersion = func(ctx context.Context, tool string, args ...string) (string, error) {
		if args[0] == "-U" {
			version = "2024.09.01"
			return "Updated yt-dlp to 2024.09.01", nil
		}
		return version, nil
	}

	if _, err := c.Version(context.Background(), "yt-dlp"); err != nil {
		t.Fatal(err)
	}
	res, err := c.Update(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Updated || res.OldVersion != "2024.08.06" || res.NewVersion != "2024.09.01" {
		t.Errorf("Update() = %+v", res)
	}
	info, err := c.Version(context.Background(), "yt-dlp")
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "2024.09.01" {
		t.Errorf("post-update version = %q, want the new one", info.Version)
	}
}

func TestAllReportsFailedProbe(t *testing.T) {
	c := New("yt-dlp", "ffmpeg")
	c.runVersion = func(ctx context.Context, tool string, args ...string) (string, error) {
		if tool == "ffmpeg" {
			return "", fmt.Errorf("not installed")
		}
		return "2024.08.06", nil
	}

	infos := c.All(context.Background())
	if len(infos) != 2 {
		t.Fatalf("len = %v, want 2", len(infos))
	}
	if infos[0].Version != "2024.08.06" {
		t.Errorf("extractor = %+v", infos[0])
	}
	if infos[1].Name != "ffmpeg" || infos[1].Version != "" {
		t.Errorf("missing tool should report empty version, got %+v", infos[1])
	}
}

func TestLatestReadsTagName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name":"2024.09.01","name":"yt-dlp 2024.09.01"}`)
	}))
	defer srv.Close()

	c := New("yt-dlp", "ffmpeg")
	c.feedURL = srv.URL
	tag, err := c.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tag != "2024.09.01" {
		t.Errorf("Latest() = %q", tag)
	}
}

func TestFirstVersionToken(t *testing.T) {
	tests := []struct {
		out  string
		want string
	}{
		{"2024.08.06", "2024.08.06"},
		{"ffmpeg version 6.1.1 Copyright", "6.1.1"},
		{"ffmpeg version n7.0-dev built", "n7.0-dev"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := firstVersionToken(tt.out); got != tt.want {
			t.Errorf("firstVersionToken(%q) = %q, want %q", tt.out, got, tt.want)
		}
	}
}

func TestVersionInfoStamped(t *testing.T) {
	c := New("yt-dlp", "ffmpeg")
	run, _ := fakeRunner(map[string]string{"yt-dlp -version": "2024.08.06"})
	c.runVersion = run

	before := time.Now()
	info, err := c.Version(context.Background(), "yt-dlp")
	if err != nil {
		t.Fatal(err)
	}
	if info.CheckedAt.Before(before) {
		t.Error("CheckedAt not stamped")
	}
}
