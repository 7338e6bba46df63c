package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fumino17/Media_Grab/config"
	"github.com/fumino17/Media_Grab/job"
)

// FormatSelector maps the requested format/quality pair onto the tool's
// selection syntax. Video targets use a three-tier fallback: exact height
// plus best audio, at-or-below height plus best audio, best combined —
// exact-height streams are not always muxed with a compatible audio track.
func FormatSelector(format job.Format, quality string, audioBitrateCap int) string {
	if format == job.FormatAudio {
		if audioBitrateCap > 0 {
			return fmt.Sprintf("bestaudio[abr<=%d]/bestaudio/best", audioBitrateCap)
		}
		return "bestaudio/best"
	}
	if quality == "" || quality == "best" || quality == "highest" {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height=%s]+bestaudio/bestvideo[height<=%s]+bestaudio/best",
		quality, quality)
}

// outputBase is the filename stem for a job: sanitized title with the
// optional ordered-numbering prefix for playlist children.
func outputBase(j *job.Job) string {
	base := sanitizedTitle(j)
	if j.NumberPrefix && j.Index > 0 {
		base = fmt.Sprintf("%d_%s", j.Index, base)
	}
	return base
}

func downloadArgs(cfg *config.MainConfig, j *job.Job, selector string) []string {
	base := outputBase(j)
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-warnings",
		"-f", selector,
		"-o", filepath.Join(j.DestDir, base+".%(ext)s"),
		// Retry/backoff lives in the tool so partial downloads resume
		// instead of restarting from scratch.
		"--retries", fmt.Sprint(cfg.RetryCount),
		"--fragment-retries", fmt.Sprint(cfg.RetryCount),
		// Pacing between requests keeps the anti-bot heuristics calm.
		"--sleep-requests", "1",
	}
	if j.Format == job.FormatAudio {
		args = append(args, "-x")
	}
	if cfg.RateLimit != "" {
		args = append(args, "--limit-rate", cfg.RateLimit)
	}
	if cfg.CookiesFile != "" {
		args = append(args, "--cookies", cfg.CookiesFile)
	}
	args = append(args, j.MediaRef)
	return args
}

func metadataArgs(cfg *config.MainConfig, url string, flat bool) []string {
	args := []string{"-J", "--no-warnings"}
	if flat {
		args = append(args, "--flat-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	// Metadata probes get a short retry budget; they are interactive.
	args = append(args, "--retries", "2")
	if cfg.CookiesFile != "" {
		args = append(args, "--cookies", cfg.CookiesFile)
	}
	args = append(args, url)
	return args
}

// tempPatterns are the intermediate artifacts the tool can leave next to
// the target file; swept on failure or cancellation.
func tempPatterns(j *job.Job) []string {
	base := filepath.Join(j.DestDir, outputBase(j))
	return []string{base + ".*.part", base + ".*.ytdl", base + ".*.temp", base + ".part"}
}

var audioExts = map[string]bool{
	".m4a": true, ".mp3": true, ".opus": true, ".ogg": true,
	".flac": true, ".wav": true, ".aac": true,
}

func isAudioExt(path string) bool {
	return audioExts[strings.ToLower(filepath.Ext(path))]
}
