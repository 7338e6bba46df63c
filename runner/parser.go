package runner

import (
	"regexp"
	"strconv"
	"strings"
)

// The tool's stdout format is an unversioned de facto contract, so each
// marker has its own narrow parse function pinned by tests to literal
// sample lines. Format drift should only ever break this file.

var progressRe = regexp.MustCompile(`^\[download\]\s+([\d.]+)%(?:\s+of\s+~?\s*[\d.]+\w*B)?(?:\s+at\s+([\d.]+)(Ki|Mi|Gi)?B/s)?`)

// ParseProgress extracts percent and speed (bytes/sec) from a progress line.
// Speed is 0 when the tool prints "Unknown B/s".
func ParseProgress(line string) (percent float64, speedBps float64, ok bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, false
	}
	if m[2] != "" {
		speed, err := strconv.ParseFloat(m[2], 64)
		if err == nil {
			switch m[3] {
			case "Ki":
				speed *= 1024
			case "Mi":
				speed *= 1024 * 1024
			case "Gi":
				speed *= 1024 * 1024 * 1024
			}
			speedBps = speed
		}
	}
	return percent, speedBps, true
}

var destinationRe = regexp.MustCompile(`^\[download\] Destination: (.+)$`)

func ParseDestination(line string) (string, bool) {
	m := destinationRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var mergeRe = regexp.MustCompile(`^\[(?:Merger|ffmpeg)\] Merging formats into "(.+)"$`)

// ParseMergePath matches the muxer announcement; it supersedes any earlier
// destination line because the merged file is the real final artifact.
func ParseMergePath(line string) (string, bool) {
	m := mergeRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var extractAudioRe = regexp.MustCompile(`^\[ExtractAudio\] Destination: (.+)$`)

func ParseExtractAudioPath(line string) (string, bool) {
	m := extractAudioRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var alreadyRe = regexp.MustCompile(`^\[download\] (.+) has already been downloaded(?: and merged)?$`)

func ParseAlreadyDownloaded(line string) (string, bool) {
	m := alreadyRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func IsAuthFailure(line string) bool {
	return strings.Contains(line, "HTTP Error 403") ||
		strings.Contains(line, "403: Forbidden") ||
		strings.Contains(line, "Sign in to confirm")
}

func IsRateLimited(line string) bool {
	return strings.Contains(line, "HTTP Error 429") ||
		strings.Contains(line, "Too Many Requests")
}
