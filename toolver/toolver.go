// Package toolver reports and refreshes the versions of the external tools
// the downloader shells out to.
package toolver

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/fumino17/Media_Grab/utils"
)

// ReleaseFeed is the extractor's release endpoint; the latest tag name is
// compared against the installed version.
const ReleaseFeed = "https://api.github.com/repos/yt-dlp/yt-dlp/releases/latest"

const checkTTL = 30 * time.Minute

type Info struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Latest    string    `json:"latest,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

type Checker struct {
	mu        sync.Mutex
	tools     map[string]Info // tool path -> last probe
	extractor string
	mux       string
	feedURL   string

	// Both indirections exist so tests can avoid real binaries and GitHub.
	runVersion func(ctx context.Context, tool string, args ...string) (string, error)
	httpClient *http.Client
}

func New(extractor, mux string) *Checker {
	return &Checker{
		tools:      map[string]Info{},
		extractor:  extractor,
		mux:        mux,
		feedURL:    ReleaseFeed,
		runVersion: runTool,
	}
}

func runTool(ctx context.Context, tool string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, tool, args...).CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("run %s %s: %w", tool, strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Version probes one tool, serving a cached answer inside the TTL. The
// extractor prints a bare version; the mux tool buries it in a banner line.
func (c *Checker) Version(ctx context.Context, tool string) (Info, error) {
	c.mu.Lock()
	if info, ok := c.tools[tool]; ok && time.Since(info.CheckedAt) < checkTTL {
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	out, err := c.runVersion(ctx, tool, "-version")
	if err != nil {
		// The extractor family spells the flag with two dashes.
		out, err = c.runVersion(ctx, tool, "--version")
	}
	if err != nil {
		return Info{}, err
	}
	info := Info{Name: tool, Version: firstVersionToken(out), CheckedAt: time.Now()}

	c.mu.Lock()
	c.tools[tool] = info
	c.mu.Unlock()
	return info, nil
}

// All probes every configured tool; a tool that fails to answer is reported
// with an empty version rather than dropped.
func (c *Checker) All(ctx context.Context) []Info {
	out := make([]Info, 0, 2)
	for _, tool := range []string{c.extractor, c.mux} {
		info, err := c.Version(ctx, tool)
		if err != nil {
			log.WithError(err).WithField("tool", tool).Warn("version probe failed")
			info = Info{Name: tool, CheckedAt: time.Now()}
		}
		out = append(out, info)
	}
	return out
}

// Latest asks the release feed for the newest extractor tag.
func (c *Checker) Latest(ctx context.Context) (string, error) {
	body, err := utils.HttpGet(c.httpClient, c.feedURL, map[string]string{"Accept": "application/vnd.github+json"})
	if err != nil {
		return "", fmt.Errorf("release feed: %w", err)
	}
	tag := gjson.GetBytes(body, "tag_name").String()
	if tag == "" {
		return "", fmt.Errorf("release feed: no tag_name in response")
	}
	return tag, nil
}

type UpdateResult struct {
	Updated    bool   `json:"updated"`
	OldVersion string `json:"oldVersion"`
	NewVersion string `json:"newVersion"`
	Output     string `json:"output"`
}

// Update runs the extractor's self-updater, then re-probes so the reported
// versions reflect the binary actually on disk.
func (c *Checker) Update(ctx context.Context) (UpdateResult, error) {
	before, err := c.Version(ctx, c.extractor)
	if err != nil {
		return UpdateResult{}, err
	}
	out, err := c.runVersion(ctx, c.extractor, "-U")
	if err != nil {
		return UpdateResult{OldVersion: before.Version, Output: out}, fmt.Errorf("self-update: %w", err)
	}
	c.mu.Lock()
	delete(c.tools, c.extractor)
	c.mu.Unlock()

	after, err := c.Version(ctx, c.extractor)
	if err != nil {
		return UpdateResult{OldVersion: before.Version, Output: out}, err
	}
	res := UpdateResult{
		Updated:    after.Version != before.Version,
		OldVersion: before.Version,
		NewVersion: after.Version,
		Output:     out,
	}
	log.WithFields(log.Fields{"tool": c.extractor, "from": res.OldVersion, "to": res.NewVersion}).
		Info("self-update finished")
	return res, nil
}

// firstVersionToken pulls the version out of tool output: the extractor
// prints "2024.08.06" alone, ffmpeg prints "ffmpeg version 6.1.1 ...".
func firstVersionToken(out string) string {
	line := out
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		line = out[:i]
	}
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}
