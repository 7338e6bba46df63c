package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fumino17/Media_Grab/job"
	"github.com/fumino17/Media_Grab/mcache"
	"github.com/fumino17/Media_Grab/runner"
	"github.com/fumino17/Media_Grab/utils"
)

// ClassifySource decides which download strategy and folder convention a
// URL falls under.
func ClassifySource(mediaRef string) job.Source {
	u, err := url.Parse(mediaRef)
	if err != nil {
		return job.SourceGeneric
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "youtube.") || host == "youtu.be":
		return job.SourceYoutube
	case strings.Contains(host, "soundcloud."):
		return job.SourceSoundcloud
	}
	return job.SourceGeneric
}

// CanonicalMediaID is the cache key for a URL: the watch id where the site
// has one, otherwise the last meaningful path segment.
func CanonicalMediaID(mediaRef string) string {
	u, err := url.Parse(mediaRef)
	if err != nil {
		return mediaRef
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if list := u.Query().Get("list"); list != "" && !strings.Contains(u.Path, "watch") {
		return list
	}
	seg := path.Base(strings.TrimSuffix(u.Path, "/"))
	if seg == "" || seg == "." || seg == "/" {
		return u.Hostname()
	}
	return seg
}

// IsPlaylistRef is a cheap structural check; the tool has the final word
// when the metadata probe runs.
func IsPlaylistRef(mediaRef string) bool {
	return strings.Contains(mediaRef, "list=") ||
		strings.Contains(mediaRef, "/playlist") ||
		strings.Contains(mediaRef, "/sets/")
}

// noopHandle backs runner invocations with no job attached (synchronous
// metadata lookups from the query surface).
type noopHandle struct{}

func (noopHandle) CancelRequested() bool     { return false }
func (noopHandle) OwnProcess(func())         {}
func (noopHandle) ReleaseProcess()           {}
func (noopHandle) Progress(float64, float64) {}

// Metadata resolves title/thumbnail/qualities for a URL, consulting the
// cache first so a repeat submission inside the TTL never re-spawns the
// probe.
func (o *Orchestrator) Metadata(ctx context.Context, mediaRef string) (*mcache.Entry, error) {
	return o.fetchMetadata(ctx, noopHandle{}, mediaRef)
}

func (o *Orchestrator) fetchMetadata(ctx context.Context, h runner.Handle, mediaRef string) (*mcache.Entry, error) {
	mediaID := CanonicalMediaID(mediaRef)
	if e, ok := o.cache.Get(mediaID); ok {
		return e, nil
	}
	res, err := o.run.Run(ctx, metadataArgs(o.cfg, mediaRef, false), h, runner.ModeMetadata, "")
	if err != nil {
		return nil, fmt.Errorf("metadata probe: %w", err)
	}
	root := gjson.Parse(res.Stdout)
	title := root.Get("title").String()
	if title == "" {
		return nil, fmt.Errorf("metadata probe returned no title")
	}
	entry := &mcache.Entry{
		Title:     title,
		Thumbnail: root.Get("thumbnail").String(),
		Qualities: distinctHeights(root.Get("formats")),
	}
	o.cache.Put(mediaID, entry)
	return entry, nil
}

func distinctHeights(formats gjson.Result) []string {
	seen := make(map[int64]bool, 8)
	var out []string
	formats.ForEach(func(_, f gjson.Result) bool {
		h := f.Get("height").Int()
		if h > 0 && !seen[h] {
			seen[h] = true
			out = append(out, fmt.Sprintf("%d", h))
		}
		return true
	})
	return out
}

// placeholderTitle keeps a job presentable when the metadata probe failed;
// titling is cosmetic and must not abort a download.
func placeholderTitle(j *job.Job) string {
	return utils.SanitizeTitle("media " + CanonicalMediaID(j.MediaRef))
}

func sanitizedTitle(j *job.Job) string {
	if j.Title != "" {
		return utils.SanitizeTitle(j.Title)
	}
	return placeholderTitle(j)
}
