package orchestrator

import (
	"fmt"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/fumino17/Media_Grab/events"
	"github.com/fumino17/Media_Grab/job"
	"github.com/fumino17/Media_Grab/runner"
	"github.com/fumino17/Media_Grab/utils"
)

type playlistItem struct {
	id    string
	title string
	url   string
}

// expandPlaylist registers a parent meta-job for bookkeeping (it never
// downloads media itself), flattens the playlist with a metadata-mode
// invocation, and fans the items out as child jobs on the playlist limiter.
func (o *Orchestrator) expandPlaylist(clientID string, req *events.DownloadRequest) {
	parent := o.newJob(clientID, req, req.URL)
	o.reg.Register(parent)
	o.hub.Send(clientID, events.Event{
		Type:    events.TypeStatus,
		ItemID:  parent.ID,
		Message: "Expanding playlist...",
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runPlaylist(parent, clientID, req)
	}()
}

func (o *Orchestrator) runPlaylist(parent *job.Job, clientID string, req *events.DownloadRequest) {
	logger := log.WithField("job", parent.ID)
	defer o.reg.Retire(parent.ID)

	if parent.CancelRequested() {
		o.finishCancelled(parent)
		return
	}
	o.reg.Activate(parent.ID)
	parent.SetState(job.StateMetadataFetching)

	title, items, err := o.flattenPlaylist(parent)
	if err != nil {
		if runner.IsCancelled(err) || parent.CancelRequested() {
			o.finishCancelled(parent)
			return
		}
		logger.WithError(err).Warn("playlist expansion failed")
		o.finishFailed(parent, err)
		return
	}
	if len(items) == 0 {
		o.finishFailed(parent, fmt.Errorf("playlist %q has no items", title))
		return
	}
	parent.Title = title
	logger.Infof("playlist %q flattened into %d item(s)", title, len(items))

	// One shared directory for all children, collision-suffixed so two
	// playlists with the same resolved title never mix files.
	destDir := utils.UniqueDir(filepath.Join(o.cfg.DownloadDir, utils.SanitizeTitle(title)))
	if _, err := utils.MakeDir(destDir); err != nil {
		o.finishFailed(parent, fmt.Errorf("create playlist dir: %w", err))
		return
	}

	parent.SetState(job.StateDownloading)
	var childWg sync.WaitGroup
	for i, item := range items {
		if parent.CancelRequested() {
			break
		}
		child := o.newJob(clientID, req, item.url)
		child.ParentID = parent.ID
		child.Index = i + 1
		child.NumberPrefix = req.Numbering
		child.Title = item.title
		child.DestDir = destDir
		o.reg.Register(child)
		o.hub.Send(clientID, events.Event{
			Type:           events.TypeQueued,
			ItemID:         child.ID,
			Title:          child.Title,
			Source:         string(child.Source),
			IsPlaylistItem: true,
		})
		childWg.Add(1)
		o.wg.Add(1)
		go func(c *job.Job) {
			defer o.wg.Done()
			defer childWg.Done()
			o.runJob(c, o.playlist)
		}(child)
	}
	childWg.Wait()

	// A cancelled parent suppresses the summary event.
	if parent.CancelRequested() {
		o.finishCancelled(parent)
		return
	}
	if parent.SetState(job.StateCompleted) {
		o.hub.Send(clientID, events.Event{
			Type:    events.TypePlaylistComplete,
			ItemID:  parent.ID,
			Title:   parent.Title,
			Message: fmt.Sprintf("Playlist %q finished (%d items)", parent.Title, len(items)),
		})
	}
}

// flattenPlaylist runs the tool in metadata mode and reads the flat item
// list out of its JSON dump.
func (o *Orchestrator) flattenPlaylist(parent *job.Job) (string, []playlistItem, error) {
	res, err := o.run.Run(parent.Context(),
		metadataArgs(o.cfg, parent.MediaRef, true),
		&jobHandle{o: o, j: parent}, runner.ModeMetadata, "")
	if err != nil {
		return "", nil, fmt.Errorf("flatten playlist: %w", err)
	}
	root := gjson.Parse(res.Stdout)
	title := root.Get("title").String()
	if title == "" {
		title = "Playlist " + CanonicalMediaID(parent.MediaRef)
	}
	var items []playlistItem
	root.Get("entries").ForEach(func(_, e gjson.Result) bool {
		item := playlistItem{
			id:    e.Get("id").String(),
			title: e.Get("title").String(),
			url:   e.Get("url").String(),
		}
		if item.url == "" && item.id != "" && parent.Source == job.SourceYoutube {
			item.url = "https://www.youtube.com/watch?v=" + item.id
		}
		if item.url != "" {
			items = append(items, item)
		}
		return true
	})
	return title, items, nil
}
