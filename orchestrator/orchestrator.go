// Package orchestrator drives every download job through its lifecycle:
// admission, metadata, download, and exactly one terminal event per job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fumino17/Media_Grab/config"
	"github.com/fumino17/Media_Grab/events"
	"github.com/fumino17/Media_Grab/history"
	"github.com/fumino17/Media_Grab/job"
	"github.com/fumino17/Media_Grab/limiter"
	"github.com/fumino17/Media_Grab/mcache"
	"github.com/fumino17/Media_Grab/runner"
	"github.com/fumino17/Media_Grab/utils"
)

// ToolRunner is what the orchestrator needs from the process runner;
// narrow on purpose so tests can substitute a stub.
type ToolRunner interface {
	Run(ctx context.Context, args []string, h runner.Handle, mode runner.Mode, outGlob string) (*runner.Result, error)
	RunMux(ctx context.Context, args []string, h runner.Handle, outPath string) error
}

type Orchestrator struct {
	cfg *config.MainConfig
	reg *job.Registry
	// Two independent admission queues: serialized standalone downloads
	// vs parallel playlist children. Neither governs the other.
	single   *limiter.Limiter
	playlist *limiter.Limiter
	run      ToolRunner
	cache    *mcache.Cache
	hub      *events.Hub
	hist     *history.History
	wg       sync.WaitGroup
}

func New(cfg *config.MainConfig, run ToolRunner, hub *events.Hub) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		reg:      job.NewRegistry(),
		single:   limiter.New(cfg.SingleConcurrency),
		playlist: limiter.New(cfg.PlaylistConcurrency),
		run:      run,
		cache:    mcache.New(time.Duration(cfg.CacheTTLSec)*time.Second, cfg.CacheSweepSize),
		hub:      hub,
		hist:     history.New(cfg.HistorySize),
	}
	hub.OnDownload = o.Submit
	hub.OnCancel = func(clientID, itemID string) { o.Cancel(itemID) }
	return o
}

func (o *Orchestrator) Registry() *job.Registry   { return o.reg }
func (o *Orchestrator) History() *history.History { return o.hist }

// ApplyConfig picks up runtime-adjustable settings after a config reload.
// In-flight downloads keep their slots.
func (o *Orchestrator) ApplyConfig(cfg *config.MainConfig) {
	o.cfg = cfg
	o.single.SetCapacity(cfg.SingleConcurrency)
	o.playlist.SetCapacity(cfg.PlaylistConcurrency)
}

// Submit accepts a validated download request from a client.
func (o *Orchestrator) Submit(clientID string, req *events.DownloadRequest) {
	if req.SingleConcurrency > 0 {
		o.single.SetCapacity(req.SingleConcurrency)
	}
	if req.Concurrency > 0 {
		o.playlist.SetCapacity(req.Concurrency)
	}

	if req.PlaylistAction == "full" && IsPlaylistRef(req.URL) {
		o.expandPlaylist(clientID, req)
		return
	}

	j := o.newJob(clientID, req, req.URL)
	o.reg.Register(j)
	o.hub.Send(clientID, events.Event{
		Type:   events.TypeQueued,
		ItemID: j.ID,
		Title:  placeholderTitle(j),
		Source: string(j.Source),
	})
	o.spawnJob(j, o.single)
}

func (o *Orchestrator) newJob(clientID string, req *events.DownloadRequest, mediaRef string) *job.Job {
	source := ClassifySource(mediaRef)
	if req.Source != "" {
		source = job.Source(req.Source)
	}
	format := job.FormatVideo
	if req.Format == "audio" {
		format = job.FormatAudio
	}
	quality := req.Quality
	if quality == "" || quality == "highest" {
		quality = "best"
	}
	j := job.New(source, mediaRef, CanonicalMediaID(mediaRef), format, quality, clientID)
	j.AudioBitrateCap = req.AudioBitrateCap
	// Folder convention: standalone jobs land in a per-source subfolder.
	j.DestDir = filepath.Join(o.cfg.DownloadDir, string(source))
	return j
}

// Cancel flags a job and cascades to any non-terminal children of a
// playlist parent. Already-terminal children are unaffected.
func (o *Orchestrator) Cancel(itemID string) {
	for _, child := range o.reg.ChildrenOf(itemID) {
		child.RequestCancel()
	}
	if !o.reg.MarkCancelled(itemID) {
		log.Warnf("cancel for unknown item %s", itemID)
	}
}

func (o *Orchestrator) spawnJob(j *job.Job, lim *limiter.Limiter) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runJob(j, lim)
	}()
}

// runJob is the state machine for one job. Cancellation is observed at
// phase boundaries; cleanup and registry retirement run on every path.
func (o *Orchestrator) runJob(j *job.Job, lim *limiter.Limiter) {
	logger := log.WithField("job", j.ID)
	defer o.reg.Retire(j.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("job panicked: %v", r)
			o.finishFailed(j, fmt.Errorf("internal error: %v", r))
		}
	}()

	// Checkpoint: cancelled before admission never spawns a process.
	if j.CancelRequested() {
		o.finishCancelled(j)
		return
	}
	if err := lim.Acquire(j.Context()); err != nil {
		o.finishCancelled(j)
		return
	}
	defer lim.Release()
	o.reg.Activate(j.ID)

	// Checkpoint: cancelled while waiting for the slot.
	if j.CancelRequested() {
		o.finishCancelled(j)
		return
	}

	j.SetState(job.StateMetadataFetching)
	o.metadataPhase(j, logger)

	if j.CancelRequested() {
		o.finishCancelled(j)
		return
	}

	j.SetState(job.StateDownloading)
	res, err := o.download(j)
	if err != nil {
		if runner.IsCancelled(err) || j.CancelRequested() {
			o.finishCancelled(j)
		} else {
			logger.WithError(err).Warn("download failed")
			o.finishFailed(j, err)
		}
		return
	}
	o.ensureAudioContainer(j, res, logger)
	o.finishCompleted(j, res)
}

// metadataPhase resolves the title and thumbnail. A probe failure degrades
// to a placeholder title; titling is cosmetic and never aborts the job.
func (o *Orchestrator) metadataPhase(j *job.Job, logger *log.Entry) {
	if j.Title == "" {
		entry, err := o.fetchMetadata(j.Context(), &jobHandle{o: o, j: j}, j.MediaRef)
		if err != nil {
			logger.WithError(err).Info("metadata fetch failed, using placeholder title")
			j.Title = placeholderTitle(j)
		} else {
			j.Title = entry.Title
			j.Thumbnail = entry.Thumbnail
		}
	}
	o.hub.Send(j.ClientID, events.Event{
		Type:      events.TypeItemInfo,
		ItemID:    j.ID,
		Title:     j.Title,
		Thumbnail: j.Thumbnail,
		FullPath:  filepath.Join(j.DestDir, outputBase(j)),
	})
}

func (o *Orchestrator) download(j *job.Job) (*runner.Result, error) {
	if _, err := utils.MakeDir(j.DestDir); err != nil {
		return nil, fmt.Errorf("create dest dir: %w", err)
	}
	j.TempPatterns = tempPatterns(j)
	selector := FormatSelector(j.Format, j.Quality, j.AudioBitrateCap)
	args := downloadArgs(o.cfg, j, selector)
	outGlob := filepath.Join(j.DestDir, outputBase(j)+".*")
	return o.run.Run(j.Context(), args, &jobHandle{o: o, j: j}, runner.ModeDownload, outGlob)
}

// ensureAudioContainer remuxes an audio job whose artifact came back in a
// video container; the mux tool is the job's second owned process.
func (o *Orchestrator) ensureAudioContainer(j *job.Job, res *runner.Result, logger *log.Entry) {
	if j.Format != job.FormatAudio || isAudioExt(res.OutputPath) {
		return
	}
	target := utils.ReplaceExt(res.OutputPath, "m4a")
	err := o.run.RunMux(j.Context(),
		[]string{"-y", "-i", res.OutputPath, "-vn", "-acodec", "aac", target},
		&jobHandle{o: o, j: j}, target)
	if err != nil {
		// Keep the original container rather than failing a finished download.
		logger.WithError(err).Warn("audio remux failed, keeping original container")
		return
	}
	_ = os.Remove(res.OutputPath)
	res.OutputPath = target
}

func (o *Orchestrator) finishCompleted(j *job.Job, res *runner.Result) {
	if !j.SetState(job.StateCompleted) {
		return
	}
	j.OutputPath = res.OutputPath
	var size int64
	if info, err := os.Stat(res.OutputPath); err == nil {
		size = info.Size()
	}
	rel, err := filepath.Rel(o.cfg.DownloadDir, res.OutputPath)
	if err != nil {
		rel = filepath.Base(res.OutputPath)
	}
	encoded := encodeRelPath(rel)
	o.hub.Send(j.ClientID, events.Event{
		Type:           events.TypeComplete,
		ItemID:         j.ID,
		Title:          j.Title,
		DownloadURL:    "/downloads/" + encoded,
		Filename:       filepath.Base(res.OutputPath),
		ActualSize:     size,
		FullPath:       res.OutputPath,
		DownloadFolder: filepath.Dir(res.OutputPath),
	})
	o.hist.Add(history.Record{
		ID:       j.ID,
		Title:    j.Title,
		Filename: filepath.Base(res.OutputPath),
		FullPath: res.OutputPath,
		RelPath:  encoded,
		Size:     size,
		State:    job.StateCompleted.String(),
	})
}

func (o *Orchestrator) finishFailed(j *job.Job, err error) {
	if !j.SetState(job.StateFailed) {
		return
	}
	j.CleanupTemp()
	msg := err.Error()
	var re *runner.RunError
	if errors.As(err, &re) {
		msg = re.UserMessage()
	}
	o.hub.Send(j.ClientID, events.Event{
		Type:    events.TypeError,
		ItemID:  j.ID,
		Title:   j.Title,
		Message: msg,
	})
	o.hist.Add(history.Record{ID: j.ID, Title: j.Title, State: job.StateFailed.String()})
}

func (o *Orchestrator) finishCancelled(j *job.Job) {
	if !j.SetState(job.StateCancelled) {
		return
	}
	j.CleanupTemp()
	o.hub.Send(j.ClientID, events.Event{
		Type:    events.TypeCancelConfirm,
		ItemID:  j.ID,
		Title:   j.Title,
		Message: "Download cancelled",
	})
	o.hist.Add(history.Record{ID: j.ID, Title: j.Title, State: job.StateCancelled.String()})
}

// Shutdown cancels every live job and waits up to the configured grace
// period for their process trees to die.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, j := range o.reg.All() {
		j.RequestCancel()
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	grace := time.Duration(o.cfg.ShutdownGraceSec) * time.Second
	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("shutdown grace period elapsed with %d job(s) still live", o.reg.Len())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jobHandle adapts a job to the runner's contract and fans progress out to
// the owning client.
type jobHandle struct {
	o *Orchestrator
	j *job.Job
}

func (h *jobHandle) CancelRequested() bool { return h.j.CancelRequested() }
func (h *jobHandle) OwnProcess(kill func()) {
	h.j.OwnProcess(kill)
}
func (h *jobHandle) ReleaseProcess() { h.j.ReleaseProcess() }
func (h *jobHandle) Progress(percent float64, speedBps float64) {
	h.o.hub.Send(h.j.ClientID, events.Event{
		Type:           events.TypeProgress,
		ItemID:         h.j.ID,
		Percent:        percent,
		SpeedBps:       speedBps,
		IsPlaylistItem: h.j.ParentID != "",
	})
}

func encodeRelPath(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
