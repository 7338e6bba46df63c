// Package job holds the download job entity and the registry that tracks
// every non-terminal job in the process.
package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

type Source string

const (
	SourceYoutube    Source = "youtube"
	SourceSoundcloud Source = "soundcloud"
	SourceGeneric    Source = "generic"
)

type Format string

const (
	FormatAudio Format = "audio"
	FormatVideo Format = "video"
)

type State int32

const (
	StateQueued State = iota
	StateMetadataFetching
	StateDownloading
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateMetadataFetching:
		return "metadata"
	case StateDownloading:
		return "downloading"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type Job struct {
	ID       string
	Source   Source
	MediaRef string
	Format   Format
	// Quality is "best" or a target vertical resolution like "720".
	Quality string
	// AudioBitrateCap is a kbps ceiling for audio-only jobs, 0 for none.
	AudioBitrateCap int
	ClientID        string
	ParentID        string
	// Index is the 1-based playlist position, 0 for standalone jobs.
	Index        int
	NumberPrefix bool

	Title      string
	Thumbnail  string
	DestDir    string
	OutputPath string
	// TempPatterns are globs of intermediate files the tool may leave
	// behind; swept on any non-success exit.
	TempPatterns []string

	state  int32
	cancel int32

	mu   sync.Mutex
	kill func()

	ctx      context.Context
	cancelFn context.CancelFunc
}

var idSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// NewID keeps job ids human-traceable: source, media id and a timestamp.
func NewID(source Source, mediaID string) string {
	mediaID = idSanitizer.ReplaceAllString(mediaID, "")
	if len(mediaID) > 24 {
		mediaID = mediaID[:24]
	}
	return fmt.Sprintf("%s-%s-%d", source, mediaID, time.Now().UnixNano())
}

func New(source Source, mediaRef string, mediaID string, format Format, quality string, clientID string) *Job {
	ctx, cancelFn := context.WithCancel(context.Background())
	return &Job{
		ID:       NewID(source, mediaID),
		Source:   source,
		MediaRef: mediaRef,
		Format:   format,
		Quality:  quality,
		ClientID: clientID,
		ctx:      ctx,
		cancelFn: cancelFn,
	}
}

// Context is done once cancellation is requested; it unblocks a job that is
// still waiting for a limiter slot.
func (j *Job) Context() context.Context {
	return j.ctx
}

func (j *Job) State() State {
	return State(atomic.LoadInt32(&j.state))
}

// SetState enforces one-directional transitions; a terminal state is
// entered at most once and never left.
func (j *Job) SetState(s State) bool {
	for {
		old := atomic.LoadInt32(&j.state)
		if State(old).Terminal() || int32(s) < old {
			return false
		}
		if atomic.CompareAndSwapInt32(&j.state, old, int32(s)) {
			return true
		}
	}
}

func (j *Job) CancelRequested() bool {
	return atomic.LoadInt32(&j.cancel) != 0
}

// RequestCancel flags the job and kills its owned process if one is live.
// The state transition itself happens at the job's next checkpoint.
func (j *Job) RequestCancel() {
	atomic.StoreInt32(&j.cancel, 1)
	j.cancelFn()
	j.mu.Lock()
	kill := j.kill
	j.mu.Unlock()
	if kill != nil {
		kill()
	}
}

// OwnProcess records the live process terminator. A job owns at most one
// invocation at a time.
func (j *Job) OwnProcess(kill func()) {
	j.mu.Lock()
	if j.kill != nil {
		j.mu.Unlock()
		panic("job already owns a process")
	}
	j.kill = kill
	cancelled := j.CancelRequested()
	j.mu.Unlock()
	// Cancel may have arrived between spawn and ownership registration.
	if cancelled {
		kill()
	}
}

func (j *Job) ReleaseProcess() {
	j.mu.Lock()
	j.kill = nil
	j.mu.Unlock()
}

// CleanupTemp removes whatever the temp globs still match.
func (j *Job) CleanupTemp() {
	for _, pattern := range j.TempPatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if err := os.Remove(m); err == nil {
				log.WithField("job", j.ID).Debugf("removed temp file %s", m)
			}
		}
	}
}
