// Package runner spawns and supervises one external tool invocation at a
// time, turning its textual output into structured progress and a verified
// output path.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/semaphore"
)

type Mode int

const (
	// ModeMetadata is the fast path: no progress parsing, short retry
	// budget, full stdout kept for JSON parsing.
	ModeMetadata Mode = iota
	ModeDownload
)

// Handle is the job-side view the runner needs: cancellation checkpoints,
// process ownership and a progress sink.
type Handle interface {
	CancelRequested() bool
	OwnProcess(kill func())
	ReleaseProcess()
	Progress(percent float64, speedBps float64)
}

type Result struct {
	// Stdout is the full tool output in metadata mode, a bounded tail in
	// download mode.
	Stdout      string
	OutputPath  string
	AlreadyDone bool
	LastPercent float64
}

type Runner struct {
	ToolPath    string
	MuxToolPath string

	pacer    ratelimit.Limiter
	probeSem *semaphore.Weighted
	// bursts counts recent auth/rate-limit sightings so repeated failures
	// get one loud warning instead of N quiet ones.
	bursts *cache.Cache
}

const (
	maxProbeConcurrency    = 4
	defaultSpawnsPerMinute = 20
)

func New(toolPath, muxToolPath string, spawnsPerMinute int) *Runner {
	if spawnsPerMinute <= 0 {
		spawnsPerMinute = defaultSpawnsPerMinute
	}
	return &Runner{
		ToolPath:    toolPath,
		MuxToolPath: muxToolPath,
		pacer:       ratelimit.New(spawnsPerMinute, ratelimit.Per(time.Minute)),
		probeSem:    semaphore.NewWeighted(maxProbeConcurrency),
		bursts:      cache.New(10*time.Minute, 0),
	}
}

// Run invokes the download tool. outGlob is the last-resort pattern for
// locating the artifact when the tool never announced a path.
func (r *Runner) Run(ctx context.Context, args []string, h Handle, mode Mode, outGlob string) (*Result, error) {
	if mode == ModeMetadata {
		if err := r.probeSem.Acquire(ctx, 1); err != nil {
			return nil, &RunError{Kind: KindCancelled, Message: "cancelled before metadata probe"}
		}
		defer r.probeSem.Release(1)
	} else {
		// Spread spawns out so a burst of jobs does not look like a bot.
		r.pacer.Take()
	}
	return r.exec(r.ToolPath, args, h, mode, outGlob)
}

// RunMux invokes the media mux tool. It never parses progress; callers own
// the argument list including the output path.
func (r *Runner) RunMux(ctx context.Context, args []string, h Handle, outPath string) error {
	if _, err := r.exec(r.MuxToolPath, args, h, ModeMetadata, ""); err != nil {
		return err
	}
	if outPath != "" && !fileExists(outPath) {
		return &RunError{Kind: KindOutputMissing, Message: fmt.Sprintf("mux output %s missing", outPath)}
	}
	return nil
}

const stderrTailLines = 40

func (r *Runner) exec(tool string, args []string, h Handle, mode Mode, outGlob string) (*Result, error) {
	logger := log.WithField("tool", filepath.Base(tool))
	logger.Debugf("spawn %s %s", tool, strings.Join(args, " "))

	cmd := exec.Command(tool, args...)
	cmd.SysProcAttr = sysProcAttr()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &RunError{Kind: KindSpawn, Message: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &RunError{Kind: KindSpawn, Message: "stderr pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &RunError{Kind: KindSpawn, Message: fmt.Sprintf("cannot start %s", tool), Err: err}
	}

	var killed int32
	killOnce := sync.Once{}
	kill := func() {
		killOnce.Do(func() {
			atomic.StoreInt32(&killed, 1)
			terminateTree(cmd)
		})
	}
	h.OwnProcess(kill)
	defer h.ReleaseProcess()

	lines := make(chan string, 64)
	var wg sync.WaitGroup
	var stderrTail []string
	var tailMu sync.Mutex
	scan := func(pipe io.Reader, isErr bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(pipe)
		// Metadata dumps arrive as one very long JSON line.
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if isErr {
				tailMu.Lock()
				stderrTail = append(stderrTail, line)
				if len(stderrTail) > stderrTailLines {
					stderrTail = stderrTail[1:]
				}
				tailMu.Unlock()
			}
			lines <- line
		}
	}
	wg.Add(2)
	go scan(stdout, false)
	go scan(stderr, true)
	go func() {
		wg.Wait()
		close(lines)
	}()

	res := &Result{}
	var out strings.Builder
	var outTail []string
	sawAuth := false
	sawRate := false
	for line := range lines {
		if mode == ModeMetadata {
			out.WriteString(line)
			out.WriteByte('\n')
		} else {
			outTail = append(outTail, line)
			if len(outTail) > stderrTailLines {
				outTail = outTail[1:]
			}
			r.parseLine(line, h, res, logger)
		}
		if IsAuthFailure(line) {
			sawAuth = true
			r.noteBurst("auth", logger)
		}
		if IsRateLimited(line) {
			sawRate = true
			r.noteBurst("ratelimit", logger)
		}
		// Cancellation checkpoint on every output line.
		if h.CancelRequested() {
			kill()
		}
	}

	waitErr := cmd.Wait()

	if atomic.LoadInt32(&killed) != 0 || h.CancelRequested() {
		return nil, &RunError{Kind: KindCancelled, Message: "cancelled"}
	}

	if mode == ModeMetadata {
		res.Stdout = out.String()
	} else {
		res.Stdout = strings.Join(outTail, "\n")
	}

	hadAuth := hasAuthArg(args)
	if waitErr != nil {
		tailMu.Lock()
		tail := strings.Join(stderrTail, "\n")
		tailMu.Unlock()
		return nil, classify(waitErr, tail, sawAuth, sawRate, hadAuth)
	}

	if mode == ModeDownload {
		if res.OutputPath == "" && outGlob != "" {
			matches, _ := filepath.Glob(outGlob)
			if len(matches) > 0 {
				// Heuristic last resort: can pick the wrong file when the
				// glob matches more than one.
				logger.Warnf("no path announced, globbed %d match(es) for %s", len(matches), outGlob)
				res.OutputPath = matches[0]
			}
		}
		if res.OutputPath == "" || !fileExists(res.OutputPath) {
			return nil, &RunError{Kind: KindOutputMissing,
				Message: fmt.Sprintf("exit 0 but no output at %q", res.OutputPath)}
		}
	}
	return res, nil
}

func (r *Runner) parseLine(line string, h Handle, res *Result, logger *log.Entry) {
	if percent, speed, ok := ParseProgress(line); ok {
		res.LastPercent = percent
		h.Progress(percent, speed)
		return
	}
	if path, ok := ParseDestination(line); ok {
		res.OutputPath = path
		return
	}
	if path, ok := ParseMergePath(line); ok {
		res.OutputPath = path
		return
	}
	if path, ok := ParseExtractAudioPath(line); ok {
		res.OutputPath = path
		return
	}
	if path, ok := ParseAlreadyDownloaded(line); ok {
		res.OutputPath = path
		res.AlreadyDone = true
		logger.Infof("already downloaded: %s", path)
	}
}

const burstWarnThreshold = 3

func (r *Runner) noteBurst(kind string, logger *log.Entry) {
	n := 1
	if v, ok := r.bursts.Get(kind); ok {
		n = v.(int) + 1
	}
	r.bursts.SetDefault(kind, n)
	if n == burstWarnThreshold {
		logger.Warnf("%s failures repeating (%d in 10min window)", kind, n)
	}
}

func classify(waitErr error, stderrTail string, sawAuth, sawRate, hadAuth bool) error {
	if sawRate || IsRateLimited(stderrTail) {
		return &RunError{Kind: KindRateLimited, Message: "tool hit rate limiting", Err: waitErr}
	}
	if sawAuth || IsAuthFailure(stderrTail) {
		return &RunError{Kind: KindAuthRequired, Message: "tool hit an auth wall", HadAuth: hadAuth, Err: waitErr}
	}
	msg := "tool exited with error"
	if stderrTail != "" {
		if i := strings.LastIndex(stderrTail, "ERROR:"); i >= 0 {
			line := stderrTail[i:]
			if j := strings.IndexByte(line, '\n'); j > 0 {
				line = line[:j]
			}
			msg = line
		}
	}
	return &RunError{Kind: KindTool, Message: msg, Err: waitErr}
}

func hasAuthArg(args []string) bool {
	for _, a := range args {
		if a == "--cookies" || a == "--cookies-from-browser" {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
