package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

// fakeHandle mirrors job.Job's contract: requesting cancel both raises the
// flag and fires the owned process's kill closure.
type fakeHandle struct {
	mu        sync.Mutex
	cancelled bool
	kill      func()
	progress  []float64
}

func (h *fakeHandle) CancelRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *fakeHandle) requestCancel() {
	h.mu.Lock()
	h.cancelled = true
	kill := h.kill
	h.mu.Unlock()
	if kill != nil {
		kill()
	}
}

func (h *fakeHandle) OwnProcess(kill func()) {
	h.mu.Lock()
	h.kill = kill
	h.mu.Unlock()
}

func (h *fakeHandle) ReleaseProcess() {
	h.mu.Lock()
	h.kill = nil
	h.mu.Unlock()
}

func (h *fakeHandle) Progress(percent float64, speedBps float64) {
	h.mu.Lock()
	h.progress = append(h.progress, percent)
	h.mu.Unlock()
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test scripts need a POSIX shell")
	}
}

func newShellRunner() *Runner {
	return New("sh", "sh", 0)
}

func TestRunSuccessWithDestination(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "clip.mp4")
	script := `
echo "[download] Destination: ` + out + `"
echo "[download]  50.0% of 1.00MiB at 1.00MiB/s ETA 00:01"
echo "[download] 100.0% of 1.00MiB at 1.00MiB/s ETA 00:00"
touch "` + out + `"
`
	h := &fakeHandle{}
	res, err := newShellRunner().Run(context.Background(), []string{"-c", script}, h, ModeDownload, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.OutputPath != out {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, out)
	}
	if len(h.progress) != 2 {
		t.Errorf("progress samples = %v, want 2", len(h.progress))
	}
	if res.LastPercent != 100.0 {
		t.Errorf("LastPercent = %v, want 100", res.LastPercent)
	}
}

func TestRunExitZeroWithoutOutputFails(t *testing.T) {
	skipOnWindows(t)
	h := &fakeHandle{}
	_, err := newShellRunner().Run(context.Background(),
		[]string{"-c", `echo "[download] Destination: /nonexistent/gone.mp4"`}, h, ModeDownload, "")
	if ErrKind(err) != KindOutputMissing {
		t.Fatalf("Run() error = %v, want output-missing", err)
	}
}

func TestRunGlobFallback(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "song.m4a")
	if err := os.WriteFile(out, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	h := &fakeHandle{}
	res, err := newShellRunner().Run(context.Background(),
		[]string{"-c", `echo "quiet tool"`}, h, ModeDownload, filepath.Join(dir, "song.*"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.OutputPath != out {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, out)
	}
}

func TestRunClassifiesRateLimit(t *testing.T) {
	skipOnWindows(t)
	h := &fakeHandle{}
	_, err := newShellRunner().Run(context.Background(),
		[]string{"-c", `echo "ERROR: unable to download webpage: HTTP Error 429: Too Many Requests" >&2; exit 1`},
		h, ModeDownload, "")
	if ErrKind(err) != KindRateLimited {
		t.Fatalf("Run() error = %v, want rate-limited", err)
	}
}

func TestRunClassifiesAuth(t *testing.T) {
	skipOnWindows(t)
	h := &fakeHandle{}
	_, err := newShellRunner().Run(context.Background(),
		[]string{"-c", `echo "ERROR: HTTP Error 403: Forbidden" >&2; exit 1`}, h, ModeDownload, "")
	if ErrKind(err) != KindAuthRequired {
		t.Fatalf("Run() error = %v, want auth-required", err)
	}
	re := err.(*RunError)
	if re.HadAuth {
		t.Error("HadAuth = true without cookies arg")
	}
}

func TestRunSpawnFailure(t *testing.T) {
	h := &fakeHandle{}
	r := New("/definitely/not/a/tool", "", 0)
	_, err := r.Run(context.Background(), []string{"--version"}, h, ModeDownload, "")
	if ErrKind(err) != KindSpawn {
		t.Fatalf("Run() error = %v, want spawn failure", err)
	}
}

func TestRunCancelMidStream(t *testing.T) {
	skipOnWindows(t)
	script := `
echo "[download]   1.0% of 1.00MiB at 1.00KiB/s ETA 10:00"
sleep 30
echo "[download] 100.0%"
`
	h := &fakeHandle{}
	go func() {
		time.Sleep(200 * time.Millisecond)
		h.requestCancel()
	}()
	start := time.Now()
	_, err := newShellRunner().Run(context.Background(), []string{"-c", script}, h, ModeDownload, "")
	if !IsCancelled(err) {
		t.Fatalf("Run() error = %v, want cancelled", err)
	}
	if time.Since(start) > 15*time.Second {
		t.Error("cancel did not terminate the process promptly")
	}
}

func TestRunMetadataKeepsStdout(t *testing.T) {
	skipOnWindows(t)
	h := &fakeHandle{}
	res, err := newShellRunner().Run(context.Background(),
		[]string{"-c", `echo '{"title": "A Clip", "id": "abc"}'`}, h, ModeMetadata, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "{\"title\": \"A Clip\", \"id\": \"abc\"}\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if len(h.progress) != 0 {
		t.Error("metadata mode emitted progress")
	}
}
