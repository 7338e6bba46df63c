// +build !windows

package runner

import (
	"os/exec"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Each child gets its own process group so a kill takes the whole tree
// down; the download tool spawns the muxer as a subprocess and killing
// only the parent would leave an orphaned muxer holding file locks.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

const killEscalation = 5 * time.Second

func terminateTree(cmd *exec.Cmd) {
	p := cmd.Process
	if p == nil {
		return
	}
	pid := p.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		log.Debugf("SIGTERM group %d: %v", pid, err)
	}
	go func() {
		time.Sleep(killEscalation)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}()
}
