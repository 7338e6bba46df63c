// +build windows

package runner

import (
	"os/exec"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// taskkill /T walks the child tree for us; there is no process-group
// signal to lean on here.
func terminateTree(cmd *exec.Cmd) {
	p := cmd.Process
	if p == nil {
		return
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(p.Pid))
	if err := kill.Run(); err != nil {
		log.Debugf("taskkill %d: %v", p.Pid, err)
	}
}
