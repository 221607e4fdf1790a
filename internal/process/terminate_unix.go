//go:build unix

package process

import (
	"os"
	"syscall"
)

// terminate sends SIGTERM to the process group led by p, reaching anything
// the backend started itself. It falls back to p alone if the group is gone.
func terminate(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err == nil {
		return nil
	}
	return p.Signal(syscall.SIGTERM)
}
