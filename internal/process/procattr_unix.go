//go:build unix && !linux

package process

import "syscall"

// sysProcAttr starts the backend in its own process group so it can be
// signalled as a whole.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
