//go:build linux

package process

import "syscall"

// sysProcAttr starts the backend in its own process group so it can be
// signalled as a whole, and asks the kernel to send it SIGTERM if fnrun dies
// without cleaning up. Pdeathsig tracks the thread that forked the child,
// which the Go runtime keeps alive for the life of the process in practice.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
