package supervisor

import (
	"errors"
	"syscall"
	"time"
)

// processAlive reports whether pid names a live process. Signal 0 probes
// without delivering anything; EPERM still means the process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}

	return errors.Is(err, syscall.EPERM)
}

// terminate asks pid to exit with SIGTERM, waits up to timeout, then
// escalates to SIGKILL. It returns nil once the process is confirmed gone.
func terminate(pid int, timeout time.Duration) error {
	err := syscall.Kill(pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}

		time.Sleep(200 * time.Millisecond)
	}

	err = syscall.Kill(pid, syscall.SIGKILL)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}

	return nil
}

// killGroup force-kills the process group led by pid. Used on health
// timeout, when the spawned session must not be left orphaned.
func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
