package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/types"
)

// writePIDFile claims the pidfile with an exclusive create. A stale file
// (dead pid, or live pid with an unresponsive socket) is cleaned and
// retried once; a live daemon refuses the start.
func writePIDFile(pidPath, socketPath string) error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(pidPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create pidfile: %w", err)
		}

		pid, readErr := ReadPIDFile(pidPath)
		if readErr == nil && pidAlive(pid) && Ping(socketPath) == nil {
			return types.E(types.KindInvalidState, "daemon already running (pid %d)", pid)
		}
		logging.Info("daemon", "removing stale pidfile (pid %d)", pid)
		os.Remove(pidPath)
		os.Remove(socketPath)
	}
	return types.E(types.KindConflict, "could not claim pidfile %s", pidPath)
}

// ReadPIDFile returns the pid recorded in the pidfile
func ReadPIDFile(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pidfile: %w", err)
	}
	return pid, nil
}

// pidAlive asks the OS whether the process still exists
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

// Running reports the live daemon's pid, or 0 when it is not running
func Running(pidPath, socketPath string) int {
	pid, err := ReadPIDFile(pidPath)
	if err != nil || !pidAlive(pid) {
		return 0
	}
	if Ping(socketPath) != nil {
		return 0
	}
	return pid
}
