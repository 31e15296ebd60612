/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package os

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/openark/golib/log"
)

// ErrRestrictionUnsupported is returned by RestrictChildProcesses where process limits cannot be set
var ErrRestrictionUnsupported = errors.New("restricting child processes is not supported on this platform")

// TerminationSignals cancel a running migration. SIGPIPE is left out: a
// child closing its stdin surfaces as EPIPE on the write and as its exit code.
var TerminationSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// RunCommandWithOutput executes a command and returns its combined output
func RunCommandWithOutput(ctx context.Context, name string, arguments ...string) ([]byte, error) {
	log.Debugf("RunCommandWithOutput: %s %s", name, strings.Join(arguments, " "))
	cmd := exec.CommandContext(ctx, name, arguments...)
	return cmd.CombinedOutput()
}

// CommandExists returns true when name resolves to an executable in PATH
func CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// ExitCode returns the exit code of a finished command. A command killed by
// a signal reports -1, a command that never ran reports -1 as well.
func ExitCode(cmd *exec.Cmd) int {
	if cmd == nil || cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// IsPrivileged returns true when running as root
func IsPrivileged() bool {
	return os.Geteuid() == 0
}
