/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

//go:build linux

package os

import (
	"golang.org/x/sys/unix"
)

// RestrictChildProcesses forbids the process pid from forking. mysqldump
// output may embed client commands such as `\!`; with RLIMIT_NPROC at zero
// the importing side cannot spawn them.
func RestrictChildProcesses(pid int) error {
	limit := &unix.Rlimit{Cur: 0, Max: 0}
	return unix.Prlimit(pid, unix.RLIMIT_NPROC, limit, nil)
}
