/*
   Copyright 2025 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

//go:build !linux

package os

func RestrictChildProcesses(pid int) error {
	return ErrRestrictionUnsupported
}
