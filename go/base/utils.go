/*
   Copyright 2023 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package base

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var (
	prettifyDurationRegexp = regexp.MustCompile("([.][0-9]+)")
)

func PrettifyDurationOutput(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return prettifyDurationRegexp.ReplaceAllString(d.String(), "")
}

func FileExists(fileName string) bool {
	if _, err := os.Stat(fileName); err == nil {
		return true
	}
	return false
}

// ValidateWritableDir returns an error unless files can be created in the directory of fileName
func ValidateWritableDir(fileName string) error {
	dir := filepath.Dir(fileName)
	probe, err := os.CreateTemp(dir, ".mysql-migrate-probe-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", fileName, err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// RemoveFileIfExists removes fileName; a missing file is not an error
func RemoveFileIfExists(fileName string) error {
	if err := os.Remove(fileName); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteFileAtomic replaces fileName with content, so that readers never see a partial file
func WriteFileAtomic(fileName string, content []byte) error {
	f, err := os.CreateTemp(filepath.Dir(fileName), "."+filepath.Base(fileName)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(content); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(f.Name(), fileName)
}
