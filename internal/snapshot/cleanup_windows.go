//go:build windows

package snapshot

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sys/windows"
)

// cleanupBackup removes a superseded snapshot directory.
//
// A presenter or indexer may still hold a handle on one of the old files; we
// retry for a short period and fall back to scheduling deletion at next reboot.
func cleanupBackup(backupPath string) error {
	if backupPath == "" {
		return nil
	}

	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = os.RemoveAll(backupPath)
		if lastErr == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Children before parents, so each directory is empty when its turn comes.
	var paths []string
	_ = filepath.WalkDir(backupPath, func(p string, _ fs.DirEntry, err error) error {
		if err == nil {
			paths = append(paths, p)
		}
		return nil
	})
	slices.Reverse(paths)
	for _, p := range paths {
		ptr, err := windows.UTF16PtrFromString(p)
		if err != nil {
			return lastErr
		}
		if err := windows.MoveFileEx(ptr, nil, windows.MOVEFILE_DELAY_UNTIL_REBOOT); err != nil {
			return lastErr
		}
	}
	return nil
}
