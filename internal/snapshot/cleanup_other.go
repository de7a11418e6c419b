//go:build !windows

package snapshot

import "os"

// cleanupBackup removes a superseded snapshot directory.
func cleanupBackup(backupPath string) error {
	if backupPath == "" {
		return nil
	}
	return os.RemoveAll(backupPath)
}
