package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockFile is the name of the writer lock kept in a data directory.
const LockFile = ".posematch.lock"

// AcquireLock takes the single-writer lock for dataDir, retrying until timeout.
// The returned func releases it.
func AcquireLock(dataDir string, timeout time.Duration) (func(), error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return func() {}, fmt.Errorf("cannot create data dir %s: %w", dataDir, err)
	}
	lockPath := filepath.Join(dataDir, LockFile)
	l := flock.New(lockPath)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return func() {}, fmt.Errorf("cannot acquire snapshot lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return func() {}, fmt.Errorf("%w (lock: %s)", ErrLocked, lockPath)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
