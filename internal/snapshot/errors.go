package snapshot

import "errors"

var (
	// ErrNotFound indicates no snapshot has been written yet.
	ErrNotFound = errors.New("snapshot not found")
	// ErrUnsupportedVersion indicates a snapshot written by an incompatible format version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	// ErrLocked indicates another writer holds the data directory lock.
	ErrLocked = errors.New("snapshot directory is locked by another writer")
)
