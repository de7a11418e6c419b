package snapshot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kamusis/posematch/internal/pose"
)

// FormatVersion is the index snapshot format written by this package.
const FormatVersion = 1

// Manifest describes a persisted pose index and how to interpret it.
type Manifest struct {
	IndexVersion int      `json:"index_version"`
	SnapshotID   string   `json:"snapshot_id"`
	CreatedAt    string   `json:"created_at"`
	Dim          int      `json:"dim"`
	Channels     []string `json:"channels"`
	Count        int      `json:"count"`
	EntriesFile  string   `json:"entries_file,omitempty"`
	VectorFile   string   `json:"vector_file,omitempty"`
}

// ID parses SnapshotID.
func (m Manifest) ID() (uuid.UUID, error) {
	return uuid.Parse(m.SnapshotID)
}

// entryRow is one line of entries.jsonl.
type entryRow struct {
	Label int     `json:"label"`
	Name  string  `json:"name"`
	Image string  `json:"image"`
	PosX  float64 `json:"pos_x"`
	PosY  float64 `json:"pos_y"`
	Scale float64 `json:"scale"`
}

// Store persists and restores a pose index.
type Store interface {
	// Save replaces the stored snapshot with idx and returns its manifest.
	Save(ctx context.Context, idx *pose.Index) (Manifest, error)
	// Load restores the stored snapshot. dim is the dimensionality the caller
	// expects; a snapshot of any other dimensionality is rejected.
	Load(ctx context.Context, dim int) (*pose.Index, Manifest, error)
	Close() error
}

// Kinds of Store accepted by Open.
const (
	KindFiles  = "files"
	KindSQLite = "sqlite"
)

// Open returns the store of the given kind rooted in dataDir.
func Open(kind, dataDir string) (Store, error) {
	switch kind {
	case "", KindFiles:
		return &FileStore{Dir: filepath.Join(dataDir, "index")}, nil
	case KindSQLite:
		return OpenSQLite(filepath.Join(dataDir, "index.db"))
	default:
		return nil, fmt.Errorf("unsupported snapshot store: %s", kind)
	}
}
