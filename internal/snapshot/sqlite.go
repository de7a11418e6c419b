package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kamusis/posematch/internal/pose"
)

// SQLiteStore keeps the index snapshot in a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot migrate %s: %w", path, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS entries (
            label INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            image TEXT NOT NULL,
            pos_x REAL NOT NULL,
            pos_y REAL NOT NULL,
            scale REAL NOT NULL,
            features BLOB NOT NULL
        );`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Save replaces the stored snapshot in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, idx *pose.Index) (Manifest, error) {
	m := newManifest(idx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Manifest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return Manifest{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meta`); err != nil {
		return Manifest{}, err
	}
	meta := map[string]string{
		"index_version": strconv.Itoa(m.IndexVersion),
		"snapshot_id":   m.SnapshotID,
		"created_at":    m.CreatedAt,
		"dim":           strconv.Itoa(m.Dim),
		"channels":      strings.Join(m.Channels, ","),
		"count":         strconv.Itoa(m.Count),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)`, k, v); err != nil {
			return Manifest{}, err
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries(label, name, image, pos_x, pos_y, scale, features) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Manifest{}, err
	}
	defer stmt.Close()
	for _, e := range idx.Entries() {
		r := toRow(e)
		if _, err := stmt.ExecContext(ctx, r.Label, r.Name, r.Image, r.PosX, r.PosY, r.Scale, encodeVector(e.Features)); err != nil {
			return Manifest{}, fmt.Errorf("cannot insert entry %d: %w", r.Label, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Load restores the stored snapshot.
func (s *SQLiteStore) Load(ctx context.Context, dim int) (*pose.Index, Manifest, error) {
	m, err := s.readMeta(ctx)
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := checkManifest(m, dim); err != nil {
		return nil, Manifest{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT label, name, image, pos_x, pos_y, scale, features FROM entries ORDER BY label`)
	if err != nil {
		return nil, Manifest{}, err
	}
	defer rows.Close()

	var entries []pose.Entry
	for rows.Next() {
		var (
			r    entryRow
			blob []byte
		)
		if err := rows.Scan(&r.Label, &r.Name, &r.Image, &r.PosX, &r.PosY, &r.Scale, &blob); err != nil {
			return nil, Manifest{}, err
		}
		vec, err := decodeVector(blob, m.Dim)
		if err != nil {
			return nil, Manifest{}, fmt.Errorf("entry %d: %w", r.Label, err)
		}
		entries = append(entries, fromRow(r, vec))
	}
	if err := rows.Err(); err != nil {
		return nil, Manifest{}, err
	}
	if len(entries) != m.Count {
		return nil, Manifest{}, fmt.Errorf("entries count mismatch: got %d want %d", len(entries), m.Count)
	}
	idx, err := pose.Restore(entries)
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("corrupt snapshot %s: %w", s.path, err)
	}
	return idx, m, nil
}

func (s *SQLiteStore) readMeta(ctx context.Context) (Manifest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return Manifest{}, err
	}
	defer rows.Close()
	kv := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Manifest{}, err
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Manifest{}, err
	}
	if len(kv) == 0 {
		return Manifest{}, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}

	var m Manifest
	for key, dst := range map[string]*int{"index_version": &m.IndexVersion, "dim": &m.Dim, "count": &m.Count} {
		n, err := strconv.Atoi(kv[key])
		if err != nil {
			return Manifest{}, fmt.Errorf("invalid %s in snapshot meta: %q", key, kv[key])
		}
		*dst = n
	}
	m.SnapshotID = kv["snapshot_id"]
	m.CreatedAt = kv["created_at"]
	if c := kv["channels"]; c != "" {
		m.Channels = strings.Split(c, ",")
	}
	return m, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
