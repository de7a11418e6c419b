package snapshot

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/pose"
)

const (
	manifestFile       = "index_manifest.json"
	defaultEntriesFile = "entries.jsonl"
	defaultVectorFile  = "vectors.f64"
)

// FileStore keeps the index snapshot as a directory holding a manifest, one
// JSON line per entry and a raw little-endian float64 vector file.
type FileStore struct {
	Dir string
}

// Save writes idx to a temporary sibling directory and swaps it into place.
func (s *FileStore) Save(ctx context.Context, idx *pose.Index) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}
	parent := filepath.Dir(s.Dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("cannot create snapshot dir %s: %w", parent, err)
	}
	tmpDir, err := os.MkdirTemp(parent, ".index-*")
	if err != nil {
		return Manifest{}, fmt.Errorf("cannot create temp snapshot dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	m := newManifest(idx)
	m.EntriesFile = defaultEntriesFile
	m.VectorFile = defaultVectorFile
	if err := Write(tmpDir, m, idx); err != nil {
		return Manifest{}, err
	}
	if err := AtomicSwap(tmpDir, s.Dir); err != nil {
		return Manifest{}, fmt.Errorf("cannot install snapshot: %w", err)
	}
	return m, nil
}

// Load reads the snapshot directory.
func (s *FileStore) Load(ctx context.Context, dim int) (*pose.Index, Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, Manifest{}, err
	}
	return Read(s.Dir, dim)
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// Write writes snapshot artifacts for idx to dir.
func Write(dir string, m Manifest, idx *pose.Index) error {
	if m.Count != idx.Len() {
		return fmt.Errorf("manifest count %d does not match index length %d", m.Count, idx.Len())
	}
	if m.EntriesFile == "" {
		m.EntriesFile = defaultEntriesFile
	}
	if m.VectorFile == "" {
		m.VectorFile = defaultVectorFile
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create snapshot dir %s: %w", dir, err)
	}

	// manifest
	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("cannot write manifest: %w", err)
	}

	// entries jsonl
	ef, err := os.Create(filepath.Join(dir, m.EntriesFile))
	if err != nil {
		return fmt.Errorf("cannot create entries file: %w", err)
	}
	bw := bufio.NewWriter(ef)
	vectors := make([]float64, 0, idx.Len()*m.Dim)
	for _, e := range idx.Entries() {
		if len(e.Features) != m.Dim {
			_ = ef.Close()
			return fmt.Errorf("entry %d: %w: got %d want %d", e.Label, feature.ErrDimensionMismatch, len(e.Features), m.Dim)
		}
		line, err := json.Marshal(toRow(e))
		if err != nil {
			_ = ef.Close()
			return err
		}
		if _, err := bw.Write(line); err != nil {
			_ = ef.Close()
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			_ = ef.Close()
			return err
		}
		vectors = append(vectors, e.Features...)
	}
	if err := bw.Flush(); err != nil {
		_ = ef.Close()
		return err
	}
	if err := ef.Close(); err != nil {
		return err
	}

	// vectors
	vf, err := os.Create(filepath.Join(dir, m.VectorFile))
	if err != nil {
		return fmt.Errorf("cannot create vectors file: %w", err)
	}
	if err := binary.Write(vf, binary.LittleEndian, vectors); err != nil {
		_ = vf.Close()
		return fmt.Errorf("cannot write vectors: %w", err)
	}
	return vf.Close()
}

// Read loads a snapshot directory written by Write.
func Read(dir string, dim int) (*pose.Index, Manifest, error) {
	manifestPath := filepath.Join(dir, manifestFile)
	b, err := os.ReadFile(manifestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Manifest{}, fmt.Errorf("%w: %s", ErrNotFound, manifestPath)
		}
		return nil, Manifest{}, fmt.Errorf("cannot read manifest %s: %w", manifestPath, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, Manifest{}, fmt.Errorf("invalid manifest JSON %s: %w", manifestPath, err)
	}
	if err := checkManifest(m, dim); err != nil {
		return nil, Manifest{}, err
	}
	if m.EntriesFile == "" {
		m.EntriesFile = defaultEntriesFile
	}
	if m.VectorFile == "" {
		m.VectorFile = defaultVectorFile
	}

	rows, err := readEntries(filepath.Join(dir, m.EntriesFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	if len(rows) != m.Count {
		return nil, Manifest{}, fmt.Errorf("entries count mismatch: got %d want %d", len(rows), m.Count)
	}
	vectors, err := readVectors(filepath.Join(dir, m.VectorFile), len(rows), m.Dim)
	if err != nil {
		return nil, Manifest{}, err
	}

	entries := make([]pose.Entry, len(rows))
	for i, r := range rows {
		vec := make(feature.Vector, m.Dim)
		copy(vec, vectors[i*m.Dim:(i+1)*m.Dim])
		entries[i] = fromRow(r, vec)
	}
	idx, err := pose.Restore(entries)
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("corrupt snapshot %s: %w", dir, err)
	}
	return idx, m, nil
}

func readEntries(path string) ([]entryRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open entries file %s: %w", path, err)
	}
	defer f.Close()

	var out []entryRow
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r entryRow
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("invalid entries JSONL %s: %w", path, err)
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read entries file %s: %w", path, err)
	}
	return out, nil
}

func readVectors(path string, n, dim int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open vector file %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat vector file %s: %w", path, err)
	}
	expected := int64(n * dim * 8)
	if st.Size() != expected {
		return nil, fmt.Errorf("vector file size mismatch: got %d want %d (entries=%d dim=%d)", st.Size(), expected, n, dim)
	}

	out := make([]float64, n*dim)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("cannot read vectors from %s: %w", path, err)
	}
	return out, nil
}
