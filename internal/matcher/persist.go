package matcher

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kamusis/posematch/internal/feature"
)

const (
	snapshotMagic   = "PMNN"
	snapshotVersion = 1
)

// Marshal serializes t together with the id of the index snapshot it was
// trained from.
//
// Layout (little-endian): magic[4], version(u32), algLen(u32), alg bytes,
// k(u32), maxDistance(f64), dim(u32), indexID[16], n(u32), then n rows of
// label(u32) + dim float64 values.
func Marshal(t Trained, indexID uuid.UUID) ([]byte, error) {
	samples := t.Samples()
	opts := t.Options()
	dim := t.Dim()
	size := 4 + 4 + 4 + len(opts.Algorithm) + 4 + 8 + 4 + 16 + 4 + len(samples)*(4+8*dim)
	out := make([]byte, 0, size)
	putU32 := func(v uint32) { out = binary.LittleEndian.AppendUint32(out, v) }
	putF64 := func(v float64) { out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v)) }

	out = append(out, snapshotMagic...)
	putU32(snapshotVersion)
	putU32(uint32(len(opts.Algorithm)))
	out = append(out, opts.Algorithm...)
	putU32(uint32(opts.K))
	putF64(opts.MaxDistance)
	putU32(uint32(dim))
	out = append(out, indexID[:]...)
	putU32(uint32(len(samples)))
	for _, s := range samples {
		if len(s.Features) != dim {
			return nil, fmt.Errorf("%w: sample %d", feature.ErrDimensionMismatch, s.Label)
		}
		putU32(uint32(s.Label))
		for _, x := range s.Features {
			putF64(x)
		}
	}
	return out, nil
}

// Unmarshal decodes data written by Marshal and retrains the matcher.
func Unmarshal(data []byte) (Trained, uuid.UUID, error) {
	off := 0
	need := func(n int) error {
		if off+n > len(data) {
			return fmt.Errorf("%w: truncated at byte %d", ErrCorruptSnapshot, off)
		}
		return nil
	}
	getU32 := func() (uint32, error) {
		if err := need(4); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint32(data[off:])
		off += 4
		return v, nil
	}
	getF64 := func() (float64, error) {
		if err := need(8); err != nil {
			return 0, err
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
		off += 8
		return v, nil
	}

	if err := need(len(snapshotMagic)); err != nil {
		return nil, uuid.Nil, err
	}
	if string(data[:len(snapshotMagic)]) != snapshotMagic {
		return nil, uuid.Nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	off += len(snapshotMagic)

	version, err := getU32()
	if err != nil {
		return nil, uuid.Nil, err
	}
	if version != snapshotVersion {
		return nil, uuid.Nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, version)
	}
	algLen, err := getU32()
	if err != nil {
		return nil, uuid.Nil, err
	}
	if err := need(int(algLen)); err != nil {
		return nil, uuid.Nil, err
	}
	var opts Options
	opts.Algorithm = Algorithm(data[off : off+int(algLen)])
	off += int(algLen)
	k, err := getU32()
	if err != nil {
		return nil, uuid.Nil, err
	}
	opts.K = int(k)
	if opts.MaxDistance, err = getF64(); err != nil {
		return nil, uuid.Nil, err
	}
	dim, err := getU32()
	if err != nil {
		return nil, uuid.Nil, err
	}
	if err := need(16); err != nil {
		return nil, uuid.Nil, err
	}
	indexID, err := uuid.FromBytes(data[off : off+16])
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	off += 16
	n, err := getU32()
	if err != nil {
		return nil, uuid.Nil, err
	}
	if dim == 0 || dim > 1<<16 {
		return nil, uuid.Nil, fmt.Errorf("%w: implausible dim %d", ErrCorruptSnapshot, dim)
	}
	if rowSize := 4 + 8*int(dim); int(n) > (len(data)-off)/rowSize {
		return nil, uuid.Nil, fmt.Errorf("%w: truncated rows", ErrCorruptSnapshot)
	}

	samples := make([]Sample, n)
	for i := range samples {
		label, _ := getU32()
		vec := make(feature.Vector, dim)
		for j := range vec {
			vec[j], _ = getF64()
		}
		samples[i] = Sample{Label: int(label), Features: vec}
	}
	if off != len(data) {
		return nil, uuid.Nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, len(data)-off)
	}

	t, err := Train(samples, opts)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	return t, indexID, nil
}

// Save writes the matcher snapshot to path, replacing it atomically.
func Save(path string, t Trained, indexID uuid.UUID) error {
	b, err := Marshal(t, indexID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create matcher dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("cannot write matcher snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cannot install matcher snapshot: %w", err)
	}
	return nil
}

// Load reads a matcher snapshot written by Save. A missing file yields an
// error satisfying errors.Is(err, fs.ErrNotExist).
func Load(path string) (Trained, uuid.UUID, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("cannot read matcher snapshot %s: %w", path, err)
	}
	return Unmarshal(b)
}
