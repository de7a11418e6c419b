package snapshot

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/pose"
)

func newManifest(idx *pose.Index) Manifest {
	return Manifest{
		IndexVersion: FormatVersion,
		SnapshotID:   uuid.NewString(),
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		Dim:          feature.D,
		Channels:     feature.Channels[:],
		Count:        idx.Len(),
	}
}

// checkManifest validates a manifest read back from storage against the
// dimensionality the caller expects.
func checkManifest(m Manifest, dim int) error {
	if m.IndexVersion != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.IndexVersion)
	}
	if m.Dim != dim {
		return fmt.Errorf("%w: snapshot dim %d, expected %d", feature.ErrDimensionMismatch, m.Dim, dim)
	}
	if len(m.Channels) > 0 && !slices.Equal(m.Channels, feature.Channels[:]) {
		return fmt.Errorf("%w: snapshot channel layout %v", feature.ErrDimensionMismatch, m.Channels)
	}
	if m.Count < 0 {
		return fmt.Errorf("invalid count in manifest: %d", m.Count)
	}
	if _, err := m.ID(); err != nil {
		return fmt.Errorf("invalid snapshot id %q: %w", m.SnapshotID, err)
	}
	return nil
}

func toRow(e pose.Entry) entryRow {
	return entryRow{
		Label: e.Label,
		Name:  e.Name,
		Image: e.Image.Path,
		PosX:  e.Transform.X,
		PosY:  e.Transform.Y,
		Scale: e.Transform.Scale,
	}
}

func fromRow(r entryRow, vec feature.Vector) pose.Entry {
	return pose.Entry{
		Label:     r.Label,
		Name:      r.Name,
		Features:  vec,
		Image:     pose.ImageRef{Path: r.Image},
		Transform: pose.Transform{X: r.PosX, Y: r.PosY, Scale: r.Scale},
	}
}

// encodeVector stores v as little-endian IEEE 754 float64 values.
func encodeVector(v feature.Vector) []byte {
	b := make([]byte, len(v)*8)
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(x))
	}
	return b
}

func decodeVector(b []byte, dim int) (feature.Vector, error) {
	if len(b) != dim*8 {
		return nil, fmt.Errorf("%w: vector blob of %d bytes, expected %d", feature.ErrDimensionMismatch, len(b), dim*8)
	}
	v := make(feature.Vector, dim)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
