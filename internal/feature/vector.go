// Package feature defines the fixed-dimension gesture feature vector shared by
// the corpus loader, the pose index and the matcher.
package feature

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// D is the number of gesture channels in every feature vector.
const D = 8

// Channels names each vector position, in order. Descriptor files use these keys.
var Channels = [D]string{
	"mouthWidth",
	"mouthHeight",
	"leftEyebrowHeight",
	"rightEyebrowHeight",
	"leftEyeOpenness",
	"rightEyeOpenness",
	"jawOpenness",
	"nostrilFlare",
}

// Vector is one gesture sample: D scalars in Channels order.
type Vector []float64

// Validate checks that v has exactly D finite components.
func (v Vector) Validate() error {
	if len(v) != D {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(v), D)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("channel %s is not finite: %v", Channels[i], x)
		}
	}
	return nil
}

// Clone returns a copy of v that shares no memory with it.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// SquaredDistance returns the squared Euclidean distance between v and o.
func (v Vector) SquaredDistance(o Vector) (float64, error) {
	if len(v) != len(o) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(v), len(o))
	}
	var sum float64
	for i := range v {
		d := v[i] - o[i]
		sum += d * d
	}
	return sum, nil
}

// String formats v as comma-separated values, the same form Parse accepts.
func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Parse reads a vector from comma and/or whitespace separated numbers.
// The result is not length-checked; call Validate for that.
func Parse(s string) (Vector, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty feature vector")
	}
	out := make(Vector, 0, len(fields))
	for _, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature value %q: %w", f, err)
		}
		out = append(out, x)
	}
	return out, nil
}
