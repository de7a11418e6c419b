// Package matcher trains and queries nearest-neighbor classifiers over pose
// feature vectors.
//
// A trained matcher is immutable: retraining builds a new one. Distances are
// Euclidean; equal distances resolve to the lower label so repeated queries
// against the same matcher always agree.
package matcher

import (
	"fmt"
	"math"
	"sort"

	"github.com/kamusis/posematch/internal/feature"
)

// Algorithm selects the neighbor search structure.
type Algorithm string

const (
	// Linear scans every sample on each query.
	Linear Algorithm = "linear"
	// KDTree searches a k-d tree built at training time.
	KDTree Algorithm = "kdtree"
)

// Options configures training.
type Options struct {
	Algorithm Algorithm
	// K is the number of neighbors that vote on a label.
	K int
	// MaxDistance, when positive, is the largest Euclidean distance still
	// reported as a match.
	MaxDistance float64
}

// DefaultOptions returns single-nearest-neighbor linear matching with no
// distance gate.
func DefaultOptions() Options {
	return Options{Algorithm: Linear, K: 1}
}

// Validate checks o for unusable values.
func (o Options) Validate() error {
	switch o.Algorithm {
	case Linear, KDTree:
	default:
		return fmt.Errorf("unsupported matcher algorithm: %q", o.Algorithm)
	}
	if o.K < 1 {
		return fmt.Errorf("k must be at least 1, got %d", o.K)
	}
	if o.MaxDistance < 0 || math.IsNaN(o.MaxDistance) {
		return fmt.Errorf("max distance must be non-negative, got %v", o.MaxDistance)
	}
	return nil
}

// Sample is one labeled training vector.
type Sample struct {
	Label    int
	Features feature.Vector
}

// Prediction is the answer to one query.
type Prediction struct {
	Matched  bool
	Label    int
	Distance float64
}

// Trained is a matcher ready to answer queries. Implementations are safe for
// concurrent use.
type Trained interface {
	// Predict returns the closest label to q. A query whose length differs
	// from Dim fails with feature.ErrDimensionMismatch.
	Predict(q feature.Vector) (Prediction, error)
	Len() int
	Dim() int
	Options() Options
	// Samples returns the training samples. Callers must not modify them.
	Samples() []Sample
}

// Train builds a matcher from samples.
func Train(samples []Sample, opts Options) (Trained, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrEmptyCorpus
	}
	dim := len(samples[0].Features)
	if dim == 0 {
		return nil, fmt.Errorf("%w: sample %d has no features", feature.ErrDimensionMismatch, samples[0].Label)
	}
	own := make([]Sample, len(samples))
	for i, s := range samples {
		if len(s.Features) != dim {
			return nil, fmt.Errorf("%w: sample %d has %d features, expected %d", feature.ErrDimensionMismatch, s.Label, len(s.Features), dim)
		}
		if s.Label < 1 {
			return nil, fmt.Errorf("sample %d: label must be positive, got %d", i, s.Label)
		}
		own[i] = Sample{Label: s.Label, Features: s.Features.Clone()}
	}

	base := base{samples: own, dim: dim, opts: opts}
	switch opts.Algorithm {
	case KDTree:
		return newKDTree(base), nil
	default:
		return &linear{base: base}, nil
	}
}

type base struct {
	samples []Sample
	dim     int
	opts    Options
}

func (b *base) Len() int          { return len(b.samples) }
func (b *base) Dim() int          { return b.dim }
func (b *base) Options() Options  { return b.opts }
func (b *base) Samples() []Sample { return b.samples }

func (b *base) checkQuery(q feature.Vector) error {
	if len(q) != b.dim {
		return fmt.Errorf("%w: query has %d features, expected %d", feature.ErrDimensionMismatch, len(q), b.dim)
	}
	for i, x := range q {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("query component %d is not finite: %v", i, x)
		}
	}
	return nil
}

// neighbor is a candidate at squared distance d2.
type neighbor struct {
	label int
	d2    float64
}

func sortNeighbors(ns []neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].d2 == ns[j].d2 {
			return ns[i].label < ns[j].label
		}
		return ns[i].d2 < ns[j].d2
	})
}

// vote picks a label from the k nearest of ns (sorted by sortNeighbors):
// most votes wins, then the smaller summed distance, then the lower label.
// It returns the winning label and that label's nearest squared distance.
func vote(ns []neighbor, k int) (int, float64) {
	if k > len(ns) {
		k = len(ns)
	}
	if k == 1 {
		return ns[0].label, ns[0].d2
	}
	type tally struct {
		votes   int
		sum     float64
		nearest float64
	}
	tallies := map[int]*tally{}
	for _, n := range ns[:k] {
		t, ok := tallies[n.label]
		if !ok {
			t = &tally{nearest: n.d2}
			tallies[n.label] = t
		}
		t.votes++
		t.sum += math.Sqrt(n.d2)
	}
	best := 0
	var bt *tally
	for label, t := range tallies {
		switch {
		case bt == nil,
			t.votes > bt.votes,
			t.votes == bt.votes && t.sum < bt.sum,
			t.votes == bt.votes && t.sum == bt.sum && label < best:
			best, bt = label, t
		}
	}
	return best, bt.nearest
}

// gate applies the MaxDistance threshold to a winning label.
func (b *base) gate(label int, dist float64) Prediction {
	if b.opts.MaxDistance > 0 && dist > b.opts.MaxDistance {
		return Prediction{Matched: false, Distance: dist}
	}
	return Prediction{Matched: true, Label: label, Distance: dist}
}
