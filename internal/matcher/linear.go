package matcher

import (
	"gonum.org/v1/gonum/floats"

	"github.com/kamusis/posematch/internal/feature"
)

// linear answers queries with a full scan over the training samples.
type linear struct {
	base
}

func (m *linear) Predict(q feature.Vector) (Prediction, error) {
	if err := m.checkQuery(q); err != nil {
		return Prediction{}, err
	}
	if m.opts.K == 1 {
		best := -1
		var bestD2 float64
		for i, s := range m.samples {
			d2 := squared(q, s.Features)
			if best < 0 || d2 < bestD2 || (d2 == bestD2 && s.Label < m.samples[best].Label) {
				best, bestD2 = i, d2
			}
		}
		s := m.samples[best]
		return m.gate(s.Label, floats.Distance(q, s.Features, 2)), nil
	}

	ns := make([]neighbor, len(m.samples))
	for i, s := range m.samples {
		ns[i] = neighbor{label: s.Label, d2: squared(q, s.Features)}
	}
	sortNeighbors(ns)
	label, _ := vote(ns, m.opts.K)
	return m.gate(label, m.nearestOf(q, label)), nil
}

// nearestOf returns the Euclidean distance from q to the closest sample with label.
func (m *linear) nearestOf(q feature.Vector, label int) float64 {
	best := -1.0
	for _, s := range m.samples {
		if s.Label != label {
			continue
		}
		if d := floats.Distance(q, s.Features, 2); best < 0 || d < best {
			best = d
		}
	}
	return best
}

func squared(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
