package matcher

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/kamusis/posematch/internal/feature"
)

// kdMatcher answers queries from a k-d tree. For corpora in the tens to
// hundreds of poses a linear scan is as fast; the tree pays off in the
// thousands.
type kdMatcher struct {
	base
	tree *kdtree.Tree
}

func newKDTree(b base) *kdMatcher {
	pts := make(kdPoints, len(b.samples))
	for i, s := range b.samples {
		pts[i] = kdPoint{vec: s.Features, label: s.Label}
	}
	// kdtree.New reorders pts in place; the samples slice keeps training order.
	return &kdMatcher{base: b, tree: kdtree.New(pts, false)}
}

func (m *kdMatcher) Predict(q feature.Vector) (Prediction, error) {
	if err := m.checkQuery(q); err != nil {
		return Prediction{}, err
	}
	qp := kdPoint{vec: q}

	// Radius that encloses the k nearest samples.
	var radius float64
	if m.opts.K == 1 {
		_, radius = m.tree.Nearest(qp)
	} else {
		nk := kdtree.NewNKeeper(m.opts.K)
		m.tree.NearestSet(nk, qp)
		for _, c := range nk.Heap {
			if c.Comparable != nil && c.Dist > radius {
				radius = c.Dist
			}
		}
	}

	// Collect every sample within the radius so ties are resolved by label
	// rather than by tree traversal order.
	dk := kdtree.NewDistKeeper(radius)
	m.tree.NearestSet(dk, qp)
	ns := make([]neighbor, 0, len(dk.Heap))
	for _, c := range dk.Heap {
		if c.Comparable == nil {
			continue
		}
		ns = append(ns, neighbor{label: c.Comparable.(kdPoint).label, d2: c.Dist})
	}
	sortNeighbors(ns)
	label, d2 := vote(ns, m.opts.K)
	return m.gate(label, math.Sqrt(d2)), nil
}

// kdPoint is a labeled sample as seen by the tree.
type kdPoint struct {
	vec   []float64
	label int
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdPoint)
	return p.vec[d] - q.vec[d]
}

func (p kdPoint) Dims() int { return len(p.vec) }

// Distance returns the squared Euclidean distance, as kdtree expects.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	return squared(p.vec, c.(kdPoint).vec)
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p kdPoints) Len() int                              { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int                { return kdPlane{dim: d, kdPoints: p}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// kdPlane orders points along one dimension for median partitioning.
type kdPlane struct {
	dim kdtree.Dim
	kdPoints
}

func (p kdPlane) Less(i, j int) bool { return p.kdPoints[i].vec[p.dim] < p.kdPoints[j].vec[p.dim] }
func (p kdPlane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.kdPoints = p.kdPoints[start:end]
	return p
}
func (p kdPlane) Swap(i, j int) { p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i] }
