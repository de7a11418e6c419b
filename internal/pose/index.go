// Package pose holds the labeled pose index: the ordered set of recorded
// poses that the matcher is trained from and that query results point into.
package pose

import (
	"fmt"

	"github.com/kamusis/posematch/internal/feature"
)

// Index is an ordered collection of entries with dense labels 1..N.
//
// Labels double as slice offsets (label-1), which keeps Get O(1). An Index is
// populated once and then treated as immutable; growth goes through
// WithAppended, which returns a new Index.
type Index struct {
	entries []Entry
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{}
}

// Add appends an entry, assigning it the next sequential label, and returns
// that label. The feature vector must have dimension feature.D.
func (x *Index) Add(name string, features feature.Vector, img ImageRef, tr Transform) (int, error) {
	if err := features.Validate(); err != nil {
		return 0, err
	}
	label := len(x.entries) + 1
	x.entries = append(x.entries, Entry{
		Label:     label,
		Name:      name,
		Features:  features.Clone(),
		Image:     img,
		Transform: tr,
	})
	return label, nil
}

// Restore rebuilds an index from previously persisted entries. Entries must be
// ordered with dense labels starting at 1.
func Restore(entries []Entry) (*Index, error) {
	x := &Index{entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		x.entries = append(x.entries, e.Clone())
	}
	if err := x.Validate(); err != nil {
		return nil, err
	}
	return x, nil
}

// Validate checks the dense-label and dimensionality invariants.
func (x *Index) Validate() error {
	for i, e := range x.entries {
		if e.Label != i+1 {
			return fmt.Errorf("label out of sequence at position %d: got %d want %d", i, e.Label, i+1)
		}
		if len(e.Features) != feature.D {
			return fmt.Errorf("entry %d: %w: got %d want %d", e.Label, feature.ErrDimensionMismatch, len(e.Features), feature.D)
		}
	}
	return nil
}

// Len returns the number of entries.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.entries)
}

// NextLabel returns the label the next appended entry would receive.
func (x *Index) NextLabel() int {
	return x.Len() + 1
}

// Get returns the entry with the given label.
func (x *Index) Get(label int) (*Entry, bool) {
	if x == nil || label < 1 || label > len(x.entries) {
		return nil, false
	}
	return &x.entries[label-1], true
}

// Entries returns the entries in label order. Callers must not modify them.
func (x *Index) Entries() []Entry {
	if x == nil {
		return nil
	}
	return x.entries
}

// Clone returns a deep copy of x.
func (x *Index) Clone() *Index {
	out := &Index{entries: make([]Entry, len(x.Entries()))}
	for i, e := range x.Entries() {
		out.entries[i] = e.Clone()
	}
	return out
}

// WithAppended returns a copy of x with one more entry. x is left unchanged.
func (x *Index) WithAppended(name string, features feature.Vector, img ImageRef, tr Transform) (*Index, int, error) {
	out := x.Clone()
	label, err := out.Add(name, features, img, tr)
	if err != nil {
		return nil, 0, err
	}
	return out, label, nil
}
