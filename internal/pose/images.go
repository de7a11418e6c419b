package pose

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Images is an arena of pose images keyed by label. Decoded images are cached
// for the lifetime of the arena; a retrained pipeline builds a new arena, so
// handles held by a presenter stay valid until it drops them.
type Images struct {
	idx *Index

	mu      sync.Mutex
	decoded map[int]image.Image
}

// NewImages returns an arena over the images referenced by idx.
func NewImages(idx *Index) *Images {
	return &Images{idx: idx, decoded: make(map[int]image.Image)}
}

// Ref returns the image reference for label.
func (a *Images) Ref(label int) (ImageRef, bool) {
	e, ok := a.idx.Get(label)
	if !ok {
		return ImageRef{}, false
	}
	return e.Image, true
}

// Decode returns the decoded image for label, decoding it on first use.
func (a *Images) Decode(label int) (image.Image, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if img, ok := a.decoded[label]; ok {
		return img, nil
	}
	ref, ok := a.Ref(label)
	if !ok {
		return nil, fmt.Errorf("no pose with label %d", label)
	}
	if ref.Path == "" {
		return nil, fmt.Errorf("pose %d has no image", label)
	}
	f, err := os.Open(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot open image %s: %w", ref.Path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("cannot decode image %s: %w", ref.Path, err)
	}
	a.decoded[label] = img
	return img, nil
}
