package pose

import "github.com/kamusis/posematch/internal/feature"

// displayFactor is applied on top of the recorded scale when overlaying an image.
const displayFactor = 1.125

// Transform is the recorded display placement for a pose image.
type Transform struct {
	X     float64 `json:"pos_x" yaml:"pos_x"`
	Y     float64 `json:"pos_y" yaml:"pos_y"`
	Scale float64 `json:"scale" yaml:"scale"`
}

// Rect is an on-screen rectangle in view pixels.
type Rect struct {
	X, Y, W, H int
}

// Placement centers an imgW x imgH image inside a viewW x viewH view, scaled by
// the recorded scale times the overlay display factor.
func (t Transform) Placement(imgW, imgH, viewW, viewH int) Rect {
	s := t.Scale * displayFactor
	w := float64(imgW) * s
	h := float64(imgH) * s
	return Rect{
		X: int((float64(viewW) - w) / 2),
		Y: int((float64(viewH) - h) / 2),
		W: int(w),
		H: int(h),
	}
}

// ImageRef points at a decodable image resource on disk.
type ImageRef struct {
	Path string `json:"path"`
}

// Entry is one labeled pose: feature vector, image and display transform.
type Entry struct {
	Label     int
	Name      string
	Features  feature.Vector
	Image     ImageRef
	Transform Transform
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	e.Features = e.Features.Clone()
	return e
}
