package corpus

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/pose"
)

// descriptor is the on-disk schema of one recorded pose. Every field is
// required; pointers distinguish "absent" from zero.
type descriptor struct {
	MouthWidth         *float64 `json:"mouthWidth" yaml:"mouthWidth"`
	MouthHeight        *float64 `json:"mouthHeight" yaml:"mouthHeight"`
	LeftEyebrowHeight  *float64 `json:"leftEyebrowHeight" yaml:"leftEyebrowHeight"`
	RightEyebrowHeight *float64 `json:"rightEyebrowHeight" yaml:"rightEyebrowHeight"`
	LeftEyeOpenness    *float64 `json:"leftEyeOpenness" yaml:"leftEyeOpenness"`
	RightEyeOpenness   *float64 `json:"rightEyeOpenness" yaml:"rightEyeOpenness"`
	JawOpenness        *float64 `json:"jawOpenness" yaml:"jawOpenness"`
	NostrilFlare       *float64 `json:"nostrilFlare" yaml:"nostrilFlare"`

	PosX  *float64 `json:"posX" yaml:"posX"`
	PosY  *float64 `json:"posY" yaml:"posY"`
	Scale *float64 `json:"scale" yaml:"scale"`
}

// channels returns the gesture fields in feature.Channels order.
func (d *descriptor) channels() [feature.D]*float64 {
	return [feature.D]*float64{
		d.MouthWidth,
		d.MouthHeight,
		d.LeftEyebrowHeight,
		d.RightEyebrowHeight,
		d.LeftEyeOpenness,
		d.RightEyeOpenness,
		d.JawOpenness,
		d.NostrilFlare,
	}
}

// decodeDescriptor parses b according to ext (".json", ".yaml" or ".yml").
func decodeDescriptor(b []byte, ext string) (feature.Vector, pose.Transform, error) {
	var d descriptor
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, pose.Transform{}, fmt.Errorf("invalid JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &d); err != nil {
			return nil, pose.Transform{}, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		return nil, pose.Transform{}, fmt.Errorf("unsupported descriptor extension %q", ext)
	}
	return d.resolve()
}

func (d *descriptor) resolve() (feature.Vector, pose.Transform, error) {
	var missing []string
	vec := make(feature.Vector, feature.D)
	for i, p := range d.channels() {
		if p == nil {
			missing = append(missing, feature.Channels[i])
			continue
		}
		vec[i] = *p
	}
	if d.PosX == nil {
		missing = append(missing, "posX")
	}
	if d.PosY == nil {
		missing = append(missing, "posY")
	}
	if d.Scale == nil {
		missing = append(missing, "scale")
	}
	if len(missing) > 0 {
		return nil, pose.Transform{}, fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}
	if err := vec.Validate(); err != nil {
		return nil, pose.Transform{}, err
	}

	tr := pose.Transform{X: *d.PosX, Y: *d.PosY, Scale: *d.Scale}
	for i, x := range [...]float64{tr.X, tr.Y, tr.Scale} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, pose.Transform{}, fmt.Errorf("%s is not finite: %v", [...]string{"posX", "posY", "scale"}[i], x)
		}
	}
	if tr.Scale <= 0 {
		return nil, pose.Transform{}, fmt.Errorf("scale must be positive, got %v", tr.Scale)
	}
	return vec, tr, nil
}

// WriteDescriptor writes v and tr to path in the same schema Load reads. The
// format follows the extension of path. An existing file is never replaced:
// the error then satisfies errors.Is(err, fs.ErrExist).
func WriteDescriptor(path string, v feature.Vector, tr pose.Transform) error {
	if err := v.Validate(); err != nil {
		return err
	}
	d := descriptor{PosX: &tr.X, PosY: &tr.Y, Scale: &tr.Scale}
	vals := v.Clone()
	ptrs := [feature.D]**float64{
		&d.MouthWidth, &d.MouthHeight,
		&d.LeftEyebrowHeight, &d.RightEyebrowHeight,
		&d.LeftEyeOpenness, &d.RightEyeOpenness,
		&d.JawOpenness, &d.NostrilFlare,
	}
	for i, p := range ptrs {
		*p = &vals[i]
	}

	var (
		b   []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		b, err = json.MarshalIndent(d, "", "  ")
		b = append(b, '\n')
	case ".yaml", ".yml":
		b, err = yaml.Marshal(d)
	default:
		return fmt.Errorf("unsupported descriptor extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("cannot encode descriptor: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("cannot create descriptor: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("cannot write descriptor %s: %w", path, err)
	}
	return f.Close()
}
