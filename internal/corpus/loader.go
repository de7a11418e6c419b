// Package corpus ingests a directory of recorded pose descriptors into a
// pose index, skipping descriptors that fail to parse.
package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kamusis/posematch/internal/pose"
)

// DefaultDescriptorExts lists the descriptor extensions recognized when a
// Loader does not set its own.
var DefaultDescriptorExts = []string{".json", ".yaml", ".yml"}

// DefaultImageExt is the paired image extension.
const DefaultImageExt = ".png"

// Loader scans one corpus directory. The zero value is usable.
type Loader struct {
	DescriptorExts []string
	ImageExt       string
	// RequireImages skips descriptors whose paired image does not exist.
	RequireImages bool
	Logger        *slog.Logger
	// OnProgress is called after each descriptor is processed.
	OnProgress func(done, total int)
}

// Result is the outcome of one corpus scan.
type Result struct {
	Index    *pose.Index
	Skipped  int
	Failures []*ParseError
}

// Load scans dir (non-recursively, in file-name order) and builds a pose
// index from every descriptor that parses. Labels are assigned 1..N over the
// successfully parsed descriptors only.
func (l *Loader) Load(ctx context.Context, dir string) (*Result, error) {
	log := l.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	exts := DefaultDescriptorExts
	if len(l.DescriptorExts) > 0 {
		exts = make([]string, len(l.DescriptorExts))
		for i, ext := range l.DescriptorExts {
			exts[i] = strings.ToLower(ext)
		}
	}
	imageExt := l.ImageExt
	if imageExt == "" {
		imageExt = DefaultImageExt
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot stat %s: %w", ErrCorpusUnavailable, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", ErrCorpusUnavailable, dir)
	}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot list %s: %w", ErrCorpusUnavailable, dir, err)
	}

	var files []string
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if slices.Contains(exts, ext) {
			files = append(files, d.Name())
		}
	}

	res := &Result{Index: pose.NewIndex()}
	for i, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, name)
		if perr := l.ingest(res.Index, dir, name, imageExt); perr != nil {
			res.Skipped++
			res.Failures = append(res.Failures, perr)
			log.Warn("skipping descriptor", "path", path, "reason", perr.Err.Error())
		} else {
			log.Debug("loaded descriptor", "path", path, "label", res.Index.Len())
		}
		if l.OnProgress != nil {
			l.OnProgress(i+1, len(files))
		}
	}

	log.Info("corpus loaded", "dir", dir, "loaded", res.Index.Len(), "skipped", res.Skipped)
	return res, nil
}

func (l *Loader) ingest(idx *pose.Index, dir, name, imageExt string) *ParseError {
	path := filepath.Join(dir, name)
	ext := filepath.Ext(name)

	b, err := os.ReadFile(path)
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}
	vec, tr, err := decodeDescriptor(b, ext)
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}

	base := strings.TrimSuffix(name, ext)
	img := pose.ImageRef{Path: filepath.Join(dir, base+imageExt)}
	if _, err := os.Stat(img.Path); err != nil {
		if l.RequireImages {
			return &ParseError{Path: path, Err: fmt.Errorf("%w: %s", ErrMissingImage, img.Path)}
		}
		img = pose.ImageRef{}
	}

	if _, err := idx.Add(poseName(base), vec, img, tr); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

// poseName derives a display name from a descriptor base name. File systems
// disagree on Unicode normalization (macOS returns NFD), so names are NFC.
func poseName(base string) string {
	return norm.NFC.String(strings.TrimSpace(base))
}
