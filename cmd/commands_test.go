package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/kamusis/posematch/internal/config"
	"github.com/kamusis/posematch/internal/corpus"
	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/matcher"
	"github.com/kamusis/posematch/internal/pipeline"
	"github.com/kamusis/posematch/internal/pose"
	"github.com/kamusis/posematch/internal/snapshot"
)

// setFlag overrides a package-level flag variable for the duration of a test.
func setFlag[T any](t *testing.T, p *T, v T) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

// newWorkspace points HOME at a temp dir and writes a default config there.
// The corpus dir exists; the data dir does not.
func newWorkspace(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{config.EnvCorpusDir, config.EnvDataDir, config.EnvStore, config.EnvMatcher, config.EnvMatcherK, config.EnvLogLevel} {
		t.Setenv(k, "")
	}
	setFlag(t, &flagConfig, "")
	setFlag(t, &flagIndexNoProgress, true)

	cfg, err := config.DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	if err := config.Save(cfg); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.CorpusDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func jawVec(jaw float64) feature.Vector {
	v := make(feature.Vector, feature.D)
	v[6] = jaw
	return v
}

// addPose writes <base>.json for jaw and <base>.png holding content, or a
// decodable 8x8 PNG when content is empty.
func addPose(t *testing.T, cfg *config.Config, base string, jaw float64, content string) {
	t.Helper()
	if err := corpus.WriteDescriptor(filepath.Join(cfg.CorpusDir, base+".json"), jawVec(jaw), pose.Transform{Scale: 1}); err != nil {
		t.Fatal(err)
	}
	imgPath := filepath.Join(cfg.CorpusDir, base+".png")
	if content != "" {
		if err := os.WriteFile(imgPath, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return
	}
	f, err := os.Create(imgPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	dirents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, d := range dirents {
		names = append(names, d.Name())
	}
	return names
}

func loadSnapshot(t *testing.T, cfg *config.Config) (*pose.Index, snapshot.Manifest) {
	t.Helper()
	store, err := snapshot.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	idx, m, err := store.Load(context.Background(), feature.D)
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	return idx, m
}

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	old := os.Stdout
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = old
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(b), runErr
}

func queryJSON(t *testing.T, v feature.Vector) queryReport {
	t.Helper()
	setFlag(t, &flagQueryJSON, true)
	out, err := captureStdout(t, func() error { return runQuery(nil, []string{v.String()}) })
	if err != nil {
		t.Fatalf("runQuery: %v", err)
	}
	var r queryReport
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("invalid query output %q: %v", out, err)
	}
	return r
}

func TestIndexThenQuery(t *testing.T) {
	cfg := newWorkspace(t)
	addPose(t, cfg, "a", 0, "")
	addPose(t, cfg, "b", 10, "")
	addPose(t, cfg, "c", 20, "")

	if err := runIndex(nil, nil); err != nil {
		t.Fatalf("runIndex: %v", err)
	}
	r := queryJSON(t, jawVec(11))
	if !r.Matched || r.Label != 2 || r.Name != "b" || r.Distance != 1 {
		t.Fatalf("unexpected query result %+v", r)
	}
	if filepath.Base(r.Image) != "b.png" {
		t.Fatalf("unexpected image %q", r.Image)
	}
}

func TestIndex_SkipsBrokenDescriptors(t *testing.T) {
	cfg := newWorkspace(t)
	addPose(t, cfg, "a", 0, "")
	if err := os.WriteFile(filepath.Join(cfg.CorpusDir, "b.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	addPose(t, cfg, "c", 20, "")

	if err := runIndex(nil, nil); err != nil {
		t.Fatalf("runIndex: %v", err)
	}
	idx, _ := loadSnapshot(t, cfg)
	if idx.Len() != 2 {
		t.Fatalf("expected 2 poses, got %d", idx.Len())
	}
	if e, _ := idx.Get(2); e.Name != "c" {
		t.Fatalf("expected c under label 2, got %q", e.Name)
	}
}

func TestIndex_EmptyCorpusFails(t *testing.T) {
	newWorkspace(t)
	if err := runIndex(nil, nil); !errors.Is(err, matcher.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestQuery_WithoutIndex(t *testing.T) {
	newWorkspace(t)
	err := runQuery(nil, []string{jawVec(1).String()})
	if err == nil || !strings.Contains(err.Error(), "posematch index") {
		t.Fatalf("expected hint to run index, got %v", err)
	}
}

func TestCapture_AppendsWithoutSave(t *testing.T) {
	cfg := newWorkspace(t)
	addPose(t, cfg, "a", 0, "")
	if err := runIndex(nil, nil); err != nil {
		t.Fatalf("runIndex: %v", err)
	}
	before := listDir(t, cfg.CorpusDir)

	if err := runCapture(nil, []string{jawVec(30).String()}); err != nil {
		t.Fatalf("runCapture: %v", err)
	}
	idx, _ := loadSnapshot(t, cfg)
	if idx.Len() != 2 {
		t.Fatalf("expected 2 poses, got %d", idx.Len())
	}
	if r := queryJSON(t, jawVec(30)); r.Label != 2 || r.Distance != 0 {
		t.Fatalf("captured pose not served: %+v", r)
	}
	if after := listDir(t, cfg.CorpusDir); !slices.Equal(before, after) {
		t.Fatalf("corpus changed without --save: %v -> %v", before, after)
	}
}

func TestCapture_SaveKeepsExistingCorpusFiles(t *testing.T) {
	cfg := newWorkspace(t)
	// broken.json sorts first and is skipped, so capture-002 gets label 1 and
	// the next free label is 2.
	if err := os.WriteFile(filepath.Join(cfg.CorpusDir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	addPose(t, cfg, "capture-002", 0, "OLD-IMAGE")
	if err := runIndex(nil, nil); err != nil {
		t.Fatalf("runIndex: %v", err)
	}
	oldDesc := readFile(t, filepath.Join(cfg.CorpusDir, "capture-002.json"))

	src := filepath.Join(t.TempDir(), "new.png")
	if err := os.WriteFile(src, []byte("NEW-IMAGE"), 0o644); err != nil {
		t.Fatal(err)
	}
	setFlag(t, &flagCaptureSave, true)
	setFlag(t, &flagCaptureImage, src)
	if err := runCapture(nil, []string{jawVec(9).String()}); err != nil {
		t.Fatalf("runCapture: %v", err)
	}

	if got := readFile(t, filepath.Join(cfg.CorpusDir, "capture-002.png")); got != "OLD-IMAGE" {
		t.Fatalf("existing image replaced: %q", got)
	}
	if got := readFile(t, filepath.Join(cfg.CorpusDir, "capture-002.json")); got != oldDesc {
		t.Fatalf("existing descriptor replaced: %q", got)
	}
	if got := readFile(t, filepath.Join(cfg.CorpusDir, "capture-003.png")); got != "NEW-IMAGE" {
		t.Fatalf("captured image not written to a new name: %q", got)
	}

	idx, _ := loadSnapshot(t, cfg)
	first, _ := idx.Get(1)
	second, _ := idx.Get(2)
	if filepath.Base(first.Image.Path) != "capture-002.png" || filepath.Base(second.Image.Path) != "capture-003.png" {
		t.Fatalf("image refs collide: %q, %q", first.Image.Path, second.Image.Path)
	}

	// Re-indexing keeps both poses.
	if err := runIndex(nil, nil); err != nil {
		t.Fatalf("runIndex: %v", err)
	}
	if idx, _ := loadSnapshot(t, cfg); idx.Len() != 2 {
		t.Fatalf("expected 2 poses after re-index, got %d", idx.Len())
	}
}

func TestCapture_LabelConflictLeavesCorpusUntouched(t *testing.T) {
	cfg := newWorkspace(t)
	addPose(t, cfg, "a", 0, "")
	if err := runIndex(nil, nil); err != nil {
		t.Fatalf("runIndex: %v", err)
	}
	before := listDir(t, cfg.CorpusDir)

	src := filepath.Join(t.TempDir(), "new.png")
	if err := os.WriteFile(src, []byte("NEW-IMAGE"), 0o644); err != nil {
		t.Fatal(err)
	}
	setFlag(t, &flagCaptureSave, true)
	setFlag(t, &flagCaptureImage, src)
	setFlag(t, &flagCaptureLabel, 5)
	err := runCapture(nil, []string{jawVec(9).String()})
	if !errors.Is(err, pipeline.ErrLabelConflict) {
		t.Fatalf("expected ErrLabelConflict, got %v", err)
	}
	if after := listDir(t, cfg.CorpusDir); !slices.Equal(before, after) {
		t.Fatalf("failed capture left files behind: %v -> %v", before, after)
	}
	if idx, _ := loadSnapshot(t, cfg); idx.Len() != 1 {
		t.Fatalf("failed capture was persisted: %d poses", idx.Len())
	}
}

func TestFreeCaptureName_SkipsTakenBases(t *testing.T) {
	cfg := newWorkspace(t)
	for _, name := range []string{"capture-002.yaml", "CAPTURE-003.PNG", "capture-005.json"} {
		if err := os.WriteFile(filepath.Join(cfg.CorpusDir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := freeCaptureName(cfg, 2)
	if err != nil || got != "capture-004" {
		t.Fatalf("freeCaptureName = %q, %v", got, err)
	}
}

func TestDoctorFix_RebuildsMissingMatcher(t *testing.T) {
	cfg := newWorkspace(t)
	addPose(t, cfg, "a", 0, "")
	addPose(t, cfg, "b", 10, "")
	if err := runIndex(nil, nil); err != nil {
		t.Fatalf("runIndex: %v", err)
	}
	mp := filepath.Join(cfg.DataDir, matcherFile)
	if err := os.Remove(mp); err != nil {
		t.Fatal(err)
	}

	if err := runDoctorFix(nil, nil); err != nil {
		t.Fatalf("runDoctorFix: %v", err)
	}
	trained, from, err := matcher.Load(mp)
	if err != nil {
		t.Fatalf("matcher snapshot not rebuilt: %v", err)
	}
	_, m := loadSnapshot(t, cfg)
	if from.String() != m.SnapshotID || trained.Len() != 2 {
		t.Fatalf("rebuilt matcher does not match index: from %s len %d", from, trained.Len())
	}
}

func TestDoctor_HealthyWorkspacePasses(t *testing.T) {
	cfg := newWorkspace(t)
	addPose(t, cfg, "a", 0, "")
	addPose(t, cfg, "b", 10, "")
	if err := runIndex(nil, nil); err != nil {
		t.Fatalf("runIndex: %v", err)
	}
	if err := runDoctor(nil, nil); err != nil {
		t.Fatalf("runDoctor: %v", err)
	}
}

func TestDoctor_DoesNotCreateDataDir(t *testing.T) {
	cfg := newWorkspace(t)
	if err := runDoctor(nil, nil); err == nil {
		t.Fatalf("expected problems for an empty corpus")
	}
	if _, err := os.Stat(cfg.DataDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("doctor created the data dir: %v", err)
	}
}
