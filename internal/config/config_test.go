package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	withHome(t)
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.ImagesRequired() || cfg.Matcher.K != 1 || cfg.Store != StoreFiles {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestSaveThenLoad(t *testing.T) {
	dir := withHome(t)
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Store = StoreSQLite
	cfg.Matcher = Matcher{Algorithm: "kdtree", K: 3, MaxDistance: 2.5}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "posematch.yaml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Store != StoreSQLite || got.Matcher != cfg.Matcher || got.CorpusDir != cfg.CorpusDir {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	dir := withHome(t)
	p := filepath.Join(dir, "posematch.yaml")
	if err := os.WriteFile(p, []byte("corpus_dir: ~/faces\nrequire_images: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(p)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	home, _ := os.UserHomeDir()
	if cfg.CorpusDir != filepath.Join(home, "faces") {
		t.Fatalf("~ not expanded: %q", cfg.CorpusDir)
	}
	if cfg.ImagesRequired() {
		t.Fatalf("require_images: false ignored")
	}
	if cfg.ImageExt != ".png" || cfg.Matcher.Algorithm != "linear" || len(cfg.DescriptorExts) != 3 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadFrom_EnvOverlay(t *testing.T) {
	dir := withHome(t)
	p := filepath.Join(dir, "posematch.yaml")
	if err := os.WriteFile(p, []byte("store: files\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvMatcher+"=kdtree\n"+EnvStore+"=files\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvStore, StoreSQLite)
	t.Setenv(EnvMatcherK, "5")

	cfg, err := LoadFrom(p)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Store != StoreSQLite || cfg.Matcher.Algorithm != "kdtree" || cfg.Matcher.K != 5 {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
}

func TestLoadFrom_RejectsInvalidValues(t *testing.T) {
	dir := withHome(t)
	cases := map[string]string{
		"store":     "store: redis\n",
		"algorithm": "matcher: {algorithm: annoy, k: 1}\n",
		"k":         "matcher: {algorithm: linear, k: 0}\n",
		"distance":  "matcher: {algorithm: linear, k: 1, max_distance: -1}\n",
		"image_ext": "image_ext: png\n",
		"yaml":      "store: [\n",
	}
	for name, body := range cases {
		p := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFrom(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFrom_BadMatcherK(t *testing.T) {
	dir := withHome(t)
	p := filepath.Join(dir, "posematch.yaml")
	if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvMatcherK, "three")
	_, err := LoadFrom(p)
	if err == nil || !strings.Contains(err.Error(), EnvMatcherK) {
		t.Fatalf("expected %s error, got %v", EnvMatcherK, err)
	}
}

func TestExpandPath(t *testing.T) {
	withHome(t)
	home, _ := os.UserHomeDir()
	if got, _ := ExpandPath("~/x"); got != filepath.Join(home, "x") {
		t.Fatalf("ExpandPath(~/x) = %q", got)
	}
	if got, _ := ExpandPath("/abs"); got != "/abs" {
		t.Fatalf("ExpandPath(/abs) = %q", got)
	}
}
