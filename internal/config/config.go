package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store kinds accepted in posematch.yaml.
const (
	StoreFiles  = "files"
	StoreSQLite = "sqlite"
)

// Matcher is the matcher section of posematch.yaml.
type Matcher struct {
	Algorithm   string  `yaml:"algorithm"`
	K           int     `yaml:"k"`
	MaxDistance float64 `yaml:"max_distance,omitempty"`
}

// Config is the in-memory representation of ~/.posematch/posematch.yaml.
type Config struct {
	CorpusDir      string   `yaml:"corpus_dir"`
	DataDir        string   `yaml:"data_dir"`
	ImageExt       string   `yaml:"image_ext,omitempty"`
	DescriptorExts []string `yaml:"descriptor_exts,omitempty"`
	Store          string   `yaml:"store,omitempty"`
	RequireImages  *bool    `yaml:"require_images,omitempty"`
	Matcher        Matcher  `yaml:"matcher"`
}

// AppDir returns the absolute path to ~/.posematch/.
func AppDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".posematch"), nil
}

// ConfigPath returns the absolute path to ~/.posematch/posematch.yaml.
func ConfigPath() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "posematch.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the default Config written on first posematch init.
func DefaultConfig() (*Config, error) {
	dir, err := AppDir()
	if err != nil {
		return nil, err
	}
	requireImages := true
	return &Config{
		CorpusDir:      filepath.Join(dir, "poses"),
		DataDir:        filepath.Join(dir, "data"),
		ImageExt:       ".png",
		DescriptorExts: []string{".json", ".yaml", ".yml"},
		Store:          StoreFiles,
		RequireImages:  &requireImages,
		Matcher:        Matcher{Algorithm: "linear", K: 1},
	}, nil
}

// ImagesRequired reports whether descriptors without an image are skipped.
func (c *Config) ImagesRequired() bool {
	return c.RequireImages == nil || *c.RequireImages
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.CorpusDir == "" {
		return fmt.Errorf("corpus_dir is not set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is not set")
	}
	if c.ImageExt == "" || !strings.HasPrefix(c.ImageExt, ".") {
		return fmt.Errorf("image_ext must start with '.', got %q", c.ImageExt)
	}
	for _, ext := range c.DescriptorExts {
		switch strings.ToLower(ext) {
		case ".json", ".yaml", ".yml":
		default:
			return fmt.Errorf("unsupported descriptor extension %q", ext)
		}
	}
	switch c.Store {
	case StoreFiles, StoreSQLite:
	default:
		return fmt.Errorf("unsupported store %q (want %s or %s)", c.Store, StoreFiles, StoreSQLite)
	}
	switch c.Matcher.Algorithm {
	case "linear", "kdtree":
	default:
		return fmt.Errorf("unsupported matcher algorithm %q (want linear or kdtree)", c.Matcher.Algorithm)
	}
	if c.Matcher.K < 1 {
		return fmt.Errorf("matcher.k must be at least 1, got %d", c.Matcher.K)
	}
	if c.Matcher.MaxDistance < 0 {
		return fmt.Errorf("matcher.max_distance must be non-negative, got %v", c.Matcher.MaxDistance)
	}
	return nil
}

// Load reads ~/.posematch/posematch.yaml and applies the environment overlay.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path. Missing fields take their defaults, then
// POSEMATCH_* values from the environment or ~/.posematch/.env override them.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	// Expand ~ in paths at load time.
	if cfg.CorpusDir, err = ExpandPath(cfg.CorpusDir); err != nil {
		return nil, err
	}
	if cfg.DataDir, err = ExpandPath(cfg.DataDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	for key, dst := range map[string]*string{
		EnvCorpusDir: &c.CorpusDir,
		EnvDataDir:   &c.DataDir,
		EnvStore:     &c.Store,
		EnvMatcher:   &c.Matcher.Algorithm,
	} {
		v, err := GetConfigValue(key)
		if err != nil {
			return err
		}
		if v != "" {
			*dst = v
		}
	}
	v, err := GetConfigValue(EnvMatcherK)
	if err != nil {
		return err
	}
	if v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMatcherK, v, err)
		}
		c.Matcher.K = k
	}
	return nil
}

// Save marshals cfg and writes it to ~/.posematch/posematch.yaml.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}
