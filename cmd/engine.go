package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kamusis/posematch/internal/config"
	"github.com/kamusis/posematch/internal/corpus"
	"github.com/kamusis/posematch/internal/matcher"
	"github.com/kamusis/posematch/internal/pipeline"
	"github.com/kamusis/posematch/internal/snapshot"
)

// matcherFile is the matcher snapshot inside the data dir.
const matcherFile = "matcher.bin"

// engine bundles a pipeline with the snapshot store it owns.
type engine struct {
	cfg   *config.Config
	store snapshot.Store
	p     *pipeline.Pipeline
}

func openEngine(cfg *config.Config, loader *corpus.Loader) (*engine, error) {
	store, err := snapshot.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if loader == nil {
		loader = newLoader(cfg)
	}
	p := pipeline.New(pipeline.Options{
		Store:       store,
		MatcherPath: filepath.Join(cfg.DataDir, matcherFile),
		LockDir:     cfg.DataDir,
		Matcher:     matcherOptions(cfg),
		Loader:      loader,
		Logger:      logger,
	})
	return &engine{cfg: cfg, store: store, p: p}, nil
}

// restore brings the pipeline to Ready from the snapshots on disk.
func (e *engine) restore(ctx context.Context) error {
	if err := e.p.Restore(ctx); err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return fmt.Errorf("no index snapshot in %s\nRun 'posematch index' first.", e.cfg.DataDir)
		}
		return err
	}
	return nil
}

func (e *engine) Close() error {
	return e.store.Close()
}

func newLoader(cfg *config.Config) *corpus.Loader {
	return &corpus.Loader{
		DescriptorExts: cfg.DescriptorExts,
		ImageExt:       cfg.ImageExt,
		RequireImages:  cfg.ImagesRequired(),
		Logger:         logger,
	}
}

func matcherOptions(cfg *config.Config) matcher.Options {
	return matcher.Options{
		Algorithm:   matcher.Algorithm(cfg.Matcher.Algorithm),
		K:           cfg.Matcher.K,
		MaxDistance: cfg.Matcher.MaxDistance,
	}
}
