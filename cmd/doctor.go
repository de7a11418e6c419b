package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/posematch/internal/config"
	"github.com/kamusis/posematch/internal/corpus"
	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/matcher"
	"github.com/kamusis/posematch/internal/pose"
	"github.com/kamusis/posematch/internal/snapshot"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run pre-flight checks on config, corpus and snapshots",
	Long: `Check that the config loads, the corpus scans cleanly, pose images decode,
and the persisted snapshots agree with each other. Snapshots are not
modified; the writer lock file is created in an existing data directory.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

var doctorFixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Rebuild a missing or stale matcher snapshot",
	Long: `Restore the index snapshot and retrain the matcher when its snapshot is
missing, unreadable, trained with other options or trained from another index
snapshot.

Run 'posematch doctor' first to see what will be fixed.`,
	Args: cobra.NoArgs,
	RunE: runDoctorFix,
}

func init() {
	doctorCmd.AddCommand(doctorFixCmd)
	rootCmd.AddCommand(doctorCmd)
}

func runDoctorFix(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printSection("posematch doctor fix")
	before := matcherStatus(cfg, "")

	e, err := openEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.restore(context.Background()); err != nil {
		return err
	}
	after := matcherStatus(cfg, e.p.SnapshotID().String())
	if before == after {
		printOK("", "matcher snapshot is current, nothing to fix")
		return nil
	}
	printOK("", fmt.Sprintf("matcher snapshot rebuilt for %d poses", e.p.Index().Len()))
	return nil
}

// matcherStatus summarizes the matcher snapshot for comparison before and
// after a fix. indexID, when set, is the index snapshot it must belong to.
func matcherStatus(cfg *config.Config, indexID string) string {
	t, from, err := matcher.Load(filepath.Join(cfg.DataDir, matcherFile))
	if err != nil {
		return "missing"
	}
	if indexID != "" && from.String() != indexID {
		return "stale"
	}
	return fmt.Sprintf("%s/%s/%d", from, t.Options().Algorithm, t.Len())
}

func runDoctor(_ *cobra.Command, _ []string) error {
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}
	ctx := context.Background()

	printSection("posematch doctor")
	fmt.Println()

	// ── Check 1: config ───────────────────────────────────────────────────────
	fmt.Println("[ posematch.yaml ]")
	cfg, err := loadConfig()
	if err != nil {
		failD("%v", err)
		fmt.Println()
		return fmt.Errorf("doctor found problems")
	}
	printOK("", fmt.Sprintf("valid: %s store, %s matcher, k=%d", cfg.Store, cfg.Matcher.Algorithm, cfg.Matcher.K))
	fmt.Println()

	// ── Check 2: corpus scans ─────────────────────────────────────────────────
	fmt.Println("[ Corpus ]")
	var scanned *corpus.Result
	res, err := newLoader(cfg).Load(ctx, cfg.CorpusDir)
	switch {
	case err != nil:
		failD("%v", err)
	case res.Index.Len() == 0:
		failD("no usable descriptors in %s", cfg.CorpusDir)
	default:
		scanned = res
		printOK("", fmt.Sprintf("%d poses in %s", res.Index.Len(), cfg.CorpusDir))
		for _, f := range res.Failures {
			printWarn(filepath.Base(f.Path), f.Err.Error())
		}
	}
	fmt.Println()

	// ── Check 3: images decode ────────────────────────────────────────────────
	fmt.Println("[ Images ]")
	if scanned == nil {
		printSkip("", "skipped (corpus not scanned)")
	} else {
		images := pose.NewImages(scanned.Index)
		var bad, none int
		for _, e := range scanned.Index.Entries() {
			if e.Image.Path == "" {
				none++
				continue
			}
			if _, err := images.Decode(e.Label); err != nil {
				printWarn(e.Name, err.Error())
				bad++
			}
		}
		switch {
		case bad > 0:
			failD("%d image(s) cannot be decoded", bad)
		case none > 0:
			printWarn("", fmt.Sprintf("%d pose(s) have no image", none))
		default:
			printOK("", "all images decode")
		}
	}
	fmt.Println()

	// ── Check 4: writer lock ──────────────────────────────────────────────────
	fmt.Println("[ Data directory ]")
	if _, err := os.Stat(cfg.DataDir); errors.Is(err, os.ErrNotExist) {
		printMiss("", fmt.Sprintf("%s does not exist yet; run 'posematch index'", cfg.DataDir))
	} else if unlock, err := snapshot.AcquireLock(cfg.DataDir, 200*time.Millisecond); err != nil {
		if errors.Is(err, snapshot.ErrLocked) {
			printWarn("", "another posematch process is writing snapshots")
		} else {
			failD("%v", err)
		}
	} else {
		unlock()
		printOK("", fmt.Sprintf("writable: %s", cfg.DataDir))
	}
	fmt.Println()

	// ── Check 5: snapshots ────────────────────────────────────────────────────
	fmt.Println("[ Snapshots ]")
	checkSnapshots(ctx, cfg, scanned, failD)
	fmt.Println()

	if !allOK {
		return fmt.Errorf("doctor found problems")
	}
	printOK("", "all checks passed")
	return nil
}

func checkSnapshots(ctx context.Context, cfg *config.Config, scanned *corpus.Result, failD func(string, ...any)) {
	// Opening a sqlite store creates the database file.
	if _, err := os.Stat(cfg.DataDir); errors.Is(err, os.ErrNotExist) {
		printMiss("", "no index snapshot; run 'posematch index'")
		return
	}
	store, err := snapshot.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		failD("%v", err)
		return
	}
	defer store.Close()

	idx, m, err := store.Load(ctx, feature.D)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			printMiss("", "no index snapshot; run 'posematch index'")
		} else {
			failD("index snapshot unusable: %v", err)
		}
		return
	}
	printOK("", fmt.Sprintf("index snapshot %s (%d poses, %s)", m.SnapshotID, idx.Len(), m.CreatedAt))
	if scanned != nil && scanned.Index.Len() != idx.Len() {
		printWarn("", fmt.Sprintf("corpus has %d poses, snapshot has %d; run 'posematch index' to refresh", scanned.Index.Len(), idx.Len()))
	}

	mp := filepath.Join(cfg.DataDir, matcherFile)
	t, from, err := matcher.Load(mp)
	switch {
	case errors.Is(err, os.ErrNotExist):
		printWarn("", "no matcher snapshot; run 'posematch doctor fix'")
	case err != nil:
		failD("matcher snapshot unusable: %v", err)
	case from.String() != m.SnapshotID:
		printWarn("", "matcher snapshot is stale; run 'posematch doctor fix'")
	case t.Options() != matcherOptions(cfg):
		printWarn("", "matcher options differ from config; run 'posematch doctor fix'")
	default:
		printOK("", fmt.Sprintf("matcher snapshot current (%s, %d samples)", t.Options().Algorithm, t.Len()))
	}
}
