package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/kamusis/posematch/internal/config"
	"github.com/kamusis/posematch/internal/corpus"
)

var flagIndexNoProgress bool

var indexCmd = &cobra.Command{
	Use:   "index [corpus-dir]",
	Short: "Scan the corpus, train the matcher and write snapshots",
	Long: `Scan the corpus directory (corpus_dir from posematch.yaml unless given),
skip descriptors that fail to parse, persist the pose index, train the matcher
and persist it next to the index.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagIndexNoProgress, "no-progress", false, "Do not draw a progress bar")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	corpusDir := cfg.CorpusDir
	if len(args) == 1 {
		if corpusDir, err = config.ExpandPath(args[0]); err != nil {
			return err
		}
	}

	loader := newLoader(cfg)
	var bar *pb.ProgressBar
	if !flagIndexNoProgress {
		loader.OnProgress = func(done, total int) {
			if bar == nil {
				bar = pb.New(total).SetWriter(os.Stderr).Start()
			}
			bar.SetCurrent(int64(done))
		}
	}

	e, err := openEngine(cfg, loader)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := e.p.Initialize(ctx, corpusDir)
	if bar != nil {
		bar.Finish()
	}
	if res != nil {
		printIngestReport(res)
	}
	if err != nil {
		return fmt.Errorf("indexing %s failed: %w", corpusDir, err)
	}

	printOK("", fmt.Sprintf("Indexed %d poses from %s", e.p.Index().Len(), corpusDir))
	printInfo("", fmt.Sprintf("snapshot %s (%s store, %s matcher, k=%d)",
		e.p.SnapshotID(), cfg.Store, cfg.Matcher.Algorithm, cfg.Matcher.K))
	return nil
}

func printIngestReport(res *corpus.Result) {
	if len(res.Failures) == 0 {
		return
	}
	printBullet(fmt.Sprintf("Skipped descriptors (%d):", res.Skipped))
	for _, f := range res.Failures {
		printWarn(filepath.Base(f.Path), f.Err.Error())
	}
	fmt.Println()
}
