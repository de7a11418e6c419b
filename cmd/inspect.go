package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/matcher"
	"github.com/kamusis/posematch/internal/snapshot"
)

var flagInspectLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the persisted index and matcher snapshots",
	Long: `Display the index snapshot manifest, whether the matcher snapshot matches
it, and the recorded poses.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().IntVar(&flagInspectLimit, "limit", 50, "Maximum number of poses to list (0 = all)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := snapshot.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	idx, m, err := store.Load(context.Background(), feature.D)
	if err != nil {
		return err
	}

	printSection("Index snapshot")
	fmt.Printf("  Store:      %s (%s)\n", cfg.Store, cfg.DataDir)
	fmt.Printf("  Snapshot:   %s\n", m.SnapshotID)
	fmt.Printf("  Created:    %s\n", m.CreatedAt)
	fmt.Printf("  Version:    %d\n", m.IndexVersion)
	fmt.Printf("  Dimension:  %d\n", m.Dim)
	fmt.Printf("  Poses:      %d\n", m.Count)

	printSection("Matcher snapshot")
	mp := filepath.Join(cfg.DataDir, matcherFile)
	trained, trainedFrom, err := matcher.Load(mp)
	switch {
	case err != nil:
		printMiss("", fmt.Sprintf("unavailable: %v", err))
	case trainedFrom.String() != m.SnapshotID:
		printWarn("", fmt.Sprintf("stale: trained from %s; next restore retrains", trainedFrom))
	default:
		o := trained.Options()
		printOK("", fmt.Sprintf("%s, k=%d, %d samples", o.Algorithm, o.K, trained.Len()))
		if o.MaxDistance > 0 {
			printInfo("", fmt.Sprintf("max distance %g", o.MaxDistance))
		}
	}

	printSection("Poses")
	if idx.Len() == 0 {
		printSkip("", "index is empty")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  LABEL\tNAME\tIMAGE\tX\tY\tSCALE\tFEATURES")
	for i, e := range idx.Entries() {
		if flagInspectLimit > 0 && i == flagInspectLimit {
			break
		}
		img := "-"
		if e.Image.Path != "" {
			img = filepath.Base(e.Image.Path)
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%g\t%g\t%g\t%s\n", e.Label, e.Name, img, e.Transform.X, e.Transform.Y, e.Transform.Scale, e.Features)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if flagInspectLimit > 0 && idx.Len() > flagInspectLimit {
		printInfo("", fmt.Sprintf("%d more not shown (use --limit 0)", idx.Len()-flagInspectLimit))
	}
	return nil
}
