package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamusis/posematch/internal/config"
	"github.com/kamusis/posematch/internal/corpus"
	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/pose"
)

var (
	flagCaptureImage string
	flagCaptureX     float64
	flagCaptureY     float64
	flagCaptureScale float64
	flagCaptureLabel int
	flagCaptureSave  bool
)

var captureCmd = &cobra.Command{
	Use:   "capture <v1,...,v8>",
	Short: "Append a live sample to the index and retrain",
	Long: `Append one pose to the persisted index, retrain the matcher and persist
both snapshots. The new pose gets the next free label.

With --save the descriptor (and a copy of --image) is also written into the
corpus directory under a new capture-NNN name, so that a later
'posematch index' keeps it. Existing corpus files are never replaced.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVar(&flagCaptureImage, "image", "", "Image recorded for this pose")
	captureCmd.Flags().Float64Var(&flagCaptureX, "x", 0, "Overlay x offset")
	captureCmd.Flags().Float64Var(&flagCaptureY, "y", 0, "Overlay y offset")
	captureCmd.Flags().Float64Var(&flagCaptureScale, "scale", 1, "Overlay scale (> 0)")
	captureCmd.Flags().IntVar(&flagCaptureLabel, "label", 0, "Expected label (0 = next free label)")
	captureCmd.Flags().BoolVar(&flagCaptureSave, "save", false, "Also write the pose into the corpus directory")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(_ *cobra.Command, args []string) error {
	v, err := feature.Parse(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if flagCaptureScale <= 0 {
		return fmt.Errorf("--scale must be positive, got %v", flagCaptureScale)
	}
	tr := pose.Transform{X: flagCaptureX, Y: flagCaptureY, Scale: flagCaptureScale}

	var src string
	if flagCaptureImage != "" {
		if src, err = filepath.Abs(flagCaptureImage); err != nil {
			return err
		}
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("cannot use image: %w", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := openEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	if err := e.restore(ctx); err != nil {
		return err
	}

	img := pose.ImageRef{Path: src}
	var base string
	if flagCaptureSave {
		if base, err = freeCaptureName(cfg, e.p.Index().NextLabel()); err != nil {
			return err
		}
		if src != "" {
			img.Path = filepath.Join(cfg.CorpusDir, base+cfg.ImageExt)
			if err := copyFile(src, img.Path); err != nil {
				return err
			}
		}
	}

	label, err := e.p.AppendSample(ctx, flagCaptureLabel, v, img, tr)
	if err != nil {
		if img.Path != src {
			_ = os.Remove(img.Path)
		}
		return err
	}
	entry, _ := e.p.Index().Get(label)
	printOK(entry.Name, fmt.Sprintf("captured as label %d (%d poses)", label, e.p.Index().Len()))

	if flagCaptureSave {
		p := filepath.Join(cfg.CorpusDir, base+descriptorExt(cfg))
		if err := corpus.WriteDescriptor(p, v, tr); err != nil {
			return err
		}
		printOK("", "descriptor written: "+p)
		if src == "" && cfg.ImagesRequired() {
			printWarn(base, "saved without an image; 'posematch index' skips it while require_images is true")
		}
	}
	return nil
}

// descriptorExt is the extension captured descriptors are written with.
func descriptorExt(cfg *config.Config) string {
	if len(cfg.DescriptorExts) > 0 {
		return strings.ToLower(cfg.DescriptorExts[0])
	}
	return corpus.DefaultDescriptorExts[0]
}

// freeCaptureName returns the first capture-NNN base name, counting up from
// start, with no descriptor or image of that name in the corpus directory.
// Labels do not track file names (skipped descriptors leave no label), so the
// directory is checked rather than trusted.
func freeCaptureName(cfg *config.Config, start int) (string, error) {
	if err := os.MkdirAll(cfg.CorpusDir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create corpus dir: %w", err)
	}
	dirents, err := os.ReadDir(cfg.CorpusDir)
	if err != nil {
		return "", fmt.Errorf("cannot list %s: %w", cfg.CorpusDir, err)
	}
	taken := make(map[string]bool, len(dirents))
	for _, d := range dirents {
		name := strings.ToLower(d.Name())
		taken[strings.TrimSuffix(name, filepath.Ext(name))] = true
	}
	for n := max(start, 1); n < start+100000; n++ {
		base := fmt.Sprintf("capture-%03d", n)
		if !taken[base] {
			return base, nil
		}
	}
	return "", fmt.Errorf("no free capture name in %s", cfg.CorpusDir)
}

// copyFile copies src to dst, which must not exist yet.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("refusing to replace %s", dst)
		}
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("cannot copy %s: %w", src, err)
	}
	return out.Close()
}
