package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/pipeline"
	"github.com/kamusis/posematch/internal/pose"
)

var (
	flagReplayVerbose     bool
	flagReplayInteractive bool
	flagReplayView        string
)

var replayCmd = &cobra.Command{
	Use:   "replay [file|-]",
	Short: "Run the per-frame query loop over recorded feature frames",
	Long: `Read one feature frame per line and print the matched pose for each.

A frame is a JSON object keyed by channel name, a JSON array, or comma or
space separated values. Blank lines and lines starting with # are ignored.
Reads stdin when no file (or -) is given.

With --view WxH each match also reports where the pose image is drawn in a
view of that size.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&flagReplayVerbose, "verbose", false, "Also print frames without a match")
	replayCmd.Flags().BoolVar(&flagReplayInteractive, "interactive", true, "Print per-frame results (false prints only the summary)")
	replayCmd.Flags().StringVar(&flagReplayView, "view", "", "View size WxH used to place matched images, e.g. 1800x900")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(_ *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("cannot open frames: %w", err)
		}
		defer f.Close()
		in = f
	}
	pr := &textPresenter{w: os.Stdout, verbose: flagReplayVerbose, quiet: !flagReplayInteractive}
	if flagReplayView != "" {
		w, h, err := parseView(flagReplayView)
		if err != nil {
			return err
		}
		pr.viewW, pr.viewH = w, h
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
	if err := e.restore(context.Background()); err != nil {
		return err
	}

	stats, err := replayFrames(in, e.p, pr)
	if err != nil {
		return err
	}
	printOK("", fmt.Sprintf("%d frames: %d matched, %d unmatched, %d rejected",
		stats.frames, stats.matched, stats.unmatched, stats.rejected))
	return nil
}

type replayStats struct {
	frames, matched, unmatched, rejected int
}

// replayFrames queries p once per frame read from r. Bad frames are reported
// and skipped; only read errors stop the loop.
func replayFrames(r io.Reader, p *pipeline.Pipeline, pr *textPresenter) (replayStats, error) {
	var st replayStats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := parseFrame(text)
		if errors.Is(err, errHeader) {
			continue
		}
		st.frames++
		if err != nil {
			st.rejected++
			printWarn(fmt.Sprintf("line %d", line), err.Error())
			continue
		}
		res, err := p.Query(v)
		if err != nil {
			st.rejected++
			printWarn(fmt.Sprintf("line %d", line), err.Error())
			continue
		}
		if res.Matched {
			st.matched++
		} else {
			st.unmatched++
		}
		pr.show(st.frames, res, p.Images())
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("cannot read frames: %w", err)
	}
	return st, nil
}

// errHeader marks a CSV header line naming the channels.
var errHeader = errors.New("header line")

// parseFrame decodes one frame line.
func parseFrame(s string) (feature.Vector, error) {
	switch s[0] {
	case '{':
		var m map[string]float64
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("invalid JSON frame: %w", err)
		}
		v := make(feature.Vector, feature.D)
		for i, ch := range feature.Channels {
			x, ok := m[ch]
			if !ok {
				return nil, fmt.Errorf("frame is missing channel %s", ch)
			}
			v[i] = x
		}
		return v, nil
	case '[':
		var v feature.Vector
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("invalid JSON frame: %w", err)
		}
		return v, nil
	}
	if strings.HasPrefix(s, feature.Channels[0]) {
		return nil, errHeader
	}
	return feature.Parse(s)
}

// parseView parses "WxH".
func parseView(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid view %q (want WxH)", s)
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(ws))
	h, err2 := strconv.Atoi(strings.TrimSpace(hs))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid view %q (want positive WxH)", s)
	}
	return w, h, nil
}

// textPresenter prints one line per frame.
type textPresenter struct {
	w       io.Writer
	verbose bool
	quiet   bool
	viewW   int
	viewH   int
}

func (t *textPresenter) show(n int, res pipeline.QueryResult, images *pose.Images) {
	if t.quiet {
		return
	}
	if !res.Matched {
		if t.verbose {
			fmt.Fprintf(t.w, "frame %d: no match\n", n)
		}
		return
	}
	fmt.Fprintf(t.w, "frame %d: label %d (%s) d=%.4g", n, res.Label, res.Entry.Name, res.Distance)
	if t.viewW > 0 && images != nil {
		if img, err := images.Decode(res.Label); err == nil {
			b := img.Bounds()
			r := res.Entry.Transform.Placement(b.Dx(), b.Dy(), t.viewW, t.viewH)
			fmt.Fprintf(t.w, " at %d,%d %dx%d", r.X, r.Y, r.W, r.H)
		} else {
			logger.Debug("cannot place image", "label", res.Label, "err", err)
		}
	}
	fmt.Fprintln(t.w)
}
