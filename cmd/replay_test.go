package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/pipeline"
)

func TestParseFrame_Formats(t *testing.T) {
	want := feature.Vector{1, 2, 3, 4, 5, 6, 7, 8}
	obj := `{"mouthWidth":1,"mouthHeight":2,"leftEyebrowHeight":3,"rightEyebrowHeight":4,` +
		`"leftEyeOpenness":5,"rightEyeOpenness":6,"jawOpenness":7,"nostrilFlare":8,"t":0.5}`
	for _, line := range []string{
		obj,
		"[1,2,3,4,5,6,7,8]",
		"1,2,3,4,5,6,7,8",
		"1 2 3 4\t5 6 7 8",
	} {
		got, err := parseFrame(line)
		if err != nil {
			t.Fatalf("parseFrame(%q): %v", line, err)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("parseFrame(%q) = %v", line, got)
		}
	}
}

func TestParseFrame_Errors(t *testing.T) {
	if _, err := parseFrame(strings.Join(feature.Channels[:], ",")); !errors.Is(err, errHeader) {
		t.Fatalf("expected header, got %v", err)
	}
	for _, line := range []string{`{"mouthWidth":1}`, "{bad", "[1,", "1,two,3"} {
		if _, err := parseFrame(line); err == nil || errors.Is(err, errHeader) {
			t.Fatalf("parseFrame(%q): expected error, got %v", line, err)
		}
	}
}

func TestParseView(t *testing.T) {
	w, h, err := parseView("1800x900")
	if err != nil || w != 1800 || h != 900 {
		t.Fatalf("parseView = %d, %d, %v", w, h, err)
	}
	for _, s := range []string{"1800", "0x10", "ax9", "-1x5"} {
		if _, _, err := parseView(s); err == nil {
			t.Fatalf("parseView(%q): expected error", s)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	if lv, err := parseLogLevel("debug"); err != nil || lv != slog.LevelDebug {
		t.Fatalf("parseLogLevel(debug) = %v, %v", lv, err)
	}
	if lv, err := parseLogLevel(" WARN "); err != nil || lv != slog.LevelWarn {
		t.Fatalf("parseLogLevel(WARN) = %v, %v", lv, err)
	}
	if _, err := parseLogLevel("loud"); err == nil {
		t.Fatalf("expected error")
	}
}

// readyPipeline indexes two poses: "closed" (all zero) and "open" (jaw 10),
// each with a 40x20 PNG.
func readyPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	dir := t.TempDir()
	for name, jaw := range map[string]int{"a-closed": 0, "b-open": 10} {
		desc := fmt.Sprintf(`{"mouthWidth":0,"mouthHeight":0,"leftEyebrowHeight":0,"rightEyebrowHeight":0,
"leftEyeOpenness":0,"rightEyeOpenness":0,"jawOpenness":%d,"nostrilFlare":0,"posX":0,"posY":0,"scale":2}`, jaw)
		if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(desc), 0o644); err != nil {
			t.Fatal(err)
		}
		f, err := os.Create(filepath.Join(dir, name+".png"))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 40, 20))); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	p := pipeline.New(pipeline.Options{})
	if _, err := p.Initialize(context.Background(), dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func TestReplayFrames_CountsAndPrints(t *testing.T) {
	p := readyPipeline(t)
	frames := strings.Join([]string{
		"# recorded session",
		strings.Join(feature.Channels[:], ","),
		"0,0,0,0,0,0,1,0",
		"",
		"[0,0,0,0,0,0,9,0]",
		"1,2,3",
		"0,0,0,0,0,0,nan?,0",
	}, "\n")

	var out bytes.Buffer
	st, err := replayFrames(strings.NewReader(frames), p, &textPresenter{w: &out, viewW: 1800, viewH: 900})
	if err != nil {
		t.Fatalf("replayFrames: %v", err)
	}
	if st != (replayStats{frames: 4, matched: 2, unmatched: 0, rejected: 2}) {
		t.Fatalf("unexpected stats %+v", st)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 output lines, got %q", out.String())
	}
	// 40x20 at scale 2*1.125 is 90x45, centered in 1800x900.
	if lines[0] != "frame 1: label 1 (a-closed) d=1 at 855,427 90x45" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "frame 2: label 2 (b-open) d=1") {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestReplayFrames_QuietAndVerbose(t *testing.T) {
	p := pipeline.New(pipeline.Options{})
	frames := "0,0,0,0,0,0,0,0\n"

	var out bytes.Buffer
	st, err := replayFrames(strings.NewReader(frames), p, &textPresenter{w: &out, verbose: true})
	if err != nil {
		t.Fatalf("replayFrames: %v", err)
	}
	if st.unmatched != 1 || out.String() != "frame 1: no match\n" {
		t.Fatalf("untrained pipeline: stats %+v output %q", st, out.String())
	}

	out.Reset()
	if _, err := replayFrames(strings.NewReader(frames), readyPipeline(t), &textPresenter{w: &out, quiet: true}); err != nil {
		t.Fatalf("replayFrames: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("quiet presenter printed %q", out.String())
	}
}

func TestNewQueryReport(t *testing.T) {
	p := readyPipeline(t)
	res, err := p.Query(feature.Vector{0, 0, 0, 0, 0, 0, 10, 0})
	if err != nil {
		t.Fatal(err)
	}
	r := newQueryReport(res)
	if !r.Matched || r.Label != 2 || r.Name != "b-open" || r.Scale != 2 || filepath.Base(r.Image) != "b-open.png" {
		t.Fatalf("unexpected report %+v", r)
	}
	if r := newQueryReport(pipeline.QueryResult{}); r.Matched || r.Name != "" {
		t.Fatalf("unexpected empty report %+v", r)
	}
}
