package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamusis/posematch/internal/feature"
	"github.com/kamusis/posematch/internal/pipeline"
)

var flagQueryJSON bool

var queryCmd = &cobra.Command{
	Use:   "query <v1,...,v8>",
	Short: "Find the recorded pose closest to one feature vector",
	Long: `Restore the index and matcher snapshots and answer one query.

Values are given in channel order (see 'posematch version'), separated by
commas or spaces.

Example:
  posematch query 42,1.5,7.1,7.2,2.5,2.6,21,0.3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&flagQueryJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(_ *cobra.Command, args []string) error {
	v, err := feature.Parse(strings.Join(args, " "))
	if err != nil {
		return err
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

	res, err := e.p.Query(v)
	if err != nil {
		return err
	}
	if flagQueryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(newQueryReport(res))
	}
	if !res.Matched {
		printMiss("", fmt.Sprintf("no confident match (nearest distance %.4g)", res.Distance))
		return nil
	}
	printOK(res.Entry.Name, fmt.Sprintf("label %d, distance %.4g", res.Label, res.Distance))
	if res.Entry.Image.Path != "" {
		printInfo("", "image: "+res.Entry.Image.Path)
	}
	tr := res.Entry.Transform
	printInfo("", fmt.Sprintf("transform: x=%g y=%g scale=%g", tr.X, tr.Y, tr.Scale))
	return nil
}

// queryReport is the --json form of a query result.
type queryReport struct {
	Matched  bool    `json:"matched"`
	Label    int     `json:"label,omitempty"`
	Name     string  `json:"name,omitempty"`
	Image    string  `json:"image,omitempty"`
	PosX     float64 `json:"pos_x,omitempty"`
	PosY     float64 `json:"pos_y,omitempty"`
	Scale    float64 `json:"scale,omitempty"`
	Distance float64 `json:"distance"`
}

func newQueryReport(res pipeline.QueryResult) queryReport {
	r := queryReport{Matched: res.Matched, Label: res.Label, Distance: res.Distance}
	if res.Entry != nil {
		r.Name = res.Entry.Name
		r.Image = res.Entry.Image.Path
		r.PosX = res.Entry.Transform.X
		r.PosY = res.Entry.Transform.Y
		r.Scale = res.Entry.Transform.Scale
	}
	return r
}
