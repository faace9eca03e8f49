package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/segment-cli/internal/cluster"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/report"
)

var (
	sweepMinK        int
	sweepMaxK        int
	sweepPreferences string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evaluate inertia and silhouette over a range of k",
	Long: `Builds the preference table (or reads one written by "run") and fits
k-means for every k in [min-k, max-k]. Prints inertia and silhouette per k and
writes selection.json; with --charts also the elbow and silhouette curves.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applyInputFlags(cmd)
		if cmd.Flags().Changed("min-k") {
			cfg.Cluster.MinK = sweepMinK
		}
		if cmd.Flags().Changed("max-k") {
			cfg.Cluster.MaxK = sweepMaxK
		}

		p, cleanup, err := newPipeline(ctx, false)
		if err != nil {
			return err
		}
		defer cleanup()

		var prefs []model.Preference
		if sweepPreferences != "" {
			prefs, err = readPreferences(sweepPreferences)
			if err != nil {
				return err
			}
		} else {
			if err := cfg.Validate("sweep"); err != nil {
				return err
			}
			prep, err := p.Prepare(ctx, cfg.Input.CustomersPath, cfg.Input.OrdersPath)
			if err != nil {
				return eris.Wrap(err, "sweep")
			}
			prefs = prep.Features.Preferences
		}

		sels, files, err := p.SweepReport(ctx, prefs)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}

		formatSelections(os.Stdout, sels)
		for _, f := range files {
			fmt.Fprintln(os.Stdout, f)
		}
		return nil
	},
}

func init() {
	addInputFlags(sweepCmd)
	sweepCmd.Flags().IntVar(&sweepMinK, "min-k", 1, "smallest k; overrides cluster.min_k")
	sweepCmd.Flags().IntVar(&sweepMaxK, "max-k", 10, "largest k; overrides cluster.max_k")
	sweepCmd.Flags().Bool("charts", false, "render elbow and silhouette charts")
	sweepCmd.Flags().StringVar(&sweepPreferences, "preferences", "", "read a preferences.csv instead of the extracts")
	rootCmd.AddCommand(sweepCmd)
}

func readPreferences(path string) ([]model.Preference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return report.ReadPreferences(f)
}

// formatSelections writes one line per k and marks the best silhouette.
func formatSelections(out io.Writer, sels []model.Selection) {
	best := cluster.BestSilhouette(sels)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "K\tINERTIA\tSILHOUETTE\t")
	for _, s := range sels {
		sil := "-"
		if !math.IsNaN(s.Silhouette) {
			sil = fmt.Sprintf("%.4f", s.Silhouette)
		}
		mark := ""
		if s.K == best {
			mark = "*"
		}
		_, _ = fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", s.K, s.Inertia, sil, mark)
	}
	_ = w.Flush()
}
