package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean the extracts without scoring or clustering",
	Long:  "Runs ingestion and category remapping only, then writes cleaned_orders.csv and anomalies.json to the output directory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applyInputFlags(cmd)
		if err := cfg.Validate("clean"); err != nil {
			return err
		}

		p, cleanup, err := newPipeline(ctx, false)
		if err != nil {
			return err
		}
		defer cleanup()

		prep, files, err := p.Clean(ctx, cfg.Input.CustomersPath, cfg.Input.OrdersPath)
		if err != nil {
			return eris.Wrap(err, "clean")
		}

		rep := prep.Ingest.Report
		fmt.Fprintf(os.Stdout, "customers kept %d of %d, orders kept %d of %d, %d duplicate conflicts\n",
			rep.Customers.Kept, rep.Customers.Total, rep.Orders.Kept, rep.Orders.Total, len(rep.Conflicts))
		if len(prep.Unmatched) > 0 {
			fmt.Fprintf(os.Stdout, "merchant categories without a taxonomy entry: %v\n", prep.Unmatched)
		}
		for _, f := range files {
			fmt.Fprintln(os.Stdout, f)
		}
		return nil
	},
}

func init() {
	addInputFlags(cleanCmd)
	rootCmd.AddCommand(cleanCmd)
}
