package main

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/segment"
	"github.com/sells-group/segment-cli/internal/store"
	"github.com/sells-group/segment-cli/internal/taxonomy"
)

// addInputFlags registers the flags shared by every command that reads the
// extracts.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("customers", "", "customer extract (.csv, .tsv or .xlsx); overrides input.customers_path")
	cmd.Flags().String("orders", "", "order extract (.csv, .tsv or .xlsx); overrides input.orders_path")
	cmd.Flags().String("taxonomy", "", "YAML merchant category remap; overrides taxonomy.path")
	cmd.Flags().String("out-dir", "", "output directory; overrides output.dir")
	cmd.Flags().Bool("strict-duplicates", false, "fail on inconsistent duplicate order ids")
}

// applyInputFlags copies explicitly set flags onto the loaded config.
func applyInputFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("customers") {
		cfg.Input.CustomersPath, _ = cmd.Flags().GetString("customers")
	}
	if cmd.Flags().Changed("orders") {
		cfg.Input.OrdersPath, _ = cmd.Flags().GetString("orders")
	}
	if cmd.Flags().Changed("taxonomy") {
		cfg.Taxonomy.Path, _ = cmd.Flags().GetString("taxonomy")
	}
	if cmd.Flags().Changed("out-dir") {
		cfg.Output.Dir, _ = cmd.Flags().GetString("out-dir")
		cfg.Chart.Dir = filepath.Join(cfg.Output.Dir, "charts")
	}
	if cmd.Flags().Changed("strict-duplicates") {
		cfg.Clean.StrictDuplicates, _ = cmd.Flags().GetBool("strict-duplicates")
	}
	if cmd.Flags().Lookup("charts") != nil && cmd.Flags().Changed("charts") {
		cfg.Chart.Enabled, _ = cmd.Flags().GetBool("charts")
	}
}

// initStore opens the configured store. It returns nil when persistence is
// disabled.
func initStore(ctx context.Context) (store.Store, error) {
	if !cfg.StoreEnabled() {
		return nil, nil
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

func initTaxonomy() (*taxonomy.Taxonomy, error) {
	if cfg.Taxonomy.Path == "" {
		return taxonomy.Identity(), nil
	}
	tax, err := taxonomy.Load(cfg.Taxonomy.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load taxonomy")
	}
	return tax, nil
}

func initCharts() (segment.ChartRenderer, error) {
	if !cfg.Chart.Enabled {
		return nil, nil
	}
	r, err := segment.NewChartRenderer(cfg.Chart)
	if err != nil {
		return nil, eris.Wrap(err, "init charts")
	}
	return r, nil
}

// newPipeline wires a pipeline from the loaded config. The returned cleanup
// closes the store.
func newPipeline(ctx context.Context, withStore bool) (*segment.Pipeline, func(), error) {
	tax, err := initTaxonomy()
	if err != nil {
		return nil, nil, err
	}
	charts, err := initCharts()
	if err != nil {
		return nil, nil, err
	}

	var st store.Store
	cleanup := func() {}
	if withStore {
		st, err = initStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		if st != nil {
			cleanup = func() {
				if err := st.Close(); err != nil {
					zap.L().Warn("close store", zap.Error(err))
				}
			}
		}
	}
	return segment.New(cfg, st, tax, charts), cleanup, nil
}
