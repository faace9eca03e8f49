// Package ingest loads the customer and order extracts and cleans them into
// join-ready tables: null drops, duplicate order collapsing, key and
// timestamp normalization.
package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/fetcher"
	"github.com/sells-group/segment-cli/internal/model"
)

// Options configures ingestion.
type Options struct {
	RequiredCustomerFields []string
	StrictDuplicates       bool
	Encoding               string
	CustomerSheet          string
	OrderSheet             string
}

// Report summarizes data-quality handling for one ingestion.
type Report struct {
	Customers CustomerStats             `json:"customers"`
	Orders    OrderStats                `json:"orders"`
	Conflicts []model.DuplicateConflict `json:"conflicts,omitempty"`
}

// Result holds the cleaned tables.
type Result struct {
	Customers []model.Customer
	Orders    []model.Order
	Report    Report
}

// Load reads both extracts and cleans them. Any read failure is returned as a
// *SourceReadError and no partial result is produced.
func Load(ctx context.Context, customersPath, ordersPath string, opts Options) (*Result, error) {
	customers, err := fetcher.ReadTable(ctx, customersPath, fetcher.TableOptions{
		Encoding:  opts.Encoding,
		SheetName: opts.CustomerSheet,
	})
	if err != nil {
		return nil, &SourceReadError{Source: customersPath, Err: err}
	}

	orders, err := fetcher.ReadTable(ctx, ordersPath, fetcher.TableOptions{
		Encoding:  opts.Encoding,
		SheetName: opts.OrderSheet,
	})
	if err != nil {
		return nil, &SourceReadError{Source: ordersPath, Err: err}
	}

	return Clean(customers, orders, opts)
}

// Clean applies customer cleaning, order cleaning and duplicate resolution to
// already-loaded tables.
func Clean(customers, orders *fetcher.Table, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("customers", customers.Source), zap.String("orders", orders.Source))

	cleanCustomers, cstats, err := CleanCustomers(customers, opts.RequiredCustomerFields)
	if err != nil {
		return nil, err
	}
	log.Info("ingest: customers cleaned",
		zap.Int("total", cstats.Total),
		zap.Int("missing_account", cstats.MissingAccount),
		zap.Int("missing_required", cstats.MissingRequired),
		zap.Int("duplicates", cstats.Duplicates),
		zap.Int("kept", cstats.Kept),
	)

	parsed, ostats, err := ParseOrders(orders)
	if err != nil {
		return nil, err
	}

	deduped, conflicts := DedupOrders(parsed)
	ostats.Kept = len(deduped)
	ostats.CollapsedRows = len(parsed) - len(deduped)
	ostats.DuplicateIDs = countDuplicateIDs(parsed)

	log.Info("ingest: orders cleaned",
		zap.Int("total", ostats.Total),
		zap.Int("missing_category", ostats.MissingCategory),
		zap.Int("missing_order_id", ostats.MissingOrderID),
		zap.Int("missing_account", ostats.MissingAccount),
		zap.Int("duplicate_ids", ostats.DuplicateIDs),
		zap.Int("collapsed_rows", ostats.CollapsedRows),
		zap.Int("kept", ostats.Kept),
	)

	if len(conflicts) > 0 {
		if opts.StrictDuplicates {
			return nil, &InconsistentDuplicateError{Conflicts: conflicts}
		}
		for _, c := range conflicts {
			log.Warn("ingest: inconsistent duplicate order collapsed using first row",
				zap.String("order_id", c.OrderID),
				zap.Int("rows", c.Rows),
				zap.Any("values", c.Values),
			)
		}
	}

	return &Result{
		Customers: cleanCustomers,
		Orders:    deduped,
		Report: Report{
			Customers: cstats,
			Orders:    ostats,
			Conflicts: conflicts,
		},
	}, nil
}

func countDuplicateIDs(orders []model.Order) int {
	counts := make(map[string]int, len(orders))
	for _, o := range orders {
		counts[o.OrderID]++
	}
	n := 0
	for _, c := range counts {
		if c > 1 {
			n++
		}
	}
	return n
}
