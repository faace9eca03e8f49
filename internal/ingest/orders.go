package ingest

import (
	"github.com/sells-group/segment-cli/internal/fetcher"
	"github.com/sells-group/segment-cli/internal/model"
)

// OrderStats counts what order cleaning kept, dropped and collapsed.
type OrderStats struct {
	Total           int `json:"total"`
	MissingCategory int `json:"missing_category"`
	MissingOrderID  int `json:"missing_order_id"`
	MissingAccount  int `json:"missing_account"`
	DuplicateIDs    int `json:"duplicate_ids"`
	CollapsedRows   int `json:"collapsed_rows"`
	Kept            int `json:"kept"`
}

var orderColumns = []string{
	model.ColOrderID,
	model.ColAccountID,
	model.ColOrderTimestamp,
	model.ColOrderMethod,
	model.ColMerchantCategory,
	model.ColOrderAmount,
}

// ParseOrders converts the order extract into typed orders. Rows with a null
// merchant category, order id or account id are dropped and counted.
// Unparseable timestamps or amounts fail the whole source.
func ParseOrders(tbl *fetcher.Table) ([]model.Order, OrderStats, error) {
	if err := tbl.Require(orderColumns...); err != nil {
		return nil, OrderStats{}, &SourceReadError{Source: tbl.Source, Err: err}
	}

	stats := OrderStats{Total: len(tbl.Rows)}
	orders := make([]model.Order, 0, len(tbl.Rows))

	for i, row := range tbl.Rows {
		line := i + 2 // 1-based, after the header

		category := tbl.Get(row, model.ColMerchantCategory)
		if isNull(category) {
			stats.MissingCategory++
			continue
		}
		orderID := tbl.Get(row, model.ColOrderID)
		if isNull(orderID) {
			stats.MissingOrderID++
			continue
		}
		accountID := CanonicalAccountID(tbl.Get(row, model.ColAccountID))
		if isNull(accountID) {
			stats.MissingAccount++
			continue
		}

		ts, err := ParseTimestamp(tbl.Get(row, model.ColOrderTimestamp))
		if err != nil {
			return nil, stats, &SourceReadError{Source: tbl.Source, Row: line, Err: err}
		}
		amount, err := ParseAmount(tbl.Get(row, model.ColOrderAmount))
		if err != nil {
			return nil, stats, &SourceReadError{Source: tbl.Source, Row: line, Err: err}
		}

		orders = append(orders, model.Order{
			OrderID:          orderID,
			AccountID:        accountID,
			Timestamp:        ts,
			Method:           tbl.Get(row, model.ColOrderMethod),
			MerchantCategory: category,
			Amount:           amount,
		})
	}

	return orders, stats, nil
}
