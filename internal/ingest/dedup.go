package ingest

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/segment-cli/internal/model"
)

// DedupOrders collapses rows sharing an order id into one row carrying the
// first row's account, timestamp, method and category and the mean amount.
// Groups whose rows disagree on any of those four fields are still collapsed
// the same way and returned as conflicts.
//
// Orders that were never duplicated keep their source order; collapsed
// groups follow, sorted by order id. The input slice is not modified.
func DedupOrders(orders []model.Order) ([]model.Order, []model.DuplicateConflict) {
	groups := make(map[string][]int, len(orders))
	for i, o := range orders {
		groups[o.OrderID] = append(groups[o.OrderID], i)
	}

	out := make([]model.Order, 0, len(groups))
	var dupIDs []string
	for i, o := range orders {
		idx := groups[o.OrderID]
		if len(idx) == 1 {
			out = append(out, o)
			continue
		}
		if idx[0] == i {
			dupIDs = append(dupIDs, o.OrderID)
		}
	}
	sort.Strings(dupIDs)

	var conflicts []model.DuplicateConflict
	for _, id := range dupIDs {
		rows := make([]model.Order, len(groups[id]))
		for j, i := range groups[id] {
			rows[j] = orders[i]
		}

		collapsed := rows[0]
		collapsed.Amount = meanAmount(rows)
		out = append(out, collapsed)

		if c, ok := detectConflict(id, rows); ok {
			conflicts = append(conflicts, c)
		}
	}

	return out, conflicts
}

// meanAmount averages the non-NaN amounts; NaN if there are none.
func meanAmount(rows []model.Order) float64 {
	var sum float64
	var n int
	for _, r := range rows {
		if math.IsNaN(r.Amount) {
			continue
		}
		sum += r.Amount
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func detectConflict(orderID string, rows []model.Order) (model.DuplicateConflict, bool) {
	fields := []struct {
		col string
		get func(model.Order) string
	}{
		{model.ColAccountID, func(o model.Order) string { return o.AccountID }},
		{model.ColOrderTimestamp, func(o model.Order) string { return o.Timestamp.Format(time.RFC3339Nano) }},
		{model.ColOrderMethod, func(o model.Order) string { return o.Method }},
		{model.ColMerchantCategory, func(o model.Order) string { return o.MerchantCategory }},
	}

	values := make(map[string][]string)
	for _, f := range fields {
		distinct := distinctValues(rows, f.get)
		if len(distinct) > 1 {
			values[f.col] = distinct
		}
	}
	if len(values) == 0 {
		return model.DuplicateConflict{}, false
	}
	return model.DuplicateConflict{OrderID: orderID, Rows: len(rows), Values: values}, true
}

func distinctValues(rows []model.Order, get func(model.Order) string) []string {
	seen := make(map[string]bool, len(rows))
	var out []string
	for _, r := range rows {
		v := get(r)
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
