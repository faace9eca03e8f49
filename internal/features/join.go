package features

import (
	"github.com/sells-group/segment-cli/internal/model"
)

// JoinStats counts how the order table matched the customer table.
type JoinStats struct {
	Orders            int `json:"orders"`
	Joined            int `json:"joined"`
	UnmatchedOrders   int `json:"unmatched_orders"`
	UnmatchedAccounts int `json:"unmatched_accounts"`
}

// Join inner-joins orders to customers on account id and projects each
// matched order to a Purchase. Orders without a remapped category fall back
// to their merchant category.
func Join(customers []model.Customer, orders []model.Order) ([]model.Purchase, JoinStats) {
	known := make(map[string]bool, len(customers))
	for _, c := range customers {
		known[c.AccountID] = true
	}

	stats := JoinStats{Orders: len(orders)}
	missing := make(map[string]bool)
	purchases := make([]model.Purchase, 0, len(orders))
	for _, o := range orders {
		if !known[o.AccountID] {
			stats.UnmatchedOrders++
			missing[o.AccountID] = true
			continue
		}
		category := o.Category
		if category == "" {
			category = o.MerchantCategory
		}
		purchases = append(purchases, model.Purchase{
			AccountID: o.AccountID,
			Category:  category,
			Timestamp: o.Timestamp,
		})
	}

	stats.Joined = len(purchases)
	stats.UnmatchedAccounts = len(missing)
	return purchases, stats
}
