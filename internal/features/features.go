// Package features turns cleaned purchase history into per-account,
// per-category preference scores combining purchase frequency with a
// recency weight scaled within each account.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/model"
)

const day = 24 * time.Hour

// DegenerateAccountError reports an account whose raw preference scores sum
// to zero, so they cannot be normalized.
type DegenerateAccountError struct {
	AccountID string
}

func (e *DegenerateAccountError) Error() string {
	return fmt.Sprintf("features: account %s has a zero preference total", e.AccountID)
}

// Options configures Build.
type Options struct {
	// SkipDegenerate drops degenerate accounts with a warning instead of
	// failing the build.
	SkipDegenerate bool
}

// Result is the feature table plus the accounts left out of it.
type Result struct {
	Preferences []model.Preference
	Accounts    int
	Skipped     []string
}

type categoryAgg struct {
	name        string
	count       int
	recencyDays int
}

// Build computes one preference row per (account, category). Rows are
// ordered by account id, then category. Each account's rows are computed
// independently of every other account.
func Build(purchases []model.Purchase, opts Options) (*Result, error) {
	byAccount := make(map[string][]model.Purchase)
	for _, p := range purchases {
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
	}

	accounts := make([]string, 0, len(byAccount))
	for id := range byAccount {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)

	res := &Result{Preferences: make([]model.Preference, 0, len(purchases))}
	for _, id := range accounts {
		rows, err := accountPreferences(id, byAccount[id])
		if err != nil {
			if !opts.SkipDegenerate {
				return nil, err
			}
			zap.L().Warn("features: skipping degenerate account", zap.String("account_id", id), zap.Error(err))
			res.Skipped = append(res.Skipped, id)
			continue
		}
		res.Preferences = append(res.Preferences, rows...)
		res.Accounts++
	}

	return res, nil
}

func accountPreferences(accountID string, purchases []model.Purchase) ([]model.Preference, error) {
	var latest time.Time
	for _, p := range purchases {
		if p.Timestamp.After(latest) {
			latest = p.Timestamp
		}
	}

	aggs := make(map[string]*categoryAgg)
	for _, p := range purchases {
		a, ok := aggs[p.Category]
		if !ok {
			a = &categoryAgg{name: p.Category}
			aggs[p.Category] = a
		}
		a.count++
		a.recencyDays += int(latest.Sub(p.Timestamp) / day)
	}

	cats := make([]*categoryAgg, 0, len(aggs))
	for _, a := range aggs {
		cats = append(cats, a)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].name < cats[j].name })

	avgRecency := make([]float64, len(cats))
	for i, a := range cats {
		avgRecency[i] = float64(a.recencyDays) / float64(a.count)
	}
	scaled := MinMax(avgRecency)

	weighted := make([]float64, len(cats))
	raw := make([]float64, len(cats))
	var total float64
	for i, a := range cats {
		weighted[i] = 1 - scaled[i]
		raw[i] = float64(a.count) * weighted[i]
		total += raw[i]
	}
	if total == 0 || math.IsNaN(total) {
		return nil, &DegenerateAccountError{AccountID: accountID}
	}

	out := make([]model.Preference, len(cats))
	for i, a := range cats {
		out[i] = model.Preference{
			AccountID:       accountID,
			Category:        a.name,
			Frequency:       a.count,
			AverageRecency:  avgRecency[i],
			WeightedRecency: Round6(weighted[i]),
			PreferenceScore: Round6(raw[i] / total),
		}
	}
	return out, nil
}
