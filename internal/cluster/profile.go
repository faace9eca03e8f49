package cluster

import (
	"sort"

	"github.com/sells-group/segment-cli/internal/model"
)

// Assignments pairs each matrix row's account with its label.
func Assignments(m *Matrix, fit *Model) []model.Assignment {
	out := make([]model.Assignment, len(m.Accounts))
	for i, account := range m.Accounts {
		out[i] = model.Assignment{AccountID: account, Cluster: fit.Labels[i]}
	}
	return out
}

// Profile averages preference_score per cluster and category over the
// feature rows, then normalizes each cluster's averages to sum to 1.
// Accounts counts the distinct accounts in each cluster. Rows for accounts
// without an assignment are ignored.
func Profile(prefs []model.Preference, assignments []model.Assignment) []model.ClusterProfile {
	label := make(map[string]int, len(assignments))
	for _, a := range assignments {
		label[a.AccountID] = a.Cluster
	}

	type agg struct {
		sum   map[string]float64
		count map[string]int
		seen  map[string]bool
	}
	byCluster := make(map[int]*agg)
	for _, p := range prefs {
		c, ok := label[p.AccountID]
		if !ok {
			continue
		}
		a, ok := byCluster[c]
		if !ok {
			a = &agg{sum: map[string]float64{}, count: map[string]int{}, seen: map[string]bool{}}
			byCluster[c] = a
		}
		a.sum[p.Category] += p.PreferenceScore
		a.count[p.Category]++
		a.seen[p.AccountID] = true
	}

	clusters := make([]int, 0, len(byCluster))
	for c := range byCluster {
		clusters = append(clusters, c)
	}
	sort.Ints(clusters)

	out := make([]model.ClusterProfile, 0, len(clusters))
	for _, c := range clusters {
		a := byCluster[c]
		means := make(map[string]float64, len(a.sum))
		var total float64
		for cat, s := range a.sum {
			means[cat] = s / float64(a.count[cat])
			total += means[cat]
		}
		if total > 0 {
			for cat := range means {
				means[cat] /= total
			}
		}
		out = append(out, model.ClusterProfile{Cluster: c, Accounts: len(a.seen), Preferences: means})
	}
	return out
}
