// Package cluster groups accounts by their preference vectors and scores the
// grouping: k-means, inertia and silhouette model selection, per-cluster
// profiles and a two-sample Kolmogorov-Smirnov comparison.
package cluster

import (
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/segment-cli/internal/model"
)

// Matrix is the account x category preference matrix.
type Matrix struct {
	Accounts   []string
	Categories []string
	Data       *mat.Dense
}

// Pivot builds the matrix from the feature table. Rows and columns are sorted;
// (account, category) pairs with no purchases are 0.
func Pivot(prefs []model.Preference) (*Matrix, error) {
	if len(prefs) == 0 {
		return nil, eris.New("cluster: no preference rows to pivot")
	}

	accountIdx := make(map[string]int)
	categoryIdx := make(map[string]int)
	for _, p := range prefs {
		accountIdx[p.AccountID] = 0
		categoryIdx[p.Category] = 0
	}
	accounts := sortedKeys(accountIdx)
	categories := sortedKeys(categoryIdx)
	for i, a := range accounts {
		accountIdx[a] = i
	}
	for j, c := range categories {
		categoryIdx[c] = j
	}

	data := mat.NewDense(len(accounts), len(categories), nil)
	for _, p := range prefs {
		data.Set(accountIdx[p.AccountID], categoryIdx[p.Category], p.PreferenceScore)
	}

	return &Matrix{Accounts: accounts, Categories: categories, Data: data}, nil
}

// Rows returns the number of accounts.
func (m *Matrix) Rows() int {
	r, _ := m.Data.Dims()
	return r
}

// Row returns a view of one account's preference vector. Callers must not
// modify it.
func (m *Matrix) Row(i int) []float64 {
	return m.Data.RawRowView(i)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
