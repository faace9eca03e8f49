package cluster

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
)

// Silhouette returns the mean silhouette coefficient of a labeling, in
// [-1, 1]. It needs at least two clusters and fewer clusters than rows.
// Members of singleton clusters score 0. Runs in O(n^2) distance evaluations.
func Silhouette(m *Matrix, labels []int) (float64, error) {
	n := m.Rows()
	if len(labels) != n {
		return 0, eris.Errorf("cluster: %d labels for %d rows", len(labels), n)
	}

	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}
	if len(sizes) < 2 || len(sizes) > n-1 {
		return 0, eris.Errorf("cluster: silhouette needs 2 <= clusters <= %d, got %d", n-1, len(sizes))
	}

	var total float64
	sums := make(map[int]float64, len(sizes))
	for i := 0; i < n; i++ {
		if sizes[labels[i]] == 1 {
			continue
		}
		for l := range sums {
			delete(sums, l)
		}
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sums[labels[j]] += floats.Distance(m.Row(i), m.Row(j), 2)
		}

		a := sums[labels[i]] / float64(sizes[labels[i]]-1)
		b := math.Inf(1)
		for l, s := range sums {
			if l == labels[i] {
				continue
			}
			b = math.Min(b, s/float64(sizes[l]))
		}

		if denom := math.Max(a, b); denom > 0 {
			total += (b - a) / denom
		}
	}
	return total / float64(n), nil
}
