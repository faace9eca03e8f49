package cluster

import (
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// KMeans configures Lloyd's algorithm with k-means++ seeding.
type KMeans struct {
	K       int
	Seed    int64
	NInit   int     // restarts; the lowest-inertia fit wins. Default 10.
	MaxIter int     // default 300
	Tol     float64 // relative to mean feature variance. Default 1e-4.
}

// Model is a fitted clustering.
type Model struct {
	K          int
	Labels     []int
	Centroids  *mat.Dense
	Inertia    float64
	Iterations int
}

// Fit clusters the matrix rows. The same seed and input always produce the
// same model.
func (km KMeans) Fit(m *Matrix) (*Model, error) {
	n := m.Rows()
	if km.K < 1 {
		return nil, eris.Errorf("cluster: k must be >= 1, got %d", km.K)
	}
	if km.K > n {
		return nil, eris.Errorf("cluster: k=%d exceeds %d accounts", km.K, n)
	}

	nInit := km.NInit
	if nInit <= 0 {
		nInit = 10
	}
	maxIter := km.MaxIter
	if maxIter <= 0 {
		maxIter = 300
	}
	tol := km.Tol
	if tol <= 0 {
		tol = 1e-4
	}
	tol *= meanVariance(m.Data)

	rng := rand.New(rand.NewSource(km.Seed))

	var best *Model
	for run := 0; run < nInit; run++ {
		fit := lloyd(m, seedPlusPlus(m, km.K, rng), maxIter, tol)
		if best == nil || fit.Inertia < best.Inertia {
			best = fit
		}
	}
	return best, nil
}

// seedPlusPlus picks k initial centroids, each subsequent one sampled with
// probability proportional to its squared distance from the nearest chosen
// centroid.
func seedPlusPlus(m *Matrix, k int, rng *rand.Rand) *mat.Dense {
	n, d := m.Data.Dims()
	centroids := mat.NewDense(k, d, nil)
	centroids.SetRow(0, m.Row(rng.Intn(n)))

	dist := make([]float64, n)
	for i := range dist {
		dist[i] = sqDist(m.Row(i), centroids.RawRowView(0))
	}

	for c := 1; c < k; c++ {
		total := floats.Sum(dist)
		next := rng.Intn(n)
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i, v := range dist {
				acc += v
				if acc >= target && v > 0 {
					next = i
					break
				}
			}
		}
		centroids.SetRow(c, m.Row(next))
		for i := range dist {
			dist[i] = math.Min(dist[i], sqDist(m.Row(i), centroids.RawRowView(c)))
		}
	}
	return centroids
}

func lloyd(m *Matrix, centroids *mat.Dense, maxIter int, tol float64) *Model {
	n, d := m.Data.Dims()
	k, _ := centroids.Dims()
	labels := make([]int, n)

	iter := 0
	for iter < maxIter {
		iter++
		assign(m, centroids, labels)

		next := mat.NewDense(k, d, nil)
		counts := make([]int, k)
		for i, l := range labels {
			floats.Add(next.RawRowView(l), m.Row(i))
			counts[l]++
		}
		var reseeded map[int]bool
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Re-seed an empty cluster at the point farthest from its
				// centroid, skipping points already taken this iteration.
				if reseeded == nil {
					reseeded = make(map[int]bool)
				}
				far := farthestPoint(m, centroids, labels, reseeded)
				reseeded[far] = true
				next.SetRow(c, m.Row(far))
				continue
			}
			floats.Scale(1/float64(counts[c]), next.RawRowView(c))
		}

		var shift float64
		for c := 0; c < k; c++ {
			shift += sqDist(centroids.RawRowView(c), next.RawRowView(c))
		}
		centroids = next
		if shift <= tol {
			break
		}
	}

	inertia := assign(m, centroids, labels)
	return &Model{K: k, Labels: labels, Centroids: centroids, Inertia: inertia, Iterations: iter}
}

// assign labels each row with its nearest centroid and returns the inertia.
func assign(m *Matrix, centroids *mat.Dense, labels []int) float64 {
	k, _ := centroids.Dims()
	var inertia float64
	for i := range labels {
		best, bestDist := 0, math.Inf(1)
		for c := 0; c < k; c++ {
			if dd := sqDist(m.Row(i), centroids.RawRowView(c)); dd < bestDist {
				best, bestDist = c, dd
			}
		}
		labels[i] = best
		inertia += bestDist
	}
	return inertia
}

func farthestPoint(m *Matrix, centroids *mat.Dense, labels []int, skip map[int]bool) int {
	far, farDist := 0, -1.0
	for i, l := range labels {
		if skip[i] {
			continue
		}
		if dd := sqDist(m.Row(i), centroids.RawRowView(l)); dd > farDist {
			far, farDist = i, dd
		}
	}
	return far
}

func sqDist(a, b []float64) float64 {
	dd := floats.Distance(a, b, 2)
	return dd * dd
}

func meanVariance(data *mat.Dense) float64 {
	_, d := data.Dims()
	if d == 0 {
		return 0
	}
	var sum float64
	for j := 0; j < d; j++ {
		sum += stat.PopVariance(mat.Col(nil, j, data), nil)
	}
	return sum / float64(d)
}
