package cluster

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/segment-cli/internal/model"
)

// KSTwoSample runs a two-sample Kolmogorov-Smirnov test. It returns the
// statistic D and the asymptotic two-sided p-value.
func KSTwoSample(a, b []float64) (float64, float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, eris.New("cluster: ks test needs two non-empty samples")
	}

	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)

	d := stat.KolmogorovSmirnov(x, nil, y, nil)

	n, m := float64(len(x)), float64(len(y))
	en := math.Sqrt(n * m / (n + m))
	p := kolmogorovQ((en + 0.12 + 0.11/en) * d)
	return d, p, nil
}

// kolmogorovQ is the complementary Kolmogorov distribution
// Q(l) = 2 * sum_{j>=1} (-1)^(j-1) exp(-2 j^2 l^2).
func kolmogorovQ(lambda float64) float64 {
	const eps1, eps2 = 1e-3, 1e-8

	a2 := -2 * lambda * lambda
	fac, sum, prev := 2.0, 0.0, 0.0
	for j := 1; j <= 100; j++ {
		term := fac * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= eps1*prev || math.Abs(term) <= eps2*sum {
			return math.Max(0, math.Min(1, sum))
		}
		fac = -fac
		prev = math.Abs(term)
	}
	// Series did not converge: lambda is near 0.
	return 1
}

// CompareDistributions tests each cluster's preference scores against the
// scores of the whole feature table. Results are ordered by cluster.
func CompareDistributions(prefs []model.Preference, assignments []model.Assignment) ([]model.KSResult, error) {
	label := make(map[string]int, len(assignments))
	for _, a := range assignments {
		label[a.AccountID] = a.Cluster
	}

	overall := make([]float64, 0, len(prefs))
	samples := make(map[int][]float64)
	for _, p := range prefs {
		overall = append(overall, p.PreferenceScore)
		if c, ok := label[p.AccountID]; ok {
			samples[c] = append(samples[c], p.PreferenceScore)
		}
	}

	clusters := make([]int, 0, len(samples))
	for c := range samples {
		clusters = append(clusters, c)
	}
	sort.Ints(clusters)

	out := make([]model.KSResult, 0, len(clusters))
	for _, c := range clusters {
		d, p, err := KSTwoSample(samples[c], overall)
		if err != nil {
			return nil, eris.Wrapf(err, "cluster: compare cluster %d", c)
		}
		out = append(out, model.KSResult{Cluster: c, Statistic: d, PValue: p})
	}
	return out, nil
}
