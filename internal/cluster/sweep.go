package cluster

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/segment-cli/internal/model"
)

// Sweep fits km for every k in [minK, maxK] and reports inertia (elbow
// method) and silhouette per k. Values of k are fitted concurrently, at most
// concurrency at a time; results are ordered by k. Silhouette is NaN where
// it is undefined (k < 2 or k >= rows).
func Sweep(ctx context.Context, m *Matrix, minK, maxK int, km KMeans, concurrency int) ([]model.Selection, error) {
	if minK < 1 || maxK < minK {
		return nil, eris.Errorf("cluster: invalid sweep range [%d, %d]", minK, maxK)
	}
	if maxK > m.Rows() {
		maxK = m.Rows()
		if maxK < minK {
			return nil, eris.Errorf("cluster: sweep needs at least %d accounts, have %d", minK, m.Rows())
		}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]model.Selection, maxK-minK+1)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for k := minK; k <= maxK; k++ {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return eris.Wrap(err, "cluster: sweep cancelled")
			}

			cfg := km
			cfg.K = k
			fit, err := cfg.Fit(m)
			if err != nil {
				return eris.Wrapf(err, "cluster: sweep k=%d", k)
			}

			sel := model.Selection{K: k, Inertia: fit.Inertia, Silhouette: math.NaN()}
			if k >= 2 && k < m.Rows() {
				s, err := Silhouette(m, fit.Labels)
				if err != nil {
					// Fewer distinct labels than k, e.g. duplicate rows.
					zap.L().Debug("cluster: silhouette undefined", zap.Int("k", k), zap.Error(err))
				} else {
					sel.Silhouette = s
				}
			}
			results[k-minK] = sel
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BestSilhouette returns the k with the highest defined silhouette, or 0 if
// none is defined.
func BestSilhouette(sels []model.Selection) int {
	best, bestScore := 0, math.Inf(-1)
	for _, s := range sels {
		if math.IsNaN(s.Silhouette) {
			continue
		}
		if s.Silhouette > bestScore {
			best, bestScore = s.K, s.Silhouette
		}
	}
	return best
}
