package segment

import (
	"io"

	"github.com/sells-group/segment-cli/internal/cluster"
	"github.com/sells-group/segment-cli/internal/model"
)

// Clusterer fits a clustering of the pivoted feature matrix.
type Clusterer interface {
	Fit(m *cluster.Matrix) (*cluster.Model, error)
}

// Validator scores a label assignment over the matrix.
type Validator interface {
	Silhouette(m *cluster.Matrix, labels []int) (float64, error)
}

// Comparer tests each cluster's preference distribution against the whole
// population.
type Comparer interface {
	Compare(prefs []model.Preference, assignments []model.Assignment) ([]model.KSResult, error)
}

// ChartRenderer draws the run's charts.
type ChartRenderer interface {
	ClusterCounts(w io.Writer, profiles []model.ClusterProfile) error
	ClusterPreferences(w io.Writer, profiles []model.ClusterProfile) error
	Curve(w io.Writer, title, ylabel string, sels []model.Selection, value func(model.Selection) float64) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(m *cluster.Matrix, labels []int) (float64, error)

func (f ValidatorFunc) Silhouette(m *cluster.Matrix, labels []int) (float64, error) {
	return f(m, labels)
}

// ComparerFunc adapts a function to Comparer.
type ComparerFunc func(prefs []model.Preference, assignments []model.Assignment) ([]model.KSResult, error)

func (f ComparerFunc) Compare(prefs []model.Preference, assignments []model.Assignment) ([]model.KSResult, error) {
	return f(prefs, assignments)
}
