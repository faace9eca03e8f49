// Package segment composes the ingestion, feature, clustering and reporting
// stages into batch runs.
package segment

import (
	"context"
	"io"
	"math"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/chart"
	"github.com/sells-group/segment-cli/internal/cluster"
	"github.com/sells-group/segment-cli/internal/config"
	"github.com/sells-group/segment-cli/internal/features"
	"github.com/sells-group/segment-cli/internal/ingest"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/report"
	"github.com/sells-group/segment-cli/internal/store"
	"github.com/sells-group/segment-cli/internal/taxonomy"
)

// Output file names.
const (
	FileCleanOrders        = "cleaned_orders.csv"
	FileAnomalies          = "anomalies.json"
	FilePreferences        = "preferences.csv"
	FileAssignments        = "assignments.csv"
	FileSummary            = "summary.json"
	FileSelection          = "selection.json"
	ChartClusterCounts     = "cluster_counts.png"
	ChartClusterPreference = "cluster_preferences.png"
	ChartElbow             = "elbow.png"
	ChartSilhouette        = "silhouette.png"
)

// Pipeline runs segmentation over one pair of extracts.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	taxonomy  *taxonomy.Taxonomy
	charts    ChartRenderer
	kmeans    cluster.KMeans
	clusterer Clusterer
	validator Validator
	comparer  Comparer
}

// New creates a Pipeline. st and charts may be nil to disable persistence
// and chart rendering; a nil taxonomy keeps merchant categories.
func New(cfg *config.Config, st store.Store, tax *taxonomy.Taxonomy, charts ChartRenderer) *Pipeline {
	if tax == nil {
		tax = taxonomy.Identity()
	}
	km := cluster.KMeans{
		K:       cfg.Cluster.K,
		Seed:    cfg.Cluster.Seed,
		NInit:   cfg.Cluster.NInit,
		MaxIter: cfg.Cluster.MaxIter,
		Tol:     cfg.Cluster.Tol,
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		taxonomy:  tax,
		charts:    charts,
		kmeans:    km,
		clusterer: km,
		validator: ValidatorFunc(cluster.Silhouette),
		comparer:  ComparerFunc(cluster.CompareDistributions),
	}
}

// NewChartRenderer builds the default renderer from chart settings.
func NewChartRenderer(cfg config.ChartConfig) (*chart.Renderer, error) {
	return chart.NewRenderer(cfg.Width, cfg.FontPath, cfg.FontSize)
}

// Prepared is the cleaned input and feature table of a run.
type Prepared struct {
	Ingest     *ingest.Result
	Orders     []model.Order
	Unmatched  []string
	Join       features.JoinStats
	Features   *features.Result
	Categories int
}

// Clustering is the fitted model with its validation.
type Clustering struct {
	K           int                    `json:"k"`
	Inertia     float64                `json:"inertia"`
	Silhouette  *float64               `json:"silhouette,omitempty"`
	Assignments []model.Assignment     `json:"-"`
	Profiles    []model.ClusterProfile `json:"profiles"`
	KS          []model.KSResult       `json:"ks"`
}

// Summary is written to summary.json at the end of a run.
type Summary struct {
	RunID      string             `json:"run_id"`
	Accounts   int                `json:"accounts"`
	Rows       int                `json:"rows"`
	Skipped    []string           `json:"skipped_accounts,omitempty"`
	Ingest     ingest.Report      `json:"ingest"`
	Join       features.JoinStats `json:"join"`
	Unmatched  []string           `json:"unmatched_categories,omitempty"`
	Clustering *Clustering        `json:"clustering"`
	Files      []string           `json:"files"`
}

// Ingest loads and cleans both extracts and remaps merchant categories.
func (p *Pipeline) Ingest(ctx context.Context, customersPath, ordersPath string) (*Prepared, error) {
	res, err := ingest.Load(ctx, customersPath, ordersPath, ingest.Options{
		RequiredCustomerFields: p.cfg.Clean.RequiredCustomerFields,
		StrictDuplicates:       p.cfg.Clean.StrictDuplicates,
		Encoding:               p.cfg.Input.Encoding,
		CustomerSheet:          p.cfg.Input.CustomerSheet,
		OrderSheet:             p.cfg.Input.OrderSheet,
	})
	if err != nil {
		return nil, err
	}

	orders, unmatched := p.taxonomy.Apply(res.Orders)
	if len(unmatched) > 0 {
		zap.L().Info("segment: merchant categories without a taxonomy entry",
			zap.Int("count", len(unmatched)), zap.Strings("categories", unmatched))
	}
	return &Prepared{Ingest: res, Orders: orders, Unmatched: unmatched}, nil
}

// Prepare runs ingestion and builds the feature table.
func (p *Pipeline) Prepare(ctx context.Context, customersPath, ordersPath string) (*Prepared, error) {
	prep, err := p.Ingest(ctx, customersPath, ordersPath)
	if err != nil {
		return nil, err
	}

	purchases, joinStats := features.Join(prep.Ingest.Customers, prep.Orders)
	prep.Join = joinStats
	if joinStats.UnmatchedOrders > 0 {
		zap.L().Info("segment: orders without a customer dropped",
			zap.Int("orders", joinStats.UnmatchedOrders),
			zap.Int("accounts", joinStats.UnmatchedAccounts))
	}

	feats, err := features.Build(purchases, features.Options{SkipDegenerate: p.cfg.Features.SkipDegenerate})
	if err != nil {
		return nil, err
	}
	if len(feats.Preferences) == 0 {
		return nil, eris.New("segment: no preference rows; check that orders join to customers")
	}
	prep.Features = feats

	cats := make(map[string]bool)
	for _, pref := range feats.Preferences {
		cats[pref.Category] = true
	}
	prep.Categories = len(cats)

	zap.L().Info("segment: features built",
		zap.Int("accounts", feats.Accounts),
		zap.Int("categories", prep.Categories),
		zap.Int("rows", len(feats.Preferences)),
		zap.Int("skipped", len(feats.Skipped)))
	return prep, nil
}

// Cluster fits the configured clusterer to the feature table and validates
// the result.
func (p *Pipeline) Cluster(ctx context.Context, prefs []model.Preference) (*Clustering, error) {
	m, err := cluster.Pivot(prefs)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "segment: cluster")
	}

	fit, err := p.clusterer.Fit(m)
	if err != nil {
		return nil, eris.Wrap(err, "segment: fit")
	}

	out := &Clustering{
		K:           fit.K,
		Inertia:     fit.Inertia,
		Assignments: cluster.Assignments(m, fit),
	}
	if s, err := p.validator.Silhouette(m, fit.Labels); err != nil {
		zap.L().Warn("segment: silhouette undefined", zap.Int("k", fit.K), zap.Error(err))
	} else if !math.IsNaN(s) {
		out.Silhouette = &s
	}

	out.Profiles = cluster.Profile(prefs, out.Assignments)
	out.KS, err = p.comparer.Compare(prefs, out.Assignments)
	if err != nil {
		return nil, eris.Wrap(err, "segment: compare distributions")
	}

	fields := []zap.Field{zap.Int("k", out.K), zap.Float64("inertia", out.Inertia)}
	if out.Silhouette != nil {
		fields = append(fields, zap.Float64("silhouette", *out.Silhouette))
	}
	zap.L().Info("segment: clustered", fields...)
	return out, nil
}

// Sweep evaluates inertia and silhouette for each k in the configured range.
func (p *Pipeline) Sweep(ctx context.Context, prefs []model.Preference) ([]model.Selection, error) {
	m, err := cluster.Pivot(prefs)
	if err != nil {
		return nil, err
	}
	sels, err := cluster.Sweep(ctx, m, p.cfg.Cluster.MinK, p.cfg.Cluster.MaxK, p.kmeans, p.cfg.Cluster.SweepConcurrency)
	if err != nil {
		return nil, err
	}
	zap.L().Info("segment: sweep complete",
		zap.Int("min_k", sels[0].K),
		zap.Int("max_k", sels[len(sels)-1].K),
		zap.Int("best_silhouette_k", cluster.BestSilhouette(sels)))
	return sels, nil
}

// Clean runs ingestion only and writes the cleaned order table and the
// anomaly report to the output directory.
func (p *Pipeline) Clean(ctx context.Context, customersPath, ordersPath string) (*Prepared, []string, error) {
	prep, err := p.Ingest(ctx, customersPath, ordersPath)
	if err != nil {
		return nil, nil, err
	}

	dir := p.cfg.Output.Dir
	var files []string
	path, err := report.WriteFile(dir, FileCleanOrders, func(w io.Writer) error {
		return report.WriteOrders(w, prep.Orders)
	})
	if err != nil {
		return nil, nil, err
	}
	files = append(files, path)

	path, err = report.WriteFile(dir, FileAnomalies, func(w io.Writer) error {
		return report.WriteConflicts(w, prep.Ingest.Report.Conflicts)
	})
	if err != nil {
		return nil, nil, err
	}
	files = append(files, path)
	return prep, files, nil
}

// SweepReport runs the sweep and renders the elbow and silhouette curves
// when a chart renderer is configured.
func (p *Pipeline) SweepReport(ctx context.Context, prefs []model.Preference) ([]model.Selection, []string, error) {
	sels, err := p.Sweep(ctx, prefs)
	if err != nil {
		return nil, nil, err
	}

	var files []string
	path, err := report.WriteFile(p.cfg.Output.Dir, FileSelection, func(w io.Writer) error {
		return report.WriteJSON(w, selectionRows(sels))
	})
	if err != nil {
		return nil, nil, err
	}
	files = append(files, path)

	if p.charts == nil {
		return sels, files, nil
	}
	curves := []struct {
		name, title, ylabel string
		value               func(model.Selection) float64
	}{
		{ChartElbow, "Elbow Method for Optimal k", "Inertia", func(s model.Selection) float64 { return s.Inertia }},
		{ChartSilhouette, "Silhouette Score for Optimal k", "Silhouette Score", func(s model.Selection) float64 { return s.Silhouette }},
	}
	for _, c := range curves {
		path, err := chart.WriteFile(p.cfg.Chart.Dir, c.name, func(w io.Writer) error {
			return p.charts.Curve(w, c.title, c.ylabel, sels, c.value)
		})
		if err != nil {
			// A sweep of k=1 alone has no silhouette points.
			zap.L().Warn("segment: chart skipped", zap.String("chart", c.name), zap.Error(err))
			continue
		}
		files = append(files, path)
	}
	return sels, files, nil
}

// Run executes the full pipeline: ingest, features, clustering, outputs and
// persistence. Ingestion failures abort before any output is written.
func (p *Pipeline) Run(ctx context.Context, customersPath, ordersPath string) (*Summary, error) {
	log := zap.L().With(zap.String("customers", customersPath), zap.String("orders", ordersPath))
	log.Info("segment: starting run")

	var run *model.Run
	if p.store != nil {
		var err error
		run, err = p.store.CreateRun(ctx, customersPath, ordersPath)
		if err != nil {
			return nil, eris.Wrap(err, "segment: create run")
		}
	} else {
		run = &model.Run{ID: uuid.New().String(), CustomersPath: customersPath, OrdersPath: ordersPath}
	}
	log = log.With(zap.String("run_id", run.ID))

	summary, err := p.run(ctx, run, customersPath, ordersPath)
	if err != nil {
		if p.store != nil {
			if failErr := p.store.FailRun(ctx, run.ID, err); failErr != nil {
				log.Warn("segment: failed to record run failure", zap.Error(failErr))
			}
		}
		return nil, err
	}

	if p.store != nil {
		if err := p.store.CompleteRun(ctx, run); err != nil {
			return nil, eris.Wrap(err, "segment: complete run")
		}
	}
	log.Info("segment: run complete",
		zap.Int("accounts", summary.Accounts),
		zap.Int("k", summary.Clustering.K),
		zap.Int("files", len(summary.Files)))
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, run *model.Run, customersPath, ordersPath string) (*Summary, error) {
	prep, err := p.Prepare(ctx, customersPath, ordersPath)
	if err != nil {
		return nil, err
	}
	prefs := prep.Features.Preferences

	clustering, err := p.Cluster(ctx, prefs)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:      run.ID,
		Accounts:   prep.Features.Accounts,
		Rows:       len(prefs),
		Skipped:    prep.Features.Skipped,
		Ingest:     prep.Ingest.Report,
		Join:       prep.Join,
		Unmatched:  prep.Unmatched,
		Clustering: clustering,
	}

	if err := p.writeOutputs(summary, prefs, clustering); err != nil {
		return nil, err
	}

	run.K = clustering.K
	run.Accounts = summary.Accounts
	run.Rows = summary.Rows
	run.Conflicts = len(prep.Ingest.Report.Conflicts)

	if p.store != nil {
		if err := p.store.SavePreferences(ctx, run.ID, prefs); err != nil {
			return nil, eris.Wrap(err, "segment: save preferences")
		}
		if err := p.store.SaveAssignments(ctx, run.ID, clustering.Assignments); err != nil {
			return nil, eris.Wrap(err, "segment: save assignments")
		}
	}
	return summary, nil
}

func (p *Pipeline) writeOutputs(summary *Summary, prefs []model.Preference, clustering *Clustering) error {
	dir := p.cfg.Output.Dir
	outputs := []struct {
		name  string
		write func(io.Writer) error
	}{
		{FilePreferences, func(w io.Writer) error { return report.WritePreferences(w, prefs) }},
		{FileAssignments, func(w io.Writer) error { return report.WriteAssignments(w, clustering.Assignments) }},
		{FileAnomalies, func(w io.Writer) error { return report.WriteConflicts(w, summary.Ingest.Conflicts) }},
	}
	for _, o := range outputs {
		path, err := report.WriteFile(dir, o.name, o.write)
		if err != nil {
			return err
		}
		summary.Files = append(summary.Files, path)
	}

	if p.charts != nil {
		charts := []struct {
			name   string
			render func(io.Writer) error
		}{
			{ChartClusterCounts, func(w io.Writer) error { return p.charts.ClusterCounts(w, clustering.Profiles) }},
			{ChartClusterPreference, func(w io.Writer) error { return p.charts.ClusterPreferences(w, clustering.Profiles) }},
		}
		for _, c := range charts {
			path, err := chart.WriteFile(p.cfg.Chart.Dir, c.name, c.render)
			if err != nil {
				return err
			}
			summary.Files = append(summary.Files, path)
		}
	}

	summaryPath := filepath.Join(dir, FileSummary)
	summary.Files = append(summary.Files, summaryPath)
	_, err := report.WriteFile(dir, FileSummary, func(w io.Writer) error {
		return report.WriteJSON(w, summary)
	})
	return err
}

// selectionRow is the JSON form of a sweep point; silhouette is omitted
// where undefined since JSON has no NaN.
type selectionRow struct {
	K          int      `json:"k"`
	Inertia    float64  `json:"inertia"`
	Silhouette *float64 `json:"silhouette,omitempty"`
}

func selectionRows(sels []model.Selection) []selectionRow {
	out := make([]selectionRow, len(sels))
	for i, s := range sels {
		out[i] = selectionRow{K: s.K, Inertia: s.Inertia}
		if !math.IsNaN(s.Silhouette) {
			v := s.Silhouette
			out[i].Silhouette = &v
		}
	}
	return out
}
