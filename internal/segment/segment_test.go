package segment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/segment-cli/internal/chart"
	"github.com/sells-group/segment-cli/internal/cluster"
	"github.com/sells-group/segment-cli/internal/config"
	"github.com/sells-group/segment-cli/internal/ingest"
	"github.com/sells-group/segment-cli/internal/model"
	"github.com/sells-group/segment-cli/internal/report"
	"github.com/sells-group/segment-cli/internal/store"
	"github.com/sells-group/segment-cli/internal/taxonomy"
)

const testCustomers = `ACCOUNT_ID,DEVICE_OS
1,iOS
2,iOS
3,Android
4,Android
5,iOS
6,iOS
7,
`

// Accounts 1-3 buy Food recently and Travel long ago; 4-6 only buy Travel.
// Account 99 has no customer row; account 7's customer row is dropped.
const testOrders = `ORDER_ID,ACCOUNT_ID,ORDER_TIMESTAMP,ORDER_METHOD,MERCHANT_CATEGORY,ORDER_AMOUNT
o1,1,2024-03-10 09:00:00,app,Restaurants,10
o1,1,2024-03-10 09:00:00,app,Restaurants,20
o2,1,2024-03-05 09:00:00,app,Grocery,30
o3,1,2024-03-01 09:00:00,web,Airlines,300
o4,2,2024-03-10 09:00:00,app,Grocery,10
o5,2,2024-03-05 09:00:00,app,Restaurants,12
o6,2,2024-03-01 09:00:00,web,Hotels,120
o7,3,2024-03-10 09:00:00,app,Restaurants,8
o8,3,2024-03-05 09:00:00,app,Restaurants,9
o9,3,2024-03-01 09:00:00,web,Airlines,250
o10,4,2024-02-01 09:00:00,web,Airlines,400
o11,5,2024-02-02 09:00:00,web,Hotels,180
o12,6,2024-02-03 09:00:00,web,Airlines,410
o13,99,2024-02-03 09:00:00,web,Airlines,410
o14,7,2024-02-03 09:00:00,web,Airlines,410
`

const testTaxonomy = `
taxonomy:
  categories:
    Food: [Restaurants, Grocery]
    Travel: [Airlines, Hotels]
`

type fixture struct {
	cfg       *config.Config
	customers string
	orders    string
}

func newFixture(t *testing.T, orders string) fixture {
	t.Helper()
	dir := t.TempDir()
	cpath := filepath.Join(dir, "customers.csv")
	opath := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(cpath, []byte(testCustomers), 0o644))
	require.NoError(t, os.WriteFile(opath, []byte(orders), 0o644))

	cfg := &config.Config{}
	cfg.Clean.RequiredCustomerFields = []string{"DEVICE_OS"}
	cfg.Features.SkipDegenerate = true
	cfg.Cluster = config.ClusterConfig{K: 2, MinK: 1, MaxK: 4, Seed: 42, NInit: 10, MaxIter: 300, Tol: 1e-4, SweepConcurrency: 2}
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Chart.Dir = filepath.Join(dir, "out", "charts")
	cfg.Chart.Width = 400
	return fixture{cfg: cfg, customers: cpath, orders: opath}
}

func testTaxonomyTable(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tax, err := taxonomy.Parse([]byte(testTaxonomy))
	require.NoError(t, err)
	return tax
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func newTestRenderer(t *testing.T, cfg config.ChartConfig) *chart.Renderer {
	t.Helper()
	r, err := NewChartRenderer(cfg)
	require.NoError(t, err)
	return r
}

func TestPrepare_BuildsFeatureTable(t *testing.T) {
	fx := newFixture(t, testOrders)
	p := New(fx.cfg, nil, testTaxonomyTable(t), nil)

	prep, err := p.Prepare(context.Background(), fx.customers, fx.orders)
	require.NoError(t, err)

	assert.Equal(t, 6, prep.Features.Accounts)
	assert.Equal(t, 2, prep.Categories)
	// o13 (account 99) has no customer; o14 belongs to account 7, whose
	// customer row was dropped for its empty DEVICE_OS.
	assert.Equal(t, 2, prep.Join.UnmatchedOrders)
	assert.Equal(t, 2, prep.Join.UnmatchedAccounts)
	assert.Equal(t, 1, prep.Ingest.Report.Customers.MissingRequired)
	assert.Empty(t, prep.Unmatched)

	sums := make(map[string]float64)
	for _, pref := range prep.Features.Preferences {
		sums[pref.AccountID] += pref.PreferenceScore
		if pref.AccountID == "1" && pref.Category == "Food" {
			assert.Equal(t, 2, pref.Frequency)
			assert.InDelta(t, 2.5, pref.AverageRecency, 1e-9)
			assert.InDelta(t, 1.0, pref.PreferenceScore, 1e-9)
		}
		if pref.AccountID == "1" && pref.Category == "Travel" {
			assert.InDelta(t, 9.0, pref.AverageRecency, 1e-9)
			assert.InDelta(t, 0.0, pref.WeightedRecency, 1e-9)
		}
	}
	for account, sum := range sums {
		assert.InDelta(t, 1.0, sum, 1e-6, account)
	}
}

func TestPrepare_WithoutTaxonomyKeepsMerchantCategories(t *testing.T) {
	fx := newFixture(t, testOrders)
	p := New(fx.cfg, nil, nil, nil)

	prep, err := p.Prepare(context.Background(), fx.customers, fx.orders)
	require.NoError(t, err)
	assert.Equal(t, 4, prep.Categories)
}

func TestRun_EndToEnd(t *testing.T) {
	fx := newFixture(t, testOrders)
	st := newTestStore(t)
	p := New(fx.cfg, st, testTaxonomyTable(t), newTestRenderer(t, fx.cfg.Chart))
	ctx := context.Background()

	summary, err := p.Run(ctx, fx.customers, fx.orders)
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Accounts)
	assert.Equal(t, 9, summary.Rows, "three two-category and three one-category accounts")
	require.NotNil(t, summary.Clustering)
	assert.Equal(t, 2, summary.Clustering.K)
	require.NotNil(t, summary.Clustering.Silhouette)
	assert.InDelta(t, 1.0, *summary.Clustering.Silhouette, 1e-9)
	require.Len(t, summary.Clustering.Profiles, 2)
	assert.Len(t, summary.Clustering.KS, 2)

	for _, name := range []string{FilePreferences, FileAssignments, FileAnomalies, FileSummary} {
		assert.FileExists(t, filepath.Join(fx.cfg.Output.Dir, name))
	}
	for _, name := range []string{ChartClusterCounts, ChartClusterPreference} {
		assert.FileExists(t, filepath.Join(fx.cfg.Chart.Dir, name))
	}

	f, err := os.Open(filepath.Join(fx.cfg.Output.Dir, FilePreferences))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	written, err := report.ReadPreferences(f)
	require.NoError(t, err)
	assert.Len(t, written, summary.Rows)

	run, err := st.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 2, run.K)
	assert.Equal(t, 6, run.Accounts)

	assignments, err := st.ListAssignments(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, assignments, 6)
	assert.Equal(t, assignments[0].Cluster, assignments[1].Cluster)
	assert.Equal(t, assignments[0].Cluster, assignments[2].Cluster)
	assert.NotEqual(t, assignments[0].Cluster, assignments[3].Cluster)

	stored, err := st.ListPreferences(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Len(t, stored, summary.Rows)
}

func TestRun_WithoutStore(t *testing.T) {
	fx := newFixture(t, testOrders)
	p := New(fx.cfg, nil, testTaxonomyTable(t), nil)

	summary, err := p.Run(context.Background(), fx.customers, fx.orders)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.NoFileExists(t, filepath.Join(fx.cfg.Chart.Dir, ChartClusterCounts))
}

func TestRun_IngestFailureWritesNothing(t *testing.T) {
	fx := newFixture(t, testOrders)
	st := newTestStore(t)
	p := New(fx.cfg, st, nil, nil)
	ctx := context.Background()

	_, err := p.Run(ctx, fx.customers, filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)

	var srcErr *ingest.SourceReadError
	assert.True(t, errors.As(err, &srcErr))
	assert.NoDirExists(t, fx.cfg.Output.Dir)

	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].Error)
}

func TestRun_StrictDuplicates(t *testing.T) {
	orders := testOrders + "o2,1,2024-03-05 09:00:00,web,Grocery,30\n"
	fx := newFixture(t, orders)

	permissive := New(fx.cfg, nil, testTaxonomyTable(t), nil)
	summary, err := permissive.Run(context.Background(), fx.customers, fx.orders)
	require.NoError(t, err)
	require.Len(t, summary.Ingest.Conflicts, 1)
	assert.Equal(t, "o2", summary.Ingest.Conflicts[0].OrderID)

	fx.cfg.Clean.StrictDuplicates = true
	strict := New(fx.cfg, nil, testTaxonomyTable(t), nil)
	_, err = strict.Run(context.Background(), fx.customers, fx.orders)
	require.Error(t, err)

	var dupErr *ingest.InconsistentDuplicateError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, []string{"o2"}, dupErr.OrderIDs())
}

type failingClusterer struct{}

func (failingClusterer) Fit(*cluster.Matrix) (*cluster.Model, error) {
	return nil, eris.New("fit exploded")
}

func TestRun_ClustererFailureMarksRunFailed(t *testing.T) {
	fx := newFixture(t, testOrders)
	st := newTestStore(t)
	p := New(fx.cfg, st, testTaxonomyTable(t), nil)
	p.clusterer = failingClusterer{}
	ctx := context.Background()

	_, err := p.Run(ctx, fx.customers, fx.orders)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fit exploded")

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "fit exploded")
}

func TestCluster_UndefinedSilhouetteIsOmitted(t *testing.T) {
	fx := newFixture(t, testOrders)
	fx.cfg.Cluster.K = 1
	p := New(fx.cfg, nil, testTaxonomyTable(t), nil)

	prep, err := p.Prepare(context.Background(), fx.customers, fx.orders)
	require.NoError(t, err)

	c, err := p.Cluster(context.Background(), prep.Features.Preferences)
	require.NoError(t, err)
	assert.Equal(t, 1, c.K)
	assert.Nil(t, c.Silhouette)
	require.Len(t, c.Profiles, 1)
	assert.Equal(t, 6, c.Profiles[0].Accounts)
}

func TestClean_WritesOrdersAndAnomalies(t *testing.T) {
	fx := newFixture(t, testOrders)
	p := New(fx.cfg, nil, testTaxonomyTable(t), nil)

	prep, files, err := p.Clean(context.Background(), fx.customers, fx.orders)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Len(t, prep.Orders, 14, "o1 collapses to one row")

	data, err := os.ReadFile(filepath.Join(fx.cfg.Output.Dir, FileCleanOrders))
	require.NoError(t, err)
	assert.Contains(t, string(data), "New Category")
	assert.Contains(t, string(data), ",Food,")

	anomalies, err := os.ReadFile(filepath.Join(fx.cfg.Output.Dir, FileAnomalies))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(anomalies))
}

func TestSweepReport(t *testing.T) {
	fx := newFixture(t, testOrders)
	p := New(fx.cfg, nil, testTaxonomyTable(t), newTestRenderer(t, fx.cfg.Chart))

	prep, err := p.Prepare(context.Background(), fx.customers, fx.orders)
	require.NoError(t, err)

	sels, files, err := p.SweepReport(context.Background(), prep.Features.Preferences)
	require.NoError(t, err)
	require.Len(t, sels, 4)
	assert.Equal(t, 2, cluster.BestSilhouette(sels))
	assert.Len(t, files, 3)
	assert.FileExists(t, filepath.Join(fx.cfg.Chart.Dir, ChartElbow))
	assert.FileExists(t, filepath.Join(fx.cfg.Chart.Dir, ChartSilhouette))

	data, err := os.ReadFile(filepath.Join(fx.cfg.Output.Dir, FileSelection))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "NaN")
}
