package ingest

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/segment-cli/internal/fetcher"
	"github.com/sells-group/segment-cli/internal/model"
)

const testCustomers = `ACCOUNT_ID,DEVICE_OS,AGE
1,iOS,34
2,Android,
3,,51
1,iOS,35
`

const testOrders = `ORDER_ID,ACCOUNT_ID,ORDER_TIMESTAMP,ORDER_METHOD,MERCHANT_CATEGORY,ORDER_AMOUNT
o1,1,2024-03-01 10:00:00,app,Restaurants,12.50
o2,1.0,2024-03-02 11:00:00,web,Grocery,40
o3,2,2024-03-03,app,,9.99
o4,2,2024-03-04 09:30:00,app,Airlines,10
o4,2,2024-03-04 09:30:00,app,Airlines,20
o5,1,2024-03-05 08:00:00,app,Hotels,
`

func writeSources(t *testing.T, customers, orders string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cpath := filepath.Join(dir, "customers.csv")
	opath := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(cpath, []byte(customers), 0o644))
	require.NoError(t, os.WriteFile(opath, []byte(orders), 0o644))
	return cpath, opath
}

func defaultOpts() Options {
	return Options{RequiredCustomerFields: []string{"DEVICE_OS"}}
}

func orderByID(orders []model.Order, id string) (model.Order, bool) {
	for _, o := range orders {
		if o.OrderID == id {
			return o, true
		}
	}
	return model.Order{}, false
}

func TestLoad_CleansBothTables(t *testing.T) {
	cpath, opath := writeSources(t, testCustomers, testOrders)

	res, err := Load(context.Background(), cpath, opath, defaultOpts())
	require.NoError(t, err)

	// Customer 3 lacks DEVICE_OS; the second "1" row is a repeat.
	require.Len(t, res.Customers, 2)
	assert.Equal(t, "1", res.Customers[0].AccountID)
	assert.Equal(t, "34", res.Customers[0].Fields["AGE"])
	assert.Equal(t, "2", res.Customers[1].AccountID)
	assert.Equal(t, 1, res.Report.Customers.MissingRequired)
	assert.Equal(t, 1, res.Report.Customers.Duplicates)

	// o3 has no merchant category; o4 collapses.
	assert.Len(t, res.Orders, 4)
	assert.Equal(t, 1, res.Report.Orders.MissingCategory)
	assert.Equal(t, 1, res.Report.Orders.DuplicateIDs)
	assert.Equal(t, 1, res.Report.Orders.CollapsedRows)
	assert.Empty(t, res.Report.Conflicts)

	o2, ok := orderByID(res.Orders, "o2")
	require.True(t, ok)
	assert.Equal(t, "1", o2.AccountID, "float-formatted id normalized")
	assert.Equal(t, time.Date(2024, 3, 2, 11, 0, 0, 0, time.UTC), o2.Timestamp)

	o5, ok := orderByID(res.Orders, "o5")
	require.True(t, ok)
	assert.True(t, math.IsNaN(o5.Amount))
}

func TestCleanCustomers_NullAccountIDs(t *testing.T) {
	tbl, err := fetcher.NewTable("customers.csv", [][]string{
		{"ACCOUNT_ID", "DEVICE_OS"},
		{"NaN", "ios"},
		{"NULL", "android"},
		{"7", "ios"},
	})
	require.NoError(t, err)

	customers, stats, err := CleanCustomers(tbl, []string{"DEVICE_OS"})
	require.NoError(t, err)

	require.Len(t, customers, 1)
	assert.Equal(t, "7", customers[0].AccountID)
	assert.Equal(t, 2, stats.MissingAccount)
}

func TestLoad_UniqueOrderIDs(t *testing.T) {
	cpath, opath := writeSources(t, testCustomers, testOrders)

	res, err := Load(context.Background(), cpath, opath, defaultOpts())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, o := range res.Orders {
		assert.False(t, seen[o.OrderID], "duplicate order id %s", o.OrderID)
		seen[o.OrderID] = true
	}
}

func TestLoad_Idempotent(t *testing.T) {
	cpath, opath := writeSources(t, testCustomers, testOrders)

	first, err := Load(context.Background(), cpath, opath, defaultOpts())
	require.NoError(t, err)
	second, err := Load(context.Background(), cpath, opath, defaultOpts())
	require.NoError(t, err)

	require.Equal(t, len(first.Orders), len(second.Orders))
	for i := range first.Orders {
		a, b := first.Orders[i], second.Orders[i]
		assert.Equal(t, a.OrderID, b.OrderID)
		assert.Equal(t, a.AccountID, b.AccountID)
		assert.Equal(t, a.Timestamp, b.Timestamp)
		assert.Equal(t, a.Method, b.Method)
		assert.Equal(t, a.MerchantCategory, b.MerchantCategory)
		if math.IsNaN(a.Amount) {
			assert.True(t, math.IsNaN(b.Amount))
		} else {
			assert.Equal(t, a.Amount, b.Amount)
		}
	}
}

func TestLoad_DuplicateAmountsAveraged(t *testing.T) {
	cpath, opath := writeSources(t, testCustomers, testOrders)

	res, err := Load(context.Background(), cpath, opath, defaultOpts())
	require.NoError(t, err)

	var matches []model.Order
	for _, o := range res.Orders {
		if o.OrderID == "o4" {
			matches = append(matches, o)
		}
	}
	require.Len(t, matches, 1)
	assert.InDelta(t, 15.0, matches[0].Amount, 1e-9)
	assert.Equal(t, "Airlines", matches[0].MerchantCategory)
}

const conflictingOrders = `ORDER_ID,ACCOUNT_ID,ORDER_TIMESTAMP,ORDER_METHOD,MERCHANT_CATEGORY,ORDER_AMOUNT
o9,1,2024-03-01 10:00:00,app,Restaurants,10
o9,1,2024-03-01 10:00:00,web,Grocery,30
`

func TestLoad_InconsistentDuplicatesPermissive(t *testing.T) {
	cpath, opath := writeSources(t, testCustomers, conflictingOrders)

	res, err := Load(context.Background(), cpath, opath, defaultOpts())
	require.NoError(t, err)

	require.Len(t, res.Orders, 1)
	assert.Equal(t, "app", res.Orders[0].Method, "first value wins")
	assert.Equal(t, "Restaurants", res.Orders[0].MerchantCategory)
	assert.InDelta(t, 20.0, res.Orders[0].Amount, 1e-9)

	require.Len(t, res.Report.Conflicts, 1)
	c := res.Report.Conflicts[0]
	assert.Equal(t, "o9", c.OrderID)
	assert.Equal(t, 2, c.Rows)
	assert.Equal(t, []string{"app", "web"}, c.Values[model.ColOrderMethod])
	assert.Equal(t, []string{"Restaurants", "Grocery"}, c.Values[model.ColMerchantCategory])
	assert.NotContains(t, c.Values, model.ColAccountID)
}

func TestLoad_InconsistentDuplicatesStrict(t *testing.T) {
	cpath, opath := writeSources(t, testCustomers, conflictingOrders)

	opts := defaultOpts()
	opts.StrictDuplicates = true
	_, err := Load(context.Background(), cpath, opath, opts)
	require.Error(t, err)

	var dupErr *InconsistentDuplicateError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, []string{"o9"}, dupErr.OrderIDs())
	assert.Contains(t, err.Error(), "o9")
}

func TestLoad_MissingColumn(t *testing.T) {
	orders := "ORDER_ID,ACCOUNT_ID\no1,1\n"
	cpath, opath := writeSources(t, testCustomers, orders)

	_, err := Load(context.Background(), cpath, opath, defaultOpts())
	require.Error(t, err)

	var srcErr *SourceReadError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, opath, srcErr.Source)
	assert.Contains(t, err.Error(), "ORDER_TIMESTAMP")
}

func TestLoad_BadTimestamp(t *testing.T) {
	orders := "ORDER_ID,ACCOUNT_ID,ORDER_TIMESTAMP,ORDER_METHOD,MERCHANT_CATEGORY,ORDER_AMOUNT\no1,1,yesterday,app,Food,1\n"
	cpath, opath := writeSources(t, testCustomers, orders)

	_, err := Load(context.Background(), cpath, opath, defaultOpts())
	var srcErr *SourceReadError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, 2, srcErr.Row)
}

func TestLoad_MissingFile(t *testing.T) {
	cpath, _ := writeSources(t, testCustomers, testOrders)

	_, err := Load(context.Background(), cpath, filepath.Join(t.TempDir(), "gone.csv"), defaultOpts())
	var srcErr *SourceReadError
	require.True(t, errors.As(err, &srcErr))
	assert.Contains(t, srcErr.Source, "gone.csv")
}

func TestLoad_MissingRequiredCustomerColumn(t *testing.T) {
	cpath, opath := writeSources(t, "ACCOUNT_ID\n1\n", testOrders)

	_, err := Load(context.Background(), cpath, opath, defaultOpts())
	var srcErr *SourceReadError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, cpath, srcErr.Source)
}
