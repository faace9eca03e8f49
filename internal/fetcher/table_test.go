package fetcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTable_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, writeTestFile(path, "\ufeffORDER_ID, ACCOUNT_ID\n o1 ,42\no2\n"))

	tbl, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ORDER_ID", "ACCOUNT_ID"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "o1", tbl.Get(tbl.Rows[0], "ORDER_ID"))
	assert.Equal(t, "42", tbl.Get(tbl.Rows[0], "ACCOUNT_ID"))
	assert.Equal(t, "", tbl.Get(tbl.Rows[1], "ACCOUNT_ID"), "short row reads as empty")
	assert.Equal(t, "", tbl.Get(tbl.Rows[0], "MISSING"))
}

func TestReadTable_TSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "customers.tsv")
	require.NoError(t, writeTestFile(path, "ACCOUNT_ID\tDEVICE_OS\n1\tiOS\n"))

	tbl, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, "iOS", tbl.Get(tbl.Rows[0], "DEVICE_OS"))
}

func TestReadTable_XLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Customers": {{"ACCOUNT_ID", "DEVICE_OS"}, {" 7 ", "iOS"}},
	})

	tbl, err := ReadTable(context.Background(), path, TableOptions{SheetName: "Customers"})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "7", tbl.Get(tbl.Rows[0], "ACCOUNT_ID"))
}

func TestReadTable_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, writeTestFile(path, ""))

	_, err := ReadTable(context.Background(), path, TableOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestReadTable_MissingFile(t *testing.T) {
	_, err := ReadTable(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), TableOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: open file")
}

func TestTable_Require(t *testing.T) {
	tbl, err := NewTable("mem", [][]string{{"A", "B"}})
	require.NoError(t, err)

	assert.NoError(t, tbl.Require("A", "B"))
	err = tbl.Require("A", "C")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"C"`)
}
