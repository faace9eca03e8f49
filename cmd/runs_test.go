package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/segment-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusComplete,
			K:         4,
			Accounts:  1200,
			Conflicts: 3,
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusFailed,
			Error:     "ingest: missing column ORDER_ID",
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "ACCOUNTS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "1200")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "2m0s")
}

func TestFormatRunDetail(t *testing.T) {
	run := &model.Run{
		ID:            "run-1",
		Status:        model.RunStatusComplete,
		CustomersPath: "customers.xlsx",
		OrdersPath:    "orders.csv",
		K:             2,
		Accounts:      3,
		Rows:          5,
	}
	assignments := []model.Assignment{
		{AccountID: "a", Cluster: 1},
		{AccountID: "b", Cluster: 0},
		{AccountID: "c", Cluster: 1},
	}

	var buf bytes.Buffer
	formatRunDetail(&buf, run, assignments)

	output := buf.String()
	assert.Contains(t, output, "customers.xlsx")
	assert.Contains(t, output, "Clusters:")
	assert.Regexp(t, `cluster 0:\s+1 accounts`, output)
	assert.Regexp(t, `cluster 1:\s+2 accounts`, output)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("cluster 0")), bytes.Index(buf.Bytes(), []byte("cluster 1")))
}

func TestFormatRunDetail_Failed(t *testing.T) {
	run := &model.Run{ID: "run-2", Status: model.RunStatusFailed, Error: "strict duplicates"}

	var buf bytes.Buffer
	formatRunDetail(&buf, run, nil)

	assert.Contains(t, buf.String(), "strict duplicates")
	assert.NotContains(t, buf.String(), "Clusters:")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
