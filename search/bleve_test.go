package search

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexed(t *testing.T, n int) *BleveBackend {
	t.Helper()
	b, err := NewMemBleve()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	docs := make(map[string]map[string]any, n)
	for i := 0; i < n; i++ {
		dr := "dr1"
		if i%2 == 1 {
			dr = "dr2"
		}
		docs[fmt.Sprintf("rec%03d", i)] = map[string]any{
			"data_resource_uid": dr,
			"scientific_name":   "Acacia dealbata",
			"latitude":          -35.0 - float64(i)/100,
		}
	}
	require.NoError(t, b.IndexBatch(docs))
	return b
}

func TestBleveBackend_StreamAllPages(t *testing.T) {
	b := indexed(t, 25)
	b.SetPageSize(4)

	count, err := b.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(25), count)

	seen := 0
	err = b.Stream(context.Background(), Query{}, func(r Row) bool {
		_, ok := r.Str("data_resource_uid")
		assert.True(t, ok)
		seen++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 25, seen)
}

func TestBleveBackend_Filters(t *testing.T) {
	b := indexed(t, 10)

	var drs []string
	err := b.Stream(context.Background(), Query{Q: "*:*", Filters: []string{"data_resource_uid:dr2"}}, func(r Row) bool {
		dr, _ := r.Str("data_resource_uid")
		drs = append(drs, dr)
		return false
	})
	require.NoError(t, err)
	require.Len(t, drs, 5)
	for _, dr := range drs {
		assert.Equal(t, "dr2", dr)
	}
}

func TestBleveBackend_StopEarly(t *testing.T) {
	b := indexed(t, 10)
	b.SetPageSize(3)

	seen := 0
	err := b.Stream(context.Background(), Query{Q: "scientific_name:acacia"}, func(Row) bool {
		seen++
		return seen == 4
	})
	require.NoError(t, err)
	assert.Equal(t, 4, seen)
}

func TestBleveBackend_CancelledContext(t *testing.T) {
	b := indexed(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Stream(ctx, Query{}, func(Row) bool { return false })
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenBleve_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.bleve")

	b, err := OpenBleve(path)
	require.NoError(t, err)
	require.NoError(t, b.Index("r1", map[string]any{"data_resource_uid": "dr9"}))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	b, err = OpenBleve(path)
	require.NoError(t, err)
	defer b.Close()
	count, err := b.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}
