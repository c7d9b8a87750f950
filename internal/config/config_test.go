package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/bulkexport/search"
)

const sample = `
pool_size: 8
fairness_delay: 250ms
throttle_per_second: 2.5
records_file: records.jsonl
exports:
  - name: acacia
    user: a@example.org
    ceiling: 100
    output: acacia.csv
    fields: [id, scientific_name]
    analysis_layers: [el1]
    qa_fields: [zeroLatitude]
    include_extra: true
    partitions:
      - q: "scientific_name:acacia"
        filters: ["data_resource_uid:dr1"]
      - q: "scientific_name:acacia"
        sensitive: true
`

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bulkexport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(write(t, sample))
	require.NoError(t, err)

	assert.Equal(t, uint(8), cfg.PoolSize)
	assert.Equal(t, 250*time.Millisecond, cfg.FairnessDelay)
	assert.InDelta(t, 2.5, cfg.ThrottlePerSecond, 1e-9)
	// untouched keys keep their defaults
	assert.Equal(t, 1000, cfg.QueueCapacity)
	assert.Equal(t, "bulkexport.db", cfg.AuditDB)

	require.Len(t, cfg.Exports, 1)
	e := cfg.Exports[0]
	assert.Equal(t, []string{"id", "scientific_name"}, e.Headers().Fields)
	assert.Equal(t, []string{"el1"}, e.Headers().AnalysisLayers)
	assert.Equal(t, []search.Query{
		{Q: "scientific_name:acacia", Filters: []string{"data_resource_uid:dr1"}},
		{Q: "scientific_name:acacia", Sensitive: true},
	}, e.Queries())
	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(write(t, "pool_size: [1"))
	require.Error(t, err)
}

func TestExport_QueriesDefaultsToMatchAll(t *testing.T) {
	assert.Equal(t, []search.Query{{}}, Export{}.Queries())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.PoolSize = 0
	cfg.Exports = []Export{
		{Output: "a.csv", Fields: []string{"id"}},
		{Output: "a.csv"},
		{Fields: []string{"id"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"pool_size", "exports[1]: at least one field", "exports[1]: output a.csv is used twice", "exports[2]: output is required"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("BULKEXPORT_POOL_SIZE", "16")
	t.Setenv("BULKEXPORT_FAIRNESS_DELAY", "1s")
	t.Setenv("BULKEXPORT_BATCH_SIZE", "not-a-number")
	t.Setenv("BULKEXPORT_LAYERS_URL", "http://layers.local")
	t.Setenv("BULKEXPORT_LOG_FORMAT", "json")

	cfg := Default()
	FromEnv(&cfg)
	assert.Equal(t, uint(16), cfg.PoolSize)
	assert.Equal(t, time.Second, cfg.FairnessDelay)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, "http://layers.local", cfg.LayersURL)
	assert.Equal(t, "json", cfg.LogFormat)
}
