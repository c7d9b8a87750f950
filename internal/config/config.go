// Package config loads the bulkexport command configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ygrebnov/bulkexport/batch"
	"github.com/ygrebnov/bulkexport/search"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	PoolSize          uint          `yaml:"pool_size"`
	FairnessDelay     time.Duration `yaml:"fairness_delay"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	OfferTimeout      time.Duration `yaml:"offer_timeout"`
	CheckInterval     int64         `yaml:"check_interval"`
	BatchSize         int           `yaml:"batch_size"`
	ThrottlePerSecond float64       `yaml:"throttle_per_second"`

	// IndexPath is the bleve index directory. Empty keeps the index in memory.
	IndexPath string `yaml:"index_path"`
	// RecordsFile is a JSON-lines file indexed before exporting.
	RecordsFile string `yaml:"records_file"`
	LayersURL   string `yaml:"layers_url"`
	ListsFile   string `yaml:"lists_file"`
	AuditDB     string `yaml:"audit_db"`
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Exports []Export `yaml:"exports"`
}

// Export is one export to run.
type Export struct {
	Name    string `yaml:"name"`
	User    string `yaml:"user"`
	Address string `yaml:"address"`
	Ceiling int64  `yaml:"ceiling"`
	Output  string `yaml:"output"`

	Fields         []string `yaml:"fields"`
	AnalysisLayers []string `yaml:"analysis_layers"`
	ListFields     []string `yaml:"list_fields"`
	QAFields       []string `yaml:"qa_fields"`

	IncludeMultivalues bool `yaml:"include_multivalues"`
	IncludeExtra       bool `yaml:"include_extra"`

	Partitions []Partition `yaml:"partitions"`
}

// Partition is one query of an export.
type Partition struct {
	Q         string   `yaml:"q"`
	Filters   []string `yaml:"filters"`
	Sensitive bool     `yaml:"sensitive"`
}

// Headers returns the column layout of e.
func (e Export) Headers() batch.Headers {
	return batch.Headers{
		Fields:         e.Fields,
		AnalysisLayers: e.AnalysisLayers,
		ListFields:     e.ListFields,
		QAFields:       e.QAFields,
	}
}

// Queries returns the partitions of e. An export without partitions queries everything once.
func (e Export) Queries() []search.Query {
	if len(e.Partitions) == 0 {
		return []search.Query{{}}
	}
	out := make([]search.Query, len(e.Partitions))
	for i, p := range e.Partitions {
		out[i] = search.Query{Q: p.Q, Filters: p.Filters, Sensitive: p.Sensitive}
	}
	return out
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		PoolSize:      4,
		FairnessDelay: 5 * time.Second,
		QueueCapacity: 1000,
		OfferTimeout:  time.Second,
		CheckInterval: 1000,
		BatchSize:     1000,
		AuditDB:       "bulkexport.db",
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

// Load reads configuration from a YAML file. If path is empty, returns defaults.
// Environment overrides are not applied; see FromEnv.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings the command cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.PoolSize == 0 {
		errs = append(errs, errors.New("pool_size must be > 0"))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, errors.New("queue_capacity must be > 0"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be > 0"))
	}
	seen := make(map[string]struct{}, len(c.Exports))
	for i, e := range c.Exports {
		if e.Output == "" {
			errs = append(errs, fmt.Errorf("exports[%d]: output is required", i))
		}
		if len(e.Fields) == 0 {
			errs = append(errs, fmt.Errorf("exports[%d]: at least one field is required", i))
		}
		if _, dup := seen[e.Output]; dup && e.Output != "" {
			errs = append(errs, fmt.Errorf("exports[%d]: output %s is used twice", i, e.Output))
		}
		seen[e.Output] = struct{}{}
	}
	return errors.Join(errs...)
}
