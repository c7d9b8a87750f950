package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays BULKEXPORT_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("BULKEXPORT_POOL_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.PoolSize = uint(n)
		}
	}
	if v := os.Getenv("BULKEXPORT_FAIRNESS_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FairnessDelay = d
		}
	}
	if v := os.Getenv("BULKEXPORT_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueCapacity = n
		}
	}
	if v := os.Getenv("BULKEXPORT_OFFER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OfferTimeout = d
		}
	}
	if v := os.Getenv("BULKEXPORT_CHECK_INTERVAL"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CheckInterval = n
		}
	}
	if v := os.Getenv("BULKEXPORT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("BULKEXPORT_THROTTLE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ThrottlePerSecond = f
		}
	}
	if v := os.Getenv("BULKEXPORT_INDEX_PATH"); v != "" {
		cfg.IndexPath = v
	}
	if v := os.Getenv("BULKEXPORT_RECORDS_FILE"); v != "" {
		cfg.RecordsFile = v
	}
	if v := os.Getenv("BULKEXPORT_LAYERS_URL"); v != "" {
		cfg.LayersURL = v
	}
	if v := os.Getenv("BULKEXPORT_LISTS_FILE"); v != "" {
		cfg.ListsFile = v
	}
	if v := os.Getenv("BULKEXPORT_AUDIT_DB"); v != "" {
		cfg.AuditDB = v
	}
	if v := os.Getenv("BULKEXPORT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("BULKEXPORT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BULKEXPORT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
