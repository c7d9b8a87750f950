package bulkexport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ygrebnov/bulkexport/search"
)

func TestValidateConfig_RequiresBackend(t *testing.T) {
	cfg := defaultConfig()
	if err := validateConfig(&cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("validateConfig without backend = %v; want ErrInvalidConfig", err)
	}
	cfg.Backend = search.NewStatic()
	if err := validateConfig(&cfg); err != nil {
		t.Fatalf("validateConfig returned error for defaults with backend: %v", err)
	}
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := defaultConfig()
	if cfg.PoolSize != 4 {
		t.Fatalf("PoolSize default = %d; want 4", cfg.PoolSize)
	}
	if cfg.FairnessDelay != 5*time.Second {
		t.Fatalf("FairnessDelay default = %v; want 5s", cfg.FairnessDelay)
	}
	if cfg.QueueCapacity != 1000 {
		t.Fatalf("QueueCapacity default = %d; want 1000", cfg.QueueCapacity)
	}
	if cfg.OfferTimeout != time.Second {
		t.Fatalf("OfferTimeout default = %v; want 1s", cfg.OfferTimeout)
	}
	if cfg.CheckInterval != 1000 {
		t.Fatalf("CheckInterval default = %d; want 1000", cfg.CheckInterval)
	}
	if cfg.BatchSize != 1000 {
		t.Fatalf("BatchSize default = %d; want 1000", cfg.BatchSize)
	}
}

func TestNew_InvalidOptions_ReturnsError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
	}{
		{"zero pool", WithPoolSize(0)},
		{"negative fairness delay", WithFairnessDelay(-time.Second)},
		{"zero queue capacity", WithQueueCapacity(0)},
		{"zero offer timeout", WithOfferTimeout(0)},
		{"zero check interval", WithCheckInterval(0)},
		{"zero batch size", WithBatchSize(0)},
		{"zero throttle", WithThrottle(0, 1)},
		{"nil clock", WithClock(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(context.Background(), WithBackend(search.NewStatic()), tt.opt)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if e != nil {
				t.Fatalf("expected nil engine on error, got: %v", e)
			}
		})
	}
}

func TestNew_ValidOptions_Succeeds(t *testing.T) {
	t.Parallel()

	e, err := New(
		context.Background(),
		WithBackend(search.NewStatic()),
		WithPoolSize(2),
		WithFairnessDelay(0),
		WithQueueCapacity(8),
		WithOfferTimeout(10*time.Millisecond),
		WithCheckInterval(10),
		WithBatchSize(5),
		WithThrottle(100, 1),
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error from New with valid options: %v", err)
	}
	if e == nil {
		t.Fatalf("expected non-nil engine")
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
