// Package metrics defines the instruments the export engine records into and
// ships three providers: Noop (the default), Basic (in-memory, for tests and
// embedding) and Prometheus.
package metrics

// Provider hands out named instruments. Asking twice for the same name must
// return the same instrument. Implementations must be safe for concurrent use.
type Provider interface {
	Counter(name string, opts ...InstrumentOption) Counter
	UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter
	Histogram(name string, opts ...InstrumentOption) Histogram
}

// Counter only goes up.
type Counter interface {
	Add(n int64)
}

// UpDownCounter tracks a level such as running tasks or queue depth.
type UpDownCounter interface {
	Add(n int64)
}

// Histogram records float64 observations, usually seconds.
type Histogram interface {
	Record(v float64)
}

// InstrumentConfig is advisory metadata attached to an instrument.
type InstrumentConfig struct {
	Description string
	Unit        string
}

// InstrumentOption mutates InstrumentConfig.
type InstrumentOption func(*InstrumentConfig)

// WithDescription sets the help text of the instrument.
func WithDescription(desc string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Description = desc }
}

// WithUnit sets the unit of the instrument, e.g. "seconds" or "rows".
func WithUnit(unit string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Unit = unit }
}

func applyOptions(opts []InstrumentOption) InstrumentConfig {
	var cfg InstrumentConfig
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	return cfg
}
