package metrics

// NoopProvider discards everything. It is the default provider.
type NoopProvider struct{}

// NewNoopProvider constructs a Provider that discards all metrics.
func NewNoopProvider() NoopProvider { return NoopProvider{} }

func (NoopProvider) Counter(_ string, _ ...InstrumentOption) Counter { return noop{} }

func (NoopProvider) UpDownCounter(_ string, _ ...InstrumentOption) UpDownCounter { return noop{} }

func (NoopProvider) Histogram(_ string, _ ...InstrumentOption) Histogram { return noop{} }

type noop struct{}

func (noop) Add(_ int64)      {}
func (noop) Record(_ float64) {}
