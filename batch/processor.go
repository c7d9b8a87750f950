package batch

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ygrebnov/bulkexport/metrics"
	"github.com/ygrebnov/bulkexport/search"
)

type config struct {
	BatchSize          int
	IncludeMultivalues bool
	IncludeExtra       bool
	SensitiveAllowed   bool
	Enricher           Enricher
	Lists              ListLookup
	Logger             zerolog.Logger
	Metrics            metrics.Provider
}

// Option configures a Processor.
type Option func(*config)

// WithBatchSize overrides DefaultBatchSize. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.BatchSize = n
		}
	}
}

// WithMultivalues joins every value of a multi-valued field with "|" instead of keeping the first.
func WithMultivalues(on bool) Option { return func(c *config) { c.IncludeMultivalues = on } }

// WithExtraColumns appends the row's "_" fields as extra columns.
func WithExtraColumns(on bool) Option { return func(c *config) { c.IncludeExtra = on } }

// WithSensitive marks the processor as allowed to see sensitive records in full.
func WithSensitive(on bool) Option { return func(c *config) { c.SensitiveAllowed = on } }

func WithEnricher(e Enricher) Option { return func(c *config) { c.Enricher = e } }

func WithLists(l ListLookup) Option { return func(c *config) { c.Lists = l } }

func WithLogger(l zerolog.Logger) Option { return func(c *config) { c.Logger = l } }

func WithMetrics(p metrics.Provider) Option {
	return func(c *config) {
		if p != nil {
			c.Metrics = p
		}
	}
}

// Processor builds output rows and writes them in batches.
type Processor struct {
	cfg     config
	headers Headers
	shared  *Shared
	w       RowWriter
	log     zerolog.Logger

	rows   [][]string
	points []Point

	processed metrics.Counter
	flushes   metrics.Counter
	calls     metrics.Counter
	failures  metrics.Counter
}

// New returns a processor writing to w.
func New(shared *Shared, w RowWriter, h Headers, opts ...Option) *Processor {
	cfg := config{
		BatchSize: DefaultBatchSize,
		Logger:    zerolog.Nop(),
		Metrics:   metrics.NewNoopProvider(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Processor{
		cfg:       cfg,
		headers:   h,
		shared:    shared,
		w:         w,
		log:       cfg.Logger.With().Str("component", "batch").Logger(),
		rows:      make([][]string, 0, cfg.BatchSize),
		processed: cfg.Metrics.Counter(metrics.RowsProcessed),
		flushes:   cfg.Metrics.Counter(metrics.BatchFlushes),
		calls:     cfg.Metrics.Counter(metrics.EnrichCalls),
		failures:  cfg.Metrics.Counter(metrics.EnrichFailures),
	}
}

// Pending returns the number of buffered rows.
func (p *Processor) Pending() int { return len(p.rows) }

// Process adds row to the batch. Rows without a data resource are skipped.
// It returns true when the export ceiling is reached; the row is then dropped.
func (p *Processor) Process(ctx context.Context, row search.Row) (finished bool) {
	dr, ok := row.Str("data_resource_uid")
	if !ok || dr == "" {
		return false
	}
	if !p.shared.Limiter.Reserve() {
		return true
	}

	h := p.headers
	values := make([]string, h.Width())

	for i, f := range h.Fields {
		values[i] = p.fieldValue(row, f)
	}

	if len(h.ListFields) > 0 && p.cfg.Lists != nil {
		p.listValues(row, values[len(h.Fields)+len(h.AnalysisLayers):])
	}

	if len(h.QAFields) > 0 {
		assertions := row.Values("assertions")
		off := len(h.Fields) + len(h.AnalysisLayers) + len(h.ListFields)
		for i, qa := range h.QAFields {
			if slices.Contains(assertions, qa) {
				values[off+i] = "true"
			} else {
				values[off+i] = "false"
			}
		}
	}

	if p.cfg.IncludeExtra && p.extraAllowed(row) {
		values = append(values, p.shared.Extra.values(row)...)
	}

	if len(h.AnalysisLayers) > 0 {
		p.points = append(p.points, coordinates(row))
	}

	for _, f := range []string{"institution_uid", "collection_uid", "data_provider_uid", "data_resource_uid"} {
		uid, _ := row.Str(f)
		p.shared.Sources.Inc(uid)
	}

	p.rows = append(p.rows, values)
	p.processed.Add(1)
	if len(p.rows) >= p.cfg.BatchSize {
		p.Flush(ctx)
	}
	return false
}

// Flush enriches the buffered rows, hands them to the writer and clears the batch.
func (p *Processor) Flush(ctx context.Context) {
	if len(p.rows) == 0 {
		return
	}
	p.enrich(ctx)

	p.shared.flushed.Add(int64(len(p.rows)))
	for _, r := range p.rows {
		p.w.Write(ctx, r)
	}
	p.flushes.Add(1)

	clear(p.rows)
	p.rows = p.rows[:0]
	p.points = p.points[:0]
}

func (p *Processor) fieldValue(row search.Row, field string) string {
	vs := row.Values(field)
	switch {
	case len(vs) == 0:
		return ""
	case p.cfg.IncludeMultivalues:
		return strings.Join(vs, "|")
	default:
		return vs[0]
	}
}

func (p *Processor) listValues(row search.Row, dst []string) {
	lft, ok := row.Int("lft")
	if !ok {
		return
	}
	rgt, ok := row.Int("rgt")
	if !ok {
		return
	}
	iv := Interval{Lft: lft, Rgt: rgt}

	// consecutive columns of the same list take successive field indices
	listID, idx := "", 0
	for i, name := range p.headers.ListFields {
		switch {
		case listID != "" && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, listID+".")):
			idx++
		default:
			listID, _, _ = strings.Cut(name, ".")
			idx = 0
		}
		dst[i] = p.cfg.Lists.Value(listID, idx, iv)
	}
}

func (p *Processor) extraAllowed(row search.Row) bool {
	if p.cfg.SensitiveAllowed {
		return true
	}
	s, _ := row.Str("sensitive")
	return s == "" || s == "Not sensitive"
}

func coordinates(row search.Row) Point {
	lon, okLon := row.Float("sensitive_longitude")
	lat, okLat := row.Float("sensitive_latitude")
	if !okLon || !okLat {
		lon, okLon = row.Float("longitude")
		lat, okLat = row.Float("latitude")
	}
	if !okLon || !okLat {
		return invalidPoint
	}
	return Point{Lon: lon, Lat: lat}
}

// enrich splices sampled layer values into the batch. Failures leave the layer columns empty.
func (p *Processor) enrich(ctx context.Context) {
	layers := p.headers.AnalysisLayers
	if p.cfg.Enricher == nil || len(layers) == 0 {
		return
	}

	var (
		idx []int
		pts []Point
	)
	for i, pt := range p.points {
		if pt.Valid() {
			idx = append(idx, i)
			pts = append(pts, pt)
		}
	}
	if len(pts) == 0 {
		return
	}

	p.calls.Add(1)
	sampled, err := p.cfg.Enricher.Sample(ctx, layers, pts)
	if err != nil {
		p.failures.Add(1)
		p.log.Warn().Err(err).Int("rows", len(p.rows)).Msg("layer sampling failed")
		return
	}

	off := len(p.headers.Fields)
	for k, i := range idx {
		// row 0 of the response is its header
		if k+1 >= len(sampled) {
			break
		}
		s := sampled[k+1]
		if len(s) != len(layers)+2 {
			continue
		}
		copy(p.rows[i][off:off+len(layers)], s[2:])
	}
}
