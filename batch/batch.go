// Package batch turns search rows into fixed-layout output rows and forwards
// them to a writer in batches, enriching each batch with sampled layer values
// on the way.
//
// A Processor is owned by one goroutine at a time. The state it shares with
// the other processors of the same export lives in Shared and is safe for
// concurrent use.
package batch

import (
	"context"
	"math"
)

// DefaultBatchSize is the number of rows buffered before a flush.
const DefaultBatchSize = 1000

// NoCoordinate marks a row without a usable coordinate pair.
const NoCoordinate = math.MinInt32

// Headers fixes the column layout of every output row:
// Fields, then AnalysisLayers, then ListFields, then QAFields, then any extra columns.
type Headers struct {
	Fields         []string
	AnalysisLayers []string
	// ListFields are "<listID>.<field>" names. A name starting with "." takes
	// the next field of the list named before it.
	ListFields []string
	QAFields   []string
}

// Width returns the number of fixed columns.
func (h Headers) Width() int {
	return len(h.Fields) + len(h.AnalysisLayers) + len(h.ListFields) + len(h.QAFields)
}

// Names returns the fixed column names in output order.
func (h Headers) Names() []string {
	out := make([]string, 0, h.Width())
	out = append(out, h.Fields...)
	out = append(out, h.AnalysisLayers...)
	out = append(out, h.ListFields...)
	return append(out, h.QAFields...)
}

// Point is a longitude/latitude pair.
type Point struct {
	Lon, Lat float64
}

var invalidPoint = Point{Lon: NoCoordinate, Lat: NoCoordinate}

// Valid reports whether p holds a real coordinate.
func (p Point) Valid() bool {
	return p.Lon != NoCoordinate && p.Lat != NoCoordinate
}

// Interval is a record's nested-set position in the taxonomy.
type Interval struct {
	Lft, Rgt int64
}

// Contains reports whether other lies inside iv.
func (iv Interval) Contains(other Interval) bool {
	return iv.Lft <= other.Lft && other.Rgt <= iv.Rgt
}

// Enricher samples analysis layers at points.
type Enricher interface {
	// Sample returns a header row followed by one row per point,
	// each row being the two coordinate columns and then one value per layer.
	Sample(ctx context.Context, layers []string, points []Point) ([][]string, error)
}

// ListLookup resolves list-membership columns.
type ListLookup interface {
	// Value returns field number field of the list entry of listID matching iv, or "".
	Value(listID string, field int, iv Interval) string
}

// RowWriter receives flushed rows.
type RowWriter interface {
	Write(ctx context.Context, row []string)
}
