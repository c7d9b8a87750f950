// Package search defines the record source an export streams from.
package search

import (
	"context"
	"fmt"
	"strconv"
)

// Query selects one partition of an export.
type Query struct {
	// Q is the main query string. Empty matches everything.
	Q string
	// Filters narrow Q; every filter must match.
	Filters []string
	// Sensitive selects the processor that may see sensitive fields.
	Sensitive bool
}

func (q Query) String() string {
	return fmt.Sprintf("q=%q fq=%q sensitive=%t", q.Q, q.Filters, q.Sensitive)
}

// Backend streams the records matching a query.
type Backend interface {
	// Stream calls fn for every matching row in backend order until fn returns
	// true, the result set is exhausted, or ctx is done.
	Stream(ctx context.Context, q Query, fn func(Row) (stop bool)) error
}

// Row is one record. Values are scalars or slices of scalars.
type Row map[string]any

// Values returns the string forms of field. A missing field gives nil.
func (r Row) Values(field string) []string {
	v, ok := r[field]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if e != nil {
				out = append(out, format(e))
			}
		}
		return out
	default:
		return []string{format(v)}
	}
}

// Str returns the first value of field.
func (r Row) Str(field string) (string, bool) {
	vs := r.Values(field)
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Float parses the first value of field as a float.
func (r Row) Float(field string) (float64, bool) {
	switch t := r[field].(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	s, ok := r.Str(field)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int parses the first value of field as an integer. Whole floats are accepted.
func (r Row) Int(field string) (int64, bool) {
	f, ok := r.Float(field)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
