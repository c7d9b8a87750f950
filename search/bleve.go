package search

import (
	"context"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/ygrebnov/errorc"
)

// DefaultPageSize is the number of hits fetched per search request.
const DefaultPageSize = 500

// BleveBackend streams rows out of a bleve index, one page at a time.
type BleveBackend struct {
	index    bleve.Index
	pageSize int

	closeOnce sync.Once
}

// NewMemBleve returns a backend over an empty in-memory index.
func NewMemBleve() (*BleveBackend, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &BleveBackend{index: idx, pageSize: DefaultPageSize}, nil
}

// OpenBleve opens the index at path, creating it when it does not exist.
func OpenBleve(path string) (*BleveBackend, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, errorc.With(err, errorc.String("path", path))
	}
	return &BleveBackend{index: idx, pageSize: DefaultPageSize}, nil
}

// SetPageSize changes the page size. Values below 1 are ignored.
func (b *BleveBackend) SetPageSize(n int) {
	if n > 0 {
		b.pageSize = n
	}
}

// Index stores doc under id.
func (b *BleveBackend) Index(id string, doc map[string]any) error {
	return b.index.Index(id, doc)
}

// IndexBatch stores docs keyed by id in one batch.
func (b *BleveBackend) IndexBatch(docs map[string]map[string]any) error {
	batch := b.index.NewBatch()
	for id, doc := range docs {
		if err := batch.Index(id, doc); err != nil {
			return errorc.With(err, errorc.String("id", id))
		}
	}
	return b.index.Batch(batch)
}

// Count returns the number of indexed documents.
func (b *BleveBackend) Count() (uint64, error) { return b.index.DocCount() }

func (b *BleveBackend) Close() error {
	var err error
	b.closeOnce.Do(func() { err = b.index.Close() })
	return err
}

func buildQuery(q Query) query.Query {
	var main query.Query
	if q.Q == "" || q.Q == "*" || q.Q == "*:*" {
		main = bleve.NewMatchAllQuery()
	} else {
		main = bleve.NewQueryStringQuery(q.Q)
	}
	if len(q.Filters) == 0 {
		return main
	}
	parts := []query.Query{main}
	for _, f := range q.Filters {
		parts = append(parts, bleve.NewQueryStringQuery(f))
	}
	return bleve.NewConjunctionQuery(parts...)
}

func (b *BleveBackend) Stream(ctx context.Context, q Query, fn func(Row) bool) error {
	bq := buildQuery(q)
	for from := 0; ; from += b.pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := bleve.NewSearchRequestOptions(bq, b.pageSize, from, false)
		req.Fields = []string{"*"}
		req.SortBy([]string{"_id"})

		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return errorc.With(err, errorc.String("query", q.String()))
		}
		for _, hit := range res.Hits {
			if fn(Row(hit.Fields)) {
				return nil
			}
		}
		if len(res.Hits) < b.pageSize {
			return nil
		}
	}
}
