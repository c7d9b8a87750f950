package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

const indexChunk = 1000

// batchIndexer is the part of the search backend used to load records.
type batchIndexer interface {
	IndexBatch(docs map[string]map[string]any) error
}

// loadRecords indexes a JSON-lines file, one object per line. A record's "id"
// field becomes its document id; records without one are keyed by line number.
func loadRecords(path string, idx batchIndexer) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return indexRecords(f, idx)
}

func indexRecords(r io.Reader, idx batchIndexer) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	total, line := 0, 0
	docs := make(map[string]map[string]any, indexChunk)
	flush := func() error {
		if len(docs) == 0 {
			return nil
		}
		if err := idx.IndexBatch(docs); err != nil {
			return err
		}
		total += len(docs)
		docs = make(map[string]map[string]any, indexChunk)
		return nil
	}

	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(b, &doc); err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		id, _ := doc["id"].(string)
		if id == "" {
			id = "line-" + strconv.Itoa(line)
		}
		docs[id] = doc
		if len(docs) >= indexChunk {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return total, err
	}
	return total, flush()
}
