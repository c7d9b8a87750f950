// Package lists resolves list-membership columns: for a record's taxonomic
// interval it finds the enclosing entry of a list and returns one of its fields.
package lists

import (
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/ygrebnov/errorc"
	"gopkg.in/yaml.v3"

	"github.com/ygrebnov/bulkexport/batch"
)

const Namespace = "lists"

var ErrInvalidEntry = errors.New(Namespace + ": entry interval is inverted")

// Entry is one taxon on a list with its field values.
type Entry struct {
	Lft    int64    `yaml:"lft"`
	Rgt    int64    `yaml:"rgt"`
	Values []string `yaml:"values"`
}

func (e Entry) interval() batch.Interval { return batch.Interval{Lft: e.Lft, Rgt: e.Rgt} }

// List is a named set of entries sharing the same field names.
type List struct {
	Fields  []string `yaml:"fields"`
	Entries []Entry  `yaml:"entries"`
}

type file struct {
	Lists map[string]List `yaml:"lists"`
}

// Store holds lists in memory. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	lists map[string]List
}

var _ batch.ListLookup = (*Store)(nil)

func NewStore() *Store { return &Store{lists: make(map[string]List)} }

// Load reads lists from a YAML file.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errorc.With(err, errorc.String("path", path))
	}
	s := NewStore()
	for id, l := range f.Lists {
		if err := s.Put(id, l); err != nil {
			return nil, errorc.With(err, errorc.String("path", path), errorc.String("list", id))
		}
	}
	return s, nil
}

// Put replaces the list id. Entries are kept narrowest first so that
// lookups return the most specific enclosing entry.
func (s *Store) Put(id string, l List) error {
	for _, e := range l.Entries {
		if e.Lft > e.Rgt {
			return ErrInvalidEntry
		}
	}
	entries := append([]Entry(nil), l.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Rgt-entries[i].Lft < entries[j].Rgt-entries[j].Lft
	})
	l.Entries = entries

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[id] = l
	return nil
}

// Fields returns the field names of list id.
func (s *Store) Fields(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.lists[id].Fields...)
}

// Value implements batch.ListLookup.
func (s *Store) Value(listID string, field int, iv batch.Interval) string {
	s.mu.RLock()
	l, ok := s.lists[listID]
	s.mu.RUnlock()
	if !ok || field < 0 {
		return ""
	}
	for _, e := range l.Entries {
		if e.interval().Contains(iv) {
			if field < len(e.Values) {
				return e.Values[field]
			}
			return ""
		}
	}
	return ""
}
