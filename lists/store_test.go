package lists

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/bulkexport/batch"
)

const listsYAML = `
lists:
  dr9:
    fields: [status, source]
    entries:
      - lft: 1
        rgt: 100
        values: [Vulnerable, state]
      - lft: 10
        rgt: 20
        values: [Endangered, EPBC]
  dr7:
    fields: [kind]
    entries:
      - lft: 50
        rgt: 60
        values: [weed]
`

func TestStore_Value(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lists.yaml")
	require.NoError(t, os.WriteFile(path, []byte(listsYAML), 0o600))
	s, err := Load(path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		list   string
		field  int
		iv     batch.Interval
		expect string
	}{
		{"narrowest entry wins", "dr9", 0, batch.Interval{Lft: 12, Rgt: 13}, "Endangered"},
		{"second field", "dr9", 1, batch.Interval{Lft: 12, Rgt: 13}, "EPBC"},
		{"only wide entry encloses", "dr9", 0, batch.Interval{Lft: 30, Rgt: 31}, "Vulnerable"},
		{"outside every entry", "dr9", 0, batch.Interval{Lft: 200, Rgt: 201}, ""},
		{"field out of range", "dr7", 3, batch.Interval{Lft: 51, Rgt: 52}, ""},
		{"negative field", "dr7", -1, batch.Interval{Lft: 51, Rgt: 52}, ""},
		{"unknown list", "dr1", 0, batch.Interval{Lft: 51, Rgt: 52}, ""},
		{"partial overlap is not membership", "dr7", 0, batch.Interval{Lft: 55, Rgt: 65}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, s.Value(tt.list, tt.field, tt.iv))
		})
	}
	assert.Equal(t, []string{"status", "source"}, s.Fields("dr9"))
}

func TestStore_PutRejectsInvertedEntry(t *testing.T) {
	s := NewStore()
	err := s.Put("dr1", List{Entries: []Entry{{Lft: 5, Rgt: 1}}})
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lists: [unclosed"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}
