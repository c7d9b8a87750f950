package sink

import (
	"encoding/csv"
	"errors"
	"io"
)

// Pad copies the headerless CSV rows of src to dst under header, padding every
// row with empty cells to the header width. Rows of an export with extra
// columns vary in width; the columns are only known once the export ended.
// It returns the number of rows copied.
func Pad(dst io.Writer, src io.Reader, header []string) (int64, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	w := csv.NewWriter(dst)
	if err := w.Write(header); err != nil {
		return 0, err
	}

	var n int64
	row := make([]string, len(header))
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		if len(rec) > len(row) {
			return n, errors.New(Namespace + ": row wider than header")
		}
		m := copy(row, rec)
		clear(row[m:])
		if err := w.Write(row); err != nil {
			return n, err
		}
		n++
	}
	w.Flush()
	return n, w.Error()
}
