package export

import (
	"bytes"
	"encoding/csv"
	"io"
)

// utf8BOM lets spreadsheet tools detect the encoding.
const utf8BOM = "\ufeff"

// WriteCSV writes t as CSV: BOM, header row, one row per record. Cells
// holding a comma, quote or line break are quoted with quotes doubled.
func WriteCSV(w io.Writer, t *Table) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := cw.Write(row.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func renderCSV(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
