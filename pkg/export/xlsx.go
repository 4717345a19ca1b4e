package export

import (
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const xlsxSheet = "Submissions"

// renderXLSX writes the same header and cells as the CSV export into a
// single worksheet with a bold, frozen header row. Excel caps a cell at
// excelize.TotalCellChars characters; longer values are cut by excelize and
// reported with a warning.
func (e *Exporter) renderXLSX(t *Table, title string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, err
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: title, Creator: e.org}); err != nil {
		return nil, err
	}

	header := t.Header()
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return nil, err
	}
	truncated := 0
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		rec := row.Record()
		for _, v := range rec {
			if utf8.RuneCountInString(v) > excelize.TotalCellChars {
				truncated++
			}
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &rec); err != nil {
			return nil, err
		}
	}
	if truncated > 0 {
		e.logger.Warn("xlsx cells truncated to the Excel cell limit",
			zap.String("title", title),
			zap.Int("cells", truncated),
			zap.Int("limit", excelize.TotalCellChars))
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"F5F7FA"}},
	})
	if err != nil {
		return nil, err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(xlsxSheet, "A1", last, style); err != nil {
		return nil, err
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return nil, err
	}
	if err := f.SetColWidth(xlsxSheet, "A", lastCol, 20); err != nil {
		return nil, err
	}
	if err := f.SetPanes(xlsxSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
