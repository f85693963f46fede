// Package spreadsheet reads company lists from and writes enriched rows to
// .xlsx workbooks.
//
// Input rows whose Company Name and CIN are both blank are dropped on read, so
// an output workbook has one row per non-blank input row.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/company-scraper/internal/scraper"
)

// ContentType is the MIME type of an .xlsx workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// OutputSheet is the name of the single sheet in generated workbooks.
const OutputSheet = "Sheet1"

// ErrMissingColumn is returned when the header row lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// Read parses the first sheet of an .xlsx workbook. The first row is the
// header; only the Company Name and CIN columns are used. Rows where both are
// blank are skipped.
func Read(r io.Reader) ([]scraper.InputRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, scraper.ColumnCompanyName)
	}

	nameCol, cinCol := -1, -1
	for i, header := range rows[0] {
		switch strings.TrimSpace(header) {
		case scraper.ColumnCompanyName:
			if nameCol == -1 {
				nameCol = i
			}
		case scraper.ColumnCIN:
			if cinCol == -1 {
				cinCol = i
			}
		}
	}
	if nameCol == -1 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, scraper.ColumnCompanyName)
	}
	if cinCol == -1 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, scraper.ColumnCIN)
	}

	out := make([]scraper.InputRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		input := scraper.InputRow{
			Name: cell(row, nameCol),
			CIN:  cell(row, cinCol),
		}
		if input.Name == "" && input.CIN == "" {
			continue
		}
		out = append(out, input)
	}
	return out, nil
}

// ReadFile is Read for a workbook on disk.
func ReadFile(path string) ([]scraper.InputRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = file.Close() }()
	return Read(file)
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// Encode renders rows as a single-sheet workbook with the output header.
func Encode(rows []scraper.OutputRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sw, err := f.NewStreamWriter(OutputSheet)
	if err != nil {
		return nil, fmt.Errorf("stream writer: %w", err)
	}
	if err := sw.SetRow("A1", toCells(scraper.OutputColumns)); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("cell address: %w", err)
		}
		if err := sw.SetRow(addr, toCells(row.Values())); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
