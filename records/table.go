// Package records reads the project list and writes the canonical status
// table. CSV and XLSX files are supported, chosen by extension.
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/use-agent/padcrawl/models"
)

// Column names of the project list.
const (
	ColumnID     = "Identifier"
	ColumnURL    = "project_url"
	ColumnStatus = "Has_PAD_Documents"
)

// UnknownID replaces an empty identifier.
const UnknownID = "Unknown"

// Table is a header row and data rows, all of equal width.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable loads a .csv or .xlsx file. XLSX files are read from their first
// sheet.
func ReadTable(path string) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, models.NewCrawlError(models.ErrCodeInvalidInput, "unsupported table format "+ext, nil)
	}
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeInvalidInput, "read "+filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return nil, models.NewCrawlError(models.ErrCodeInvalidInput, filepath.Base(path)+" has no header row", nil)
	}

	t := &Table{Header: trimBOM(rows[0])}
	for _, r := range rows[1:] {
		if blank(r) {
			continue
		}
		t.Rows = append(t.Rows, pad(r, len(t.Header)))
	}
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

// Column returns the index of a header, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

// Records returns the rows to crawl: rows without a URL are skipped and an
// empty identifier becomes UnknownID.
func (t *Table) Records() ([]models.ProjectRecord, error) {
	all, err := t.AllRecords()
	if err != nil {
		return nil, err
	}
	out := make([]models.ProjectRecord, 0, len(all))
	for _, r := range all {
		if r.URL != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// AllRecords returns one record per row, including rows without a URL.
func (t *Table) AllRecords() ([]models.ProjectRecord, error) {
	idCol, urlCol := t.Column(ColumnID), t.Column(ColumnURL)
	if idCol < 0 || urlCol < 0 {
		return nil, models.NewCrawlError(models.ErrCodeInvalidInput,
			fmt.Sprintf("table needs %q and %q columns", ColumnID, ColumnURL), nil)
	}
	out := make([]models.ProjectRecord, 0, len(t.Rows))
	for _, row := range t.Rows {
		id := strings.TrimSpace(row[idCol])
		if id == "" {
			id = UnknownID
		}
		out = append(out, models.ProjectRecord{ID: id, URL: strings.TrimSpace(row[urlCol])})
	}
	return out, nil
}

func trimBOM(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// pad widens short rows; excelize drops trailing empty cells.
func pad(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	return append(row, make([]string, width-len(row))...)
}
