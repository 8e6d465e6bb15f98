package records

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/use-agent/padcrawl/checkpoint"
	"github.com/use-agent/padcrawl/models"
)

const sheetName = "Projects"

// WriteCanonical writes t with a Has_PAD_Documents column holding each row's
// status. Rows whose id has no canonical record are Unknown. An existing
// status column is replaced.
func WriteCanonical(path string, t *Table, canon []models.CanonicalRecord) error {
	status := make(map[string]models.PadStatus, len(canon))
	for _, c := range canon {
		status[c.ProjectID] = c.Status
	}

	idCol := t.Column(ColumnID)
	header, statusCol := withStatusColumn(t.Header)

	out := make([][]string, 0, len(t.Rows)+1)
	out = append(out, header)
	for _, row := range t.Rows {
		s := models.PadUnknown
		if idCol >= 0 {
			id := strings.TrimSpace(row[idCol])
			if id == "" {
				id = UnknownID
			}
			if st, ok := status[id]; ok {
				s = st
			}
		}
		r := pad(slices.Clone(row), len(header))
		r[statusCol] = string(s)
		out = append(out, r)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return writeXLSX(path, out)
	default:
		return writeCSV(path, out)
	}
}

func withStatusColumn(header []string) ([]string, int) {
	for i, h := range header {
		if strings.TrimSpace(h) == ColumnStatus {
			return slices.Clone(header), i
		}
	}
	h := append(slices.Clone(header), ColumnStatus)
	return h, len(h) - 1
}

func writeCSV(path string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return models.NewCrawlError(models.ErrCodePersistence, "encode "+filepath.Base(path), err)
	}
	return checkpoint.WriteFile(path, buf.Bytes())
}

func writeXLSX(path string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return models.NewCrawlError(models.ErrCodePersistence, "create workbook", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return models.NewCrawlError(models.ErrCodePersistence, "create workbook", err)
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return models.NewCrawlError(models.ErrCodePersistence, "write row", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return models.NewCrawlError(models.ErrCodePersistence, "encode "+filepath.Base(path), err)
	}
	return checkpoint.WriteFile(path, buf.Bytes())
}
