package records

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/use-agent/padcrawl/models"
)

const sampleCSV = "\ufeffIdentifier,title,project_url\n" +
	"P-ZW-001,Water supply,https://example.org/p/1\n" +
	",Unnamed,https://example.org/p/2\n" +
	"P-EG-003,No page,\n" +
	"\n" +
	"P-SN-004,\"Roads, phase 2\",https://example.org/p/4\n"

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadTable_CSV(t *testing.T) {
	tbl, err := ReadTable(writeTemp(t, "projects.csv", sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"Identifier", "title", "project_url"}, tbl.Header)
	assert.Len(t, tbl.Rows, 4, "blank line skipped")

	recs, err := tbl.Records()
	require.NoError(t, err)
	assert.Equal(t, []models.ProjectRecord{
		{ID: "P-ZW-001", URL: "https://example.org/p/1"},
		{ID: UnknownID, URL: "https://example.org/p/2"},
		{ID: "P-SN-004", URL: "https://example.org/p/4"},
	}, recs)

	all, err := tbl.AllRecords()
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "P-EG-003", all[2].ID)
}

func TestReadTable_MissingColumns(t *testing.T) {
	tbl, err := ReadTable(writeTemp(t, "projects.csv", "id,url\nA,http://a\n"))
	require.NoError(t, err)
	_, err = tbl.Records()
	assert.Equal(t, models.ErrCodeInvalidInput, models.ErrorCode(err))
}

func TestReadTable_Errors(t *testing.T) {
	_, err := ReadTable(writeTemp(t, "projects.json", "[]"))
	assert.Equal(t, models.ErrCodeInvalidInput, models.ErrorCode(err))

	_, err = ReadTable(writeTemp(t, "empty.csv", ""))
	assert.Error(t, err)

	_, err = ReadTable(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}

func TestWriteCanonical_CSVRoundTrip(t *testing.T) {
	tbl, err := ReadTable(writeTemp(t, "projects.csv", sampleCSV))
	require.NoError(t, err)

	canon := []models.CanonicalRecord{
		{ProjectID: "P-ZW-001", Status: models.PadYes},
		{ProjectID: UnknownID, Status: models.PadNo},
		{ProjectID: "P-EG-003", Status: models.PadUnknown},
	}
	out := filepath.Join(t.TempDir(), "merged.csv")
	require.NoError(t, WriteCanonical(out, tbl, canon))

	merged, err := ReadTable(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"Identifier", "title", "project_url", ColumnStatus}, merged.Header)
	require.Len(t, merged.Rows, 4)

	col := merged.Column(ColumnStatus)
	assert.Equal(t, "Yes", merged.Rows[0][col])
	assert.Equal(t, "No", merged.Rows[1][col])
	assert.Equal(t, "Unknown", merged.Rows[2][col])
	assert.Equal(t, "Unknown", merged.Rows[3][col], "absent from canon")
	assert.Equal(t, "Roads, phase 2", merged.Rows[3][1])

	// Writing the merged table again replaces the column instead of adding one.
	again := filepath.Join(t.TempDir(), "again.csv")
	require.NoError(t, WriteCanonical(again, merged, canon))
	tbl2, err := ReadTable(again)
	require.NoError(t, err)
	assert.Len(t, tbl2.Header, 4)
}

func TestXLSX_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Identifier", "project_url", "notes"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"P-1", "http://a"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"P-2", "http://b", "second"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	tbl, err := ReadTable(path)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Len(t, tbl.Rows[0], 3, "short rows are padded")

	recs, err := tbl.Records()
	require.NoError(t, err)
	assert.Equal(t, "P-2", recs[1].ID)

	out := filepath.Join(t.TempDir(), "merged.xlsx")
	require.NoError(t, WriteCanonical(out, tbl, []models.CanonicalRecord{{ProjectID: "P-1", Status: models.PadYes}}))

	merged, err := ReadTable(out)
	require.NoError(t, err)
	col := merged.Column(ColumnStatus)
	require.GreaterOrEqual(t, col, 0)
	assert.Equal(t, "Yes", merged.Rows[0][col])
	assert.Equal(t, "Unknown", merged.Rows[1][col])
}
