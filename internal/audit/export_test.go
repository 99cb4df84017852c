package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/UpswitchEU/valuation-history/internal/domain"
)

func exportTrail(t *testing.T) *Trail {
	t.Helper()
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	trail := NewTrail(WithClock(func() time.Time { return at }))

	trail.Log(domain.AuditRecord{
		Operation:     domain.OperationSync,
		ReportID:      "rep-1",
		Success:       true,
		DurationMs:    42.5,
		CorrelationID: "corr-1",
		SessionID:     "sess-1",
		UserID:        "user-1",
	})
	trail.Log(domain.AuditRecord{
		Operation:  domain.OperationSync,
		ReportID:   "rep-2",
		Success:    false,
		DurationMs: 120,
		Error:      "remote store unavailable",
	})
	return trail
}

func TestExportCSVColumnOrder(t *testing.T) {
	trail := exportTrail(t)

	out, err := trail.Export(FormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{
		"id", "timestamp", "operation", "reportId", "success",
		"durationMs", "correlationId", "error", "sessionId", "userId",
	}, records[0])
}

func TestExportCSVRows(t *testing.T) {
	trail := exportTrail(t)

	out, err := trail.Export(FormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)

	first := records[1]
	assert.Equal(t, "2025-06-01T09:30:00Z", first[1])
	assert.Equal(t, "SYNC", first[2])
	assert.Equal(t, "rep-1", first[3])
	assert.Equal(t, "true", first[4])
	assert.Equal(t, "42.5", first[5])
	assert.Equal(t, "corr-1", first[6])

	second := records[2]
	assert.Equal(t, "false", second[4])
	assert.Equal(t, "remote store unavailable", second[7])
	assert.Empty(t, second[6], "absent correlationId stays an empty cell")
	assert.Empty(t, second[8])
	assert.Empty(t, second[9])
}

func TestExportJSON(t *testing.T) {
	trail := exportTrail(t)

	out, err := trail.Export(FormatJSON)
	require.NoError(t, err)

	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "rep-1", entries[0].ReportID)
	assert.Equal(t, "remote store unavailable", entries[1].Error)
}

func TestExportEmptyTrail(t *testing.T) {
	trail := NewTrail()

	csvOut, err := trail.Export(FormatCSV)
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(csvOut)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1, "header only")

	jsonOut, err := trail.Export(FormatJSON)
	require.NoError(t, err)
	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(jsonOut), &entries))
	assert.Empty(t, entries)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	trail := NewTrail()

	_, err := trail.Export(ExportFormat("yaml"))
	assert.Error(t, err)
}

func TestExportXLSX(t *testing.T) {
	trail := exportTrail(t)

	out, err := trail.ExportXLSX()
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "operation", rows[0][2])
	assert.Equal(t, "SYNC", rows[1][2])
	assert.Equal(t, "rep-2", rows[2][3])
}
