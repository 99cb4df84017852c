package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/UpswitchEU/valuation-history/internal/domain"
)

// ExportFormat selects the audit export encoding.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// csvColumns is the fixed export column order. Consumers parse exports
// positionally, so this must not be reordered.
var csvColumns = []string{
	"id",
	"timestamp",
	"operation",
	"reportId",
	"success",
	"durationMs",
	"correlationId",
	"error",
	"sessionId",
	"userId",
}

// Export serializes every retained entry as a JSON array or CSV document.
func (t *Trail) Export(format ExportFormat) (string, error) {
	entries := t.All()

	switch format {
	case FormatJSON:
		encoded, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to export audit trail as json: %w", err)
		}
		return string(encoded), nil
	case FormatCSV:
		return exportCSV(entries)
	default:
		return "", fmt.Errorf("unsupported audit export format %q", format)
	}
}

func exportCSV(entries []domain.AuditEntry) (string, error) {
	var builder strings.Builder
	writer := csv.NewWriter(&builder)

	if err := writer.Write(csvColumns); err != nil {
		return "", fmt.Errorf("failed to write audit csv header: %w", err)
	}
	for _, entry := range entries {
		if err := writer.Write(csvRow(entry)); err != nil {
			return "", fmt.Errorf("failed to write audit csv row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush audit csv: %w", err)
	}
	return builder.String(), nil
}

// csvRow serializes one entry; absent optional fields become empty cells.
func csvRow(entry domain.AuditEntry) []string {
	return []string{
		entry.ID.String(),
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		string(entry.Operation),
		entry.ReportID,
		strconv.FormatBool(entry.Success),
		strconv.FormatFloat(entry.DurationMs, 'f', -1, 64),
		entry.CorrelationID,
		entry.Error,
		entry.SessionID,
		entry.UserID,
	}
}

// ExportXLSX renders the trail as a spreadsheet for reviewers who live
// in Excel. Column order matches the CSV export.
func (t *Trail) ExportXLSX() ([]byte, error) {
	entries := t.All()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := make([]any, len(csvColumns))
	for i, col := range csvColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write audit xlsx header: %w", err)
	}

	for i, entry := range entries {
		cells := csvRow(entry)
		row := make([]any, len(cells))
		for j, cell := range cells {
			row[j] = cell
		}
		axis, err := excelize.JoinCellName("A", i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to address audit xlsx row: %w", err)
		}
		if err := f.SetSheetRow(sheet, axis, &row); err != nil {
			return nil, fmt.Errorf("failed to write audit xlsx row: %w", err)
		}
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit xlsx: %w", err)
	}
	return buffer.Bytes(), nil
}
