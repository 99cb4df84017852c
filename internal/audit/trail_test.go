package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UpswitchEU/valuation-history/internal/domain"
)

func syncRecord(reportID string, success bool, durationMs float64) domain.AuditRecord {
	return domain.AuditRecord{
		Operation:  domain.OperationSync,
		ReportID:   reportID,
		Success:    success,
		DurationMs: durationMs,
		SessionID:  "sess-1",
	}
}

func TestLogAssignsIdentityAndTimestamp(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	trail := NewTrail(WithClock(func() time.Time { return at }))

	entry := trail.Log(syncRecord("rep-1", true, 42))

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", entry.ID.String())
	assert.Equal(t, at, entry.Timestamp)
	assert.Equal(t, domain.OperationSync, entry.Operation)
	assert.Equal(t, 1, trail.Len())
}

func TestLogRecordsFailures(t *testing.T) {
	trail := NewTrail()

	trail.Log(syncRecord("rep-1", true, 10))
	trail.Log(domain.AuditRecord{
		Operation:  domain.OperationSync,
		ReportID:   "rep-1",
		Success:    false,
		DurationMs: 250,
		Error:      "remote store unavailable",
	})

	failures := trail.FailuresOnly()
	require.Len(t, failures, 1)
	assert.Equal(t, "remote store unavailable", failures[0].Error)
}

func TestLogFreezesMetadata(t *testing.T) {
	trail := NewTrail()
	metadata := map[string]any{
		"fieldsChanged": []any{"revenue"},
		"client":        map[string]any{"build": "1.4.2"},
	}

	trail.Log(domain.AuditRecord{
		Operation: domain.OperationEdit,
		ReportID:  "rep-1",
		Success:   true,
		Metadata:  metadata,
	})

	metadata["client"].(map[string]any)["build"] = "tampered"
	metadata["fieldsChanged"].([]any)[0] = "tampered"

	entries := trail.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "1.4.2", entries[0].Metadata["client"].(map[string]any)["build"])
	assert.Equal(t, "revenue", entries[0].Metadata["fieldsChanged"].([]any)[0])
}

func TestQueriesReturnIsolatedCopies(t *testing.T) {
	trail := NewTrail()
	trail.Log(domain.AuditRecord{
		Operation: domain.OperationEdit,
		ReportID:  "rep-1",
		Success:   true,
		Metadata:  map[string]any{"field": "revenue"},
	})

	first := trail.All()
	first[0].Metadata["field"] = "tampered"

	second := trail.All()
	assert.Equal(t, "revenue", second[0].Metadata["field"])
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	trail := NewTrail()

	for i := 0; i < DefaultCapacity+1; i++ {
		trail.Log(domain.AuditRecord{
			Operation:     domain.OperationEdit,
			ReportID:      "rep-1",
			Success:       true,
			CorrelationID: fmt.Sprintf("corr-%d", i),
		})
	}

	assert.Equal(t, DefaultCapacity, trail.Len())
	assert.Empty(t, trail.ByCorrelationID("corr-0"), "the oldest entry is gone")
	assert.Len(t, trail.ByCorrelationID(fmt.Sprintf("corr-%d", DefaultCapacity)), 1)
}

func TestSmallCapacityKeepsNewest(t *testing.T) {
	trail := NewTrail(WithCapacity(3))

	for i := 0; i < 5; i++ {
		trail.Log(domain.AuditRecord{
			Operation:     domain.OperationLoad,
			ReportID:      "rep-1",
			Success:       true,
			CorrelationID: fmt.Sprintf("corr-%d", i),
		})
	}

	entries := trail.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "corr-2", entries[0].CorrelationID)
	assert.Equal(t, "corr-4", entries[2].CorrelationID)
}

func TestQueryFilters(t *testing.T) {
	trail := NewTrail()
	trail.Log(syncRecord("rep-1", true, 10))
	trail.Log(syncRecord("rep-2", true, 20))
	trail.Log(domain.AuditRecord{Operation: domain.OperationRestore, ReportID: "rep-1", Success: true})

	assert.Len(t, trail.ByReportID("rep-1"), 2)
	assert.Len(t, trail.ByOperation(domain.OperationSync), 2)
	assert.Len(t, trail.ByOperation(domain.OperationRestore), 1)
	assert.Empty(t, trail.ByOperation(domain.OperationDelete))
}

func TestByTimeRangeIsInclusive(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	trail := NewTrail(WithClock(func() time.Time {
		at := base.Add(time.Duration(tick) * time.Minute)
		tick++
		return at
	}))

	for i := 0; i < 4; i++ {
		trail.Log(syncRecord("rep-1", true, 10))
	}

	within := trail.ByTimeRange(base.Add(time.Minute), base.Add(2*time.Minute))
	require.Len(t, within, 2)
	assert.Equal(t, base.Add(time.Minute), within[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Minute), within[1].Timestamp)
}

func TestStatsFor(t *testing.T) {
	trail := NewTrail()
	trail.Log(syncRecord("rep-1", true, 100))
	trail.Log(syncRecord("rep-1", true, 200))
	trail.Log(syncRecord("rep-1", true, 300))

	stats := trail.StatsFor(domain.OperationSync)
	assert.Equal(t, 3, stats.TotalOperations)
	assert.Equal(t, 3, stats.SuccessCount)
	assert.Zero(t, stats.FailureCount)
	assert.Equal(t, 1.0, stats.SuccessRate)
	assert.Equal(t, 200.0, stats.AvgDurationMs)
	assert.Equal(t, 300.0, stats.P95DurationMs)
}

func TestStatsForMixedOutcomes(t *testing.T) {
	trail := NewTrail()
	trail.Log(syncRecord("rep-1", true, 80))
	trail.Log(syncRecord("rep-1", false, 120))
	trail.Log(domain.AuditRecord{Operation: domain.OperationLoad, ReportID: "rep-1", Success: true, DurationMs: 5000})

	stats := trail.StatsFor(domain.OperationSync)
	assert.Equal(t, 2, stats.TotalOperations)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 0.5, stats.SuccessRate)
	assert.Equal(t, 100.0, stats.AvgDurationMs)

	overall := trail.StatsFor("")
	assert.Equal(t, 3, overall.TotalOperations)
}

func TestStatsForEmptySelection(t *testing.T) {
	trail := NewTrail()

	stats := trail.StatsFor(domain.OperationSync)
	assert.Zero(t, stats.TotalOperations)
	assert.Zero(t, stats.SuccessRate)
	assert.Zero(t, stats.P95DurationMs)
}

func TestClearEmptiesTheTrail(t *testing.T) {
	trail := NewTrail()
	trail.Log(syncRecord("rep-1", true, 10))

	trail.Clear()

	assert.Zero(t, trail.Len())
	assert.Empty(t, trail.All())
}
