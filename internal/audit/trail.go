// Package audit keeps an append-only, size-bounded log of every mutating
// session operation, queryable and exportable for compliance review.
package audit

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UpswitchEU/valuation-history/internal/domain"
	"github.com/UpswitchEU/valuation-history/internal/repository"
)

// DefaultCapacity bounds the in-memory ring buffer.
const DefaultCapacity = 10000

// Trail is an explicitly constructed audit log. Entries are immutable
// once appended; the oldest entry is evicted when capacity is reached.
// Safe for concurrent use.
type Trail struct {
	mu       sync.Mutex
	entries  []domain.AuditEntry
	capacity int
	archive  repository.AuditArchive
	now      func() time.Time
}

// Option customizes a Trail.
type Option func(*Trail)

// WithCapacity overrides the ring buffer bound.
func WithCapacity(capacity int) Option {
	return func(t *Trail) {
		if capacity > 0 {
			t.capacity = capacity
		}
	}
}

// WithArchive wires a best-effort write-through sink. Archive failures
// are logged and never surface to Log callers.
func WithArchive(archive repository.AuditArchive) Option {
	return func(t *Trail) {
		t.archive = archive
	}
}

// WithClock injects a time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTrail creates an audit trail with the default 10,000 entry bound.
func NewTrail(opts ...Option) *Trail {
	t := &Trail{
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Log assigns an id and timestamp, freezes the metadata and appends the
// entry. It always succeeds locally, including when the operation being
// recorded failed. Append and possible eviction happen under one lock.
func (t *Trail) Log(record domain.AuditRecord) domain.AuditEntry {
	entry := domain.AuditEntry{
		ID:            uuid.New(),
		Timestamp:     t.now(),
		Operation:     record.Operation,
		ReportID:      record.ReportID,
		Success:       record.Success,
		DurationMs:    record.DurationMs,
		CorrelationID: record.CorrelationID,
		Error:         record.Error,
		SessionID:     record.SessionID,
		UserID:        record.UserID,
		Metadata:      domain.CopyMetadata(record.Metadata),
	}

	t.mu.Lock()
	if len(t.entries) >= t.capacity {
		evict := len(t.entries) - t.capacity + 1
		t.entries = append(t.entries[:0], t.entries[evict:]...)
	}
	t.entries = append(t.entries, entry)
	t.mu.Unlock()

	if t.archive != nil {
		go t.archiveEntry(entry)
	}

	return entry.Clone()
}

func (t *Trail) archiveEntry(entry domain.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.archive.Record(ctx, entry); err != nil {
		log.Printf("[AUDIT] failed to archive entry %s: %v", entry.ID, err)
	}
}

// All returns every retained entry in append order.
func (t *Trail) All() []domain.AuditEntry {
	return t.filter(func(domain.AuditEntry) bool { return true })
}

// ByReportID returns entries for one report in append order.
func (t *Trail) ByReportID(reportID string) []domain.AuditEntry {
	return t.filter(func(e domain.AuditEntry) bool { return e.ReportID == reportID })
}

// ByOperation returns entries for one operation type in append order.
func (t *Trail) ByOperation(operation domain.AuditOperation) []domain.AuditEntry {
	return t.filter(func(e domain.AuditEntry) bool { return e.Operation == operation })
}

// ByCorrelationID returns entries sharing a correlation id.
func (t *Trail) ByCorrelationID(correlationID string) []domain.AuditEntry {
	return t.filter(func(e domain.AuditEntry) bool { return e.CorrelationID == correlationID })
}

// ByTimeRange returns entries with start <= timestamp <= end.
func (t *Trail) ByTimeRange(start, end time.Time) []domain.AuditEntry {
	return t.filter(func(e domain.AuditEntry) bool {
		return !e.Timestamp.Before(start) && !e.Timestamp.After(end)
	})
}

// FailuresOnly returns every failed entry in append order.
func (t *Trail) FailuresOnly() []domain.AuditEntry {
	return t.filter(func(e domain.AuditEntry) bool { return !e.Success })
}

// Len reports how many entries are currently retained.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Trail) filter(keep func(domain.AuditEntry) bool) []domain.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := []domain.AuditEntry{}
	for _, entry := range t.entries {
		if keep(entry) {
			out = append(out, entry.Clone())
		}
	}
	return out
}

// Stats summarizes retained entries, optionally scoped to one operation
// (pass an empty operation for all).
type Stats struct {
	TotalOperations int     `json:"totalOperations"`
	SuccessCount    int     `json:"successCount"`
	FailureCount    int     `json:"failureCount"`
	SuccessRate     float64 `json:"successRate"`
	AvgDurationMs   float64 `json:"avgDurationMs"`
	P95DurationMs   float64 `json:"p95DurationMs"`
}

// StatsFor computes summary statistics for the given operation, or for
// every entry when operation is empty. An empty selection yields all
// zeros.
func (t *Trail) StatsFor(operation domain.AuditOperation) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	durations := []float64{}
	stats := Stats{}
	for _, entry := range t.entries {
		if operation != "" && entry.Operation != operation {
			continue
		}
		stats.TotalOperations++
		if entry.Success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		durations = append(durations, entry.DurationMs)
	}

	if stats.TotalOperations == 0 {
		return stats
	}

	stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalOperations)

	var total float64
	for _, d := range durations {
		total += d
	}
	stats.AvgDurationMs = total / float64(len(durations))

	sort.Float64s(durations)
	stats.P95DurationMs = durations[int(0.95*float64(len(durations)))]

	return stats
}

// Clear wipes the trail and logs a warning with the discarded count.
func (t *Trail) Clear() {
	t.mu.Lock()
	count := len(t.entries)
	t.entries = nil
	t.mu.Unlock()
	log.Printf("[AUDIT] warning: audit trail cleared, %d entries discarded", count)
}
