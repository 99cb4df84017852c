package repository

import (
	"context"

	"github.com/UpswitchEU/valuation-history/internal/domain"
)

// VersionRepository is the persistence contract for version snapshots.
// The remote store deduplicates creates by idempotency key: a retried
// create with the same key returns the version stored by the first
// attempt instead of inserting a duplicate.
type VersionRepository interface {
	Create(ctx context.Context, version domain.ValuationVersion, idempotencyKey string) (domain.ValuationVersion, error)
	Update(ctx context.Context, version domain.ValuationVersion) error
	List(ctx context.Context, reportID string) ([]domain.ValuationVersion, error)
}

// AuditArchive is the long-term sink the in-memory audit trail writes
// through to on a best-effort basis.
type AuditArchive interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}
