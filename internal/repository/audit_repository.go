package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/UpswitchEU/valuation-history/internal/domain"
)

type auditArchiveRepository struct {
	pool *pgxpool.Pool
}

// NewAuditArchive wires the Postgres audit archive sink.
func NewAuditArchive(pool *pgxpool.Pool) AuditArchive {
	return &auditArchiveRepository{pool: pool}
}

func (r *auditArchiveRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	if r.pool == nil {
		return fmt.Errorf("audit archive not initialized")
	}

	var metadataJSON []byte
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadataJSON = encoded
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO audit_archive
		   (id, occurred_at, operation, report_id, success, duration_ms,
		    correlation_id, error_message, session_id, user_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID,
		entry.Timestamp,
		string(entry.Operation),
		entry.ReportID,
		entry.Success,
		entry.DurationMs,
		nullable(entry.CorrelationID),
		nullable(entry.Error),
		nullable(entry.SessionID),
		nullable(entry.UserID),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to archive audit entry: %w", err)
	}

	return nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
