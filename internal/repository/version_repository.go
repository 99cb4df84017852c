package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/UpswitchEU/valuation-history/internal/domain"
)

const versionColumns = `id, report_id, version_number, label, notes, created_at, created_by,
	        input_snapshot, result_snapshot, changes_summary, is_pinned, tags`

type versionRepository struct {
	pool *pgxpool.Pool
}

// NewVersionRepository wires a repository backed by pgxpool.
func NewVersionRepository(pool *pgxpool.Pool) VersionRepository {
	return &versionRepository{pool: pool}
}

func (r *versionRepository) Create(ctx context.Context, version domain.ValuationVersion, idempotencyKey string) (domain.ValuationVersion, error) {
	if r.pool == nil {
		return domain.ValuationVersion{}, fmt.Errorf("version repository not initialized")
	}

	inputJSON, err := json.Marshal(version.InputSnapshot)
	if err != nil {
		return domain.ValuationVersion{}, fmt.Errorf("failed to encode input snapshot: %w", err)
	}
	changesJSON, err := json.Marshal(version.ChangesSummary)
	if err != nil {
		return domain.ValuationVersion{}, fmt.Errorf("failed to encode changes summary: %w", err)
	}
	var resultJSON []byte
	if version.ResultSnapshot != nil {
		resultJSON, err = json.Marshal(version.ResultSnapshot)
		if err != nil {
			return domain.ValuationVersion{}, fmt.Errorf("failed to encode result snapshot: %w", err)
		}
	}

	var key any
	if idempotencyKey != "" {
		key = idempotencyKey
	}

	tag, err := r.pool.Exec(
		ctx,
		`INSERT INTO valuation_versions
		   (id, report_id, version_number, label, notes, created_at, created_by,
		    input_snapshot, result_snapshot, changes_summary, is_pinned, tags, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT DO NOTHING`,
		version.ID,
		version.ReportID,
		version.VersionNumber,
		version.Label,
		version.Notes,
		version.CreatedAt,
		version.CreatedBy,
		inputJSON,
		resultJSON,
		changesJSON,
		version.IsPinned,
		version.Tags,
		key,
	)
	if err != nil {
		return domain.ValuationVersion{}, fmt.Errorf("failed to persist valuation version: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return version, nil
	}

	// Zero rows means the insert was deduplicated; the first attempt's
	// row is the one callers must see.
	if idempotencyKey != "" {
		return r.getByIdempotencyKey(ctx, idempotencyKey)
	}
	return r.getByNumber(ctx, version.ReportID, version.VersionNumber)
}

func (r *versionRepository) getByIdempotencyKey(ctx context.Context, idempotencyKey string) (domain.ValuationVersion, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+versionColumns+` FROM valuation_versions WHERE idempotency_key = $1`,
		idempotencyKey,
	)
	version, err := scanVersion(row)
	if err != nil {
		return domain.ValuationVersion{}, fmt.Errorf("failed to load deduplicated version by key: %w", err)
	}
	return version, nil
}

func (r *versionRepository) getByNumber(ctx context.Context, reportID string, versionNumber int) (domain.ValuationVersion, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+versionColumns+` FROM valuation_versions WHERE report_id = $1 AND version_number = $2`,
		reportID, versionNumber,
	)
	version, err := scanVersion(row)
	if err != nil {
		return domain.ValuationVersion{}, fmt.Errorf("failed to load deduplicated version: %w", err)
	}
	return version, nil
}

func (r *versionRepository) Update(ctx context.Context, version domain.ValuationVersion) error {
	if r.pool == nil {
		return fmt.Errorf("version repository not initialized")
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE valuation_versions
		 SET label = $1, notes = $2, is_pinned = $3, tags = $4, result_snapshot = $5
		 WHERE report_id = $6 AND version_number = $7`,
		version.Label,
		version.Notes,
		version.IsPinned,
		version.Tags,
		encodedResult(version.ResultSnapshot),
		version.ReportID,
		version.VersionNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to update valuation version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionNotFound
	}

	return nil
}

func (r *versionRepository) List(ctx context.Context, reportID string) ([]domain.ValuationVersion, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("version repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+versionColumns+`
		 FROM valuation_versions
		 WHERE report_id = $1
		 ORDER BY version_number DESC`,
		reportID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list valuation versions: %w", err)
	}
	defer rows.Close()

	versions := []domain.ValuationVersion{}
	for rows.Next() {
		version, scanErr := scanVersion(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan valuation version: %w", scanErr)
		}
		versions = append(versions, version)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate valuation versions: %w", rowsErr)
	}

	return versions, nil
}

func scanVersion(row pgx.Row) (domain.ValuationVersion, error) {
	var (
		version    domain.ValuationVersion
		notes      pgtype.Text
		createdAt  pgtype.Timestamptz
		inputJSON  []byte
		resultJSON []byte
		changJSON  []byte
	)
	if err := row.Scan(
		&version.ID,
		&version.ReportID,
		&version.VersionNumber,
		&version.Label,
		&notes,
		&createdAt,
		&version.CreatedBy,
		&inputJSON,
		&resultJSON,
		&changJSON,
		&version.IsPinned,
		&version.Tags,
	); err != nil {
		return domain.ValuationVersion{}, err
	}

	if notes.Valid {
		version.Notes = notes.String
	}
	if createdAt.Valid {
		version.CreatedAt = createdAt.Time
	}
	if err := json.Unmarshal(inputJSON, &version.InputSnapshot); err != nil {
		return domain.ValuationVersion{}, fmt.Errorf("failed to decode input snapshot: %w", err)
	}
	if len(changJSON) > 0 {
		if err := json.Unmarshal(changJSON, &version.ChangesSummary); err != nil {
			return domain.ValuationVersion{}, fmt.Errorf("failed to decode changes summary: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var result domain.ValuationResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return domain.ValuationVersion{}, fmt.Errorf("failed to decode result snapshot: %w", err)
		}
		version.ResultSnapshot = &result
	}

	return version, nil
}

func encodedResult(result *domain.ValuationResult) []byte {
	if result == nil {
		return nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	return encoded
}
