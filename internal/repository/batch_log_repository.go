package repository

import (
	"context"
	"fmt"

	"github.com/mleitner/leadenrich/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type batchLogRepository struct {
	pool *pgxpool.Pool
}

// NewBatchLogRepository wires a batch log repository backed by pgxpool.
func NewBatchLogRepository(pool *pgxpool.Pool) BatchLogRepository {
	return &batchLogRepository{pool: pool}
}

func (r *batchLogRepository) LogBatch(ctx context.Context, entry domain.BatchLogEntry) error {
	if r.pool == nil {
		return fmt.Errorf("batch log repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO batch_log (run_id, batch_id, provider, record_ids, size, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.RunID, entry.BatchID, entry.Provider, entry.RecordIDs, len(entry.RecordIDs), domain.BatchSubmitted,
	)
	if err != nil {
		return fmt.Errorf("failed to log batch: %w", err)
	}
	return nil
}

func (r *batchLogRepository) UpdateBatchStatus(ctx context.Context, runID uuid.UUID, batchID uuid.UUID, status domain.BatchStatus, retryCount int, httpStatus *int, errMsg *string) error {
	if r.pool == nil {
		return fmt.Errorf("batch log repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE batch_log
		 SET status = $3, retry_count = $4, http_status = $5, error = $6, response_at = now()
		 WHERE run_id = $1 AND batch_id = $2`,
		runID, batchID, status, retryCount, httpStatus, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	return nil
}

func (r *batchLogRepository) ListBatches(ctx context.Context, runID uuid.UUID, limit int) ([]domain.BatchLogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("batch log repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, run_id, batch_id, provider, record_ids, size, status,
		        retry_count, http_status, error, request_at, response_at
		 FROM batch_log
		 WHERE run_id = $1
		 ORDER BY request_at DESC
		 LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	entries := []domain.BatchLogEntry{}
	for rows.Next() {
		var (
			entry      domain.BatchLogEntry
			httpStatus pgtype.Int4
			responseAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID, &entry.RunID, &entry.BatchID, &entry.Provider,
			&entry.RecordIDs, &entry.Size, &entry.Status,
			&entry.RetryCount, &httpStatus, &entry.Error,
			&entry.RequestAt, &responseAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan batch entry: %w", scanErr)
		}
		if httpStatus.Valid {
			value := int(httpStatus.Int32)
			entry.HTTPStatus = &value
		}
		if responseAt.Valid {
			t := responseAt.Time
			entry.ResponseAt = &t
		}
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate batch entries: %w", rowsErr)
	}

	return entries, nil
}
