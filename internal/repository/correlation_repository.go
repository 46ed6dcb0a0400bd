package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mleitner/leadenrich/internal/db"
	"github.com/mleitner/leadenrich/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type correlationRepository struct {
	pool *pgxpool.Pool
}

// NewCorrelationRepository wires a correlation repository backed by pgxpool.
func NewCorrelationRepository(pool *pgxpool.Pool) CorrelationRepository {
	return &correlationRepository{pool: pool}
}

func toDomainFields(names []string) []domain.Field {
	fields := make([]domain.Field, len(names))
	for i, n := range names {
		fields[i] = domain.Field(n)
	}
	return fields
}

func (r *correlationRepository) CreateCorrelation(ctx context.Context, runID uuid.UUID, externalID string, recordID int, fields []domain.Field, expiresAt time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("correlation repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO correlations (run_id, external_id, record_id, fields, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, external_id) DO NOTHING`,
		runID, externalID, recordID, fieldNames(fields), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create correlation: %w", err)
	}
	return nil
}

func (r *correlationRepository) ResolveCorrelation(ctx context.Context, runID uuid.UUID, externalID string, payload string) (domain.CorrelationEntry, bool, error) {
	if r.pool == nil {
		return domain.CorrelationEntry{}, false, fmt.Errorf("correlation repository not initialized")
	}

	// The resolved guard makes duplicate deliveries resolve exactly once:
	// the second caller matches no row and receives the duplicate signal.
	row := r.pool.QueryRow(
		ctx,
		`UPDATE correlations
		 SET resolved = TRUE, resolved_at = now(), payload = $3
		 WHERE run_id = $1 AND external_id = $2 AND NOT resolved
		 RETURNING record_id, fields, expires_at, created_at, resolved_at`,
		runID, externalID, payload,
	)

	entry := domain.CorrelationEntry{RunID: runID, ExternalID: externalID, Resolved: true}
	var (
		names      []string
		resolvedAt pgtype.Timestamptz
	)
	err := row.Scan(&entry.RecordID, &names, &entry.ExpiresAt, &entry.CreatedAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CorrelationEntry{}, false, nil
		}
		return domain.CorrelationEntry{}, false, fmt.Errorf("failed to resolve correlation: %w", err)
	}
	entry.Fields = toDomainFields(names)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		entry.ResolvedAt = &t
	}

	return entry, true, nil
}

func (r *correlationRepository) FindByExternalID(ctx context.Context, externalID string) (domain.CorrelationEntry, bool, error) {
	if r.pool == nil {
		return domain.CorrelationEntry{}, false, fmt.Errorf("correlation repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT run_id, record_id, fields, expires_at, resolved, created_at
		 FROM correlations
		 WHERE external_id = $1
		 ORDER BY resolved ASC, created_at DESC
		 LIMIT 1`,
		externalID,
	)

	entry := domain.CorrelationEntry{ExternalID: externalID}
	var names []string
	err := row.Scan(&entry.RunID, &entry.RecordID, &names, &entry.ExpiresAt, &entry.Resolved, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CorrelationEntry{}, false, nil
		}
		return domain.CorrelationEntry{}, false, fmt.Errorf("failed to look up correlation: %w", err)
	}
	entry.Fields = toDomainFields(names)

	return entry, true, nil
}

func (r *correlationRepository) SweepExpiredCorrelations(ctx context.Context, runID uuid.UUID, now time.Time) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("correlation repository not initialized")
	}

	count := 0
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(
			ctx,
			`UPDATE correlations
			 SET resolved = TRUE, resolved_at = now()
			 WHERE run_id = $1 AND NOT resolved AND expires_at <= $2
			 RETURNING record_id, fields`,
			runID, now,
		)
		if err != nil {
			return fmt.Errorf("failed to sweep correlations: %w", err)
		}

		type expired struct {
			recordID int
			fields   []string
		}
		swept := []expired{}
		for rows.Next() {
			var e expired
			if scanErr := rows.Scan(&e.recordID, &e.fields); scanErr != nil {
				rows.Close()
				return fmt.Errorf("failed to scan swept correlation: %w", scanErr)
			}
			swept = append(swept, e)
		}
		rows.Close()
		if rowsErr := rows.Err(); rowsErr != nil {
			return fmt.Errorf("failed to iterate swept correlations: %w", rowsErr)
		}

		// Timeout the awaited fields; anything already terminal stays put.
		for _, e := range swept {
			_, err = tx.Exec(
				ctx,
				`UPDATE record_fields
				 SET status = 'timeout', completed_at = now(), updated_at = now()
				 WHERE run_id = $1 AND record_id = $2 AND provider = 'apollo'
				   AND field = ANY($3) AND status IN ('pending', 'sent')`,
				runID, e.recordID, e.fields,
			)
			if err != nil {
				return fmt.Errorf("failed to mark field timeout: %w", err)
			}
		}

		count = len(swept)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r *correlationRepository) PendingCorrelations(ctx context.Context, runID uuid.UUID) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("correlation repository not initialized")
	}

	var count int
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM correlations WHERE run_id = $1 AND NOT resolved`,
		runID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending correlations: %w", err)
	}
	return count, nil
}
