package repository

import (
	"context"
	"fmt"

	"github.com/mleitner/leadenrich/internal/db"
	"github.com/mleitner/leadenrich/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type recordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository wires a record repository backed by pgxpool.
func NewRecordRepository(pool *pgxpool.Pool) RecordRepository {
	return &recordRepository{pool: pool}
}

func fieldNames(fields []domain.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return names
}

func (r *recordRepository) UpsertRecords(ctx context.Context, runID uuid.UUID, persons []domain.Person) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("record repository not initialized")
	}

	inserted := 0
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range persons {
			batch.Queue(
				`INSERT INTO records (run_id, record_id, first_name, last_name, company)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (run_id, record_id) DO NOTHING`,
				runID, p.RecordID, p.FirstName, p.LastName, p.Company,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range persons {
			tag, execErr := results.Exec()
			if execErr != nil {
				results.Close()
				return fmt.Errorf("failed to upsert record: %w", execErr)
			}
			inserted += int(tag.RowsAffected())
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to flush record batch: %w", err)
		}

		// Seed a pending state row for every (provider, field) pair. Existing
		// rows keep their state, so a resumed load never regresses progress.
		_, err := tx.Exec(
			ctx,
			`INSERT INTO record_fields (run_id, record_id, provider, field)
			 SELECT r.run_id, r.record_id, p.provider, f.field
			 FROM records r
			 CROSS JOIN (VALUES ('lusha'), ('apollo')) AS p(provider)
			 CROSS JOIN (VALUES ('email'), ('mobile'), ('direct_dial')) AS f(field)
			 WHERE r.run_id = $1
			 ON CONFLICT (run_id, record_id, provider, field) DO NOTHING`,
			runID,
		)
		if err != nil {
			return fmt.Errorf("failed to seed field state: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

func (r *recordRepository) ClaimBatch(ctx context.Context, runID uuid.UUID, provider domain.Provider, fields []domain.Field, maxSize int) ([]domain.Person, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("record repository not initialized")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("at least one field is required to claim a batch")
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}

	// The first field acts as the claim key: records are picked by its
	// pending rows under SKIP LOCKED, then every listed field flips to
	// sent in the same statement. The status guard makes a retried claim
	// after a crash select only still-pending work, never double-claim.
	rows, err := r.pool.Query(
		ctx,
		`WITH picked AS (
		     SELECT record_id
		     FROM record_fields
		     WHERE run_id = $1 AND provider = $2 AND field = $3 AND status = 'pending'
		     ORDER BY record_id
		     LIMIT $5
		     FOR UPDATE SKIP LOCKED
		 ),
		 claimed AS (
		     UPDATE record_fields rf
		     SET status = 'sent', sent_at = now(), updated_at = now()
		     WHERE rf.run_id = $1
		       AND rf.provider = $2
		       AND rf.field = ANY($4)
		       AND rf.status = 'pending'
		       AND rf.record_id IN (SELECT record_id FROM picked)
		     RETURNING rf.record_id
		 )
		 SELECT r.record_id, r.first_name, r.last_name, r.company
		 FROM records r
		 JOIN (SELECT DISTINCT record_id FROM claimed) c ON c.record_id = r.record_id
		 WHERE r.run_id = $1
		 ORDER BY r.record_id`,
		runID, provider, string(fields[0]), fieldNames(fields), maxSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	defer rows.Close()

	persons := []domain.Person{}
	for rows.Next() {
		var p domain.Person
		if scanErr := rows.Scan(&p.RecordID, &p.FirstName, &p.LastName, &p.Company); scanErr != nil {
			return nil, fmt.Errorf("failed to scan claimed record: %w", scanErr)
		}
		persons = append(persons, p)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate claimed records: %w", rowsErr)
	}

	return persons, nil
}

func (r *recordRepository) ReleaseBatch(ctx context.Context, runID uuid.UUID, provider domain.Provider, fields []domain.Field, recordIDs []int) error {
	if r.pool == nil {
		return fmt.Errorf("record repository not initialized")
	}
	if len(recordIDs) == 0 {
		return nil
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE record_fields
		 SET status = 'pending', sent_at = NULL, updated_at = now()
		 WHERE run_id = $1 AND provider = $2 AND field = ANY($3)
		   AND record_id = ANY($4) AND status = 'sent'`,
		runID, provider, fieldNames(fields), recordIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to release batch: %w", err)
	}
	return nil
}

func (r *recordRepository) ReleaseStuck(ctx context.Context, runID uuid.UUID, provider domain.Provider) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("record repository not initialized")
	}

	released := 0
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(
			ctx,
			`UPDATE record_fields
			 SET status = 'pending', sent_at = NULL, updated_at = now()
			 WHERE run_id = $1 AND provider = $2 AND status = 'sent'
			 RETURNING record_id`,
			runID, provider,
		)
		if err != nil {
			return fmt.Errorf("failed to release stuck records: %w", err)
		}
		recordIDs := []int{}
		for rows.Next() {
			var id int
			if scanErr := rows.Scan(&id); scanErr != nil {
				rows.Close()
				return fmt.Errorf("failed to scan released record: %w", scanErr)
			}
			recordIDs = append(recordIDs, id)
		}
		rows.Close()
		if rowsErr := rows.Err(); rowsErr != nil {
			return fmt.Errorf("failed to iterate released records: %w", rowsErr)
		}
		released = len(recordIDs)

		if released == 0 || provider != domain.ProviderApollo {
			return nil
		}

		// A record holds at most one unresolved correlation entry, and the
		// rerun may register a different person id for it. Retire the stale
		// entries now so re-submission can insert fresh ones.
		_, err = tx.Exec(
			ctx,
			`UPDATE correlations
			 SET resolved = TRUE, resolved_at = now()
			 WHERE run_id = $1 AND NOT resolved AND record_id = ANY($2)`,
			runID, recordIDs,
		)
		if err != nil {
			return fmt.Errorf("failed to retire stale correlations: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

func (r *recordRepository) RecordResult(ctx context.Context, runID uuid.UUID, recordID int, provider domain.Provider, field domain.Field, result domain.FieldResult) error {
	if r.pool == nil {
		return fmt.Errorf("record repository not initialized")
	}
	if !result.Status.Terminal() {
		return fmt.Errorf("record result status must be terminal, got %q", result.Status)
	}

	// complete is immutable: duplicate or late writes against a complete
	// field are silently dropped rather than overwriting good data.
	_, err := r.pool.Exec(
		ctx,
		`UPDATE record_fields
		 SET status = $5, value = $6, error = $7,
		     completed_at = now(), updated_at = now()
		 WHERE run_id = $1 AND record_id = $2 AND provider = $3 AND field = $4
		   AND status <> 'complete'`,
		runID, recordID, provider, field, result.Status, result.Value, result.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

func (r *recordRepository) CountByStatus(ctx context.Context, runID uuid.UUID, provider domain.Provider, field domain.Field, status domain.FieldStatus) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("record repository not initialized")
	}

	var count int
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM record_fields
		 WHERE run_id = $1 AND provider = $2 AND field = $3 AND status = $4`,
		runID, provider, field, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count field status: %w", err)
	}
	return count, nil
}

func (r *recordRepository) RunStatus(ctx context.Context, runID uuid.UUID) (domain.StatusSummary, error) {
	summary := domain.StatusSummary{
		RunID:     runID,
		Providers: map[domain.Provider]map[domain.Field]domain.StatusCounts{},
	}
	if r.pool == nil {
		return summary, fmt.Errorf("record repository not initialized")
	}

	var phase string
	err := r.pool.QueryRow(
		ctx,
		`SELECT phase, total_rows FROM runs WHERE id = $1`,
		runID,
	).Scan(&phase, &summary.TotalRows)
	if err != nil {
		return summary, fmt.Errorf("failed to load run for status: %w", err)
	}
	summary.Phase = domain.Phase(phase)

	rows, err := r.pool.Query(
		ctx,
		`SELECT provider, field, status, COUNT(*)
		 FROM record_fields
		 WHERE run_id = $1
		 GROUP BY provider, field, status`,
		runID,
	)
	if err != nil {
		return summary, fmt.Errorf("failed to aggregate run status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			provider domain.Provider
			field    domain.Field
			status   domain.FieldStatus
			count    int
		)
		if scanErr := rows.Scan(&provider, &field, &status, &count); scanErr != nil {
			return summary, fmt.Errorf("failed to scan status aggregate: %w", scanErr)
		}

		if summary.Providers[provider] == nil {
			summary.Providers[provider] = map[domain.Field]domain.StatusCounts{}
		}
		counts := summary.Providers[provider][field]
		switch status {
		case domain.StatusPending:
			counts.Pending = count
		case domain.StatusSent:
			counts.Sent = count
		case domain.StatusComplete:
			counts.Complete = count
		case domain.StatusError:
			counts.Error = count
		case domain.StatusTimeout:
			counts.Timeout = count
		}
		summary.Providers[provider][field] = counts
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return summary, fmt.Errorf("failed to iterate status aggregates: %w", rowsErr)
	}

	return summary, nil
}

func (r *recordRepository) ExportableSnapshot(ctx context.Context, runID uuid.UUID) ([]domain.EnrichedRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("record repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT r.record_id, r.first_name, r.last_name, r.company,
		        rf.provider, rf.field, rf.status, rf.value, rf.error,
		        rf.sent_at, rf.completed_at
		 FROM records r
		 JOIN record_fields rf
		   ON rf.run_id = r.run_id AND rf.record_id = r.record_id
		 WHERE r.run_id = $1
		 ORDER BY r.record_id, rf.provider, rf.field`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var (
		result  []domain.EnrichedRecord
		current *domain.EnrichedRecord
	)
	for rows.Next() {
		var (
			p           domain.Person
			state       domain.FieldState
			sentAt      pgtype.Timestamptz
			completedAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&p.RecordID, &p.FirstName, &p.LastName, &p.Company,
			&state.Provider, &state.Field, &state.Status, &state.Value, &state.Error,
			&sentAt, &completedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", scanErr)
		}
		state.RecordID = p.RecordID
		if sentAt.Valid {
			t := sentAt.Time
			state.SentAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			state.CompletedAt = &t
		}

		if current == nil || current.RecordID != p.RecordID {
			result = append(result, domain.EnrichedRecord{
				Person: p,
				Fields: map[domain.Provider]map[domain.Field]domain.FieldState{},
			})
			current = &result[len(result)-1]
		}
		if current.Fields[state.Provider] == nil {
			current.Fields[state.Provider] = map[domain.Field]domain.FieldState{}
		}
		current.Fields[state.Provider][state.Field] = state
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate snapshot: %w", rowsErr)
	}

	return result, nil
}
