package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mleitner/leadenrich/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type runRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository wires a run metadata repository backed by pgxpool.
func NewRunRepository(pool *pgxpool.Pool) RunRepository {
	return &runRepository{pool: pool}
}

func (r *runRepository) CreateRun(ctx context.Context, inputFile string, inputHash string) (domain.Run, error) {
	if r.pool == nil {
		return domain.Run{}, fmt.Errorf("run repository not initialized")
	}

	run := domain.Run{
		ID:        uuid.New(),
		InputFile: inputFile,
		InputHash: inputHash,
		Phase:     domain.PhaseLoad,
	}

	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO runs (id, input_file, input_hash, phase)
		 VALUES ($1, $2, $3, $4)
		 RETURNING started_at`,
		run.ID, run.InputFile, run.InputHash, run.Phase,
	).Scan(&run.StartedAt)
	if err != nil {
		return domain.Run{}, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

func (r *runRepository) GetRun(ctx context.Context, runID uuid.UUID) (domain.Run, error) {
	if r.pool == nil {
		return domain.Run{}, fmt.Errorf("run repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT id, input_file, input_hash, phase, total_rows,
		        webhook_deadline, started_at, completed_at
		 FROM runs WHERE id = $1`,
		runID,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, fmt.Errorf("run %s not found", runID)
		}
		return domain.Run{}, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}

func (r *runRepository) FindActiveRunByInput(ctx context.Context, inputHash string) (domain.Run, bool, error) {
	if r.pool == nil {
		return domain.Run{}, false, fmt.Errorf("run repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT id, input_file, input_hash, phase, total_rows,
		        webhook_deadline, started_at, completed_at
		 FROM runs
		 WHERE input_hash = $1 AND completed_at IS NULL
		 ORDER BY started_at DESC
		 LIMIT 1`,
		inputHash,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, false, nil
		}
		return domain.Run{}, false, fmt.Errorf("failed to find active run: %w", err)
	}
	return run, true, nil
}

func (r *runRepository) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("run repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, input_file, input_hash, phase, total_rows,
		        webhook_deadline, started_at, completed_at
		 FROM runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan run: %w", scanErr)
		}
		runs = append(runs, run)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", rowsErr)
	}

	return runs, nil
}

func (r *runRepository) SetPhase(ctx context.Context, runID uuid.UUID, phase domain.Phase) error {
	if r.pool == nil {
		return fmt.Errorf("run repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE runs SET phase = $2 WHERE id = $1`,
		runID, phase,
	)
	if err != nil {
		return fmt.Errorf("failed to set run phase: %w", err)
	}
	return nil
}

func (r *runRepository) SetTotalRows(ctx context.Context, runID uuid.UUID, total int) error {
	if r.pool == nil {
		return fmt.Errorf("run repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE runs SET total_rows = $2 WHERE id = $1`,
		runID, total,
	)
	if err != nil {
		return fmt.Errorf("failed to set total rows: %w", err)
	}
	return nil
}

func (r *runRepository) SetWebhookDeadline(ctx context.Context, runID uuid.UUID, deadline time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("run repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE runs SET webhook_deadline = $2 WHERE id = $1`,
		runID, deadline,
	)
	if err != nil {
		return fmt.Errorf("failed to set webhook deadline: %w", err)
	}
	return nil
}

func (r *runRepository) CompleteRun(ctx context.Context, runID uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("run repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE runs SET phase = $2, completed_at = now() WHERE id = $1`,
		runID, domain.PhaseComplete,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var (
		run         domain.Run
		deadline    pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&run.ID, &run.InputFile, &run.InputHash, &run.Phase, &run.TotalRows,
		&deadline, &run.StartedAt, &completedAt,
	); err != nil {
		return domain.Run{}, err
	}
	if deadline.Valid {
		t := deadline.Time
		run.WebhookDeadline = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}
