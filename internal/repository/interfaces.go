package repository

import (
	"context"
	"time"

	"github.com/mleitner/leadenrich/internal/domain"

	"github.com/google/uuid"
)

// RecordRepository defines per-record per-field enrichment state operations.
// Every mutator runs as a single short transaction so the pipeline
// controller and the webhook correlator can write concurrently without
// lost updates.
type RecordRepository interface {
	// UpsertRecords inserts input rows idempotently: re-running with the
	// same run id must not duplicate records or reset field state.
	UpsertRecords(ctx context.Context, runID uuid.UUID, persons []domain.Person) (int, error)

	// ClaimBatch atomically selects up to maxSize records whose status for
	// every listed (provider, field) is pending, marks them sent, and
	// returns them. Records already claimed or terminal are never returned.
	ClaimBatch(ctx context.Context, runID uuid.UUID, provider domain.Provider, fields []domain.Field, maxSize int) ([]domain.Person, error)

	// ReleaseBatch returns claimed-but-unsent records to pending, used when
	// token acquisition times out or when an operator resets stuck work.
	ReleaseBatch(ctx context.Context, runID uuid.UUID, provider domain.Provider, fields []domain.Field, recordIDs []int) error

	// ReleaseStuck moves every non-terminal sent field of the run back to
	// pending. Explicit crash recovery; never invoked automatically.
	ReleaseStuck(ctx context.Context, runID uuid.UUID, provider domain.Provider) (int, error)

	// RecordResult writes a terminal outcome for one (record, provider,
	// field). A field already complete is left untouched, so replayed
	// callbacks and duplicate writes cannot corrupt good data.
	RecordResult(ctx context.Context, runID uuid.UUID, recordID int, provider domain.Provider, field domain.Field, result domain.FieldResult) error

	// CountByStatus returns the number of records in the given status for
	// (provider, field).
	CountByStatus(ctx context.Context, runID uuid.UUID, provider domain.Provider, field domain.Field, status domain.FieldStatus) (int, error)

	// RunStatus aggregates per-provider per-field status counts. Safe to
	// call at any time, including mid-run.
	RunStatus(ctx context.Context, runID uuid.UUID) (domain.StatusSummary, error)

	// ExportableSnapshot returns the merged best-known state for every
	// record of the run, including partially complete ones.
	ExportableSnapshot(ctx context.Context, runID uuid.UUID) ([]domain.EnrichedRecord, error)
}

// CorrelationRepository tracks asynchronous callback correlation entries.
type CorrelationRepository interface {
	// CreateCorrelation registers an external id awaiting callback for the
	// given record and fields. Idempotent per (run, external id).
	CreateCorrelation(ctx context.Context, runID uuid.UUID, externalID string, recordID int, fields []domain.Field, expiresAt time.Time) error

	// ResolveCorrelation marks the entry resolved and returns it. The
	// second return is false when the id is unknown or already resolved;
	// callbacks can be delivered more than once or after expiry, so this
	// is a signal, not an error.
	ResolveCorrelation(ctx context.Context, runID uuid.UUID, externalID string, payload string) (domain.CorrelationEntry, bool, error)

	// FindByExternalID locates the run-scoped entry for a bare external
	// id. Used by the standalone webhook listener, which does not know the
	// run a callback belongs to.
	FindByExternalID(ctx context.Context, externalID string) (domain.CorrelationEntry, bool, error)

	// SweepExpiredCorrelations resolves unresolved entries past expires_at
	// and marks their awaited fields timeout. Returns the sweep count.
	SweepExpiredCorrelations(ctx context.Context, runID uuid.UUID, now time.Time) (int, error)

	// PendingCorrelations counts unresolved entries for the run.
	PendingCorrelations(ctx context.Context, runID uuid.UUID) (int, error)
}

// BatchLogRepository appends outbound bulk call records for diagnostics.
type BatchLogRepository interface {
	LogBatch(ctx context.Context, entry domain.BatchLogEntry) error
	UpdateBatchStatus(ctx context.Context, runID uuid.UUID, batchID uuid.UUID, status domain.BatchStatus, retryCount int, httpStatus *int, errMsg *string) error
	ListBatches(ctx context.Context, runID uuid.UUID, limit int) ([]domain.BatchLogEntry, error)
}

// RunRepository persists run metadata.
type RunRepository interface {
	CreateRun(ctx context.Context, inputFile string, inputHash string) (domain.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (domain.Run, error)
	// FindActiveRunByInput locates an unfinished run for the same input
	// content, enabling resume after a crash.
	FindActiveRunByInput(ctx context.Context, inputHash string) (domain.Run, bool, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	SetPhase(ctx context.Context, runID uuid.UUID, phase domain.Phase) error
	SetTotalRows(ctx context.Context, runID uuid.UUID, total int) error
	SetWebhookDeadline(ctx context.Context, runID uuid.UUID, deadline time.Time) error
	CompleteRun(ctx context.Context, runID uuid.UUID) error
}

// Ledger bundles the four repositories behind the single durable store.
type Ledger struct {
	Records      RecordRepository
	Correlations CorrelationRepository
	Batches      BatchLogRepository
	Runs         RunRepository
}
