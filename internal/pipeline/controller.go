package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/mleitner/leadenrich/internal/columns"
	"github.com/mleitner/leadenrich/internal/domain"
	"github.com/mleitner/leadenrich/internal/excel"
	"github.com/mleitner/leadenrich/internal/provider"
	"github.com/mleitner/leadenrich/internal/repository"

	"github.com/google/uuid"
)

// Options tune the controller independently of provider clients.
type Options struct {
	// WebhookTimeout bounds the wait for asynchronous callbacks, measured
	// from the end of the submission phase.
	WebhookTimeout time.Duration

	// PollInterval is the cadence of the wait-phase ledger poll.
	PollInterval time.Duration

	// BatchSizes caps how many records one claim pulls per provider.
	BatchSizes map[domain.Provider]int
}

// Controller drives a run through its phases. All state lives in the
// ledger; the controller itself can die at any point and a fresh process
// resumes from the persisted phase without re-sending completed work.
type Controller struct {
	ledger  *repository.Ledger
	clients map[domain.Provider]provider.Client
	mapper  columns.Mapper
	opts    Options
}

// NewController builds a controller over the ledger and provider clients.
func NewController(ledger *repository.Ledger, clients []provider.Client, mapper columns.Mapper, opts Options) *Controller {
	byProvider := make(map[domain.Provider]provider.Client, len(clients))
	for _, c := range clients {
		byProvider[c.Provider()] = c
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = 10 * time.Minute
	}
	return &Controller{ledger: ledger, clients: byProvider, mapper: mapper, opts: opts}
}

// Run executes or resumes the enrichment run for inputPath, writing the
// enriched workbook to outputPath when the run reaches the export phase.
func (c *Controller) Run(ctx context.Context, inputPath, outputPath string) (domain.Run, error) {
	run, err := c.loadOrResume(ctx, inputPath)
	if err != nil {
		return domain.Run{}, err
	}

	for run.Active() {
		// A cancelled wait still exports the best-known state; every
		// earlier phase stops and leaves the ledger resumable.
		if err := ctx.Err(); err != nil && run.Phase != domain.PhaseExport {
			return run, err
		}

		log.Printf("[PIPELINE] run %s phase %s", run.ID, run.Phase)

		var phaseErr error
		switch run.Phase {
		case domain.PhaseLoad:
			phaseErr = c.setPhase(ctx, &run, domain.PhaseLushaEnrich)
		case domain.PhaseLushaEnrich:
			if phaseErr = c.enrichSync(ctx, run, domain.ProviderLusha); phaseErr == nil {
				phaseErr = c.setPhase(ctx, &run, domain.PhaseApolloSubmit)
			}
		case domain.PhaseApolloSubmit:
			if phaseErr = c.submitApollo(ctx, &run); phaseErr == nil {
				phaseErr = c.setPhase(ctx, &run, domain.PhaseAwait)
			}
		case domain.PhaseAwait:
			if phaseErr = c.awaitCallbacks(ctx, run); phaseErr == nil {
				phaseErr = c.setPhase(context.WithoutCancel(ctx), &run, domain.PhaseExport)
			}
		case domain.PhaseExport:
			exportCtx := context.WithoutCancel(ctx)
			if phaseErr = c.Export(exportCtx, run.ID, inputPath, outputPath); phaseErr == nil {
				phaseErr = c.complete(exportCtx, &run)
			}
		default:
			phaseErr = fmt.Errorf("run %s is in unknown phase %q", run.ID, run.Phase)
		}
		if phaseErr != nil {
			return run, phaseErr
		}
	}

	return run, nil
}

// loadOrResume finds an unfinished run for the same input content or
// starts a new one. Loading is idempotent: upserting the same rows into
// an existing run never resets field state.
func (c *Controller) loadOrResume(ctx context.Context, inputPath string) (domain.Run, error) {
	hash, err := HashInput(inputPath)
	if err != nil {
		return domain.Run{}, err
	}

	run, found, err := c.ledger.Runs.FindActiveRunByInput(ctx, hash)
	if err != nil {
		return domain.Run{}, err
	}
	if found {
		log.Printf("[PIPELINE] resuming run %s from phase %s", run.ID, run.Phase)
		if run.Phase != domain.PhaseLoad {
			return run, nil
		}
		// Crashed mid-load: upserting again is harmless.
	} else {
		run, err = c.ledger.Runs.CreateRun(ctx, inputPath, hash)
		if err != nil {
			return domain.Run{}, err
		}
		log.Printf("[PIPELINE] started run %s for %s", run.ID, inputPath)
	}

	headers, samples, err := excel.ReadHeadersAndSamples(inputPath, 3)
	if err != nil {
		return domain.Run{}, err
	}
	mapping, err := c.mapper.MapColumns(ctx, headers, samples)
	if err != nil {
		return domain.Run{}, fmt.Errorf("failed to detect input columns: %w", err)
	}
	log.Printf("[PIPELINE] detected columns: first=%q last=%q company=%q",
		mapping.FirstNameCol, mapping.LastNameCol, mapping.CompanyCol)

	persons, err := excel.LoadPersons(inputPath, mapping)
	if err != nil {
		return domain.Run{}, err
	}

	inserted, err := c.ledger.Records.UpsertRecords(ctx, run.ID, persons)
	if err != nil {
		return domain.Run{}, err
	}
	if err := c.ledger.Runs.SetTotalRows(ctx, run.ID, len(persons)); err != nil {
		return domain.Run{}, err
	}
	run.TotalRows = len(persons)
	log.Printf("[PIPELINE] loaded %d rows (%d new)", len(persons), inserted)

	return run, nil
}

// enrichSync drains the pending work for a fully synchronous provider:
// claim, send, record, repeat until nothing is left to claim.
func (c *Controller) enrichSync(ctx context.Context, run domain.Run, name domain.Provider) error {
	client, ok := c.clients[name]
	if !ok {
		return fmt.Errorf("no client configured for provider %s", name)
	}

	for {
		persons, err := c.ledger.Records.ClaimBatch(ctx, run.ID, name, client.Fields(), c.batchSize(name))
		if err != nil {
			return err
		}
		if len(persons) == 0 {
			return nil
		}
		if _, err := c.sendBatch(ctx, run, client, persons); err != nil {
			return err
		}
	}
}

// submitApollo drains pending Apollo work. Synchronous fields resolve
// immediately; phone fields stay sent with a correlation entry awaiting
// the callback.
func (c *Controller) submitApollo(ctx context.Context, run *domain.Run) error {
	client, ok := c.clients[domain.ProviderApollo]
	if !ok {
		return fmt.Errorf("no client configured for provider %s", domain.ProviderApollo)
	}

	for {
		persons, err := c.ledger.Records.ClaimBatch(ctx, run.ID, domain.ProviderApollo, client.Fields(), c.batchSize(domain.ProviderApollo))
		if err != nil {
			return err
		}
		if len(persons) == 0 {
			break
		}
		if _, err := c.sendBatch(ctx, *run, client, persons); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(c.opts.WebhookTimeout)
	if err := c.ledger.Runs.SetWebhookDeadline(ctx, run.ID, deadline); err != nil {
		return err
	}
	run.WebhookDeadline = &deadline
	return nil
}

// sendBatch performs one logged bulk call and applies its outcomes. A
// rate-limit deadline or cancellation releases the unprocessed remainder
// back to pending before the error is propagated.
func (c *Controller) sendBatch(ctx context.Context, run domain.Run, client provider.Client, persons []domain.Person) ([]provider.Outcome, error) {
	batchID := uuid.New()
	recordIDs := make([]int, len(persons))
	for i, p := range persons {
		recordIDs[i] = p.RecordID
	}

	if err := c.ledger.Batches.LogBatch(ctx, domain.BatchLogEntry{
		RunID:     run.ID,
		BatchID:   batchID,
		Provider:  client.Provider(),
		RecordIDs: recordIDs,
		Size:      len(persons),
		Status:    domain.BatchSubmitted,
		RequestAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	outcomes, sendErr := client.EnrichBatch(ctx, persons)

	if applyErr := c.applyOutcomes(ctx, run, client, outcomes); applyErr != nil {
		return outcomes, applyErr
	}

	if sendErr != nil {
		msg := sendErr.Error()
		_ = c.ledger.Batches.UpdateBatchStatus(ctx, run.ID, batchID, domain.BatchError, 0, nil, &msg)

		// Tokens ran out or we were cancelled: the remainder was never
		// sent, so hand it back for the next claim.
		if errors.Is(sendErr, provider.ErrRateLimitTimeout) || errors.Is(sendErr, context.Canceled) || errors.Is(sendErr, context.DeadlineExceeded) {
			unsent := unprocessedIDs(persons, outcomes)
			if len(unsent) > 0 {
				if relErr := c.ledger.Records.ReleaseBatch(context.WithoutCancel(ctx), run.ID, client.Provider(), client.Fields(), unsent); relErr != nil {
					return outcomes, relErr
				}
				log.Printf("[PIPELINE] released %d unsent records for %s", len(unsent), client.Provider())
			}
		}
		return outcomes, sendErr
	}

	if err := c.ledger.Batches.UpdateBatchStatus(ctx, run.ID, batchID, domain.BatchComplete, 0, nil, nil); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// applyOutcomes writes each outcome to the ledger. Fields the provider
// answered go terminal; fields awaiting a callback stay sent behind a
// correlation entry.
func (c *Controller) applyOutcomes(ctx context.Context, run domain.Run, client provider.Client, outcomes []provider.Outcome) error {
	for _, outcome := range outcomes {
		if outcome.Failed() {
			for _, field := range client.Fields() {
				if err := c.ledger.Records.RecordResult(ctx, run.ID, outcome.RecordID, client.Provider(), field, domain.ErrorResult(outcome.FailureReason)); err != nil {
					return err
				}
			}
			continue
		}

		pending := make(map[domain.Field]bool, len(outcome.PendingFields))
		for _, f := range outcome.PendingFields {
			pending[f] = true
		}

		// A field is only left waiting when no value arrived with the
		// response; a sync-delivered value resolves it immediately even if
		// the client also listed it as pending.
		for _, field := range client.Fields() {
			if pending[field] && outcome.Fields[field] == "" {
				continue
			}
			result := domain.FieldResult{Status: domain.StatusComplete}
			if value := outcome.Fields[field]; value != "" {
				result = domain.CompleteResult(value)
			}
			if err := c.ledger.Records.RecordResult(ctx, run.ID, outcome.RecordID, client.Provider(), field, result); err != nil {
				return err
			}
		}

		if outcome.Partial() {
			expiresAt := time.Now().Add(c.opts.WebhookTimeout)
			if err := c.ledger.Correlations.CreateCorrelation(ctx, run.ID, outcome.ExternalID, outcome.RecordID, outcome.PendingFields, expiresAt); err != nil {
				return err
			}
		}
	}
	return nil
}

// awaitCallbacks polls the ledger until every correlation entry is
// resolved or the run's webhook deadline passes. On deadline the expired
// entries are swept to timeout so the run can still export.
func (c *Controller) awaitCallbacks(ctx context.Context, run domain.Run) error {
	deadline := time.Now().Add(c.opts.WebhookTimeout)
	if run.WebhookDeadline != nil {
		deadline = *run.WebhookDeadline
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		pending, err := c.ledger.Correlations.PendingCorrelations(ctx, run.ID)
		if err != nil {
			return err
		}
		if pending == 0 {
			log.Printf("[PIPELINE] all callbacks received for run %s", run.ID)
			return nil
		}

		if time.Now().After(deadline) {
			swept, err := c.ledger.Correlations.SweepExpiredCorrelations(ctx, run.ID, time.Now())
			if err != nil {
				return err
			}
			log.Printf("[PIPELINE] webhook deadline reached, %d callbacks timed out", swept)
			return nil
		}

		log.Printf("[PIPELINE] waiting for %d callbacks (deadline %s)", pending, deadline.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			// Stop waiting but do not fail the run: export proceeds with
			// whatever arrived so far.
			log.Printf("[PIPELINE] wait cancelled with %d callbacks outstanding", pending)
			return nil
		case <-ticker.C:
		}
	}
}

// Export writes the run's best-known state next to the original input
// columns. Callable at any time, including for an unfinished run.
func (c *Controller) Export(ctx context.Context, runID uuid.UUID, inputPath, outputPath string) error {
	records, err := c.ledger.Records.ExportableSnapshot(ctx, runID)
	if err != nil {
		return err
	}
	if err := excel.WriteResults(inputPath, outputPath, records); err != nil {
		return err
	}
	log.Printf("[PIPELINE] exported %d records to %s", len(records), outputPath)
	return nil
}

// ResetStuck returns every sent-but-unresolved field of the run to
// pending. Operator-invoked recovery after a crash mid-send; never runs
// automatically because a callback for a sent field may still arrive.
func (c *Controller) ResetStuck(ctx context.Context, runID uuid.UUID) (int, error) {
	total := 0
	for name := range c.clients {
		n, err := c.ledger.Records.ReleaseStuck(ctx, runID, name)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *Controller) setPhase(ctx context.Context, run *domain.Run, phase domain.Phase) error {
	if err := c.ledger.Runs.SetPhase(ctx, run.ID, phase); err != nil {
		return err
	}
	run.Phase = phase
	return nil
}

func (c *Controller) complete(ctx context.Context, run *domain.Run) error {
	if err := c.setPhase(ctx, run, domain.PhaseComplete); err != nil {
		return err
	}
	if err := c.ledger.Runs.CompleteRun(ctx, run.ID); err != nil {
		return err
	}
	now := time.Now()
	run.CompletedAt = &now
	log.Printf("[PIPELINE] run %s complete", run.ID)
	return nil
}

func (c *Controller) batchSize(name domain.Provider) int {
	if size := c.opts.BatchSizes[name]; size > 0 {
		return size
	}
	return 10
}

func unprocessedIDs(persons []domain.Person, outcomes []provider.Outcome) []int {
	seen := make(map[int]bool, len(outcomes))
	for _, o := range outcomes {
		seen[o.RecordID] = true
	}
	var ids []int
	for _, p := range persons {
		if !seen[p.RecordID] {
			ids = append(ids, p.RecordID)
		}
	}
	return ids
}

// HashInput fingerprints the input file content. Runs are keyed by this
// hash, so re-running the same file resumes instead of starting over.
func HashInput(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open input file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash input file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
