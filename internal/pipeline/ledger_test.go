package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mleitner/leadenrich/internal/domain"
	"github.com/mleitner/leadenrich/internal/repository"

	"github.com/google/uuid"
)

// memLedger is an in-memory ledger with the same transition guarantees as
// the Postgres repositories, for exercising the controller without a
// database.
type memLedger struct {
	mu           sync.Mutex
	runs         map[uuid.UUID]*domain.Run
	persons      map[int]domain.Person
	fields       map[fieldKey]*domain.FieldState
	correlations map[string]*domain.CorrelationEntry
	batches      []domain.BatchLogEntry
}

type fieldKey struct {
	recordID int
	provider domain.Provider
	field    domain.Field
}

func newMemLedger() (*memLedger, *repository.Ledger) {
	m := &memLedger{
		runs:         map[uuid.UUID]*domain.Run{},
		persons:      map[int]domain.Person{},
		fields:       map[fieldKey]*domain.FieldState{},
		correlations: map[string]*domain.CorrelationEntry{},
	}
	return m, &repository.Ledger{Records: m, Correlations: m, Batches: m, Runs: m}
}

func (m *memLedger) status(recordID int, provider domain.Provider, field domain.Field) domain.FieldStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.fields[fieldKey{recordID, provider, field}]
	if !ok {
		return domain.StatusPending
	}
	return state.Status
}

func (m *memLedger) value(recordID int, provider domain.Provider, field domain.Field) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.fields[fieldKey{recordID, provider, field}]
	if !ok || state.Value == nil {
		return ""
	}
	return *state.Value
}

// RunRepository

func (m *memLedger) CreateRun(_ context.Context, inputFile, inputHash string) (domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &domain.Run{
		ID:        uuid.New(),
		InputFile: inputFile,
		InputHash: inputHash,
		Phase:     domain.PhaseLoad,
		StartedAt: time.Now(),
	}
	m.runs[run.ID] = run
	return *run, nil
}

func (m *memLedger) GetRun(_ context.Context, runID uuid.UUID) (domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.runs[runID], nil
}

func (m *memLedger) FindActiveRunByInput(_ context.Context, inputHash string) (domain.Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.InputHash == inputHash && run.CompletedAt == nil {
			return *run, true, nil
		}
	}
	return domain.Run{}, false, nil
}

func (m *memLedger) ListRuns(_ context.Context, limit int) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []domain.Run
	for _, run := range m.runs {
		runs = append(runs, *run)
	}
	return runs, nil
}

func (m *memLedger) SetPhase(_ context.Context, runID uuid.UUID, phase domain.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID].Phase = phase
	return nil
}

func (m *memLedger) SetTotalRows(_ context.Context, runID uuid.UUID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID].TotalRows = total
	return nil
}

func (m *memLedger) SetWebhookDeadline(_ context.Context, runID uuid.UUID, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID].WebhookDeadline = &deadline
	return nil
}

func (m *memLedger) CompleteRun(_ context.Context, runID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.runs[runID].CompletedAt = &now
	return nil
}

// RecordRepository

func (m *memLedger) UpsertRecords(_ context.Context, _ uuid.UUID, persons []domain.Person) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, p := range persons {
		if _, ok := m.persons[p.RecordID]; ok {
			continue
		}
		m.persons[p.RecordID] = p
		inserted++
		for _, provider := range []domain.Provider{domain.ProviderLusha, domain.ProviderApollo} {
			for _, field := range domain.AllFields {
				m.fields[fieldKey{p.RecordID, provider, field}] = &domain.FieldState{
					RecordID: p.RecordID,
					Provider: provider,
					Field:    field,
					Status:   domain.StatusPending,
				}
			}
		}
	}
	return inserted, nil
}

func (m *memLedger) ClaimBatch(_ context.Context, _ uuid.UUID, provider domain.Provider, fields []domain.Field, maxSize int) ([]domain.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int
	for id := range m.persons {
		if m.fields[fieldKey{id, provider, fields[0]}].Status == domain.StatusPending {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	if len(ids) > maxSize {
		ids = ids[:maxSize]
	}

	var claimed []domain.Person
	for _, id := range ids {
		for _, field := range fields {
			if state := m.fields[fieldKey{id, provider, field}]; state.Status == domain.StatusPending {
				state.Status = domain.StatusSent
				now := time.Now()
				state.SentAt = &now
			}
		}
		claimed = append(claimed, m.persons[id])
	}
	return claimed, nil
}

func (m *memLedger) ReleaseBatch(_ context.Context, _ uuid.UUID, provider domain.Provider, fields []domain.Field, recordIDs []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range recordIDs {
		for _, field := range fields {
			if state := m.fields[fieldKey{id, provider, field}]; state.Status == domain.StatusSent {
				state.Status = domain.StatusPending
			}
		}
	}
	return nil
}

func (m *memLedger) ReleaseStuck(_ context.Context, _ uuid.UUID, provider domain.Provider) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	released := map[int]bool{}
	for key, state := range m.fields {
		if key.provider == provider && state.Status == domain.StatusSent {
			state.Status = domain.StatusPending
			released[key.recordID] = true
			n++
		}
	}
	if provider == domain.ProviderApollo {
		for _, entry := range m.correlations {
			if !entry.Resolved && released[entry.RecordID] {
				entry.Resolved = true
			}
		}
	}
	return n, nil
}

func (m *memLedger) RecordResult(_ context.Context, _ uuid.UUID, recordID int, provider domain.Provider, field domain.Field, result domain.FieldResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.fields[fieldKey{recordID, provider, field}]
	if !ok {
		return nil
	}
	if !state.Status.CanTransition(result.Status) {
		return nil
	}
	state.Status = result.Status
	state.Value = result.Value
	state.Error = result.Error
	now := time.Now()
	state.CompletedAt = &now
	return nil
}

func (m *memLedger) CountByStatus(_ context.Context, _ uuid.UUID, provider domain.Provider, field domain.Field, status domain.FieldStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, state := range m.fields {
		if key.provider == provider && key.field == field && state.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memLedger) RunStatus(_ context.Context, runID uuid.UUID) (domain.StatusSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := domain.StatusSummary{
		RunID:     runID,
		Providers: map[domain.Provider]map[domain.Field]domain.StatusCounts{},
	}
	for key, state := range m.fields {
		if summary.Providers[key.provider] == nil {
			summary.Providers[key.provider] = map[domain.Field]domain.StatusCounts{}
		}
		counts := summary.Providers[key.provider][key.field]
		switch state.Status {
		case domain.StatusPending:
			counts.Pending++
		case domain.StatusSent:
			counts.Sent++
		case domain.StatusComplete:
			counts.Complete++
		case domain.StatusError:
			counts.Error++
		case domain.StatusTimeout:
			counts.Timeout++
		}
		summary.Providers[key.provider][key.field] = counts
	}
	return summary, nil
}

func (m *memLedger) ExportableSnapshot(_ context.Context, _ uuid.UUID) ([]domain.EnrichedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int
	for id := range m.persons {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var records []domain.EnrichedRecord
	for _, id := range ids {
		record := domain.EnrichedRecord{
			Person: m.persons[id],
			Fields: map[domain.Provider]map[domain.Field]domain.FieldState{},
		}
		for key, state := range m.fields {
			if key.recordID != id {
				continue
			}
			if record.Fields[key.provider] == nil {
				record.Fields[key.provider] = map[domain.Field]domain.FieldState{}
			}
			record.Fields[key.provider][key.field] = *state
		}
		records = append(records, record)
	}
	return records, nil
}

// CorrelationRepository

func (m *memLedger) CreateCorrelation(_ context.Context, runID uuid.UUID, externalID string, recordID int, fields []domain.Field, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.correlations[externalID]; ok {
		return nil
	}
	// The store allows one unresolved entry per record.
	for _, entry := range m.correlations {
		if !entry.Resolved && entry.RunID == runID && entry.RecordID == recordID {
			return fmt.Errorf("record %d already has an unresolved correlation", recordID)
		}
	}
	m.correlations[externalID] = &domain.CorrelationEntry{
		RunID:      runID,
		ExternalID: externalID,
		RecordID:   recordID,
		Fields:     fields,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now(),
	}
	return nil
}

func (m *memLedger) ResolveCorrelation(_ context.Context, _ uuid.UUID, externalID string, _ string) (domain.CorrelationEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.correlations[externalID]
	if !ok || entry.Resolved {
		return domain.CorrelationEntry{}, false, nil
	}
	entry.Resolved = true
	now := time.Now()
	entry.ResolvedAt = &now
	return *entry, true, nil
}

func (m *memLedger) FindByExternalID(_ context.Context, externalID string) (domain.CorrelationEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.correlations[externalID]
	if !ok {
		return domain.CorrelationEntry{}, false, nil
	}
	return *entry, true, nil
}

func (m *memLedger) SweepExpiredCorrelations(_ context.Context, _ uuid.UUID, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	swept := 0
	for _, entry := range m.correlations {
		if entry.Resolved || !entry.Expired(now) {
			continue
		}
		entry.Resolved = true
		swept++
		for _, field := range entry.Fields {
			state := m.fields[fieldKey{entry.RecordID, domain.ProviderApollo, field}]
			if state != nil && !state.Status.Terminal() {
				state.Status = domain.StatusTimeout
			}
		}
	}
	return swept, nil
}

func (m *memLedger) PendingCorrelations(context.Context, uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, entry := range m.correlations {
		if !entry.Resolved {
			n++
		}
	}
	return n, nil
}

// BatchLogRepository

func (m *memLedger) LogBatch(_ context.Context, entry domain.BatchLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.batches) + 1)
	m.batches = append(m.batches, entry)
	return nil
}

func (m *memLedger) UpdateBatchStatus(_ context.Context, _ uuid.UUID, batchID uuid.UUID, status domain.BatchStatus, retryCount int, httpStatus *int, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.batches {
		if m.batches[i].BatchID == batchID {
			m.batches[i].Status = status
			m.batches[i].RetryCount = retryCount
			m.batches[i].HTTPStatus = httpStatus
			m.batches[i].Error = errMsg
		}
	}
	return nil
}

func (m *memLedger) ListBatches(_ context.Context, _ uuid.UUID, limit int) ([]domain.BatchLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.BatchLogEntry(nil), m.batches...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
