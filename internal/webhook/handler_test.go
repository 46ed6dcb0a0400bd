package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mleitner/leadenrich/internal/domain"
	"github.com/mleitner/leadenrich/internal/provider"

	"github.com/google/uuid"
)

type fakeCorrelations struct {
	mu      sync.Mutex
	entries map[string]*domain.CorrelationEntry
}

func newFakeCorrelations() *fakeCorrelations {
	return &fakeCorrelations{entries: map[string]*domain.CorrelationEntry{}}
}

func (f *fakeCorrelations) CreateCorrelation(_ context.Context, runID uuid.UUID, externalID string, recordID int, fields []domain.Field, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[externalID] = &domain.CorrelationEntry{
		RunID: runID, ExternalID: externalID, RecordID: recordID,
		Fields: fields, ExpiresAt: expiresAt,
	}
	return nil
}

func (f *fakeCorrelations) ResolveCorrelation(_ context.Context, _ uuid.UUID, externalID string, _ string) (domain.CorrelationEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[externalID]
	if !ok || entry.Resolved {
		return domain.CorrelationEntry{}, false, nil
	}
	entry.Resolved = true
	return *entry, true, nil
}

func (f *fakeCorrelations) FindByExternalID(_ context.Context, externalID string) (domain.CorrelationEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[externalID]
	if !ok {
		return domain.CorrelationEntry{}, false, nil
	}
	return *entry, true, nil
}

func (f *fakeCorrelations) SweepExpiredCorrelations(context.Context, uuid.UUID, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeCorrelations) PendingCorrelations(context.Context, uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, entry := range f.entries {
		if !entry.Resolved {
			n++
		}
	}
	return n, nil
}

type resultKey struct {
	recordID int
	field    domain.Field
}

type fakeRecords struct {
	mu      sync.Mutex
	results map[resultKey]domain.FieldResult
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{results: map[resultKey]domain.FieldResult{}}
}

func (f *fakeRecords) RecordResult(_ context.Context, _ uuid.UUID, recordID int, _ domain.Provider, field domain.Field, result domain.FieldResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[resultKey{recordID, field}] = result
	return nil
}

func (f *fakeRecords) UpsertRecords(context.Context, uuid.UUID, []domain.Person) (int, error) {
	return 0, nil
}
func (f *fakeRecords) ClaimBatch(context.Context, uuid.UUID, domain.Provider, []domain.Field, int) ([]domain.Person, error) {
	return nil, nil
}
func (f *fakeRecords) ReleaseBatch(context.Context, uuid.UUID, domain.Provider, []domain.Field, []int) error {
	return nil
}
func (f *fakeRecords) ReleaseStuck(context.Context, uuid.UUID, domain.Provider) (int, error) {
	return 0, nil
}
func (f *fakeRecords) CountByStatus(context.Context, uuid.UUID, domain.Provider, domain.Field, domain.FieldStatus) (int, error) {
	return 0, nil
}
func (f *fakeRecords) RunStatus(context.Context, uuid.UUID) (domain.StatusSummary, error) {
	return domain.StatusSummary{}, nil
}
func (f *fakeRecords) ExportableSnapshot(context.Context, uuid.UUID) ([]domain.EnrichedRecord, error) {
	return nil, nil
}

func TestCorrelatorResolvesCallback(t *testing.T) {
	runID := uuid.New()
	correlations := newFakeCorrelations()
	records := newFakeRecords()
	correlator := NewCorrelator(correlations, records)

	ctx := context.Background()
	if err := correlations.CreateCorrelation(ctx, runID, "apollo-person-1", 3, domain.ApolloAsyncFields, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	ack, err := correlator.Process(ctx, Payload{People: []Person{{
		ID: "apollo-person-1",
		PhoneNumbers: []provider.ApolloPhone{
			{SanitizedNumber: "+4915112345", TypeCD: "mobile", ConfidenceCD: "high"},
		},
	}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Processed != 1 || ack.Duplicate != 0 {
		t.Fatalf("ack = %+v, want one processed", ack)
	}

	mobile := records.results[resultKey{3, domain.FieldMobile}]
	if mobile.Status != domain.StatusComplete || mobile.Value == nil || *mobile.Value != "+4915112345" {
		t.Errorf("mobile result = %+v, want complete with number", mobile)
	}

	// No direct dial in the payload: the field still goes terminal.
	direct := records.results[resultKey{3, domain.FieldDirectDial}]
	if direct.Status != domain.StatusComplete {
		t.Errorf("direct dial result = %+v, want complete without value", direct)
	}
	if direct.Value != nil {
		t.Errorf("direct dial value = %q, want none", *direct.Value)
	}
}

func TestCorrelatorIgnoresUnknownAndDuplicate(t *testing.T) {
	runID := uuid.New()
	correlations := newFakeCorrelations()
	records := newFakeRecords()
	correlator := NewCorrelator(correlations, records)

	ctx := context.Background()

	// Unknown external id: acknowledged, nothing written.
	ack, err := correlator.Process(ctx, Payload{People: []Person{{ID: "never-seen"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Processed != 0 || ack.Duplicate != 1 {
		t.Fatalf("unknown id ack = %+v", ack)
	}
	if len(records.results) != 0 {
		t.Fatal("unknown callbacks must not write field results")
	}

	if err := correlations.CreateCorrelation(ctx, runID, "apollo-person-2", 5, domain.ApolloAsyncFields, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	payload := Payload{People: []Person{{
		ID:           "apollo-person-2",
		PhoneNumbers: []provider.ApolloPhone{{SanitizedNumber: "+4915100000", TypeCD: "mobile", ConfidenceCD: "high"}},
	}}}

	first, err := correlator.Process(ctx, payload)
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if first.Processed != 1 {
		t.Fatalf("first delivery ack = %+v", first)
	}

	records.results[resultKey{5, domain.FieldMobile}] = domain.CompleteResult("+4915100000")

	// Redelivery: the resolved entry stops the write, data stays intact.
	second, err := correlator.Process(ctx, payload)
	if err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}
	if second.Processed != 0 || second.Duplicate != 1 {
		t.Fatalf("second delivery ack = %+v, want duplicate", second)
	}
	if got := records.results[resultKey{5, domain.FieldMobile}]; got.Value == nil || *got.Value != "+4915100000" {
		t.Errorf("mobile after redelivery = %+v, original value must survive", got)
	}
}

func TestCorrelatorSkipsPeopleWithoutID(t *testing.T) {
	correlator := NewCorrelator(newFakeCorrelations(), newFakeRecords())

	ack, err := correlator.Process(context.Background(), Payload{People: []Person{{ID: ""}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Processed != 0 || ack.Duplicate != 0 {
		t.Fatalf("ack = %+v, want the entry silently skipped", ack)
	}
}
