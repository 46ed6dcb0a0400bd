package provider

import (
	"context"

	"github.com/mleitner/leadenrich/internal/domain"
)

// Outcome is the per-record result of a bulk enrichment call. Every input
// record gets exactly one outcome; a batch never silently drops a record.
type Outcome struct {
	RecordID int

	// Fields delivered synchronously in this response.
	Fields map[domain.Field]string

	// PendingFields arrive later via callback, correlated by ExternalID.
	PendingFields []domain.Field
	ExternalID    string

	// FailureReason is non-empty when the record could not be enriched.
	FailureReason string
}

// Failed reports whether the record yielded no usable data.
func (o Outcome) Failed() bool {
	return o.FailureReason != ""
}

// Partial reports whether some fields will arrive asynchronously.
func (o Outcome) Partial() bool {
	return len(o.PendingFields) > 0
}

// Client sends bulk enrichment requests to one provider, never exceeding
// its rate limit and surviving transient failures.
type Client interface {
	Provider() domain.Provider

	// Fields lists every field this provider enriches, claim key first.
	Fields() []domain.Field

	// EnrichBatch enriches the given persons, splitting the input into
	// provider-sized chunks as needed. Returns one outcome per person.
	EnrichBatch(ctx context.Context, persons []domain.Person) ([]Outcome, error)
}

// chunk splits persons into slices of at most size records.
func chunk(persons []domain.Person, size int) [][]domain.Person {
	if size <= 0 || len(persons) <= size {
		return [][]domain.Person{persons}
	}
	var out [][]domain.Person
	for start := 0; start < len(persons); start += size {
		end := start + size
		if end > len(persons) {
			end = len(persons)
		}
		out = append(out, persons[start:end])
	}
	return out
}
