package webhook

import (
	"context"
	"encoding/json"
	"log"

	"github.com/mleitner/leadenrich/internal/domain"
	"github.com/mleitner/leadenrich/internal/provider"
	"github.com/mleitner/leadenrich/internal/repository"

	"github.com/google/uuid"
)

// Correlator maps asynchronous provider callbacks back to the records
// awaiting them and advances their field state in the ledger. It holds no
// mutable state of its own and runs independently of the pipeline phase,
// so late callbacks after a run-level timeout are still acknowledged.
type Correlator struct {
	correlations repository.CorrelationRepository
	records      repository.RecordRepository
}

// NewCorrelator builds a correlator over the ledger repositories.
func NewCorrelator(correlations repository.CorrelationRepository, records repository.RecordRepository) *Correlator {
	return &Correlator{correlations: correlations, records: records}
}

// Process handles one callback payload. Unknown and already-resolved
// external ids are acknowledged without error: providers deliver
// callbacks out of order and more than once, and a callback arriving
// after the timeout sweep resolves as unknown and is discarded (logged,
// not written over the timeout status).
func (c *Correlator) Process(ctx context.Context, payload Payload) (Ack, error) {
	ack := Ack{Status: "received"}

	for _, person := range payload.People {
		if person.ID == "" {
			log.Printf("[WEBHOOK] callback person has no id, skipping")
			continue
		}

		entry, found, err := c.correlations.FindByExternalID(ctx, person.ID)
		if err != nil {
			return ack, err
		}
		if !found {
			log.Printf("[WEBHOOK] no correlation entry for external id %s", person.ID)
			ack.Duplicate++
			continue
		}

		raw, _ := json.Marshal(person)
		resolved, ok, err := c.correlations.ResolveCorrelation(ctx, entry.RunID, person.ID, string(raw))
		if err != nil {
			return ack, err
		}
		if !ok {
			// Second delivery, or the timeout sweep got there first.
			log.Printf("[WEBHOOK] correlation for external id %s already resolved, ignoring", person.ID)
			ack.Duplicate++
			continue
		}

		if err := c.recordFields(ctx, resolved, person); err != nil {
			return ack, err
		}
		ack.Processed++
	}

	return ack, nil
}

// Status reports the aggregate progress of a run, for the listener's
// status endpoint.
func (c *Correlator) Status(ctx context.Context, runID uuid.UUID) (domain.StatusSummary, error) {
	return c.records.RunStatus(ctx, runID)
}

func (c *Correlator) recordFields(ctx context.Context, entry domain.CorrelationEntry, person Person) error {
	mobile, direct := provider.ClassifyApolloPhones(person.PhoneNumbers)
	delivered := map[domain.Field]string{
		domain.FieldMobile:     mobile,
		domain.FieldDirectDial: direct,
	}
	if person.Email != "" {
		delivered[domain.FieldEmail] = person.Email
	}

	// Every awaited field goes terminal: the provider has answered, even
	// when a particular number was not part of the answer.
	for _, field := range entry.Fields {
		result := domain.FieldResult{Status: domain.StatusComplete}
		if value := delivered[field]; value != "" {
			result = domain.CompleteResult(value)
		}
		if err := c.records.RecordResult(ctx, entry.RunID, entry.RecordID, domain.ProviderApollo, field, result); err != nil {
			return err
		}
	}

	log.Printf("[WEBHOOK] record %d updated from callback: mobile=%q direct=%q",
		entry.RecordID, mobile, direct)
	return nil
}
