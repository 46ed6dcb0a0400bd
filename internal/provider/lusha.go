package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mleitner/leadenrich/internal/config"
	"github.com/mleitner/leadenrich/internal/domain"
)

// LushaClient enriches contacts through Lusha's bulk person API. Every
// field (email, mobile, direct-dial) arrives in the synchronous response.
type LushaClient struct {
	base      *baseClient
	batchSize int
}

// NewLushaClient builds a Lusha client from settings.
func NewLushaClient(settings config.ProviderSettings, retry config.RetrySettings, timeout time.Duration) *LushaClient {
	base := newBaseClient("lusha", settings, retry, timeout)
	base.headers["api_key"] = settings.APIKey
	batchSize := settings.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &LushaClient{base: base, batchSize: batchSize}
}

func (c *LushaClient) Provider() domain.Provider {
	return domain.ProviderLusha
}

func (c *LushaClient) Fields() []domain.Field {
	return []domain.Field{domain.FieldEmail, domain.FieldMobile, domain.FieldDirectDial}
}

type lushaBulkRequest struct {
	Contacts []lushaRequestContact `json:"contacts"`
	Metadata lushaRequestMetadata  `json:"metadata"`
}

type lushaRequestContact struct {
	ContactID string                `json:"contactId"`
	FullName  string                `json:"fullName"`
	Companies []lushaRequestCompany `json:"companies"`
}

type lushaRequestCompany struct {
	Name      string `json:"name"`
	IsCurrent bool   `json:"isCurrent"`
}

type lushaRequestMetadata struct {
	RevealEmails   bool `json:"revealEmails"`
	RevealPhones   bool `json:"revealPhones"`
	PartialProfile bool `json:"partialProfile"`
}

type lushaBulkResponse struct {
	Contacts map[string]lushaContact `json:"contacts"`
}

type lushaContact struct {
	Error string            `json:"error,omitempty"`
	Data  *lushaContactData `json:"data,omitempty"`
}

type lushaContactData struct {
	EmailAddresses []lushaEmail `json:"emailAddresses"`
	PhoneNumbers   []lushaPhone `json:"phoneNumbers"`
}

type lushaEmail struct {
	Email     string `json:"email"`
	EmailType string `json:"emailType"`
}

// EnrichBatch sends persons to Lusha in chunks of at most the configured
// bulk cap. Outcomes cover every person of every chunk that reached the
// provider; an error is returned only when a chunk was never sent (rate
// limit deadline or cancellation), with outcomes for the chunks before it.
func (c *LushaClient) EnrichBatch(ctx context.Context, persons []domain.Person) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(persons))
	for _, part := range chunk(persons, c.batchSize) {
		chunkOutcomes, err := c.enrichChunk(ctx, part)
		if err != nil {
			if errors.Is(err, ErrRateLimitTimeout) || ctx.Err() != nil {
				return outcomes, err
			}
			// Provider rejected the chunk after retries: every record in
			// it fails with the same stored reason.
			for _, p := range part {
				outcomes = append(outcomes, Outcome{RecordID: p.RecordID, FailureReason: err.Error()})
			}
			continue
		}
		outcomes = append(outcomes, chunkOutcomes...)
	}
	return outcomes, nil
}

func (c *LushaClient) enrichChunk(ctx context.Context, persons []domain.Person) ([]Outcome, error) {
	req := lushaBulkRequest{
		Contacts: make([]lushaRequestContact, 0, len(persons)),
		Metadata: lushaRequestMetadata{RevealEmails: true, RevealPhones: true, PartialProfile: true},
	}
	for _, p := range persons {
		req.Contacts = append(req.Contacts, lushaRequestContact{
			ContactID: strconv.Itoa(p.RecordID),
			FullName:  p.FirstName + " " + p.LastName,
			Companies: []lushaRequestCompany{{Name: p.Company, IsCurrent: true}},
		})
	}

	var resp lushaBulkResponse
	if _, err := c.base.doJSON(ctx, "POST", "/v2/person", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("lusha bulk enrich failed: %w", err)
	}

	outcomes := make([]Outcome, 0, len(persons))
	for _, p := range persons {
		contact, ok := resp.Contacts[strconv.Itoa(p.RecordID)]
		if !ok {
			outcomes = append(outcomes, Outcome{RecordID: p.RecordID, FailureReason: "no result returned"})
			continue
		}
		if contact.Error != "" {
			outcomes = append(outcomes, Outcome{RecordID: p.RecordID, FailureReason: contact.Error})
			continue
		}
		if contact.Data == nil {
			outcomes = append(outcomes, Outcome{RecordID: p.RecordID, FailureReason: "no data in contact"})
			continue
		}
		outcomes = append(outcomes, contactOutcome(p.RecordID, contact.Data))
	}
	return outcomes, nil
}

func contactOutcome(recordID int, data *lushaContactData) Outcome {
	fields := map[domain.Field]string{}

	// Prefer a work/business address over the first one listed.
	email := ""
	for _, addr := range data.EmailAddresses {
		if addr.Email == "" {
			continue
		}
		if addr.EmailType == "work" || addr.EmailType == "business" || email == "" {
			email = addr.Email
		}
	}
	if email != "" {
		fields[domain.FieldEmail] = email
	}

	mobile, direct := classifyLushaPhones(data.PhoneNumbers)
	if mobile != "" {
		fields[domain.FieldMobile] = mobile
	}
	if direct != "" {
		fields[domain.FieldDirectDial] = direct
	}

	return Outcome{RecordID: recordID, Fields: fields}
}
