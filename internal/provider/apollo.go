package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mleitner/leadenrich/internal/config"
	"github.com/mleitner/leadenrich/internal/domain"
)

// ApolloClient enriches contacts through Apollo's people match API. The
// synchronous response carries the email and the person id; phone numbers
// are delivered minutes later to the webhook URL registered with each
// request, correlated by that person id.
type ApolloClient struct {
	base       *baseClient
	batchSize  int
	webhookURL string
}

// NewApolloClient builds an Apollo client from settings. webhookURL is
// the public address phone callbacks are posted to.
func NewApolloClient(settings config.ProviderSettings, retry config.RetrySettings, timeout time.Duration, webhookURL string) *ApolloClient {
	base := newBaseClient("apollo", settings, retry, timeout)
	base.headers["X-Api-Key"] = settings.APIKey
	base.headers["Cache-Control"] = "no-cache"
	batchSize := settings.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ApolloClient{base: base, batchSize: batchSize, webhookURL: webhookURL}
}

func (c *ApolloClient) Provider() domain.Provider {
	return domain.ProviderApollo
}

func (c *ApolloClient) Fields() []domain.Field {
	return []domain.Field{domain.FieldEmail, domain.FieldMobile, domain.FieldDirectDial}
}

type apolloMatchDetail struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	OrganizationName string `json:"organization_name"`
}

type apolloBulkRequest struct {
	RevealPersonalEmails bool                `json:"reveal_personal_emails"`
	RevealPhoneNumber    bool                `json:"reveal_phone_number"`
	WebhookURL           string              `json:"webhook_url"`
	Details              []apolloMatchDetail `json:"details"`
}

type apolloSingleRequest struct {
	apolloMatchDetail
	RevealPersonalEmails bool   `json:"reveal_personal_emails"`
	RevealPhoneNumber    bool   `json:"reveal_phone_number"`
	WebhookURL           string `json:"webhook_url"`
}

type apolloMatch struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	PhoneNumbers []ApolloPhone `json:"phone_numbers"`
}

type apolloBulkResponse struct {
	Status  string         `json:"status"`
	Matches []*apolloMatch `json:"matches"`
}

type apolloSingleResponse struct {
	Person *apolloMatch `json:"person"`
}

// EnrichBatch submits persons in chunks of at most the configured bulk
// cap (Apollo allows 10 per bulk_match call). Matched records yield the
// email now; phone fields the response did not answer stay pending on
// the person id.
func (c *ApolloClient) EnrichBatch(ctx context.Context, persons []domain.Person) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(persons))
	for _, part := range chunk(persons, c.batchSize) {
		chunkOutcomes, err := c.enrichChunk(ctx, part)
		if err != nil {
			if errors.Is(err, ErrRateLimitTimeout) || ctx.Err() != nil {
				return outcomes, err
			}
			for _, p := range part {
				outcomes = append(outcomes, Outcome{RecordID: p.RecordID, FailureReason: err.Error()})
			}
			continue
		}
		outcomes = append(outcomes, chunkOutcomes...)
	}
	return outcomes, nil
}

func (c *ApolloClient) enrichChunk(ctx context.Context, persons []domain.Person) ([]Outcome, error) {
	matches, err := c.match(ctx, persons)
	if err != nil {
		return nil, err
	}

	// Matches come back in request order; a nil entry means no match for
	// that position.
	outcomes := make([]Outcome, 0, len(persons))
	for i, p := range persons {
		var match *apolloMatch
		if i < len(matches) {
			match = matches[i]
		}
		if match == nil || match.ID == "" {
			outcomes = append(outcomes, Outcome{RecordID: p.RecordID, FailureReason: "no match found"})
			continue
		}

		outcome := Outcome{
			RecordID:   p.RecordID,
			Fields:     map[domain.Field]string{},
			ExternalID: match.ID,
		}
		if match.Email != "" {
			outcome.Fields[domain.FieldEmail] = match.Email
		}
		// Occasionally the sync response already carries numbers; those
		// resolve now and only the rest waits on the callback.
		mobile, direct := ClassifyApolloPhones(match.PhoneNumbers)
		if mobile != "" {
			outcome.Fields[domain.FieldMobile] = mobile
		}
		if direct != "" {
			outcome.Fields[domain.FieldDirectDial] = direct
		}
		for _, f := range domain.ApolloAsyncFields {
			if outcome.Fields[f] == "" {
				outcome.PendingFields = append(outcome.PendingFields, f)
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (c *ApolloClient) match(ctx context.Context, persons []domain.Person) ([]*apolloMatch, error) {
	if len(persons) == 1 {
		req := apolloSingleRequest{
			apolloMatchDetail: apolloMatchDetail{
				FirstName:        persons[0].FirstName,
				LastName:         persons[0].LastName,
				OrganizationName: persons[0].Company,
			},
			RevealPersonalEmails: true,
			RevealPhoneNumber:    true,
			WebhookURL:           c.webhookURL,
		}
		var resp apolloSingleResponse
		if _, err := c.base.doJSON(ctx, "POST", "/api/v1/people/match", nil, req, &resp); err != nil {
			return nil, fmt.Errorf("apollo match failed: %w", err)
		}
		return []*apolloMatch{resp.Person}, nil
	}

	req := apolloBulkRequest{
		RevealPersonalEmails: true,
		RevealPhoneNumber:    true,
		WebhookURL:           c.webhookURL,
		Details:              make([]apolloMatchDetail, 0, len(persons)),
	}
	for _, p := range persons {
		req.Details = append(req.Details, apolloMatchDetail{
			FirstName:        p.FirstName,
			LastName:         p.LastName,
			OrganizationName: p.Company,
		})
	}
	var resp apolloBulkResponse
	if _, err := c.base.doJSON(ctx, "POST", "/api/v1/people/bulk_match", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("apollo bulk match failed: %w", err)
	}
	return resp.Matches, nil
}
