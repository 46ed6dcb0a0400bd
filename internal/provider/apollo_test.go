package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mleitner/leadenrich/internal/config"
	"github.com/mleitner/leadenrich/internal/domain"
)

const testWebhookURL = "https://callbacks.example/webhook/apollo"

func newTestApolloClient(t *testing.T, handler http.HandlerFunc) *ApolloClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	settings := config.ProviderSettings{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Rate:      1000,
		Burst:     10,
		BatchSize: 10,
	}
	return NewApolloClient(settings, testRetry(), time.Second, testWebhookURL)
}

func TestApolloBulkMatchOutcomes(t *testing.T) {
	client := newTestApolloClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/people/bulk_match" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Error("missing X-Api-Key header")
		}

		var req apolloBulkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.WebhookURL != testWebhookURL {
			t.Errorf("webhook_url = %q, want %q", req.WebhookURL, testWebhookURL)
		}
		if !req.RevealPhoneNumber {
			t.Error("reveal_phone_number must be set to trigger callbacks")
		}
		if len(req.Details) != 2 {
			t.Errorf("expected 2 details, got %d", len(req.Details))
		}

		json.NewEncoder(w).Encode(apolloBulkResponse{
			Status: "success",
			Matches: []*apolloMatch{
				{ID: "apollo-person-1", Email: "anna.schmidt@acme.example"},
				nil,
			},
		})
	})

	persons := []domain.Person{
		{RecordID: 1, FirstName: "Anna", LastName: "Schmidt", Company: "ACME"},
		{RecordID: 2, FirstName: "Ben", LastName: "Weber", Company: "Initech"},
	}

	outcomes, err := client.EnrichBatch(context.Background(), persons)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}

	matched := outcomes[0]
	if matched.ExternalID != "apollo-person-1" {
		t.Errorf("external id = %q", matched.ExternalID)
	}
	if got := matched.Fields[domain.FieldEmail]; got != "anna.schmidt@acme.example" {
		t.Errorf("email = %q", got)
	}
	if !matched.Partial() {
		t.Fatal("matched records must leave phone fields pending")
	}
	if len(matched.PendingFields) != 2 {
		t.Errorf("pending fields = %v, want mobile and direct dial", matched.PendingFields)
	}

	unmatched := outcomes[1]
	if unmatched.FailureReason != "no match found" {
		t.Errorf("unmatched failure = %q", unmatched.FailureReason)
	}
	if unmatched.Partial() {
		t.Error("unmatched records must not await callbacks")
	}
}

func TestApolloSingleMatchUsesMatchEndpoint(t *testing.T) {
	client := newTestApolloClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/people/match" {
			t.Errorf("single person must use the match endpoint, got %s", r.URL.Path)
		}

		var req apolloSingleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.WebhookURL != testWebhookURL {
			t.Errorf("webhook_url = %q", req.WebhookURL)
		}
		if req.FirstName != "Anna" || req.OrganizationName != "ACME" {
			t.Errorf("unexpected detail: %+v", req.apolloMatchDetail)
		}

		json.NewEncoder(w).Encode(apolloSingleResponse{Person: &apolloMatch{
			ID:    "apollo-person-9",
			Email: "anna.schmidt@acme.example",
			PhoneNumbers: []ApolloPhone{
				{SanitizedNumber: "+4915112345", TypeCD: "mobile", ConfidenceCD: "high"},
			},
		}})
	})

	outcomes, err := client.EnrichBatch(context.Background(), []domain.Person{
		{RecordID: 7, FirstName: "Anna", LastName: "Schmidt", Company: "ACME"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if outcomes[0].ExternalID != "apollo-person-9" {
		t.Errorf("external id = %q", outcomes[0].ExternalID)
	}
	// The sync number resolves the mobile field immediately: only the
	// unanswered direct dial may wait for the callback.
	if got := outcomes[0].Fields[domain.FieldMobile]; got != "+4915112345" {
		t.Errorf("sync mobile = %q", got)
	}
	if got := outcomes[0].PendingFields; len(got) != 1 || got[0] != domain.FieldDirectDial {
		t.Errorf("pending fields = %v, want only direct dial", got)
	}
}

func TestApolloEmptyIDCountsAsNoMatch(t *testing.T) {
	client := newTestApolloClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apolloSingleResponse{Person: &apolloMatch{ID: ""}})
	})

	outcomes, err := client.EnrichBatch(context.Background(), []domain.Person{
		{RecordID: 1, FirstName: "Anna", LastName: "Schmidt"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].FailureReason != "no match found" {
		t.Errorf("failure = %q, want empty person id treated as no match", outcomes[0].FailureReason)
	}
}
