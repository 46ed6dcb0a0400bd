package domain

import "time"

// Provider identifies one of the external enrichment APIs.
type Provider string

const (
	ProviderLusha  Provider = "lusha"
	ProviderApollo Provider = "apollo"
)

// Field is an enrichable attribute scoped to a provider.
type Field string

const (
	FieldEmail      Field = "email"
	FieldMobile     Field = "mobile"
	FieldDirectDial Field = "direct_dial"
)

// AllFields lists every enrichable field in stable order.
var AllFields = []Field{FieldEmail, FieldMobile, FieldDirectDial}

// ApolloAsyncFields are the fields Apollo delivers via webhook rather than
// in the synchronous bulk match response.
var ApolloAsyncFields = []Field{FieldMobile, FieldDirectDial}

// FieldStatus tracks a single (provider, field) through enrichment.
// Transitions only move forward: pending -> sent -> {complete|error|timeout}.
type FieldStatus string

const (
	StatusPending  FieldStatus = "pending"
	StatusSent     FieldStatus = "sent"
	StatusComplete FieldStatus = "complete"
	StatusError    FieldStatus = "error"
	StatusTimeout  FieldStatus = "timeout"
)

// Terminal reports whether no further transition is possible.
func (s FieldStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusTimeout
}

var statusRank = map[FieldStatus]int{
	StatusPending:  0,
	StatusSent:     1,
	StatusComplete: 2,
	StatusError:    2,
	StatusTimeout:  2,
}

// CanTransition reports whether moving from s to next preserves the
// monotonic status ordering. Complete is immutable; error and timeout may
// only be re-terminalized by an equal-rank write, which callers treat as a
// no-op.
func (s FieldStatus) CanTransition(next FieldStatus) bool {
	if s == StatusComplete {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// Person is the contact identity extracted from one input row.
type Person struct {
	RecordID  int    `json:"record_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
}

// FieldState is the persisted status of one (record, provider, field).
type FieldState struct {
	RecordID    int         `json:"record_id"`
	Provider    Provider    `json:"provider"`
	Field       Field       `json:"field"`
	Status      FieldStatus `json:"status"`
	Value       *string     `json:"value,omitempty"`
	Error       *string     `json:"error,omitempty"`
	SentAt      *time.Time  `json:"sent_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// FieldResult is the outcome written back for one (record, provider, field).
type FieldResult struct {
	Status FieldStatus
	Value  *string
	Error  *string
}

// CompleteResult builds a successful field outcome.
func CompleteResult(value string) FieldResult {
	return FieldResult{Status: StatusComplete, Value: &value}
}

// ErrorResult builds a failed field outcome with a stored reason.
func ErrorResult(reason string) FieldResult {
	return FieldResult{Status: StatusError, Error: &reason}
}

// TimeoutResult marks a field whose asynchronous delivery never arrived
// before the configured deadline. Distinct from error: the provider may
// still have delivered, we stopped waiting.
func TimeoutResult() FieldResult {
	return FieldResult{Status: StatusTimeout}
}

// EnrichedRecord is the merged best-known state for one record across both
// providers, as surfaced by export.
type EnrichedRecord struct {
	Person

	Fields map[Provider]map[Field]FieldState `json:"fields"`
}

// Value returns the enriched value for (provider, field), or "" if the
// field is not complete.
func (r EnrichedRecord) Value(provider Provider, field Field) string {
	state, ok := r.Fields[provider][field]
	if !ok || state.Value == nil {
		return ""
	}
	return *state.Value
}

// Status returns the field status for (provider, field), defaulting to
// pending when no state row exists.
func (r EnrichedRecord) Status(provider Provider, field Field) FieldStatus {
	state, ok := r.Fields[provider][field]
	if !ok {
		return StatusPending
	}
	return state.Status
}
