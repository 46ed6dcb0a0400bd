package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the pipeline controller's current position in a run.
type Phase string

const (
	PhaseLoad         Phase = "load"
	PhaseLushaEnrich  Phase = "lusha_enrich"
	PhaseApolloSubmit Phase = "apollo_submit"
	PhaseAwait        Phase = "await_callbacks"
	PhaseExport       Phase = "export"
	PhaseComplete     Phase = "complete"
)

// Run is the singleton-per-run metadata record. Every component derives
// "what to do next" by querying this entity and the record state, never
// from process-global variables, so an interrupted run can be resumed by a
// fresh process.
type Run struct {
	ID              uuid.UUID  `json:"id"`
	InputFile       string     `json:"input_file"`
	InputHash       string     `json:"input_hash"`
	Phase           Phase      `json:"phase"`
	TotalRows       int        `json:"total_rows"`
	WebhookDeadline *time.Time `json:"webhook_deadline,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Active reports whether the run has not yet finished.
func (r Run) Active() bool {
	return r.CompletedAt == nil
}

// StatusCounts aggregates field statuses for one provider.
type StatusCounts struct {
	Pending  int `json:"pending"`
	Sent     int `json:"sent"`
	Complete int `json:"complete"`
	Error    int `json:"error"`
	Timeout  int `json:"timeout"`
}

// Done is the number of records in a terminal status.
func (c StatusCounts) Done() int {
	return c.Complete + c.Error + c.Timeout
}

// StatusSummary is the aggregate progress report for a run, safe to read
// at any time including mid-run.
type StatusSummary struct {
	RunID     uuid.UUID                           `json:"run_id"`
	Phase     Phase                               `json:"phase"`
	TotalRows int                                 `json:"total_rows"`
	Providers map[Provider]map[Field]StatusCounts `json:"providers"`
}

// Counts returns the aggregate for (provider, field), zero-valued when the
// run has no rows for that pair yet.
func (s StatusSummary) Counts(provider Provider, field Field) StatusCounts {
	return s.Providers[provider][field]
}
