package domain

import (
	"time"

	"github.com/google/uuid"
)

// CorrelationEntry maps an external asynchronous identifier (Apollo's
// person id, assigned at submission time) back to the record and fields
// awaiting its callback. Created when a batch is submitted, consumed when
// the matching callback arrives or the entry expires.
type CorrelationEntry struct {
	RunID      uuid.UUID  `json:"run_id"`
	ExternalID string     `json:"external_id"`
	RecordID   int        `json:"record_id"`
	Fields     []Field    `json:"fields"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Expired reports whether the entry's wait deadline has passed.
func (e CorrelationEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
