package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus tracks one outbound bulk call through its lifecycle.
type BatchStatus string

const (
	BatchSubmitted BatchStatus = "submitted"
	BatchComplete  BatchStatus = "complete"
	BatchError     BatchStatus = "error"
)

// BatchLogEntry records one outbound bulk provider call. Append-only;
// used for diagnostics and to audit what was sent when a run resumes.
type BatchLogEntry struct {
	ID         int64       `json:"id"`
	RunID      uuid.UUID   `json:"run_id"`
	BatchID    uuid.UUID   `json:"batch_id"`
	Provider   Provider    `json:"provider"`
	RecordIDs  []int       `json:"record_ids"`
	Size       int         `json:"size"`
	Status     BatchStatus `json:"status"`
	RetryCount int         `json:"retry_count"`
	HTTPStatus *int        `json:"http_status,omitempty"`
	Error      *string     `json:"error,omitempty"`
	RequestAt  time.Time   `json:"request_at"`
	ResponseAt *time.Time  `json:"response_at,omitempty"`
}
