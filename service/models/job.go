package models

// Job links an accepted HTTP request to the transaction it will initiate.
// Acceptance status is tracked in redis under the job id.
type Job struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
}

// Job acceptance statuses.
const (
	JobStatusPending   = "pending"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)
