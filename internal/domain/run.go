package domain

import "time"

// RunStatus is the lifecycle state of a batch forecast run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// ForecastRun tracks one batch execution over every active SKU/warehouse.
type ForecastRun struct {
	ID            string     `json:"id" db:"id"`
	AnchorMonth   time.Time  `json:"anchor_month" db:"anchor_month"`
	Status        RunStatus  `json:"status" db:"status"`
	TotalSKUs     int        `json:"total_skus" db:"total_skus"`
	ProcessedSKUs int        `json:"processed_skus" db:"processed_skus"`
	FailedSKUs    int        `json:"failed_skus" db:"failed_skus"`
	SkippedSKUs   int        `json:"skipped_skus" db:"skipped_skus"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`
}

// Finished reports whether the run reached a terminal state.
func (r ForecastRun) Finished() bool {
	return r.Status == RunCompleted || r.Status == RunFailed || r.Status == RunCancelled
}
