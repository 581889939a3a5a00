package job

import (
	"time"

	"github.com/vnmchuo/forecast-api/internal/forecast"
)

// Status is the lifecycle state of a job. Transitions are monotonic:
// pending -> processing -> completed or failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order, for summary counts.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one tracked unit of forecasting work. Result is set exactly when
// the job completed; Error exactly when it failed; CompletedAt exactly when
// the status is terminal.
type Job struct {
	ID          string               `json:"job_id"`
	Status      Status               `json:"status"`
	Request     forecast.Request     `json:"request"`
	SubmittedAt time.Time            `json:"submitted_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Result      *forecast.Prediction `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// clone returns a self-consistent copy safe to hand to readers while the
// worker keeps mutating the stored record.
func (j *Job) clone() Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return c
}
