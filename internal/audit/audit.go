package audit

import (
	"context"
	"time"
)

// Record is one finished prediction attempt. PredictedSales is nil for
// failed jobs; Error is empty for completed ones.
type Record struct {
	ID             int64
	JobID          string
	Date           string
	Store          int
	Item           int
	Status         string
	PredictedSales *float64
	Error          string
	DurationMs     int64
	CreatedAt      time.Time
}

// Store persists prediction records for offline analysis. Job state itself
// stays in the in-memory registry; this log is write-only from the worker's
// point of view and its failures must never affect job processing.
type Store interface {
	LogPrediction(ctx context.Context, rec *Record) error
}

// NopStore discards records. Used when no database is configured.
type NopStore struct{}

func (NopStore) LogPrediction(context.Context, *Record) error { return nil }
