package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit table if it does not exist yet. Called at
// startup when an audit database is configured.
func EnsureSchema(ctx context.Context, db DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS prediction_logs (
			id              BIGSERIAL PRIMARY KEY,
			job_id          TEXT NOT NULL,
			forecast_date   DATE NOT NULL,
			store           INTEGER NOT NULL,
			item            INTEGER NOT NULL,
			status          TEXT NOT NULL,
			predicted_sales DOUBLE PRECISION,
			error           TEXT NOT NULL DEFAULT '',
			duration_ms     BIGINT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) LogPrediction(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO prediction_logs (job_id, forecast_date, store, item, status, predicted_sales, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		rec.JobID, rec.Date, rec.Store, rec.Item,
		rec.Status, rec.PredictedSales, rec.Error, rec.DurationMs,
	).Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log prediction: %w", err)
	}

	return nil
}
