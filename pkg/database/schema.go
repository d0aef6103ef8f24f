package database

import (
	"context"
	"fmt"
)

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Research Records Table
	recordsQuery := `
		CREATE TABLE IF NOT EXISTS research_records (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL,
			session_id UUID NOT NULL,
			topic TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			research_mode TEXT NOT NULL DEFAULT '',
			report TEXT NOT NULL,
			metrics JSONB NOT NULL,
			submitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, recordsQuery); err != nil {
		return fmt.Errorf("failed to create research_records table: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "ALTER TABLE research_records ADD COLUMN IF NOT EXISTS run_id UUID"); err != nil {
		return fmt.Errorf("failed to add run_id to research_records: %w", err)
	}

	// 2. Research Logs Table
	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_logs_run_id ON research_logs(run_id)"); err != nil {
		return fmt.Errorf("failed to create index on research_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_records_session ON research_records(session_id, submitted_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on research_records: %w", err)
	}

	return nil
}
