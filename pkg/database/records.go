package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/history"
)

// SaveRecord archives a completed run. Credentials are never part of a
// record.
func (db *PostgresDB) SaveRecord(ctx context.Context, sessionID uuid.UUID, rec history.ResearchRecord) error {
	metricsJSON, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	query := `
		INSERT INTO research_records (id, run_id, session_id, topic, provider, research_mode, report, metrics, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = db.Pool.Exec(ctx, query, rec.ID, rec.RunID, sessionID, rec.Topic, rec.Provider, rec.Mode, rec.FinalReport, metricsJSON, rec.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to save research record: %w", err)
	}
	return nil
}

// ListRecords returns a session's archived records, most recent first.
func (db *PostgresDB) ListRecords(ctx context.Context, sessionID uuid.UUID, limit int) ([]history.ResearchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, COALESCE(run_id, '00000000-0000-0000-0000-000000000000'::uuid), topic, provider, research_mode, report, metrics, submitted_at
		FROM research_records
		WHERE session_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`
	rows, err := db.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list research records: %w", err)
	}
	defer rows.Close()

	var records []history.ResearchRecord
	for rows.Next() {
		var rec history.ResearchRecord
		var metricsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Topic, &rec.Provider, &rec.Mode, &rec.FinalReport, &metricsJSON, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan research record: %w", err)
		}
		if err := json.Unmarshal(metricsJSON, &rec.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics for %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// InsertLog stores one log line of a research run.
func (db *PostgresDB) InsertLog(ctx context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error {
	query := `
		INSERT INTO research_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := db.Pool.Exec(ctx, query, runID, ts, level, message, metadata)
	return err
}

// RunLogs returns the log lines of a run in insertion order.
func (db *PostgresDB) RunLogs(ctx context.Context, runID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := db.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}
