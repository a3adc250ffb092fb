package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/rollout/internal/ir"
)

// Flow run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// FlowRun is the persisted record of one dispatched flow.
type FlowRun struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	FlowID     string    `json:"flow_id"`
	Actor      string    `json:"actor,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Seq        int64     `json:"seq"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// ActionRecord is the persisted outcome of one action applied to one target.
type ActionRecord struct {
	ID         string   `json:"id"`
	RunID      string   `json:"run_id"`
	ActionID   string   `json:"action_id"`
	ActionType string   `json:"action_type"`
	TargetID   string   `json:"target_id"`
	StreamIDs  []string `json:"stream_ids"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
	Seq        int64    `json:"seq"`
}

// WriteFlowRun inserts a run or updates its status, error and finish time.
func (s *Store) WriteFlowRun(ctx context.Context, run FlowRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_runs
		(id, project_id, flow_id, actor, status, error, seq, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at
	`,
		run.ID,
		run.ProjectID,
		run.FlowID,
		run.Actor,
		run.Status,
		run.Error,
		run.Seq,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("write flow run: %w", err)
	}
	return nil
}

// WriteActionRecord inserts an action record.
// Duplicate ids are silently ignored.
func (s *Store) WriteActionRecord(ctx context.Context, rec ActionRecord) error {
	streams := rec.StreamIDs
	if streams == nil {
		streams = []string{}
	}
	streamsJSON, err := json.Marshal(streams)
	if err != nil {
		return fmt.Errorf("write action record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_records
		(id, run_id, action_id, action_type, target_id, stream_ids, status, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.RunID,
		rec.ActionID,
		rec.ActionType,
		rec.TargetID,
		string(streamsJSON),
		rec.Status,
		rec.Error,
		rec.Seq,
	)
	if err != nil {
		return fmt.Errorf("write action record: %w", err)
	}
	return nil
}

// ReadFlowRun returns a run by id, or a NOT_FOUND LookupError.
func (s *Store) ReadFlowRun(ctx context.Context, id string) (FlowRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, flow_id, actor, status, error, seq, started_at, finished_at
		FROM flow_runs WHERE id = ?
	`, id)
	run, err := scanFlowRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FlowRun{}, ir.NewNotFoundError("run", id, ir.Ref{})
	}
	if err != nil {
		return FlowRun{}, fmt.Errorf("read flow run: %w", err)
	}
	return run, nil
}

// ListFlowRuns returns the most recent runs of a project, newest first.
// Returns an empty slice (never nil) when there are none.
func (s *Store) ListFlowRuns(ctx context.Context, projectID string, limit int) ([]FlowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, flow_id, actor, status, error, seq, started_at, finished_at
		FROM flow_runs
		WHERE project_id = ?
		ORDER BY seq DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list flow runs: %w", err)
	}
	defer rows.Close()

	runs := []FlowRun{}
	for rows.Next() {
		run, err := scanFlowRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list flow runs: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MaxSeq returns the highest sequence number stamped on any run or action
// record, or 0 for an empty database. A process seeds its clock from it so
// sequence order holds across invocations.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT COALESCE(MAX(seq), 0) AS seq FROM flow_runs
			UNION ALL
			SELECT COALESCE(MAX(seq), 0) AS seq FROM action_records
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

// ReadActionRecords returns the records of a run in execution order.
// Returns an empty slice (never nil) when there are none.
func (s *Store) ReadActionRecords(ctx context.Context, runID string) ([]ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, action_id, action_type, target_id, stream_ids, status, error, seq
		FROM action_records
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read action records: %w", err)
	}
	defer rows.Close()

	records := []ActionRecord{}
	for rows.Next() {
		var rec ActionRecord
		var streamsJSON string
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.ActionID, &rec.ActionType, &rec.TargetID,
			&streamsJSON, &rec.Status, &rec.Error, &rec.Seq,
		); err != nil {
			return nil, fmt.Errorf("read action records: %w", err)
		}
		if err := json.Unmarshal([]byte(streamsJSON), &rec.StreamIDs); err != nil {
			return nil, fmt.Errorf("read action records: stream_ids: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlowRun(row rowScanner) (FlowRun, error) {
	var run FlowRun
	var started, finished string
	if err := row.Scan(
		&run.ID, &run.ProjectID, &run.FlowID, &run.Actor, &run.Status,
		&run.Error, &run.Seq, &started, &finished,
	); err != nil {
		return FlowRun{}, err
	}
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return run, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
