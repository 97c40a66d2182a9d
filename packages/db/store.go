package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	script      TEXT NOT NULL,
	file        TEXT,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	passed      INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS step_results (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	seq         INTEGER NOT NULL,
	path        TEXT NOT NULL,
	method      TEXT,
	url         TEXT,
	status      INTEGER,
	passed      INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT,
	result      TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// StepRecord is one step result as stored. Result is the full JSON record.
type StepRecord struct {
	Path       string
	Method     string
	URL        string
	Status     int
	Passed     bool
	DurationMs int64
	Error      string
	Result     any
}

// RunSummary is a row of the runs table.
type RunSummary struct {
	ID         string
	Script     string
	File       string
	StartedAt  time.Time
	Passed     int
	Failed     int
	DurationMs int64
}

// Store appends runs and their step results to a SQLite database.
type Store struct {
	client *Client
	seq    map[string]int
}

// OpenStore opens the database at connectionString and creates the tables
// if they are missing.
func OpenStore(ctx context.Context, connectionString string) (*Store, error) {
	client, err := NewClient(connectionString)
	if err != nil {
		return nil, err
	}
	if _, err := client.Exec(ctx, schema); err != nil {
		client.Close()
		return nil, fmt.Errorf("creating results schema: %w", err)
	}
	return &Store{client: client, seq: make(map[string]int)}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// BeginRun inserts a run row and returns its generated ID.
func (s *Store) BeginRun(ctx context.Context, script, file string) (string, error) {
	id := uuid.NewString()
	_, err := s.client.Exec(ctx,
		`INSERT INTO runs (id, script, file, started_at) VALUES (?, ?, ?, ?)`,
		id, script, file, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return id, nil
}

// RecordStep appends a step result to runID in arrival order.
func (s *Store) RecordStep(ctx context.Context, runID string, rec StepRecord) error {
	encoded, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encoding step result: %w", err)
	}
	seq := s.seq[runID]
	s.seq[runID] = seq + 1

	_, err = s.client.Exec(ctx,
		`INSERT INTO step_results (run_id, seq, path, method, url, status, passed, duration_ms, error, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, rec.Path, rec.Method, rec.URL, rec.Status, rec.Passed, rec.DurationMs, rec.Error, string(encoded))
	if err != nil {
		return fmt.Errorf("recording step %q: %w", rec.Path, err)
	}
	return nil
}

// FinishRun stores the run totals.
func (s *Store) FinishRun(ctx context.Context, runID string, passed, failed int, duration time.Duration) error {
	delete(s.seq, runID)
	_, err := s.client.Exec(ctx,
		`UPDATE runs SET finished_at = ?, passed = ?, failed = ?, duration_ms = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), passed, failed, duration.Milliseconds(), runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	return nil
}

// Runs lists recorded runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	res, err := s.client.Query(ctx,
		`SELECT id, script, file, started_at, passed, failed, duration_ms FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	runs := make([]RunSummary, 0, len(res.Rows))
	for _, row := range res.Rows {
		started, _ := time.Parse(time.RFC3339Nano, asString(row["started_at"]))
		runs = append(runs, RunSummary{
			ID:         asString(row["id"]),
			Script:     asString(row["script"]),
			File:       asString(row["file"]),
			StartedAt:  started,
			Passed:     int(asInt(row["passed"])),
			Failed:     int(asInt(row["failed"])),
			DurationMs: asInt(row["duration_ms"]),
		})
	}
	return runs, nil
}

// Steps returns the stored step results of runID in order.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	res, err := s.client.Query(ctx,
		`SELECT path, method, url, status, passed, duration_ms, error, result FROM step_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}

	steps := make([]StepRecord, 0, len(res.Rows))
	for _, row := range res.Rows {
		var result any
		if raw := asString(row["result"]); raw != "" {
			_ = json.Unmarshal([]byte(raw), &result)
		}
		steps = append(steps, StepRecord{
			Path:       asString(row["path"]),
			Method:     asString(row["method"]),
			URL:        asString(row["url"]),
			Status:     int(asInt(row["status"])),
			Passed:     asInt(row["passed"]) != 0,
			DurationMs: asInt(row["duration_ms"]),
			Error:      asString(row["error"]),
			Result:     result,
		})
	}
	return steps, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case bool:
		if x {
			return 1
		}
	}
	return 0
}
