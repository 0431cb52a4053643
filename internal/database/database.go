// Package database keeps a ledger of runs and their scene changes in SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"peoplewatch/internal/pipeline"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("not found")

// Store handles SQLite database operations
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// RunRecord is one processed video
type RunRecord struct {
	ID              string     `json:"id"`
	Input           string     `json:"input"`
	Detector        string     `json:"detector"`
	Policy          string     `json:"policy"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Error           string     `json:"error,omitempty"`
	Frames          uint64     `json:"frames"`
	DetectionPasses uint64     `json:"detection_passes"`
	TrackingPasses  uint64     `json:"tracking_passes"`
	SceneChanges    uint64     `json:"scene_changes"`
	TrackersDropped uint64     `json:"trackers_dropped"`
	AvgDetectMs     float64    `json:"avg_detect_ms"`
	AvgTrackMs      float64    `json:"avg_track_ms"`
}

// ApplySummary copies the outcome of a run into the record
func (r *RunRecord) ApplySummary(summary *pipeline.RunSummary, runErr error, finishedAt time.Time) {
	r.FinishedAt = &finishedAt
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if summary == nil {
		return
	}
	r.Reason = string(summary.Reason)
	r.Frames = summary.Frames
	r.DetectionPasses = summary.DetectionPasses
	r.TrackingPasses = summary.TrackingPasses
	r.SceneChanges = summary.SceneChanges
	r.TrackersDropped = summary.TrackersDropped
	r.AvgDetectMs = summary.AvgDetectMs
	r.AvgTrackMs = summary.AvgTrackMs
}

// SceneChangeRecord is a frame whose change score crossed the threshold
type SceneChangeRecord struct {
	RunID    string    `json:"run_id"`
	Frame    uint64    `json:"frame"`
	Score    uint64    `json:"score"`
	Interval int       `json:"interval"`
	Boxes    int       `json:"boxes"`
	At       time.Time `json:"at"`
}

// Open opens (or creates) the database at path and migrates it
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "database")}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// dsn applies the connection pragmas to every pooled connection
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRun inserts a run that has just started
func (s *Store) CreateRun(ctx context.Context, run *RunRecord) error {
	query := `INSERT INTO runs (id, input, detector, policy, started_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, run.ID, run.Input, run.Detector, run.Policy, run.StartedAt.UTC()); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run
func (s *Store) FinishRun(ctx context.Context, run *RunRecord) error {
	query := `UPDATE runs SET
			finished_at = ?, reason = ?, error = ?, frames = ?, detection_passes = ?,
			tracking_passes = ?, scene_changes = ?, trackers_dropped = ?,
			avg_detect_ms = ?, avg_track_ms = ?
		WHERE id = ?`

	var finishedAt any
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UTC()
	}

	res, err := s.db.ExecContext(ctx, query,
		finishedAt, run.Reason, run.Error, run.Frames, run.DetectionPasses,
		run.TrackingPasses, run.SceneChanges, run.TrackersDropped,
		run.AvgDetectMs, run.AvgTrackMs, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

const runColumns = `id, input, detector, policy, started_at, finished_at, COALESCE(reason, ''), COALESCE(error, ''),
	frames, detection_passes, tracking_passes, scene_changes, trackers_dropped, avg_detect_ms, avg_track_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var run RunRecord
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.Input, &run.Detector, &run.Policy, &run.StartedAt, &finishedAt,
		&run.Reason, &run.Error, &run.Frames, &run.DetectionPasses, &run.TrackingPasses,
		&run.SceneChanges, &run.TrackersDropped, &run.AvgDetectMs, &run.AvgTrackMs)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// GetRun returns a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRunsBefore removes runs started before t, with their scene changes
func (s *Store) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return res.RowsAffected()
}

// SaveSceneChange records a scene change of a run
func (s *Store) SaveSceneChange(ctx context.Context, rec *SceneChangeRecord) error {
	query := `INSERT INTO scene_changes (run_id, frame, score, interval, boxes, at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, frame) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, rec.RunID, rec.Frame, rec.Score, rec.Interval, rec.Boxes, rec.At.UTC()); err != nil {
		return fmt.Errorf("failed to save scene change: %w", err)
	}
	return nil
}

// ListSceneChanges returns the scene changes of a run in frame order
func (s *Store) ListSceneChanges(ctx context.Context, runID string) ([]*SceneChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, frame, score, interval, boxes, at FROM scene_changes WHERE run_id = ? ORDER BY frame`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scene changes: %w", err)
	}
	defer rows.Close()

	var out []*SceneChangeRecord
	for rows.Next() {
		var rec SceneChangeRecord
		if err := rows.Scan(&rec.RunID, &rec.Frame, &rec.Score, &rec.Interval, &rec.Boxes, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan scene change: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
