// Package history persists executions and their events in SQLite.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/phaseforge/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for unknown execution ids
var ErrNotFound = errors.New("execution not found")

// Execution is a stored execution summary
type Execution struct {
	ID             string
	Project        string
	Module         string
	Target         string
	Status         domain.RunStatus
	StartedAt      time.Time
	FinishedAt     *time.Time
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	SkippedTasks   int
	Error          string
}

// Duration returns how long the execution ran, or zero while it is running
func (e Execution) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store is an EventSink and StatusSink writing to SQLite
type Store struct {
	db           *sql.DB
	recordOutput bool
	now          func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithOutput makes the store keep OUTPUT events too
func WithOutput() Option {
	return func(s *Store) { s.recordOutput = true }
}

// WithClock sets the time source for executions first seen through an event
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (and creates) the database at dbPath
func New(dbPath string, opts ...Option) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit stores an event, creating the execution row on first sight
func (s *Store) Emit(ev domain.ExecutionEvent) error {
	if ev.Type == domain.EventOutput && !s.recordOutput {
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO executions (id, project, module, target, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ExecutionID, ev.ProjectName, ev.SubProject, "", string(domain.RunRunning), s.now())
	if err != nil {
		return fmt.Errorf("recording execution %s: %w", ev.ExecutionID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO events (execution_id, seq, type, success, phase, task, module, message, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ExecutionID, ev.Sequence, string(ev.Type), ev.Success, ev.PhaseID, ev.TaskID, ev.SubProject, ev.Message, ev.ErrorDetail)
	if err != nil {
		return fmt.Errorf("recording event %s/%d: %w", ev.ExecutionID, ev.Sequence, err)
	}
	return nil
}

// Finished stores the terminal status of an execution
func (s *Store) Finished(st domain.ExecutionStatus) error {
	var errText sql.NullString
	if st.Err != nil {
		errText = sql.NullString{String: st.Err.Error(), Valid: true}
	}
	var finished sql.NullTime
	if st.EndTime != nil {
		finished = sql.NullTime{Time: *st.EndTime, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO executions (id, project, module, target, status, started_at, finished_at,
			total_tasks, completed_tasks, failed_tasks, skipped_tasks, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target = excluded.target,
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			total_tasks = excluded.total_tasks,
			completed_tasks = excluded.completed_tasks,
			failed_tasks = excluded.failed_tasks,
			skipped_tasks = excluded.skipped_tasks,
			error = excluded.error
	`,
		st.ExecutionID,
		st.ProjectName,
		st.SubProject,
		st.TaskID,
		string(st.Status),
		st.StartTime,
		finished,
		st.TotalTasks,
		st.CompletedTasks,
		st.FailedTasks,
		st.SkippedTasks,
		errText,
	)
	if err != nil {
		return fmt.Errorf("recording status %s: %w", st.ExecutionID, err)
	}
	return nil
}

// ListOptions specifies filters for listing executions
type ListOptions struct {
	Project string
	Status  domain.RunStatus
	Limit   int
}

const executionColumns = `id, project, module, target, status, started_at, finished_at,
	total_tasks, completed_tasks, failed_tasks, skipped_tasks, error`

// List returns executions, most recent first
func (s *Store) List(opts ListOptions) ([]Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	var args []interface{}

	if opts.Project != "" {
		query += " AND project = ?"
		args = append(args, opts.Project)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY started_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one execution
func (s *Store) Get(id string) (Execution, error) {
	row := s.db.QueryRow(`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// Events returns the stored events of an execution in sequence order
func (s *Store) Events(id string) ([]domain.ExecutionEvent, error) {
	rows, err := s.db.Query(`
		SELECT e.execution_id, x.project, e.seq, e.type, e.success, e.phase, e.task, e.module, e.message, e.detail
		FROM events e JOIN executions x ON x.id = e.execution_id
		WHERE e.execution_id = ?
		ORDER BY e.seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExecutionEvent
	for rows.Next() {
		var ev domain.ExecutionEvent
		var typ string
		var phase, task, module, message, detail sql.NullString
		if err := rows.Scan(&ev.ExecutionID, &ev.ProjectName, &ev.Sequence, &typ, &ev.Success, &phase, &task, &module, &message, &detail); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(typ)
		ev.PhaseID = phase.String
		ev.TaskID = task.String
		ev.SubProject = module.String
		ev.Message = message.String
		ev.ErrorDetail = detail.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes executions started before cutoff and returns how many were removed
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM executions WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (Execution, error) {
	var e Execution
	var status string
	var finished sql.NullTime
	var errText sql.NullString

	err := row.Scan(&e.ID, &e.Project, &e.Module, &e.Target, &status, &e.StartedAt, &finished,
		&e.TotalTasks, &e.CompletedTasks, &e.FailedTasks, &e.SkippedTasks, &errText)
	if err != nil {
		return Execution{}, err
	}
	e.Status = domain.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		e.FinishedAt = &t
	}
	e.Error = errText.String
	return e, nil
}
