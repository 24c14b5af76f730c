package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ieee0824/ctc-finetune/trainer"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("history: run not found")

// Run is one training run.
type Run struct {
	ID         string
	OutputDir  string
	BaseModel  string
	Status     Status
	StartedAt  time.Time
	FinishedAt *time.Time
	GlobalStep int
	BestWER    *float64
	Error      string
}

// Store persists runs and metrics in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open creates or connects to the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun inserts run, or marks an existing run with the same ID as running
// again when a checkpoint is resumed.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return s.exec(ctx, `
INSERT INTO runs (id, output_dir, base_model, status, started_at, global_step)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    output_dir = excluded.output_dir,
    finished_at = NULL,
    error_message = ''`,
		run.ID, run.OutputDir, run.BaseModel, string(StatusRunning), formatTime(run.StartedAt), run.GlobalStep)
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id string, status Status, st *trainer.State, runErr error) error {
	var (
		step    int
		bestWER sql.NullFloat64
		msg     string
	)
	if st != nil {
		step = st.GlobalStep
		if st.BestWER != nil {
			bestWER = sql.NullFloat64{Float64: *st.BestWER, Valid: true}
		}
	}
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.execResult(ctx,
		"UPDATE runs SET status = ?, finished_at = ?, global_step = ?, best_wer = ?, error_message = ? WHERE id = ?",
		string(status), formatTime(time.Now()), step, bestWER, msg, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Record stores every metric of e. It satisfies trainer.Recorder.
func (s *Store) Record(ctx context.Context, runID string, e trainer.Entry) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin record tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO runs (id, status, started_at) VALUES (?, ?, ?)",
			runID, string(StatusRunning), formatTime(time.Now())); err != nil {
			return fmt.Errorf("ensure run: %w", err)
		}
		for name, value := range e.Metrics {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO metrics (run_id, step, epoch, name, value) VALUES (?, ?, ?, ?, ?)",
				runID, e.Step, e.Epoch, name, value); err != nil {
				return fmt.Errorf("insert metric %s: %w", name, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE runs SET global_step = MAX(global_step, ?) WHERE id = ?", e.Step, runID); err != nil {
			return fmt.Errorf("update run step: %w", err)
		}
		return tx.Commit()
	})
}

const runColumns = "id, output_dir, base_model, status, started_at, finished_at, global_step, best_wer, error_message"

// Runs lists runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Run returns one run. A unique ID prefix is accepted.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id LIKE ? || '%' ESCAPE '\\' LIMIT 2", escapeLike(id))
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()
	var found []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return Run{}, err
	}
	switch len(found) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return found[0], nil
	}
	for _, r := range found {
		if r.ID == id {
			return r, nil
		}
	}
	return Run{}, fmt.Errorf("history: run id %q is ambiguous", id)
}

// Entries returns the logged entries of a run in step order.
func (s *Store) Entries(ctx context.Context, runID string) ([]trainer.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT step, epoch, name, value FROM metrics WHERE run_id = ? ORDER BY step, name", runID)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()
	byStep := map[int]*trainer.Entry{}
	for rows.Next() {
		var (
			step  int
			epoch float64
			name  string
			value float64
		)
		if err := rows.Scan(&step, &epoch, &name, &value); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		e, ok := byStep[step]
		if !ok {
			e = &trainer.Entry{Step: step, Epoch: epoch, Metrics: map[string]float64{}}
			byStep[step] = e
		}
		e.Metrics[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]trainer.Entry, 0, len(byStep))
	for _, e := range byStep {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

// Delete removes a run and its metrics.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.execResult(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run      Run
		status   string
		started  string
		finished sql.NullString
		bestWER  sql.NullFloat64
	)
	if err := row.Scan(&run.ID, &run.OutputDir, &run.BaseModel, &status, &started, &finished,
		&run.GlobalStep, &bestWER, &run.Error); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Status = Status(status)
	run.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		run.FinishedAt = &t
	}
	if bestWER.Valid {
		v := bestWER.Float64
		run.BestWER = &v
	}
	return run, nil
}

// timeLayout has fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.execResult(ctx, query, args...)
	return err
}

func (s *Store) execResult(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return res, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
