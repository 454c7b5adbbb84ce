package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/mowctt/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to ":memory:" opens a distinct database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Run CRUD ---

const runColumns = `id, instance, algorithm, solver, cp_strategy, conflict_strategy, combinator,
	fzn_optimisation, cores, timeout_ns, state, exhaustive, hypervolume, hypervolume_before,
	stats, front_size, error, created_at, completed_at`

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	statsJSON, frontJSON, err := marshalRun(run)
	if err != nil {
		return err
	}
	k := run.Key
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, instance, algorithm, solver, cp_strategy, conflict_strategy, combinator,
			fzn_optimisation, cores, timeout_ns, state, exhaustive, hypervolume, hypervolume_before,
			stats, front, front_size, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, k.Instance, k.Algorithm, k.Solver, k.CPStrategy, k.ConflictStrategy, k.Combinator,
		k.FZNOptimisation, k.Cores, int64(k.Timeout), string(run.State), run.Exhaustive,
		run.Hypervolume, run.HypervolumeBefore, statsJSON, frontJSON, len(run.Front), run.Error,
		run.CreatedAt.Format(time.RFC3339Nano), formatTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns the run with its front, or nil if there is none with id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	var frontJSON string
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+`, front FROM runs WHERE id = ?`, id)
	run, err := scanRun(row, &frontJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(frontJSON), &run.Front); err != nil {
		return nil, fmt.Errorf("unmarshal front of %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns a page of runs, newest first, without their fronts.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	// Build WHERE clause dynamically based on filters.
	var whereClauses []string
	var countArgs []any

	if opts.State != "" {
		whereClauses = append(whereClauses, "state = ?")
		countArgs = append(countArgs, opts.State)
	}
	if opts.Instance != "" {
		whereClauses = append(whereClauses, "instance = ?")
		countArgs = append(countArgs, opts.Instance)
	}
	if opts.Algorithm != "" {
		whereClauses = append(whereClauses, "algorithm = ?")
		countArgs = append(countArgs, opts.Algorithm)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM runs` + whereSQL
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT ` + runColumns + ` FROM runs` + whereSQL + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows, nil)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "state", run.State)

	statsJSON, frontJSON, err := marshalRun(run)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state=?, exhaustive=?, hypervolume=?, hypervolume_before=?, stats=?, front=?,
			front_size=?, error=?, completed_at=? WHERE id=?`,
		string(run.State), run.Exhaustive, run.Hypervolume, run.HypervolumeBefore, statsJSON, frontJSON,
		len(run.Front), run.Error, formatTime(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// FindRun matches every key column, so algorithms that take no conflict
// strategy must leave it empty in their key.
func (s *SQLiteStore) FindRun(ctx context.Context, key model.RunKey) (*model.Run, error) {
	s.logger.Debug("sql", "op", "find", "table", "runs", "key", key.String())

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs
		 WHERE instance=? AND algorithm=? AND solver=? AND cp_strategy=? AND conflict_strategy=?
		   AND combinator=? AND fzn_optimisation=? AND cores=? AND timeout_ns=? AND state=?
		 ORDER BY created_at DESC LIMIT 1`,
		key.Instance, key.Algorithm, key.Solver, key.CPStrategy, key.ConflictStrategy,
		key.Combinator, key.FZNOptimisation, key.Cores, int64(key.Timeout), string(model.RunStateCompleted),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetRun(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRun reads the runColumns of one row, plus the front column when
// frontJSON is not nil.
func scanRun(row rowScanner, frontJSON *string) (*model.Run, error) {
	var run model.Run
	var state, statsJSON, createdAt string
	var timeout int64
	var completedAt *string

	dest := []any{&run.ID, &run.Key.Instance, &run.Key.Algorithm, &run.Key.Solver, &run.Key.CPStrategy,
		&run.Key.ConflictStrategy, &run.Key.Combinator, &run.Key.FZNOptimisation, &run.Key.Cores,
		&timeout, &state, &run.Exhaustive, &run.Hypervolume, &run.HypervolumeBefore,
		&statsJSON, &run.FrontSize, &run.Error, &createdAt, &completedAt}
	if frontJSON != nil {
		dest = append(dest, frontJSON)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	run.Key.Timeout = time.Duration(timeout)
	run.State = model.RunState(state)
	if err := json.Unmarshal([]byte(statsJSON), &run.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats of %s: %w", run.ID, err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

func marshalRun(run *model.Run) (stats, front string, err error) {
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return "", "", fmt.Errorf("marshal stats: %w", err)
	}
	front = "[]"
	if len(run.Front) > 0 {
		frontJSON, err := json.Marshal(run.Front)
		if err != nil {
			return "", "", fmt.Errorf("marshal front: %w", err)
		}
		front = string(frontJSON)
	}
	return string(statsJSON), front, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}
