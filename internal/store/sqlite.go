package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/pfstudy/internal/montecarlo"
)

// ErrRunNotFound reports an unknown or ambiguous run ID.
var ErrRunNotFound = errors.New("run not found")

// timeFormat has fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run is one recorded Monte Carlo run.
type Run struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Engine      string     `json:"engine"`
	LoadFlow    string     `json:"load_flow"`
	Samples     int        `json:"samples"`
	StdDev      float64    `json:"std_dev"`
	MaxAttempts int        `json:"max_attempts"`
	Policy      string     `json:"policy"`
	Seed        uint64     `json:"seed"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	// Filled from the samples table.
	Recorded  int `json:"recorded"`
	Converged int `json:"converged"`
	Exhausted int `json:"exhausted"`
}

// SQLiteStore persists runs and their samples.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// Open opens or creates the run database in dir.
func Open(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	dbPath := filepath.Join(dir, DBFile)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// CreateRun records a new run in the running state. An empty ID is
// replaced by a fresh UUID. The stored run is returned.
func (s *SQLiteStore) CreateRun(ctx context.Context, run Run) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Status = StatusRunning
	run.CreatedAt = time.Now().UTC()
	run.FinishedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, project, engine, load_flow, samples, std_dev, max_attempts, policy, seed, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Project, run.Engine, run.LoadFlow, run.Samples, run.StdDev, run.MaxAttempts,
		run.Policy, int64(run.Seed), run.Status, run.CreatedAt.Format(timeFormat))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// RecordSample stores one sample of a run.
func (s *SQLiteStore) RecordSample(ctx context.Context, runID string, sample montecarlo.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	voltages, err := encodeVoltages(sample.Voltages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO samples (run_id, idx, status, attempts, k, voltages)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, sample.Index, sample.Status.String(), sample.Attempts, sample.K, voltages)
	if err != nil {
		return fmt.Errorf("insert sample %d of run %s: %w", sample.Index, runID, err)
	}
	return nil
}

// FinishRun marks a run as ended with status and an optional error message.
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, nullString(errMsg), time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// GetRun returns a run by ID or unique ID prefix.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, runQuery+` WHERE r.id = ? GROUP BY r.id`, fullID)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return &runs[0], nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := runQuery + ` GROUP BY r.id ORDER BY r.created_at DESC, r.id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Samples returns the stored samples of a run in index order.
func (s *SQLiteStore) Samples(ctx context.Context, id string) ([]montecarlo.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, status, attempts, k, voltages FROM samples WHERE run_id = ? ORDER BY idx`, fullID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []montecarlo.Sample
	for rows.Next() {
		var (
			smp      montecarlo.Sample
			status   string
			voltages string
		)
		if err := rows.Scan(&smp.Index, &status, &smp.Attempts, &smp.K, &voltages); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if status == montecarlo.Exhausted.String() {
			smp.Status = montecarlo.Exhausted
		}
		if smp.Voltages, err = decodeVoltages(voltages); err != nil {
			return nil, fmt.Errorf("sample %d: %w", smp.Index, err)
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its samples.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, fullID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const runQuery = `
	SELECT r.id, r.project, r.engine, r.load_flow, r.samples, r.std_dev, r.max_attempts, r.policy,
	       r.seed, r.status, r.error, r.created_at, r.finished_at,
	       COUNT(s.idx),
	       COALESCE(SUM(CASE WHEN s.status = 'converged' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN s.status = 'exhausted' THEN 1 ELSE 0 END), 0)
	FROM runs r LEFT JOIN samples s ON s.run_id = r.id`

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		var (
			r        Run
			seed     int64
			errMsg   sql.NullString
			created  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Project, &r.Engine, &r.LoadFlow, &r.Samples, &r.StdDev,
			&r.MaxAttempts, &r.Policy, &seed, &r.Status, &errMsg, &created, &finished,
			&r.Recorded, &r.Converged, &r.Exhausted); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Seed = uint64(seed)
		r.Error = errMsg.String
		t, err := time.Parse(timeFormat, created)
		if err != nil {
			return nil, fmt.Errorf("run %s created_at: %w", r.ID, err)
		}
		r.CreatedAt = t
		if finished.Valid {
			t, err := time.Parse(timeFormat, finished.String)
			if err != nil {
				return nil, fmt.Errorf("run %s finished_at: %w", r.ID, err)
			}
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// resolveID expands a unique prefix to a full run ID.
func (s *SQLiteStore) resolveID(ctx context.Context, id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "%_") {
		return "", fmt.Errorf("run %q: %w", id, ErrRunNotFound)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id LIKE ? || '%' LIMIT 2`, id)
	if err != nil {
		return "", fmt.Errorf("resolve run id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var full string
		if err := rows.Scan(&full); err != nil {
			return "", err
		}
		if full == id {
			return full, nil
		}
		ids = append(ids, full)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 1:
		return ids[0], nil
	case 0:
		return "", fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	default:
		return "", fmt.Errorf("run prefix %s is ambiguous: %w", id, ErrRunNotFound)
	}
}

// encodeVoltages stores NaN as JSON null.
func encodeVoltages(v montecarlo.BusVoltages) (string, error) {
	m := make(map[string]*float64, len(v))
	for bus, u := range v {
		if math.IsNaN(u) {
			m[bus] = nil
			continue
		}
		m[bus] = &u
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode voltages: %w", err)
	}
	return string(data), nil
}

func decodeVoltages(s string) (montecarlo.BusVoltages, error) {
	var m map[string]*float64
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode voltages: %w", err)
	}
	v := make(montecarlo.BusVoltages, len(m))
	for bus, u := range m {
		if u == nil {
			v[bus] = math.NaN()
			continue
		}
		v[bus] = *u
	}
	return v, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
