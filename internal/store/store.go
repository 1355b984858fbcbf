// Package store persists sweep runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"habitrobust/internal/sweep"
)

// ErrNotFound is returned by LoadRun for an unknown run id.
var ErrNotFound = errors.New("run not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store closed")

// Run is a persisted sweep.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Horizon  int
	Xi       float64
	Results  []Record
}

// Record is one persisted tuple outcome.
type Record struct {
	Index int
	Tuple sweep.Tuple

	OK      bool
	Kind    string
	Message string

	Income         []float64
	Consumption    []float64
	Price          []float64
	CoefficientOnH float64
}

// FromReport flattens a sweep report into its persisted form.
func FromReport(r *sweep.Report) *Run {
	run := &Run{
		ID:       r.ID,
		Started:  r.Started,
		Finished: r.Finished,
		Horizon:  r.Horizon,
		Xi:       r.Xi,
		Results:  make([]Record, len(r.Results)),
	}
	for i, res := range r.Results {
		rec := Record{Index: res.Index, Tuple: res.Tuple, OK: res.OK(), Kind: res.Kind}
		if res.Err != nil {
			rec.Message = res.Err.Error()
		}
		if ev := res.Evaluation; ev != nil {
			rec.Income = ev.Income
			rec.Consumption = ev.Consumption
			rec.Price = ev.Price
			rec.CoefficientOnH = ev.CoefficientOnH
		}
		run.Results[i] = rec
	}
	return run
}

// Store is a SQLite-backed run store. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ".data/habitlq.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps ":memory:" databases alive and serialises writes
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started INTEGER NOT NULL,
			finished INTEGER NOT NULL,
			horizon INTEGER NOT NULL,
			xi REAL NOT NULL
		);

		CREATE TABLE IF NOT EXISTS results (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			alpha REAL NOT NULL,
			psi REAL NOT NULL,
			eta REAL NOT NULL,
			ok INTEGER NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			income TEXT,
			consumption TEXT,
			price TEXT,
			coefficient_on_h REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, idx)
		);

		CREATE INDEX IF NOT EXISTS idx_results_tuple ON results(run_id, alpha, psi, eta);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveRun writes run and all of its results in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started, finished, horizon, xi) VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Started.UnixNano(), run.Finished.UnixNano(), run.Horizon, run.Xi)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (run_id, idx, alpha, psi, eta, ok, kind, message, income, consumption, price, coefficient_on_h)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range run.Results {
		income, err := marshalSeries(rec.Income)
		if err != nil {
			return err
		}
		cons, err := marshalSeries(rec.Consumption)
		if err != nil {
			return err
		}
		price, err := marshalSeries(rec.Price)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx,
			run.ID, rec.Index, rec.Tuple.Alpha, rec.Tuple.Psi, rec.Tuple.Eta,
			boolToInt(rec.OK), rec.Kind, rec.Message,
			income, cons, price, rec.CoefficientOnH)
		if err != nil {
			return fmt.Errorf("insert result %d: %w", rec.Index, err)
		}
	}

	return tx.Commit()
}

// LoadRun reads a run and its results ordered by tuple index.
func (s *Store) LoadRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var (
		run               Run
		started, finished int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started, finished, horizon, xi FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &started, &finished, &run.Horizon, &run.Xi)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	run.Started = time.Unix(0, started).UTC()
	run.Finished = time.Unix(0, finished).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, alpha, psi, eta, ok, kind, message, income, consumption, price, coefficient_on_h
		FROM results WHERE run_id = ? ORDER BY idx
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query results of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                 Record
			ok                  int
			income, cons, price sql.NullString
		)
		if err := rows.Scan(&rec.Index, &rec.Tuple.Alpha, &rec.Tuple.Psi, &rec.Tuple.Eta,
			&ok, &rec.Kind, &rec.Message, &income, &cons, &price, &rec.CoefficientOnH); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		rec.OK = ok != 0
		if rec.Income, err = unmarshalSeries(income); err != nil {
			return nil, err
		}
		if rec.Consumption, err = unmarshalSeries(cons); err != nil {
			return nil, err
		}
		if rec.Price, err = unmarshalSeries(price); err != nil {
			return nil, err
		}
		run.Results = append(run.Results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	return &run, nil
}

// ListRuns returns the ids of all stored runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY started DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func marshalSeries(v []float64) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode series: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalSeries(ns sql.NullString) ([]float64, error) {
	if !ns.Valid {
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	return v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
