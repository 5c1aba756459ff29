// Package duckdbsink is an example pipeline.Sink backed by DuckDB,
// appending each delivered batch as rows in a local analytical table.
// Grounded on syschecker's internal/database/relational.DuckDBClient:
// the same database/sql-over-go-duckdb open/configure/close lifecycle,
// generalized from fixed metric columns to the aggregator's open
// record schema.
package duckdbsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
)

// Config mirrors relational.DatabaseConfig's shape: DuckDB tuning
// knobs, not log-aggregator semantics.
type Config struct {
	Threads       int
	MemoryLimitGB int
}

// Sink implements pipeline.Sink by inserting one row per record into a
// `records` table: window_end, fault, and the record's full JSON
// encoding (DuckDB's VARCHAR + json_extract functions can then query
// into it ad hoc, without this package needing to know the record's
// value schema up front).
type Sink struct {
	db *sql.DB
}

// New opens (or creates) a DuckDB database at path (":memory:" or ""
// for an in-memory instance, matching the teacher's NewDuckDBClient
// convention) and ensures the records table exists.
func New(ctx context.Context, path string, cfg Config) (*Sink, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdbsink: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("duckdbsink: ping: %w", err)
	}
	// DuckDB is embedded; serial access is safer for writes, same as
	// the teacher's client.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.Threads > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA threads=%d", cfg.Threads)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("duckdbsink: set threads: %w", err)
		}
	}
	if cfg.MemoryLimitGB > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA memory_limit='%dGB'", cfg.MemoryLimitGB)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("duckdbsink: set memory limit: %w", err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS records (
		window_end BIGINT NOT NULL,
		fault INTEGER NOT NULL,
		payload VARCHAR NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("duckdbsink: create schema: %w", err)
	}

	return &Sink{db: db}, nil
}

// Deliver inserts every record in the batch as one row, inside a single
// transaction so a batch lands atomically.
func (s *Sink) Deliver(ctx context.Context, windowEnd int64, records []map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("duckdbsink: begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (window_end, fault, payload) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("duckdbsink: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("duckdbsink: marshal record: %w", err)
		}
		fault := faultOf(rec["fault"])
		if _, err := stmt.ExecContext(ctx, windowEnd, fault, string(payload)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("duckdbsink: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("duckdbsink: commit: %w", err)
	}
	return nil
}

// faultOf normalizes a record's "fault" field to an int. Live records
// carry it as int; records recovered from the emergency store round-trip
// through encoding/json first, which decodes numbers as float64 (or
// json.Number, if a future caller sets a custom decoder) instead.
func faultOf(v any) int {
	switch f := v.(type) {
	case int:
		return f
	case float64:
		return int(f)
	case json.Number:
		n, _ := f.Int64()
		return int(n)
	default:
		return 0
	}
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// CountRecords is a test/diagnostic helper returning how many rows are
// currently stored.
func (s *Sink) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}
