// Package journal persists agent state machine transitions to SQLite.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one recorded transition
type Entry struct {
	ID      string    `json:"id"`
	RunID   string    `json:"run_id"`
	Machine string    `json:"machine"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Event   string    `json:"event"`
	EventID string    `json:"event_id"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Journal wraps a SQLite connection with write serialization
type Journal struct {
	conn    *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Open opens (creating if needed) the journal at path and ensures the schema
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// one writer at a time
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{conn: conn, logger: logger}
	if err := j.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("journal opened", "path", path)
	return j, nil
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if _, err := j.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.conn.Close()
}

// Append stores e. An empty ID is filled with a new UUID.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	_, err := j.conn.ExecContext(ctx, `
		INSERT INTO transitions (id, run_id, machine, from_state, to_state, event, event_id, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.Machine, e.From, e.To, e.Event, e.EventID, e.Detail,
		e.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.query(ctx, `
		SELECT id, run_id, machine, from_state, to_state, event, event_id, detail, at
		FROM transitions ORDER BY seq DESC LIMIT ?`, limit)
}

// ForMachine returns up to limit entries of one machine, newest first
func (j *Journal) ForMachine(ctx context.Context, machine string, limit int) ([]Entry, error) {
	return j.query(ctx, `
		SELECT id, run_id, machine, from_state, to_state, event, event_id, detail, at
		FROM transitions WHERE machine = ? ORDER BY seq DESC LIMIT ?`, machine, limit)
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Machine, &e.From, &e.To, &e.Event, &e.EventID, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", at, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
