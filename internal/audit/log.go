// Package audit appends a record of every administrative command to a
// local sqlite database, schema-migrated with goose, adapted from the
// teacher's internal/infrastructure/migrations manager (same
// goose.SetDialect/goose.Up shape, modernc.org/sqlite instead of a
// postgres driver since this is a single-process local log, not a
// replicated store). It exists purely for after-the-fact operator
// visibility: the manager's registry still starts empty on restart per
// the Non-goal excluding config persistence, and nothing here ever
// reconstructs state from the log.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Entry is one administrative command as recorded after it completes.
type Entry struct {
	RequestID string
	Verb      string
	Args      []string
	Status    int
	Body      string
	Duration  time.Duration
	Occurred  time.Time
}

// Log appends Entries to a sqlite database. A nil *Log (returned by
// Disabled) makes Append a no-op so callers don't need to branch on
// whether auditing is configured.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the sqlite file at path and brings its
// schema up to date.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping %s: %w", path, err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}

	return &Log{db: db, logger: logger.With("component", "audit")}, nil
}

// Disabled returns a Log that silently drops every Append.
func Disabled() *Log {
	return nil
}

// Append records e, best-effort: an audit write failure is logged but
// never propagated back to the command whose outcome it is recording.
func (l *Log) Append(ctx context.Context, e Entry) {
	if l == nil || l.db == nil {
		return
	}
	args, err := json.Marshal(e.Args)
	if err != nil {
		l.logger.Warn("audit: marshal args failed", "error", err)
		return
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO command_log (request_id, verb, args, status, body, duration_ms, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Verb, string(args), e.Status, e.Body, e.Duration.Milliseconds(), e.Occurred,
	)
	if err != nil {
		l.logger.Warn("audit: insert failed", "verb", e.Verb, "error", err)
	}
}

// Recent returns up to limit of the most recently appended entries, newest
// first, for operator inspection (e.g. a future `cachectl audit` verb).
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT request_id, verb, args, status, body, duration_ms, occurred_at
		 FROM command_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var args string
		var durationMS int64
		if err := rows.Scan(&e.RequestID, &e.Verb, &args, &e.Status, &e.Body, &durationMS, &e.Occurred); err != nil {
			return nil, fmt.Errorf("audit: scan recent: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
			return nil, fmt.Errorf("audit: unmarshal args: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
