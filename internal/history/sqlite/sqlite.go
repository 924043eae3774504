package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/realm/internal/history"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_history(
			timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NULL,
			stopped_at TIMESTAMP NULL,
			error TEXT NULL,
			spec TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_history_name ON process_history(name);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_history(timestamp, event, name, pid, port, started_at, stopped_at, error, spec)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.Args()...)
	return err
}

func (s *Sink) Recent(ctx context.Context, name string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT timestamp, event, name, pid, port, started_at, stopped_at, error, spec
		FROM process_history`
	args := []any{}
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e                 history.Event
			typ               string
			started, stopped  sql.NullTime
			exitErr, specJSON sql.NullString
			port              int
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.Name, &e.Record.PID, &port,
			&started, &stopped, &exitErr, &specJSON); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Record.Port = uint16(port)
		e.Record.StartedAt = timeOf(started)
		e.Record.StoppedAt = timeOf(stopped)
		e.Record.ExitErr = exitErr.String
		e.Record.SpecJSON = specJSON.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func timeOf(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
