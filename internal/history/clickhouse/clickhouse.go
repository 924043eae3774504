package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/realm/internal/history"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Options selects the server and destination table.
type Options struct {
	Addr     string // host:port of the native protocol
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(opts Options) (*Sink, error) {
	if opts.Table == "" {
		opts.Table = "process_history"
	}
	if !identRe.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", opts.Table)
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			type String,
			occurred_at DateTime64(6),
			name String,
			pid UInt32,
			port UInt16,
			started_at Nullable(DateTime64(6)),
			stopped_at Nullable(DateTime64(6)),
			exit_err Nullable(String),
			spec Nullable(String)
		) ENGINE = MergeTree()
		ORDER BY (name, occurred_at)`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, name, pid, port, started_at, stopped_at, exit_err, spec) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	r := e.Record
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt.UTC(),
		r.Name,
		uint32(r.PID),
		r.Port,
		optTime(r.StartedAt),
		optTime(r.StoppedAt),
		optString(r.ExitErr),
		optString(r.SpecJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Recent(ctx context.Context, name string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT type, occurred_at, name, pid, port, started_at, stopped_at, exit_err, spec FROM %s`, s.table)
	args := []any{}
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT %d`, limit)

	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			typ, n            string
			occurred          time.Time
			pid               uint32
			port              uint16
			started, stopped  *time.Time
			exitErr, specJSON *string
		)
		if err := rows.Scan(&typ, &occurred, &n, &pid, &port, &started, &stopped, &exitErr, &specJSON); err != nil {
			return nil, err
		}
		e := history.Event{
			Type:       history.EventType(typ),
			OccurredAt: occurred,
			Record:     history.Record{Name: n, PID: int(pid), Port: port},
		}
		if started != nil {
			e.Record.StartedAt = *started
		}
		if stopped != nil {
			e.Record.StoppedAt = *stopped
		}
		if exitErr != nil {
			e.Record.ExitErr = *exitErr
		}
		if specJSON != nil {
			e.Record.SpecJSON = *specJSON
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
