package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/xchainctl/internal/history"
)

// Sink writes history events to an SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
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
	// :memory: databases are per connection
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
		`CREATE TABLE IF NOT EXISTS node_history(
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			pid INTEGER NOT NULL,
			exe TEXT NOT NULL DEFAULT '',
			endpoint TEXT NOT NULL DEFAULT '',
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_history_name ON node_history(name, occurred_at)`,
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
		INSERT INTO node_history(occurred_at, event, name, kind, pid, exe, endpoint, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OccurredAt.UTC(), string(e.Type), e.Name, e.Kind, e.PID, e.Exe, e.Endpoint, nullable(e.Error))
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
