package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/xchainctl/internal/history"
)

// Sink sends events to ClickHouse using the native protocol.
type Sink struct {
	conn  driver.Conn
	table string
}

// Options select the target server and table.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

func New(opts Options) (*Sink, error) {
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	if opts.Table == "" {
		opts.Table = "node_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		type String,
		occurred_at DateTime64(6),
		name String,
		kind LowCardinality(String),
		pid UInt32,
		exe String,
		endpoint String,
		error Nullable(String)
	) ENGINE = MergeTree()
	ORDER BY (name, occurred_at)`)
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, name, kind, pid, exe, endpoint, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}
	if err := s.conn.Exec(ctx, query, string(e.Type), e.OccurredAt, e.Name, e.Kind, uint32(e.PID), e.Exe, e.Endpoint, errText); err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
