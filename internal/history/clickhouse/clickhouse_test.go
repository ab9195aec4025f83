package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/xchainctl/internal/history"
)

// startClickHouse returns the native-protocol address of a throwaway server.
func startClickHouse(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := clickhouse.Run(ctx, "clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").WithPort("8123/tcp").WithStartupTimeout(30*time.Second)),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	sink, err := New(Options{Addr: startClickHouse(ctx, t), Table: "xchain_history"})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, sink.Close()) })

	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventStart, OccurredAt: now, Name: "witness0", Kind: "witness", PID: 12345,
		Exe: "/opt/witnessd", Endpoint: "127.0.0.1:6010",
	}))
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventPrune, OccurredAt: now.Add(time.Second), Name: "witness0", Kind: "witness", PID: 12345,
		Error: "zombie",
	}))

	var count uint64
	require.NoError(t, sink.conn.QueryRow(ctx,
		"SELECT COUNT(*) FROM xchain_history WHERE name = ?", "witness0").Scan(&count))
	assert.Equal(t, uint64(2), count)

	var endpoint string
	require.NoError(t, sink.conn.QueryRow(ctx,
		"SELECT endpoint FROM xchain_history WHERE name = ? AND type = 'start'", "witness0").Scan(&endpoint))
	assert.Equal(t, "127.0.0.1:6010", endpoint)
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New(Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
