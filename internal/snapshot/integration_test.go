package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var integrationCounter uint64

func TestPostgresIntegrationSinkRoundTrip(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("BOARDSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("BOARDSYNC_TEST_POSTGRES_DSN not set")
	}
	sink, err := NewPostgresSink(dsn)
	require.NoError(t, err)
	sink.tableName = fmt.Sprintf("boardsync_snapshots_it_%d_%d", time.Now().UnixNano(), atomic.AddUint64(&integrationCounter, 1))
	t.Cleanup(func() {
		_ = sink.Close()
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return
		}
		defer db.Close()
		_, _ = db.Exec("DROP TABLE IF EXISTS " + postgresQuoteIdentifier(sink.tableName))
	})

	ctx := context.Background()
	missing, err := sink.Load(ctx, "it")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, sink.Save(ctx, "it", sampleBoard()))
	updated := sampleBoard()
	updated.Selected = ""
	require.NoError(t, sink.Save(ctx, "it", updated))

	loaded, err := sink.Load(ctx, "it")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Empty(t, loaded.Selected)
	assert.Len(t, loaded.Entities, 2)
}

func TestRedisIntegrationSinkRoundTrip(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("BOARDSYNC_TEST_REDIS_ADDR"))
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	prefix := fmt.Sprintf("boardsync:it:%d:", time.Now().UnixNano())
	sink := NewRedisSinkWithClient(client, prefix)
	t.Cleanup(func() {
		client.Del(ctx, prefix+"it")
		_ = sink.Close()
	})

	missing, err := sink.Load(ctx, "it")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, sink.Save(ctx, "it", sampleBoard()))
	loaded, err := sink.Load(ctx, "it")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "ws_1", loaded.WorkspaceID)
}
