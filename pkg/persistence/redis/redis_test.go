package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/persistence"
	"github.com/reservewatch/reservewatch-go/pkg/testutil"
)

const testDB = 15 // Use DB 15 for tests to avoid conflicts

// getTestRedisAddress returns the Redis address for testing.
// Uses REDIS_TEST_ADDRESS env var if set, otherwise defaults to localhost:6379.
func getTestRedisAddress() string {
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// requireRedis skips the test if Redis is not available. Every call gets its
// own key prefix so tests never see each other's data.
func requireRedis(t *testing.T) *RedisPersistence {
	t.Helper()

	cfg := &RedisConfig{
		Address:   getTestRedisAddress(),
		DB:        testDB,
		KeyPrefix: "test-" + uuid.NewString() + ":",
	}

	rp, err := NewRedisPersistence(cfg, zap.NewNop())
	if err != nil {
		t.Skipf("Redis not available at %s: %v", cfg.Address, err)
		return nil
	}

	t.Cleanup(func() { cleanupRedis(t, cfg) })
	return rp
}

// cleanupRedis removes every key under the test's prefix
func cleanupRedis(t *testing.T, cfg *RedisConfig) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Address, DB: cfg.DB})
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	iter := client.Scan(ctx, 0, cfg.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		t.Logf("Failed to clean up redis keys: %v", err)
	}
}

func TestRedisPersistence(t *testing.T) {
	testutil.RunPersistenceSuite(t, func(t *testing.T) persistence.IReservePersistence {
		return requireRedis(t)
	})
}

func TestRedisPersistence_KeyPrefix(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	batch := testutil.CreateTestBatch(t, "batch-1", 2, 1000)
	require.NoError(t, rp.SaveBatch(batch))

	ctx := context.Background()
	exists, err := rp.client.Exists(ctx, rp.keyPrefix+keyPrefixBatch+"batch-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	exists, err = rp.client.Exists(ctx, keyPrefixBatch+"batch-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestRedisPersistence_ListBatches_StaleIndex(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	require.NoError(t, rp.SaveBatch(testutil.CreateTestBatch(t, "batch-1", 2, 1000)))

	// An index entry whose value is gone is skipped and pruned
	ctx := context.Background()
	indexKey := rp.prefixKey(keySetBatches)
	require.NoError(t, rp.client.SAdd(ctx, indexKey, "ghost").Err())

	batches, err := rp.ListBatches()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "batch-1", batches[0].ID)

	isMember, err := rp.client.SIsMember(ctx, indexKey, "ghost").Result()
	require.NoError(t, err)
	assert.False(t, isMember)
}

func TestRedisPersistence_SchemaVersionMismatch(t *testing.T) {
	rp := requireRedis(t)
	defer func() { _ = rp.Close() }()

	ctx := context.Background()
	require.NoError(t, rp.client.Set(ctx, rp.prefixKey(keySchemaVersion), "v0", 0).Err())

	_, err := NewRedisPersistence(&RedisConfig{
		Address:   getTestRedisAddress(),
		DB:        testDB,
		KeyPrefix: rp.keyPrefix,
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestRedisPersistence_Config_Nil(t *testing.T) {
	_, err := NewRedisPersistence(nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")
}

func TestRedisPersistence_Config_EmptyAddress(t *testing.T) {
	_, err := NewRedisPersistence(&RedisConfig{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address cannot be empty")
}
