package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/persistence"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixBatch       = "reserve:batch:"
	keyPrefixRoot        = "reserve:root:"
	keyPrefixScoringRun  = "reserve:run:"
	keyLatestBatch       = "reserve:latest:batch"
	keySchemaVersion     = "reserve:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key sets for listing operations (Redis doesn't support prefix iteration natively)
	keySetBatches     = "reserve:batches:index"
	keySetScoringRuns = "reserve:runs:index"
)

// RedisPersistence is a production-ready persistence implementation using Redis.
// Provides durable, distributed storage suitable for cloud-native deployments.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.IReservePersistence = (*RedisPersistence)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant setups),
	// e.g. "tenant-a:" results in keys like "tenant-a:reserve:batch:<id>".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) batchKey(id string) string {
	return r.prefixKey(keyPrefixBatch + id)
}

func (r *RedisPersistence) rootKey(root common.Hash) string {
	return r.prefixKey(keyPrefixRoot + root.Hex())
}

func (r *RedisPersistence) scoringRunKey(id string) string {
	return r.prefixKey(keyPrefixScoringRun + id)
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// loadBatch reads a batch without taking the lock.
func (r *RedisPersistence) loadBatch(ctx context.Context, id string) (*types.CommittedBatch, error) {
	data, err := r.client.Get(ctx, r.batchKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load CommittedBatch: %w", err)
	}

	batch, err := persistence.UnmarshalCommittedBatch(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal CommittedBatch: %w", err)
	}
	return batch, nil
}

// SaveBatch persists a committed batch and indexes it by root
func (r *RedisPersistence) SaveBatch(batch *types.CommittedBatch) error {
	if err := persistence.ValidateBatch(batch); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()

	data, err := persistence.MarshalCommittedBatch(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal CommittedBatch: %w", err)
	}

	previous, err := r.loadBatch(ctx, batch.ID)
	if err != nil {
		r.logger.Sugar().Warnw("Failed to read batch being overwritten", "batch_id", batch.ID, "error", err)
	}

	pipe := r.client.TxPipeline()
	if previous != nil && previous.Root != batch.Root {
		pipe.Del(ctx, r.rootKey(previous.Root))
	}
	pipe.Set(ctx, r.batchKey(batch.ID), data, 0)
	pipe.Set(ctx, r.rootKey(batch.Root), batch.ID, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetBatches), batch.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save CommittedBatch: %w", err)
	}

	return nil
}

// LoadBatch retrieves a committed batch by ID
func (r *RedisPersistence) LoadBatch(id string) (*types.CommittedBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	return r.loadBatch(context.Background(), id)
}

// LoadBatchByRoot retrieves the committed batch with the given root
func (r *RedisPersistence) LoadBatchByRoot(root common.Hash) (*types.CommittedBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()

	id, err := r.client.Get(ctx, r.rootKey(root)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	return r.loadBatch(ctx, id)
}

// ListBatches returns all committed batches sorted by creation time
func (r *RedisPersistence) ListBatches() ([]*types.CommittedBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetBatches)

	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list CommittedBatch IDs: %w", err)
	}

	batches := make([]*types.CommittedBatch, 0, len(ids))
	if len(ids) == 0 {
		return batches, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.batchKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch CommittedBatches: %w", err)
	}

	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, ids[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for CommittedBatch", "key", keys[i])
			continue
		}

		batch, err := persistence.UnmarshalCommittedBatch([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal CommittedBatch, skipping",
				"key", keys[i], "error", err)
			continue
		}

		batches = append(batches, batch)
	}

	persistence.SortBatches(batches)
	return batches, nil
}

// DeleteBatch removes a committed batch and its root index entry
func (r *RedisPersistence) DeleteBatch(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()

	batch, err := r.loadBatch(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	if batch != nil {
		indexed, err := r.client.Get(ctx, r.rootKey(batch.Root)).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to resolve root: %w", err)
		}
		if indexed == id {
			pipe.Del(ctx, r.rootKey(batch.Root))
		}
	}
	pipe.Del(ctx, r.batchKey(id))
	pipe.SRem(ctx, r.prefixKey(keySetBatches), id)

	_, err = pipe.Exec(ctx)
	return err
}

// SetLatestBatchID stores the most recently committed batch ID
func (r *RedisPersistence) SetLatestBatchID(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return r.client.Set(context.Background(), r.prefixKey(keyLatestBatch), id, 0).Err()
}

// GetLatestBatchID retrieves the most recently committed batch ID
func (r *RedisPersistence) GetLatestBatchID() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", fmt.Errorf("persistence layer is closed")
	}

	id, err := r.client.Get(context.Background(), r.prefixKey(keyLatestBatch)).Result()
	if err == redis.Nil {
		return "", nil // No batch committed yet
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest batch ID: %w", err)
	}

	return id, nil
}

// SaveScoringRun persists a scoring run
func (r *RedisPersistence) SaveScoringRun(run *types.ScoringRun) error {
	if err := persistence.ValidateScoringRun(run); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()

	data, err := persistence.MarshalScoringRun(run)
	if err != nil {
		return fmt.Errorf("failed to marshal ScoringRun: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.scoringRunKey(run.ID), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetScoringRuns), run.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save ScoringRun: %w", err)
	}

	return nil
}

// LoadScoringRun retrieves a scoring run by ID
func (r *RedisPersistence) LoadScoringRun(id string) (*types.ScoringRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := r.client.Get(context.Background(), r.scoringRunKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ScoringRun: %w", err)
	}

	run, err := persistence.UnmarshalScoringRun(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ScoringRun: %w", err)
	}

	return run, nil
}

// ListScoringRuns returns all scoring runs sorted by creation time
func (r *RedisPersistence) ListScoringRuns() ([]*types.ScoringRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetScoringRuns)

	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list ScoringRun IDs: %w", err)
	}

	runs := make([]*types.ScoringRun, 0, len(ids))
	if len(ids) == 0 {
		return runs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.scoringRunKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ScoringRuns: %w", err)
	}

	for i, val := range values {
		if val == nil {
			r.client.SRem(ctx, indexKey, ids[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for ScoringRun", "key", keys[i])
			continue
		}

		run, err := persistence.UnmarshalScoringRun([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal ScoringRun, skipping",
				"key", keys[i], "error", err)
			continue
		}

		runs = append(runs, run)
	}

	persistence.SortScoringRuns(runs)
	return runs, nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}

	return nil
}
