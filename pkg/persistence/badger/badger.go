package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/persistence"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyPrefixBatch       = "batch:"
	keyPrefixRoot        = "root:"
	keyPrefixScoringRun  = "run:"
	keyLatestBatch       = "latest:batch"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ persistence.IReservePersistence = (*BadgerPersistence)(nil)

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func batchKey(id string) []byte {
	return []byte(keyPrefixBatch + id)
}

func rootKey(root common.Hash) []byte {
	return []byte(keyPrefixRoot + root.Hex())
}

func scoringRunKey(id string) []byte {
	return []byte(keyPrefixScoringRun + id)
}

// get reads a copy of the value at key, or nil if the key is absent.
func get(txn *badgerdb.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// SaveBatch persists a committed batch and indexes it by root
func (b *BadgerPersistence) SaveBatch(batch *types.CommittedBatch) error {
	if err := persistence.ValidateBatch(batch); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalCommittedBatch(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal CommittedBatch: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		previous, err := get(txn, batchKey(batch.ID))
		if err != nil {
			return err
		}
		if previous != nil {
			old, err := persistence.UnmarshalCommittedBatch(previous)
			if err == nil && old.Root != batch.Root {
				if err := txn.Delete(rootKey(old.Root)); err != nil {
					return err
				}
			}
		}

		if err := txn.Set(batchKey(batch.ID), data); err != nil {
			return err
		}
		return txn.Set(rootKey(batch.Root), []byte(batch.ID))
	})
}

// LoadBatch retrieves a committed batch by ID
func (b *BadgerPersistence) LoadBatch(id string) (*types.CommittedBatch, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = get(txn, batchKey(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load CommittedBatch: %w", err)
	}

	if data == nil {
		return nil, nil
	}

	batch, err := persistence.UnmarshalCommittedBatch(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal CommittedBatch: %w", err)
	}

	return batch, nil
}

// LoadBatchByRoot retrieves the committed batch with the given root
func (b *BadgerPersistence) LoadBatchByRoot(root common.Hash) (*types.CommittedBatch, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		id, err := get(txn, rootKey(root))
		if err != nil || id == nil {
			return err
		}
		data, err = get(txn, batchKey(string(id)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load CommittedBatch by root: %w", err)
	}

	if data == nil {
		return nil, nil
	}

	batch, err := persistence.UnmarshalCommittedBatch(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal CommittedBatch: %w", err)
	}

	return batch, nil
}

// ListBatches returns all committed batches sorted by creation time
func (b *BadgerPersistence) ListBatches() ([]*types.CommittedBatch, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	batches := make([]*types.CommittedBatch, 0)

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixBatch)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			batch, err := persistence.UnmarshalCommittedBatch(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal CommittedBatch, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}

			batches = append(batches, batch)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list CommittedBatches: %w", err)
	}

	persistence.SortBatches(batches)
	return batches, nil
}

// DeleteBatch removes a committed batch and its root index entry
func (b *BadgerPersistence) DeleteBatch(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		data, err := get(txn, batchKey(id))
		if err != nil || data == nil {
			return err
		}

		if batch, err := persistence.UnmarshalCommittedBatch(data); err == nil {
			indexed, err := get(txn, rootKey(batch.Root))
			if err != nil {
				return err
			}
			if string(indexed) == id {
				if err := txn.Delete(rootKey(batch.Root)); err != nil {
					return err
				}
			}
		}

		return txn.Delete(batchKey(id))
	})
}

// SetLatestBatchID stores the most recently committed batch ID
func (b *BadgerPersistence) SetLatestBatchID(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyLatestBatch), []byte(id))
	})
}

// GetLatestBatchID retrieves the most recently committed batch ID
func (b *BadgerPersistence) GetLatestBatchID() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", fmt.Errorf("persistence layer is closed")
	}

	var id []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		id, err = get(txn, []byte(keyLatestBatch))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get latest batch ID: %w", err)
	}

	return string(id), nil
}

// SaveScoringRun persists a scoring run
func (b *BadgerPersistence) SaveScoringRun(run *types.ScoringRun) error {
	if err := persistence.ValidateScoringRun(run); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalScoringRun(run)
	if err != nil {
		return fmt.Errorf("failed to marshal ScoringRun: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(scoringRunKey(run.ID), data)
	})
}

// LoadScoringRun retrieves a scoring run by ID
func (b *BadgerPersistence) LoadScoringRun(id string) (*types.ScoringRun, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		data, err = get(txn, scoringRunKey(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ScoringRun: %w", err)
	}

	if data == nil {
		return nil, nil
	}

	run, err := persistence.UnmarshalScoringRun(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ScoringRun: %w", err)
	}

	return run, nil
}

// ListScoringRuns returns all scoring runs sorted by creation time
func (b *BadgerPersistence) ListScoringRuns() ([]*types.ScoringRun, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	runs := make([]*types.ScoringRun, 0)

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixScoringRun)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			run, err := persistence.UnmarshalScoringRun(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal ScoringRun, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}

			runs = append(runs, run)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list ScoringRuns: %w", err)
	}

	persistence.SortScoringRuns(runs)
	return runs, nil
}

// Close shuts down the persistence layer
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
