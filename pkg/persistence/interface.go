package persistence

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// IReservePersistence defines the interface for persisting committed batches
// and scoring runs so proofs can be served after a restart.
// All implementations must be thread-safe as the auditor service is concurrent.
//
// The interface supports:
// - Committed batch storage (save, load by id or root, list, delete)
// - Latest batch tracking (which batch was most recently committed)
// - Scoring run storage (save, load, list)
// - Lifecycle management (close, health check)
type IReservePersistence interface {
	// Committed Batches

	// SaveBatch persists a committed batch indexed by its ID and root.
	// Overwrites any existing batch with the same ID.
	SaveBatch(batch *types.CommittedBatch) error

	// LoadBatch retrieves a committed batch by ID.
	// Returns nil if the batch doesn't exist, error only on storage failure.
	LoadBatch(id string) (*types.CommittedBatch, error)

	// LoadBatchByRoot retrieves the committed batch that produced root.
	// Returns nil if no batch has that root, error only on storage failure.
	LoadBatchByRoot(root common.Hash) (*types.CommittedBatch, error)

	// ListBatches returns all committed batches sorted by creation time (ascending).
	// Returns empty slice if no batches exist, error only on storage failure.
	ListBatches() ([]*types.CommittedBatch, error)

	// DeleteBatch removes a committed batch and its root index entry.
	// Idempotent - returns nil if the batch doesn't exist.
	DeleteBatch(id string) error

	// Latest Batch Tracking

	// SetLatestBatchID records the most recently committed batch.
	SetLatestBatchID(id string) error

	// GetLatestBatchID returns the most recently committed batch ID.
	// Returns "" if no batch has been committed yet.
	GetLatestBatchID() (string, error)

	// Scoring Runs

	// SaveScoringRun persists the results of one scoring run.
	SaveScoringRun(run *types.ScoringRun) error

	// LoadScoringRun retrieves a scoring run by ID.
	// Returns nil if the run doesn't exist, error only on storage failure.
	LoadScoringRun(id string) (*types.ScoringRun, error)

	// ListScoringRuns returns all scoring runs sorted by creation time (ascending).
	ListScoringRuns() ([]*types.ScoringRun, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
