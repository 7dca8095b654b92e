package memory

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/reservewatch/reservewatch-go/pkg/persistence"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of IReservePersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Committed batches: batch ID -> batch
	batches map[string]*types.CommittedBatch

	// Root index: root -> batch ID
	roots map[common.Hash]string

	latestBatchID string

	// Scoring runs: run ID -> run
	runs map[string]*types.ScoringRun

	// Closed flag
	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL COMMITTED BATCHES WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set RESERVE_PERSISTENCE_TYPE=badger for production")

	return &MemoryPersistence{
		batches: make(map[string]*types.CommittedBatch),
		roots:   make(map[common.Hash]string),
		runs:    make(map[string]*types.ScoringRun),
	}
}

var _ persistence.IReservePersistence = (*MemoryPersistence)(nil)

// SaveBatch persists a committed batch.
func (m *MemoryPersistence) SaveBatch(batch *types.CommittedBatch) error {
	if err := persistence.ValidateBatch(batch); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	// Drop the root index of a batch being overwritten
	if previous, ok := m.batches[batch.ID]; ok && m.roots[previous.Root] == batch.ID {
		delete(m.roots, previous.Root)
	}

	m.batches[batch.ID] = deepCopyBatch(batch)
	m.roots[batch.Root] = batch.ID
	return nil
}

// LoadBatch retrieves a committed batch by ID.
func (m *MemoryPersistence) LoadBatch(id string) (*types.CommittedBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	batch, exists := m.batches[id]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return deepCopyBatch(batch), nil
}

// LoadBatchByRoot retrieves the committed batch with the given root.
func (m *MemoryPersistence) LoadBatchByRoot(root common.Hash) (*types.CommittedBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	id, exists := m.roots[root]
	if !exists {
		return nil, nil
	}
	return deepCopyBatch(m.batches[id]), nil
}

// ListBatches returns all committed batches sorted by creation time.
func (m *MemoryPersistence) ListBatches() ([]*types.CommittedBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	result := make([]*types.CommittedBatch, 0, len(m.batches))
	for _, batch := range m.batches {
		result = append(result, deepCopyBatch(batch))
	}
	persistence.SortBatches(result)

	return result, nil
}

// DeleteBatch removes a committed batch.
func (m *MemoryPersistence) DeleteBatch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	if batch, ok := m.batches[id]; ok {
		if m.roots[batch.Root] == id {
			delete(m.roots, batch.Root)
		}
		delete(m.batches, id)
	}
	return nil
}

// SetLatestBatchID stores the most recently committed batch ID.
func (m *MemoryPersistence) SetLatestBatchID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.latestBatchID = id
	return nil
}

// GetLatestBatchID retrieves the most recently committed batch ID.
func (m *MemoryPersistence) GetLatestBatchID() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", fmt.Errorf("persistence layer is closed")
	}

	return m.latestBatchID, nil
}

// SaveScoringRun persists a scoring run.
func (m *MemoryPersistence) SaveScoringRun(run *types.ScoringRun) error {
	if err := persistence.ValidateScoringRun(run); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.runs[run.ID] = deepCopyScoringRun(run)
	return nil
}

// LoadScoringRun retrieves a scoring run by ID.
func (m *MemoryPersistence) LoadScoringRun(id string) (*types.ScoringRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	run, exists := m.runs[id]
	if !exists {
		return nil, nil
	}
	return deepCopyScoringRun(run), nil
}

// ListScoringRuns returns all scoring runs sorted by creation time.
func (m *MemoryPersistence) ListScoringRuns() ([]*types.ScoringRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	result := make([]*types.ScoringRun, 0, len(m.runs))
	for _, run := range m.runs {
		result = append(result, deepCopyScoringRun(run))
	}
	persistence.SortScoringRuns(result)

	return result, nil
}

// Close shuts down the persistence layer.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return nil
}

// Deep copy helpers. Decimal values are immutable and shared.

func deepCopyBatch(b *types.CommittedBatch) *types.CommittedBatch {
	if b == nil {
		return nil
	}
	c := *b
	c.Records = slices.Clone(b.Records)
	return &c
}

func deepCopyScoringRun(r *types.ScoringRun) *types.ScoringRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Inputs = slices.Clone(r.Inputs)
	for i := range c.Inputs {
		c.Inputs[i].Malformed = maps.Clone(c.Inputs[i].Malformed)
	}
	c.Results = slices.Clone(r.Results)
	for i := range c.Results {
		if c.Results[i].Assessment != nil {
			c.Results[i].Assessment = deepCopyAssessment(c.Results[i].Assessment)
		}
	}
	return &c
}

func deepCopyAssessment(a *types.RiskAssessment) *types.RiskAssessment {
	c := *a
	if a.Explanation != nil {
		e := *a.Explanation
		e.Contributions = slices.Clone(a.Explanation.Contributions)
		e.Comparisons = slices.Clone(a.Explanation.Comparisons)
		e.Flags = slices.Clone(a.Explanation.Flags)
		c.Explanation = &e
	}
	return &c
}
