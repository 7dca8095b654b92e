package persistence

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// MarshalCommittedBatch serializes a CommittedBatch to JSON bytes.
func MarshalCommittedBatch(batch *types.CommittedBatch) ([]byte, error) {
	if batch == nil {
		return nil, fmt.Errorf("cannot marshal nil CommittedBatch")
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CommittedBatch to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalCommittedBatch deserializes a CommittedBatch from JSON bytes.
func UnmarshalCommittedBatch(data []byte) (*types.CommittedBatch, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var batch types.CommittedBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to CommittedBatch: %w", err)
	}

	return &batch, nil
}

// MarshalScoringRun serializes a ScoringRun to JSON bytes.
func MarshalScoringRun(run *types.ScoringRun) ([]byte, error) {
	if run == nil {
		return nil, fmt.Errorf("cannot marshal nil ScoringRun")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ScoringRun to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalScoringRun deserializes a ScoringRun from JSON bytes.
func UnmarshalScoringRun(data []byte) (*types.ScoringRun, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var run types.ScoringRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to ScoringRun: %w", err)
	}

	return &run, nil
}

// ValidateBatch rejects batches that cannot be stored or indexed.
func ValidateBatch(batch *types.CommittedBatch) error {
	if batch == nil {
		return fmt.Errorf("cannot save nil CommittedBatch")
	}
	if batch.ID == "" {
		return fmt.Errorf("committed batch has no ID")
	}
	return nil
}

// ValidateScoringRun rejects runs that cannot be stored.
func ValidateScoringRun(run *types.ScoringRun) error {
	if run == nil {
		return fmt.Errorf("cannot save nil ScoringRun")
	}
	if run.ID == "" {
		return fmt.Errorf("scoring run has no ID")
	}
	return nil
}

// SortBatches orders batches by creation time, then ID.
func SortBatches(batches []*types.CommittedBatch) {
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].CreatedAt != batches[j].CreatedAt {
			return batches[i].CreatedAt < batches[j].CreatedAt
		}
		return batches[i].ID < batches[j].ID
	})
}

// SortScoringRuns orders runs by creation time, then ID.
func SortScoringRuns(runs []*types.ScoringRun) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt < runs[j].CreatedAt
		}
		return runs[i].ID < runs[j].ID
	})
}
