package testutil

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/reservewatch/reservewatch-go/pkg/crypto"
	"github.com/reservewatch/reservewatch-go/pkg/merkle"
	"github.com/reservewatch/reservewatch-go/pkg/risk"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// CreateTestRecords creates n reserve records with distinct IDs and amounts
func CreateTestRecords(n int) []types.ReserveRecord {
	records := make([]types.ReserveRecord, n)
	for i := 0; i < n; i++ {
		records[i] = types.ReserveRecord{
			ID:     fmt.Sprintf("acct-%05d", i),
			Amount: uint64(1000 + i*37),
		}
	}
	return records
}

// CreateTestBatch creates a committed batch of n records with a real SHA-256 root
func CreateTestBatch(t *testing.T, id string, n int, createdAt int64) *types.CommittedBatch {
	records := CreateTestRecords(n)
	root, err := merkle.ComputeRoot(crypto.SHA256Hasher{}, records)
	if err != nil {
		t.Fatalf("Failed to compute root: %v", err)
	}

	return &types.CommittedBatch{
		ID:            id,
		Root:          common.Hash(root),
		HashAlgorithm: crypto.HashAlgorithmSHA256.String(),
		Records:       records,
		CreatedAt:     createdAt,
		AnchorRef:     "local:" + id,
	}
}

// CreateTestMetrics creates scoring input for one company
func CreateTestMetrics(company, cash, float, shares, price string) types.MetricsInput {
	return types.MetricsInput{
		Company:           company,
		Cash:              decimalPtr(cash),
		Float:             decimalPtr(float),
		SharesOutstanding: decimalPtr(shares),
		Price:             decimalPtr(price),
	}
}

// CreateTestScoringRun scores a fixed set of companies covering every label
// plus an incomplete and a malformed entity and wraps the results in a run
func CreateTestScoringRun(t *testing.T, id string, createdAt int64) *types.ScoringRun {
	cfg := risk.DefaultScoringConfig()
	scorer, err := risk.NewScorer(cfg)
	if err != nil {
		t.Fatalf("Failed to create scorer: %v", err)
	}

	inputs := []types.MetricsInput{
		CreateTestMetrics("Safe Co", "1000000", "2000000", "10000000", "1"),
		CreateTestMetrics("Warning Co", "500000", "1000000", "10000000", "1"),
		CreateTestMetrics("Risky Co", "0", "0", "10000000", "1"),
		{Company: "Incomplete Co"},
		CreateTestMetrics("Malformed Co", "1", "1", "1", "1"),
	}
	inputs[4].Cash = nil
	inputs[4].SetMalformed("cash", json.RawMessage(`"n/a"`))

	results, err := scorer.ScoreBatch(t.Context(), inputs)
	if err != nil {
		t.Fatalf("Failed to score batch: %v", err)
	}

	return &types.ScoringRun{
		ID:        id,
		CreatedAt: createdAt,
		Config:    cfg,
		Inputs:    inputs,
		Results:   results,
		Summary:   risk.Summarize(results),
	}
}

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
