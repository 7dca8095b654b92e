package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/crypto"
	"github.com/reservewatch/reservewatch-go/pkg/logger"
	"github.com/reservewatch/reservewatch-go/pkg/merkle"
	"github.com/reservewatch/reservewatch-go/pkg/risk"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

func newLogger(c *cli.Context) *zap.Logger {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func commitCommand(c *cli.Context) error {
	l := newLogger(c)
	defer func() { _ = l.Sync() }()

	var records []types.ReserveRecord
	if err := readJSON(c.String("records"), &records); err != nil {
		return err
	}

	hasher, err := crypto.NewHasher(crypto.HashAlgorithm(c.String("hash-algorithm")))
	if err != nil {
		return err
	}

	tree, err := merkle.BuildMerkleTree(hasher, records)
	if err != nil {
		return fmt.Errorf("failed to build merkle tree: %w", err)
	}

	batch := &types.CommittedBatch{
		ID:            uuid.New().String(),
		Root:          common.Hash(tree.Root),
		HashAlgorithm: hasher.Algorithm().String(),
		Records:       records,
		CreatedAt:     time.Now().Unix(),
	}

	l.Sugar().Infow("Committed batch",
		"batch_id", batch.ID,
		"root", batch.Root.Hex(),
		"records", tree.LeafCount(),
		"depth", tree.Depth(),
	)

	return writeJSON(c.String("output"), batch)
}

func proveCommand(c *cli.Context) error {
	var batch types.CommittedBatch
	if err := readJSON(c.String("batch"), &batch); err != nil {
		return err
	}

	recordID := c.String("record-id")
	index := slices.IndexFunc(batch.Records, func(r types.ReserveRecord) bool {
		return r.ID == recordID
	})
	if index < 0 {
		return fmt.Errorf("%w: %s", types.ErrRecordNotFound, recordID)
	}

	hasher, err := crypto.NewHasher(crypto.HashAlgorithm(batch.HashAlgorithm))
	if err != nil {
		return err
	}

	tree, err := merkle.BuildMerkleTree(hasher, batch.Records)
	if err != nil {
		return fmt.Errorf("failed to rebuild merkle tree: %w", err)
	}
	if common.Hash(tree.Root) != batch.Root {
		return fmt.Errorf("batch records do not reproduce root %s", batch.Root.Hex())
	}

	proof, err := tree.GenerateProof(index)
	if err != nil {
		return err
	}

	return writeJSON(c.String("output"), &types.ProofResponse{
		BatchID:       batch.ID,
		Root:          batch.Root,
		HashAlgorithm: batch.HashAlgorithm,
		Record:        batch.Records[index],
		Proof:         proof,
	})
}

func verifyCommand(c *cli.Context) error {
	var resp types.ProofResponse
	if err := readJSON(c.String("proof"), &resp); err != nil {
		return err
	}

	root := [types.HashLength]byte(resp.Root)
	if c.String("root") != "" {
		parsed, err := types.ParseHash(c.String("root"))
		if err != nil {
			return err
		}
		root = parsed
	}

	hasher, err := crypto.NewHasher(crypto.HashAlgorithm(resp.HashAlgorithm))
	if err != nil {
		return err
	}

	valid, err := merkle.VerifyProof(hasher, resp.Record, resp.Proof, root)
	if err != nil {
		return err
	}
	if !valid {
		return cli.Exit(fmt.Sprintf("proof for %s does not match root %s", resp.Record.ID, common.Hash(root).Hex()), 1)
	}

	fmt.Printf("Proof for %s is valid against root %s\n", resp.Record.ID, common.Hash(root).Hex())
	return nil
}

func scoreCommand(c *cli.Context) error {
	l := newLogger(c)
	defer func() { _ = l.Sync() }()

	scorer, err := newScorer(c)
	if err != nil {
		return err
	}

	inputs, err := readSnapshots(c.String("input"))
	if err != nil {
		return err
	}

	results, err := scorer.ScoreBatch(c.Context, inputs)
	if err != nil {
		return err
	}
	summary := risk.Summarize(results)

	l.Sugar().Infow("Scored entities",
		"total", summary.Total,
		"safe", summary.Safe,
		"warning", summary.Warning,
		"risky", summary.Risky,
		"failed", summary.Failed,
	)

	return writeJSON(c.String("output"), &types.ScoreResponse{
		Results: results,
		Summary: summary,
	})
}

// rescoreCommand scores the inputs of a saved scoring run again under the
// given policy, offline
func rescoreCommand(c *cli.Context) error {
	scorer, err := newScorer(c)
	if err != nil {
		return err
	}

	var source types.ScoringRun
	if err := readJSON(c.String("run"), &source); err != nil {
		return err
	}
	if len(source.Inputs) == 0 {
		return fmt.Errorf("%w: %s has no stored inputs", types.ErrIncompleteMetrics, c.String("run"))
	}

	results, err := scorer.ScoreBatch(c.Context, source.Inputs)
	if err != nil {
		return err
	}

	return writeJSON(c.String("output"), &types.ScoringRun{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().Unix(),
		Config:      scorer.Config(),
		Inputs:      source.Inputs,
		Results:     results,
		Summary:     risk.Summarize(results),
		SourceRunID: source.ID,
	})
}

func annotateCommand(c *cli.Context) error {
	scorer, err := newScorer(c)
	if err != nil {
		return err
	}

	input := c.String("input")
	var snapshot map[string]any
	if err := readJSON(input, &snapshot); err != nil {
		return err
	}

	annotated, err := risk.AnnotateSnapshot(snapshot, scorer)
	if err != nil {
		return err
	}

	output := c.String("output")
	if output == "" {
		output = input
	}
	return writeJSON(output, annotated)
}

func newScorer(c *cli.Context) (*risk.Scorer, error) {
	cfg := risk.DefaultScoringConfig()
	if path := c.String("config"); path != "" {
		loaded, err := risk.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return risk.NewScorer(cfg, risk.WithConcurrency(c.Int("concurrency")))
}

// readSnapshots loads a JSON list of snapshots as scoring inputs. A snapshot
// with bad figures still yields an input, so it fails on its own when scored.
func readSnapshots(path string) ([]types.MetricsInput, error) {
	var snapshots []json.RawMessage
	if err := readJSON(path, &snapshots); err != nil {
		return nil, err
	}
	inputs := make([]types.MetricsInput, len(snapshots))
	for i, raw := range snapshots {
		var snapshot map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&snapshot); err != nil {
			// not an object, so every field is reported missing
			continue
		}
		inputs[i] = risk.MetricsFromSnapshot(snapshot)
	}
	return inputs, nil
}

// readJSON decodes path into v, keeping numbers exact
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writeJSON writes v to path, or stdout when path is empty
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
