package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/reservewatch/reservewatch-go/pkg/client"
	"github.com/reservewatch/reservewatch-go/pkg/risk"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

func remoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "Run commands against a reserve server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Reserve server base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"RESERVE_SERVER_URL"},
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:  "commit",
				Usage: "Commit a JSON list of reserve records",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "records", Usage: "JSON file with a list of {id, amount} records", Required: true},
					&cli.StringFlag{Name: "output", Usage: "Output file (default: stdout)"},
				},
				Action: remoteCommitCommand,
			},
			{
				Name:  "prove",
				Usage: "Fetch the inclusion proof for one record",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "batch-id", Usage: "Batch ID, or latest", Value: "latest"},
					&cli.StringFlag{Name: "record-id", Usage: "ID of the record to prove", Required: true},
					&cli.StringFlag{Name: "output", Usage: "Output file (default: stdout)"},
				},
				Action: remoteProveCommand,
			},
			{
				Name:  "verify",
				Usage: "Have the server verify a proof file against the anchored root",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "proof", Usage: "Proof file written by prove", Required: true},
					&cli.StringFlag{Name: "root", Usage: "Root to verify against (default: the anchored root)"},
				},
				Action: remoteVerifyCommand,
			},
			{
				Name:  "score",
				Usage: "Score a list of financial snapshots on the server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Usage: "JSON file with a list of snapshots", Required: true},
					&cli.StringFlag{Name: "config", Usage: "YAML scoring policy sent as an override"},
					&cli.StringFlag{Name: "output", Usage: "Output file (default: stdout)"},
				},
				Action: remoteScoreCommand,
			},
			{
				Name:  "rescore",
				Usage: "Score the stored inputs of earlier runs again under a new policy",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "run-id", Usage: "Run to score again"},
					&cli.BoolFlag{Name: "all", Usage: "Score every original run again"},
					&cli.StringFlag{Name: "config", Usage: "YAML scoring policy (default: the server's policy)"},
					&cli.StringFlag{Name: "output", Usage: "Output file (default: stdout)"},
				},
				Action: remoteRescoreCommand,
			},
			{
				Name:  "batches",
				Usage: "List committed batches",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Output file (default: stdout)"},
				},
				Action: remoteBatchesCommand,
			},
			{
				Name:  "runs",
				Usage: "List persisted scoring runs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Output file (default: stdout)"},
				},
				Action: remoteRunsCommand,
			},
		},
	}
}

func newRemoteClient(c *cli.Context) (*client.Client, error) {
	return client.NewClient(&client.ClientConfig{
		BaseURL: c.String("server-url"),
		Logger:  newLogger(c),
	})
}

func remoteCommitCommand(c *cli.Context) error {
	rc, err := newRemoteClient(c)
	if err != nil {
		return err
	}

	var records []types.ReserveRecord
	if err := readJSON(c.String("records"), &records); err != nil {
		return err
	}

	resp, err := rc.CommitBatch(c.Context, records)
	if err != nil {
		return err
	}
	return writeJSON(c.String("output"), resp)
}

func remoteProveCommand(c *cli.Context) error {
	rc, err := newRemoteClient(c)
	if err != nil {
		return err
	}

	batchID := c.String("batch-id")
	if batchID == "latest" {
		batch, err := rc.GetBatch(c.Context, "latest")
		if err != nil {
			return err
		}
		batchID = batch.ID
	}

	proof, err := rc.GetProof(c.Context, batchID, c.String("record-id"))
	if err != nil {
		return err
	}
	return writeJSON(c.String("output"), proof)
}

func remoteVerifyCommand(c *cli.Context) error {
	rc, err := newRemoteClient(c)
	if err != nil {
		return err
	}

	var proof types.ProofResponse
	if err := readJSON(c.String("proof"), &proof); err != nil {
		return err
	}

	verified, err := rc.Verify(c.Context, &types.VerifyRequest{
		Record:        proof.Record,
		Proof:         proof.Proof,
		Root:          c.String("root"),
		HashAlgorithm: proof.HashAlgorithm,
	})
	if err != nil {
		return err
	}
	if !verified.Valid {
		return cli.Exit(fmt.Sprintf("proof for %s was rejected by the server", proof.Record.ID), 1)
	}

	if verified.BatchID != "" {
		fmt.Printf("Proof for %s is valid against root %s of batch %s\n", proof.Record.ID, verified.Root.Hex(), verified.BatchID)
		return nil
	}
	fmt.Printf("Proof for %s is valid against root %s\n", proof.Record.ID, verified.Root.Hex())
	return nil
}

func remoteBatchesCommand(c *cli.Context) error {
	rc, err := newRemoteClient(c)
	if err != nil {
		return err
	}

	batches, err := rc.ListBatches(c.Context)
	if err != nil {
		return err
	}
	return writeJSON(c.String("output"), &types.ListBatchesResponse{Batches: batches})
}

func remoteRunsCommand(c *cli.Context) error {
	rc, err := newRemoteClient(c)
	if err != nil {
		return err
	}

	runs, err := rc.ListScoringRuns(c.Context)
	if err != nil {
		return err
	}
	return writeJSON(c.String("output"), &types.ListScoringRunsResponse{Runs: runs})
}

// remoteRescoreCommand scores stored runs again under a new policy. With --all
// every run that is not itself a rescore is scored again.
func remoteRescoreCommand(c *cli.Context) error {
	l := newLogger(c)
	defer func() { _ = l.Sync() }()

	runID, all := c.String("run-id"), c.Bool("all")
	if (runID == "") == !all {
		return cli.Exit("exactly one of --run-id or --all is required", 1)
	}

	rc, err := newRemoteClient(c)
	if err != nil {
		return err
	}

	override, err := loadOverride(c)
	if err != nil {
		return err
	}

	runIDs := []string{runID}
	if all {
		runs, err := rc.ListScoringRuns(c.Context)
		if err != nil {
			return err
		}
		runIDs = runIDs[:0]
		for _, r := range runs {
			if r.SourceRunID == "" {
				runIDs = append(runIDs, r.ID)
			}
		}
	}

	rescored := make([]*types.ScoreResponse, 0, len(runIDs))
	for _, id := range runIDs {
		resp, err := rc.Rescore(c.Context, id, override)
		if err != nil {
			return fmt.Errorf("failed to rescore run %s: %w", id, err)
		}
		rescored = append(rescored, resp)
	}

	l.Sugar().Infow("Rescored runs", "count", len(rescored))
	if !all {
		return writeJSON(c.String("output"), rescored[0])
	}
	return writeJSON(c.String("output"), rescored)
}

// loadOverride reads the --config policy file, nil when none is given
func loadOverride(c *cli.Context) (*types.ScoringConfig, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	cfg, err := risk.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func remoteScoreCommand(c *cli.Context) error {
	rc, err := newRemoteClient(c)
	if err != nil {
		return err
	}

	override, err := loadOverride(c)
	if err != nil {
		return err
	}

	inputs, err := readSnapshots(c.String("input"))
	if err != nil {
		return err
	}

	resp, err := rc.Score(c.Context, inputs, override)
	if err != nil {
		return err
	}
	return writeJSON(c.String("output"), resp)
}
