package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/reservewatch/reservewatch-go/pkg/crypto"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "reserve-client",
		Usage: "Offline tooling for reserve commitments and risk scoring",
		Description: `Commits reserve records, generates and verifies inclusion proofs and scores
reporting entities, offline or against a reserve server.

This client can:
- Commit a JSON list of reserve records to a merkle root
- Produce an inclusion proof for one record of a committed batch
- Verify a proof against a root
- Score a list of financial snapshots and annotate a single snapshot
- Score a saved run again under a different policy
- Talk to a running reserve server with the remote commands`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "commit",
				Usage: "Compute the merkle root of a batch of reserve records",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "records",
						Usage:    "JSON file with a list of {id, amount} records",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "hash-algorithm",
						Usage: "Hash used for leaves and nodes",
						Value: crypto.DefaultHashAlgorithm.String(),
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output file for the committed batch (default: stdout)",
					},
				},
				Action: commitCommand,
			},
			{
				Name:  "prove",
				Usage: "Generate an inclusion proof for one record of a committed batch",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "batch",
						Usage:    "Committed batch file written by the commit command",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "record-id",
						Usage:    "ID of the record to prove",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output file for the proof (default: stdout)",
					},
				},
				Action: proveCommand,
			},
			{
				Name:  "verify",
				Usage: "Verify an inclusion proof against a root",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "proof",
						Usage:    "Proof file written by the prove command",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "root",
						Usage: "Root to verify against (default: the root in the proof file)",
					},
				},
				Action: verifyCommand,
			},
			{
				Name:  "score",
				Usage: "Score a list of financial snapshots",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Usage:    "JSON file with a list of snapshots (company, cash, float, sharesOutstanding, price)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "config",
						Usage: "YAML scoring policy (default: built-in thresholds and weights)",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Entities scored in parallel, 0 uses GOMAXPROCS",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output file for the results (default: stdout)",
					},
				},
				Action: scoreCommand,
			},
			{
				Name:  "annotate",
				Usage: "Add a risk block to a single snapshot file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Usage:    "Snapshot JSON file",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "config",
						Usage: "YAML scoring policy (default: built-in thresholds and weights)",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output file (default: overwrite the input)",
					},
				},
				Action: annotateCommand,
			},
			{
				Name:  "rescore",
				Usage: "Score the inputs of a saved scoring run again under a new policy",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "run",
						Usage:    "Scoring run file, as written by rescore or fetched from a server",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "config",
						Usage: "YAML scoring policy (default: built-in thresholds and weights)",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Entities scored in parallel, 0 uses GOMAXPROCS",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output file for the new run (default: stdout)",
					},
				},
				Action: rescoreCommand,
			},
			remoteCommand(),
		},
	}
}
