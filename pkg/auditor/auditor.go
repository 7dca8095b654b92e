// Package auditor ties the commitment engine, the risk scorer, persistence and
// root anchoring together into the operations the reserve service exposes.
package auditor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/decred/dcrd/container/lru"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/anchor"
	"github.com/reservewatch/reservewatch-go/pkg/crypto"
	"github.com/reservewatch/reservewatch-go/pkg/merkle"
	"github.com/reservewatch/reservewatch-go/pkg/persistence"
	"github.com/reservewatch/reservewatch-go/pkg/risk"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

const (
	// DefaultTreeCacheSize is the number of rebuilt trees kept in memory.
	DefaultTreeCacheSize = 32

	// DefaultPublishTimeout bounds a single root publication, including
	// waiting for the transaction to be mined.
	DefaultPublishTimeout = 5 * time.Minute
)

// Config controls how batches are committed and entities scored
type Config struct {
	HashAlgorithm      crypto.HashAlgorithm
	Scoring            types.ScoringConfig
	ScoringConcurrency int
	TreeCacheSize      uint32
	PublishTimeout     time.Duration
}

// Auditor commits reserve batches, serves proofs against them and runs
// persisted risk scoring. It is safe for concurrent use.
type Auditor struct {
	hasher crypto.Hasher
	scorer *risk.Scorer
	store  persistence.IReservePersistence
	anchor anchor.IRootAnchor
	logger *zap.Logger

	concurrency    int
	publishTimeout time.Duration

	// commitMu serializes commits so the latest batch is always the one
	// whose root was published last.
	commitMu sync.Mutex

	// trees caches proof-ready trees by batch ID
	trees *lru.Map[string, *merkle.MerkleTree]

	now func() time.Time
}

// NewAuditor validates cfg and returns an auditor over store. rootAnchor may be
// nil, in which case committed roots are not published anywhere.
func NewAuditor(cfg Config, store persistence.IReservePersistence, rootAnchor anchor.IRootAnchor, logger *zap.Logger) (*Auditor, error) {
	if store == nil {
		return nil, fmt.Errorf("persistence cannot be nil")
	}

	hasher, err := crypto.NewHasher(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	scorer, err := risk.NewScorer(cfg.Scoring, risk.WithConcurrency(cfg.ScoringConcurrency))
	if err != nil {
		return nil, err
	}

	cacheSize := cfg.TreeCacheSize
	if cacheSize == 0 {
		cacheSize = DefaultTreeCacheSize
	}
	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}

	return &Auditor{
		hasher:         hasher,
		scorer:         scorer,
		store:          store,
		anchor:         rootAnchor,
		logger:         logger,
		concurrency:    cfg.ScoringConcurrency,
		publishTimeout: publishTimeout,
		trees:          lru.NewMap[string, *merkle.MerkleTree](cacheSize),
		now:            time.Now,
	}, nil
}

// HashAlgorithm returns the algorithm new batches are committed with
func (a *Auditor) HashAlgorithm() crypto.HashAlgorithm {
	return a.hasher.Algorithm()
}

// ScoringConfig returns the default policy used by ScoreEntities
func (a *Auditor) ScoringConfig() types.ScoringConfig {
	return a.scorer.Config()
}

// CommitBatch builds the tree over records, persists the batch, publishes the
// root when an anchor is configured and marks the batch as the latest one.
// A batch whose root could not be published is removed again.
//
// Publication does not follow ctx cancellation: once a root may have been
// submitted, a caller going away must not roll back the batch behind it.
// It is bounded by the configured publish timeout instead.
func (a *Auditor) CommitBatch(ctx context.Context, records []types.ReserveRecord) (*types.CommittedBatch, error) {
	tree, err := merkle.BuildMerkleTree(a.hasher, records)
	if err != nil {
		return nil, err
	}

	batch := &types.CommittedBatch{
		ID:            uuid.New().String(),
		Root:          common.Hash(tree.Root),
		HashAlgorithm: a.hasher.Algorithm().String(),
		Records:       slices.Clone(records),
		CreatedAt:     a.now().Unix(),
	}

	a.commitMu.Lock()
	defer a.commitMu.Unlock()

	if err := a.store.SaveBatch(batch); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}

	if a.anchor != nil {
		publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.publishTimeout)
		ref, err := a.anchor.PublishRoot(publishCtx, tree.Root)
		cancel()
		if err != nil {
			if delErr := a.store.DeleteBatch(batch.ID); delErr != nil {
				a.logger.Sugar().Errorw("Failed to remove unanchored batch",
					"batch_id", batch.ID,
					"error", delErr,
				)
			}
			return nil, fmt.Errorf("failed to anchor root %s: %w", batch.Root.Hex(), err)
		}
		batch.AnchorRef = ref

		if err := a.store.SaveBatch(batch); err != nil {
			return nil, fmt.Errorf("failed to record anchor reference: %w", err)
		}
	}

	if err := a.store.SetLatestBatchID(batch.ID); err != nil {
		return nil, fmt.Errorf("failed to mark latest batch: %w", err)
	}

	a.trees.Put(batch.ID, tree)

	a.logger.Sugar().Infow("Committed reserve batch",
		"batch_id", batch.ID,
		"root", batch.Root.Hex(),
		"records", len(records),
		"hash_algorithm", batch.HashAlgorithm,
		"anchor_ref", batch.AnchorRef,
	)

	return batch, nil
}

// GetBatch returns the committed batch with the given ID
func (a *Auditor) GetBatch(ctx context.Context, batchID string) (*types.CommittedBatch, error) {
	batch, err := a.store.LoadBatch(batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrBatchNotFound, batchID)
	}
	return batch, nil
}

// LatestBatch returns the most recently committed batch
func (a *Auditor) LatestBatch(ctx context.Context) (*types.CommittedBatch, error) {
	id, err := a.store.GetLatestBatchID()
	if err != nil {
		return nil, fmt.Errorf("failed to load latest batch id: %w", err)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no batch has been committed", types.ErrBatchNotFound)
	}
	return a.GetBatch(ctx, id)
}

// ListBatches describes every committed batch, oldest first
func (a *Auditor) ListBatches(ctx context.Context) ([]types.BatchSummary, error) {
	batches, err := a.store.ListBatches()
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	out := make([]types.BatchSummary, len(batches))
	for i, b := range batches {
		out[i] = b.Describe()
	}
	return out, nil
}

// BatchByRoot returns the committed batch that produced root
func (a *Auditor) BatchByRoot(ctx context.Context, root common.Hash) (*types.CommittedBatch, error) {
	batch, err := a.store.LoadBatchByRoot(root)
	if err != nil {
		return nil, fmt.Errorf("failed to look up root %s: %w", root.Hex(), err)
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: no batch with root %s", types.ErrBatchNotFound, root.Hex())
	}
	return batch, nil
}

// ProveRecord returns an inclusion proof for recordID in the given batch
func (a *Auditor) ProveRecord(ctx context.Context, batchID, recordID string) (*types.ProofResponse, error) {
	batch, err := a.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	index := slices.IndexFunc(batch.Records, func(r types.ReserveRecord) bool {
		return r.ID == recordID
	})
	if index < 0 {
		return nil, fmt.Errorf("%w: %s in batch %s", types.ErrRecordNotFound, recordID, batchID)
	}

	tree, err := a.treeFor(batch)
	if err != nil {
		return nil, err
	}

	proof, err := tree.GenerateProof(index)
	if err != nil {
		return nil, err
	}

	return &types.ProofResponse{
		BatchID:       batch.ID,
		Root:          batch.Root,
		HashAlgorithm: batch.HashAlgorithm,
		Record:        batch.Records[index],
		Proof:         proof,
	}, nil
}

// treeFor returns the cached tree for batch or rebuilds it from the stored records
func (a *Auditor) treeFor(batch *types.CommittedBatch) (*merkle.MerkleTree, error) {
	if tree, ok := a.trees.Get(batch.ID); ok && common.Hash(tree.Root) == batch.Root {
		return tree, nil
	}

	hasher, err := crypto.NewHasher(crypto.HashAlgorithm(batch.HashAlgorithm))
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", batch.ID, err)
	}

	tree, err := merkle.BuildMerkleTree(hasher, batch.Records)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild batch %s: %w", batch.ID, err)
	}
	if common.Hash(tree.Root) != batch.Root {
		return nil, fmt.Errorf("stored batch %s does not reproduce its root: have %s, want %s",
			batch.ID, common.Hash(tree.Root).Hex(), batch.Root.Hex())
	}

	a.trees.Put(batch.ID, tree)
	a.logger.Sugar().Debugw("Rebuilt merkle tree", "batch_id", batch.ID, "leaves", tree.LeafCount())
	return tree, nil
}

// VerifyRecord checks req.Proof against req.Root. An empty root means the root
// currently published by the anchor. The root is resolved to its stored batch
// when there is one, and an empty hash algorithm then means that batch's
// algorithm, otherwise the auditor's own.
func (a *Auditor) VerifyRecord(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: verify request cannot be nil", types.ErrMalformedProof)
	}

	var root [types.HashLength]byte
	if req.Root == "" {
		if a.anchor == nil {
			return nil, fmt.Errorf("%w: root is required when no anchor is configured", types.ErrMalformedProof)
		}
		current, err := a.anchor.CurrentRoot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read anchored root: %w", err)
		}
		root = current
	} else {
		parsed, err := types.ParseHash(req.Root)
		if err != nil {
			return nil, err
		}
		root = parsed
	}

	resp := &types.VerifyResponse{Root: common.Hash(root)}

	algorithm := crypto.HashAlgorithm(req.HashAlgorithm)
	batch, err := a.store.LoadBatchByRoot(resp.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to look up root %s: %w", resp.Root.Hex(), err)
	}
	if batch != nil {
		resp.BatchID = batch.ID
		if algorithm == "" {
			algorithm = crypto.HashAlgorithm(batch.HashAlgorithm)
		}
	}

	hasher := a.hasher
	if algorithm != "" {
		h, err := crypto.NewHasher(algorithm)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrMalformedProof, err)
		}
		hasher = h
	}

	valid, err := merkle.VerifyProof(hasher, req.Record, req.Proof, root)
	if err != nil {
		return nil, err
	}
	resp.Valid = valid
	return resp, nil
}

// ScoreEntities scores inputs under override, or the configured policy when
// override is nil, and persists the run. Per-entity validation failures are
// part of the run; only an invalid override or a cancelled ctx fail the call.
func (a *Auditor) ScoreEntities(ctx context.Context, inputs []types.MetricsInput, override *types.ScoringConfig) (*types.ScoringRun, error) {
	return a.score(ctx, inputs, override, "")
}

// RescoreRun scores the stored inputs of an earlier run again, under override
// or the configured policy, and persists the result as a new run.
func (a *Auditor) RescoreRun(ctx context.Context, runID string, override *types.ScoringConfig) (*types.ScoringRun, error) {
	source, err := a.GetScoringRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(source.Inputs) == 0 {
		return nil, fmt.Errorf("%w: scoring run %s has no stored inputs", types.ErrIncompleteMetrics, runID)
	}
	return a.score(ctx, source.Inputs, override, source.ID)
}

func (a *Auditor) score(ctx context.Context, inputs []types.MetricsInput, override *types.ScoringConfig, sourceRunID string) (*types.ScoringRun, error) {
	scorer := a.scorer
	if override != nil {
		s, err := risk.NewScorer(*override, risk.WithConcurrency(a.concurrency))
		if err != nil {
			return nil, err
		}
		scorer = s
	}

	results, err := scorer.ScoreBatch(ctx, inputs)
	if err != nil {
		return nil, err
	}

	run := &types.ScoringRun{
		ID:          uuid.New().String(),
		CreatedAt:   a.now().Unix(),
		Config:      scorer.Config(),
		Inputs:      slices.Clone(inputs),
		Results:     results,
		Summary:     risk.Summarize(results),
		SourceRunID: sourceRunID,
	}

	if err := a.store.SaveScoringRun(run); err != nil {
		return nil, fmt.Errorf("failed to save scoring run: %w", err)
	}

	a.logger.Sugar().Infow("Completed scoring run",
		"run_id", run.ID,
		"source_run_id", run.SourceRunID,
		"total", run.Summary.Total,
		"safe", run.Summary.Safe,
		"warning", run.Summary.Warning,
		"risky", run.Summary.Risky,
		"failed", run.Summary.Failed,
	)

	return run, nil
}

// ListScoringRuns describes every persisted scoring run, oldest first
func (a *Auditor) ListScoringRuns(ctx context.Context) ([]types.ScoringRunSummary, error) {
	runs, err := a.store.ListScoringRuns()
	if err != nil {
		return nil, fmt.Errorf("failed to list scoring runs: %w", err)
	}
	out := make([]types.ScoringRunSummary, len(runs))
	for i, r := range runs {
		out[i] = r.Describe()
	}
	return out, nil
}

// AnchorHistory lists every root the anchor has published with the stored
// batch behind it. Anchors that keep no history return ErrAnchorHistoryUnavailable.
func (a *Auditor) AnchorHistory(ctx context.Context) ([]types.AnchoredRoot, error) {
	history, ok := a.anchor.(anchor.IRootHistory)
	if !ok {
		return nil, types.ErrAnchorHistoryUnavailable
	}

	entries := history.History()
	out := make([]types.AnchoredRoot, len(entries))
	for i, e := range entries {
		out[i] = types.AnchoredRoot{Seq: e.Seq, Root: e.Root, PublishedAt: e.PublishedAt}
		batch, err := a.store.LoadBatchByRoot(e.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to look up root %s: %w", e.Root.Hex(), err)
		}
		if batch != nil {
			out[i].BatchID = batch.ID
		}
	}
	return out, nil
}

// Reconcile points the latest batch at the batch whose root the anchor
// currently holds. It repairs state left by a process that stopped between
// publishing a root and recording its batch as latest.
func (a *Auditor) Reconcile(ctx context.Context) error {
	if a.anchor == nil {
		return nil
	}

	a.commitMu.Lock()
	defer a.commitMu.Unlock()

	current, err := a.anchor.CurrentRoot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read anchored root: %w", err)
	}
	if current == ([types.HashLength]byte{}) {
		return nil
	}

	root := common.Hash(current)
	batch, err := a.store.LoadBatchByRoot(root)
	if err != nil {
		return fmt.Errorf("failed to look up anchored root %s: %w", root.Hex(), err)
	}
	if batch == nil {
		a.logger.Sugar().Warnw("Anchored root has no stored batch", "root", root.Hex())
		return nil
	}

	latestID, err := a.store.GetLatestBatchID()
	if err != nil {
		return fmt.Errorf("failed to load latest batch id: %w", err)
	}
	if latestID == batch.ID {
		return nil
	}

	if err := a.store.SetLatestBatchID(batch.ID); err != nil {
		return fmt.Errorf("failed to mark latest batch: %w", err)
	}
	a.logger.Sugar().Infow("Moved latest batch to the anchored root",
		"batch_id", batch.ID,
		"previous_batch_id", latestID,
		"root", root.Hex(),
	)
	return nil
}

// GetScoringRun returns a persisted scoring run
func (a *Auditor) GetScoringRun(ctx context.Context, runID string) (*types.ScoringRun, error) {
	run, err := a.store.LoadScoringRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scoring run %s: %w", runID, err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrScoringRunNotFound, runID)
	}
	return run, nil
}

// HealthCheck reports whether the persistence layer is usable
func (a *Auditor) HealthCheck() error {
	return a.store.HealthCheck()
}
