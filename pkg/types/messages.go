package types

import "github.com/ethereum/go-ethereum/common"

// CommitBatchRequest asks the service to commit a batch of reserve records.
type CommitBatchRequest struct {
	Records []ReserveRecord `json:"records"`
}

// CommitBatchResponse is returned after a batch has been committed.
type CommitBatchResponse struct {
	BatchID       string      `json:"batchId"`
	Root          common.Hash `json:"root"`
	LeafCount     int         `json:"leafCount"`
	HashAlgorithm string      `json:"hashAlgorithm"`
	AnchorRef     string      `json:"anchorRef,omitempty"`
}

// ProofResponse carries an inclusion proof for one record of a committed batch.
type ProofResponse struct {
	BatchID       string          `json:"batchId"`
	Root          common.Hash     `json:"root"`
	HashAlgorithm string          `json:"hashAlgorithm"`
	Record        ReserveRecord   `json:"record"`
	Proof         *InclusionProof `json:"proof"`
}

// VerifyRequest submits a record, its proof and a claimed root for verification.
type VerifyRequest struct {
	Record        ReserveRecord   `json:"record"`
	Proof         *InclusionProof `json:"proof"`
	Root          string          `json:"root"`
	HashAlgorithm string          `json:"hashAlgorithm,omitempty"`
}

// VerifyResponse is the outcome of a verification. BatchID names the stored
// batch committed under Root, when there is one.
type VerifyResponse struct {
	Valid   bool        `json:"valid"`
	Root    common.Hash `json:"root"`
	BatchID string      `json:"batchId,omitempty"`
}

// ListBatchesResponse lists committed batches, oldest first.
type ListBatchesResponse struct {
	Batches []BatchSummary `json:"batches"`
}

// ListScoringRunsResponse lists scoring runs, oldest first.
type ListScoringRunsResponse struct {
	Runs []ScoringRunSummary `json:"runs"`
}

// RescoreRequest scores the inputs of a stored run again. A nil Config uses
// the service's configured policy.
type RescoreRequest struct {
	Config *ScoringConfig `json:"config,omitempty"`
}

// AnchoredRoot is one root published by the anchor, with the stored batch
// that produced it when the batch is still known.
type AnchoredRoot struct {
	Seq         uint64      `json:"seq"`
	Root        common.Hash `json:"root"`
	PublishedAt int64       `json:"publishedAt"`
	BatchID     string      `json:"batchId,omitempty"`
}

// AnchorHistoryResponse lists every root the anchor has published, oldest first.
type AnchorHistoryResponse struct {
	Roots []AnchoredRoot `json:"roots"`
}

// ScoreRequest submits a batch of entities for scoring. Config overrides the
// service's configured policy when set.
type ScoreRequest struct {
	Entities []MetricsInput `json:"entities"`
	Config   *ScoringConfig `json:"config,omitempty"`
}

// ScoreResponse is returned after a scoring run.
type ScoreResponse struct {
	RunID   string         `json:"runId"`
	Results []EntityResult `json:"results"`
	Summary ScoringSummary `json:"summary"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
