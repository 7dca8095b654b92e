// Package client is a Go client for the reserve server's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

const defaultTimeout = 30 * time.Second

// ClientConfig holds the configuration for the reserve client
type ClientConfig struct {
	BaseURL string
	Logger  *zap.Logger
	// HTTPClient defaults to a client with a 30s timeout
	HTTPClient *http.Client
}

// Client calls a reserve server
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError is a non-2xx response. It unwraps to the sentinel named by Kind
// so callers can use errors.Is across the wire.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("reserve server returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("reserve server returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return types.ErrorForKind(e.Kind)
}

// NewClient creates a new reserve client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     config.Logger,
	}, nil
}

// CommitBatch commits records and returns the new batch's root
func (c *Client) CommitBatch(ctx context.Context, records []types.ReserveRecord) (*types.CommitBatchResponse, error) {
	var resp types.CommitBatchResponse
	if err := c.do(ctx, http.MethodPost, "/reserves/batches", &types.CommitBatchRequest{Records: records}, &resp); err != nil {
		return nil, err
	}
	c.logger.Sugar().Infow("Committed batch", "batch_id", resp.BatchID, "root", resp.Root.Hex(), "anchor_ref", resp.AnchorRef)
	return &resp, nil
}

// GetBatch fetches a committed batch. Use "latest" for the most recent one.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*types.CommittedBatch, error) {
	var batch types.CommittedBatch
	if err := c.do(ctx, http.MethodGet, "/reserves/batches/"+url.PathEscape(batchID), nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetProof fetches the inclusion proof for one record of a batch
func (c *Client) GetProof(ctx context.Context, batchID, recordID string) (*types.ProofResponse, error) {
	path := fmt.Sprintf("/reserves/batches/%s/proof/%s", url.PathEscape(batchID), url.PathEscape(recordID))
	var proof types.ProofResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

// Verify asks the server to check a proof. An empty req.Root checks against
// the server's anchored root.
func (c *Client) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	var resp types.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/reserves/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListBatches describes every committed batch, oldest first
func (c *Client) ListBatches(ctx context.Context) ([]types.BatchSummary, error) {
	var resp types.ListBatchesResponse
	if err := c.do(ctx, http.MethodGet, "/reserves/batches", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Batches, nil
}

// BatchByRoot fetches the committed batch that produced root
func (c *Client) BatchByRoot(ctx context.Context, root common.Hash) (*types.CommittedBatch, error) {
	var batch types.CommittedBatch
	if err := c.do(ctx, http.MethodGet, "/reserves/roots/"+root.Hex(), nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// AnchorHistory lists every root the server's anchor has published
func (c *Client) AnchorHistory(ctx context.Context) ([]types.AnchoredRoot, error) {
	var resp types.AnchorHistoryResponse
	if err := c.do(ctx, http.MethodGet, "/reserves/anchor/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Roots, nil
}

// Score submits entities for scoring, optionally under a different policy
func (c *Client) Score(ctx context.Context, entities []types.MetricsInput, override *types.ScoringConfig) (*types.ScoreResponse, error) {
	var resp types.ScoreResponse
	if err := c.do(ctx, http.MethodPost, "/risk/score", &types.ScoreRequest{Entities: entities, Config: override}, &resp); err != nil {
		return nil, err
	}
	c.logger.Sugar().Infow("Scored entities", "run_id", resp.RunID, "total", resp.Summary.Total)
	return &resp, nil
}

// GetScoringRun fetches a persisted scoring run
func (c *Client) GetScoringRun(ctx context.Context, runID string) (*types.ScoringRun, error) {
	var run types.ScoringRun
	if err := c.do(ctx, http.MethodGet, "/risk/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListScoringRuns describes every persisted scoring run, oldest first
func (c *Client) ListScoringRuns(ctx context.Context) ([]types.ScoringRunSummary, error) {
	var resp types.ListScoringRunsResponse
	if err := c.do(ctx, http.MethodGet, "/risk/runs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Rescore scores the stored inputs of a run again as a new run. A nil
// override uses the server's configured policy.
func (c *Client) Rescore(ctx context.Context, runID string, override *types.ScoringConfig) (*types.ScoreResponse, error) {
	var resp types.ScoreResponse
	path := "/risk/runs/" + url.PathEscape(runID) + "/rescore"
	if err := c.do(ctx, http.MethodPost, path, &types.RescoreRequest{Config: override}, &resp); err != nil {
		return nil, err
	}
	c.logger.Sugar().Infow("Rescored run", "source_run_id", runID, "run_id", resp.RunID, "total", resp.Summary.Total)
	return &resp, nil
}

// Health returns nil when the server reports itself healthy
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Sugar().Debugw("Sending request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(resp.Body)
	var body types.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Kind = body.Kind
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
