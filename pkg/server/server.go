package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/reservewatch/reservewatch-go/pkg/auditor"
)

/*
Server exposes the auditor over HTTP.

Reserve commitments:
  POST /reserves/batches
    - Request: { records: [{ id, amount }] }
    - Builds the merkle tree, persists the batch and anchors the root
    - Response 201: { batchId, root, leafCount, hashAlgorithm, anchorRef }

  GET /reserves/batches
    - Response: { batches: [{ id, root, hashAlgorithm, leafCount, createdAt, anchorRef }] }

  GET /reserves/batches/latest
  GET /reserves/batches/{id}
  GET /reserves/roots/{root}
    - Returns the committed batch with its records

  GET /reserves/batches/{id}/proof/{recordID}
    - Response: { batchId, root, hashAlgorithm, record, proof }

  POST /reserves/verify
    - Request: { record, proof, root, hashAlgorithm }
    - An empty root is checked against the currently anchored root
    - Response: { valid, root, batchId }

  GET /reserves/anchor/history
    - Every root the anchor published, with the batch behind it when stored
    - 501 when the anchor keeps no history

Risk scoring:
  POST /risk/score
    - Request: { entities: [{ company, cash, float, sharesOutstanding, price }], config }
    - Entities that fail validation are reported per result, not as a request error
    - Response: { runId, results, summary }

  GET /risk/runs
    - Response: { runs: [{ id, createdAt, config, summary, sourceRunId }] }

  GET /risk/runs/{id}
    - Returns a persisted scoring run

  POST /risk/runs/{id}/rescore
    - Request: { config }
    - Scores the stored inputs of the run again as a new run
    - Response: { runId, results, summary }

Errors are returned as { error, kind } with 400 for invalid input, 404 for
unknown batches, records and runs, 429 when rate limited, 501 for
unsupported operations and 500 otherwise.
*/

// maxBodyBytes bounds every request body
const maxBodyBytes = 16 << 20

// Config controls the listener and request rate limiting
type Config struct {
	Port int
	// RateLimit is requests per second across all clients, 0 disables limiting
	RateLimit float64
	RateBurst int
}

// Server handles HTTP requests for the auditor
type Server struct {
	auditor    *auditor.Auditor
	logger     *zap.Logger
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(a *auditor.Auditor, cfg Config, logger *zap.Logger) *Server {
	s := &Server{
		auditor: a,
		logger:  logger,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	mux := http.NewServeMux()

	// Reserve commitment endpoints
	mux.HandleFunc("POST /reserves/batches", s.handleCommitBatch)
	mux.HandleFunc("GET /reserves/batches", s.handleListBatches)
	mux.HandleFunc("GET /reserves/batches/latest", s.handleGetLatestBatch)
	mux.HandleFunc("GET /reserves/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("GET /reserves/batches/{id}/proof/{recordID}", s.handleGetProof)
	mux.HandleFunc("GET /reserves/roots/{root}", s.handleGetBatchByRoot)
	mux.HandleFunc("POST /reserves/verify", s.handleVerify)
	mux.HandleFunc("GET /reserves/anchor/history", s.handleAnchorHistory)

	// Risk scoring endpoints
	mux.HandleFunc("POST /risk/score", s.handleScore)
	mux.HandleFunc("GET /risk/runs", s.handleListScoringRuns)
	mux.HandleFunc("GET /risk/runs/{id}", s.handleGetScoringRun)
	mux.HandleFunc("POST /risk/runs/{id}/rescore", s.handleRescore)

	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.rateLimit(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop waits for in-flight requests until ctx expires, then closes the listener
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

// rateLimit rejects requests beyond the configured rate with 429
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded", "RateLimited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
