package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// handleCommitBatch handles POST /reserves/batches
func (s *Server) handleCommitBatch(w http.ResponseWriter, r *http.Request) {
	var req types.CommitBatchRequest
	if !s.decode(w, r, &req) {
		return
	}

	batch, err := s.auditor.CommitBatch(r.Context(), req.Records)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, types.CommitBatchResponse{
		BatchID:       batch.ID,
		Root:          batch.Root,
		LeafCount:     len(batch.Records),
		HashAlgorithm: batch.HashAlgorithm,
		AnchorRef:     batch.AnchorRef,
	})
}

// handleListBatches handles GET /reserves/batches
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.auditor.ListBatches(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.ListBatchesResponse{Batches: batches})
}

// handleGetBatch handles GET /reserves/batches/{id}
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.auditor.GetBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

// handleGetLatestBatch handles GET /reserves/batches/latest
func (s *Server) handleGetLatestBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.auditor.LatestBatch(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

// handleGetBatchByRoot handles GET /reserves/roots/{root}
func (s *Server) handleGetBatchByRoot(w http.ResponseWriter, r *http.Request) {
	root, err := types.ParseHash(r.PathValue("root"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, err := s.auditor.BatchByRoot(r.Context(), common.Hash(root))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

// handleGetProof handles GET /reserves/batches/{id}/proof/{recordID}
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	proof, err := s.auditor.ProveRecord(r.Context(), r.PathValue("id"), r.PathValue("recordID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proof)
}

// handleVerify handles POST /reserves/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	verified, err := s.auditor.VerifyRecord(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, verified)
}

// handleAnchorHistory handles GET /reserves/anchor/history
func (s *Server) handleAnchorHistory(w http.ResponseWriter, r *http.Request) {
	roots, err := s.auditor.AnchorHistory(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.AnchorHistoryResponse{Roots: roots})
}

// handleScore handles POST /risk/score
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req types.ScoreRequest
	if !s.decode(w, r, &req) {
		return
	}

	run, err := s.auditor.ScoreEntities(r.Context(), req.Entities, req.Config)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, types.ScoreResponse{
		RunID:   run.ID,
		Results: run.Results,
		Summary: run.Summary,
	})
}

// handleListScoringRuns handles GET /risk/runs
func (s *Server) handleListScoringRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.auditor.ListScoringRuns(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.ListScoringRunsResponse{Runs: runs})
}

// handleRescore handles POST /risk/runs/{id}/rescore
func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	var req types.RescoreRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	run, err := s.auditor.RescoreRun(r.Context(), r.PathValue("id"), req.Config)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, types.ScoreResponse{
		RunID:   run.ID,
		Results: run.Results,
		Summary: run.Summary,
	})
}

// handleGetScoringRun handles GET /risk/runs/{id}
func (s *Server) handleGetScoringRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.auditor.GetScoringRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.auditor.HealthCheck(); err != nil {
		s.logger.Sugar().Warnw("Health check failed", "error", err)
		writeErrorMessage(w, http.StatusServiceUnavailable, "unhealthy", "Unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v, answering 400 itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		kind := "BadRequest"
		if types.ErrorKind(err) == "MalformedProof" {
			kind = "MalformedProof"
		}
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("failed to parse request: %v", err), kind)
		return false
	}
	return true
}

// statusFor maps an auditor error to an HTTP status
func statusFor(kind string) int {
	switch kind {
	case "BatchNotFound", "RecordNotFound", "ScoringRunNotFound":
		return http.StatusNotFound
	case "EmptyBatch", "DuplicateRecord", "IndexOutOfRange", "MalformedProof",
		"IncompleteMetrics", "InvalidMetrics", "InvalidConfig":
		return http.StatusBadRequest
	case "AnchorHistoryUnavailable":
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.ErrorKind(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeErrorMessage(w, status, "internal error", kind)
		return
	}
	writeErrorMessage(w, status, err.Error(), kind)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Sugar().Errorw("Failed to encode response", "error", err)
	}
}
