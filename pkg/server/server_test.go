package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/anchor/local"
	"github.com/reservewatch/reservewatch-go/pkg/auditor"
	"github.com/reservewatch/reservewatch-go/pkg/persistence/memory"
	"github.com/reservewatch/reservewatch-go/pkg/risk"
	"github.com/reservewatch/reservewatch-go/pkg/testutil"
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })

	la, err := local.NewLocalAnchor("", zap.NewNop())
	require.NoError(t, err)

	a, err := auditor.NewAuditor(auditor.Config{Scoring: risk.DefaultScoringConfig()}, store, la, zap.NewNop())
	require.NoError(t, err)

	return NewServer(a, cfg, zap.NewNop())
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestCommitProveVerify(t *testing.T) {
	s := newTestServer(t, Config{})
	records := testutil.CreateTestRecords(5)

	w := do(t, s, http.MethodPost, "/reserves/batches", types.CommitBatchRequest{Records: records})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	committed := decodeBody[types.CommitBatchResponse](t, w)
	assert.Equal(t, 5, committed.LeafCount)
	assert.Equal(t, "keccak256", committed.HashAlgorithm)
	assert.Equal(t, "local:1", committed.AnchorRef)

	w = do(t, s, http.MethodGet, "/reserves/batches/"+committed.BatchID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	batch := decodeBody[types.CommittedBatch](t, w)
	assert.Equal(t, records, batch.Records)
	assert.Equal(t, committed.Root, batch.Root)

	w = do(t, s, http.MethodGet, "/reserves/batches/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, committed.BatchID, decodeBody[types.CommittedBatch](t, w).ID)

	w = do(t, s, http.MethodGet, "/reserves/batches/"+committed.BatchID+"/proof/acct-00003", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	proof := decodeBody[types.ProofResponse](t, w)
	assert.Equal(t, records[3], proof.Record)
	require.NotNil(t, proof.Proof)
	assert.Equal(t, 3, proof.Proof.LeafIndex)

	t.Run("Valid against explicit root", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/reserves/verify", types.VerifyRequest{
			Record: proof.Record,
			Proof:  proof.Proof,
			Root:   committed.Root.Hex(),
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.True(t, decodeBody[types.VerifyResponse](t, w).Valid)
	})

	t.Run("Valid against anchored root", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/reserves/verify", types.VerifyRequest{
			Record: proof.Record,
			Proof:  proof.Proof,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.True(t, decodeBody[types.VerifyResponse](t, w).Valid)
	})

	t.Run("Tampered record", func(t *testing.T) {
		record := proof.Record
		record.Amount = 1
		w := do(t, s, http.MethodPost, "/reserves/verify", types.VerifyRequest{
			Record: record,
			Proof:  proof.Proof,
			Root:   committed.Root.Hex(),
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, decodeBody[types.VerifyResponse](t, w).Valid)
	})

	t.Run("Unknown side flag", func(t *testing.T) {
		body := `{"record":{"id":"acct-00003","amount":1111},"root":"` + committed.Root.Hex() + `",` +
			`"proof":{"leafIndex":3,"leafCount":5,"steps":[{"sibling":"` + committed.Root.Hex() + `","side":"up"}]}}`
		w := do(t, s, http.MethodPost, "/reserves/verify", body)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "MalformedProof", decodeBody[types.ErrorResponse](t, w).Kind)
	})

	t.Run("Short root", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/reserves/verify", types.VerifyRequest{
			Record: proof.Record,
			Proof:  proof.Proof,
			Root:   "0xabcd",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "MalformedProof", decodeBody[types.ErrorResponse](t, w).Kind)
	})
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t, Config{})

	w := do(t, s, http.MethodPost, "/reserves/batches", types.CommitBatchRequest{Records: testutil.CreateTestRecords(2)})
	require.Equal(t, http.StatusCreated, w.Code)
	batchID := decodeBody[types.CommitBatchResponse](t, w).BatchID

	testCases := []struct {
		name           string
		method         string
		path           string
		body           any
		expectedStatus int
		expectedKind   string
	}{
		{
			name:           "Empty batch",
			method:         http.MethodPost,
			path:           "/reserves/batches",
			body:           types.CommitBatchRequest{},
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "EmptyBatch",
		},
		{
			name:   "Duplicate record",
			method: http.MethodPost,
			path:   "/reserves/batches",
			body: types.CommitBatchRequest{Records: []types.ReserveRecord{
				{ID: "a", Amount: 1},
				{ID: "a", Amount: 2},
			}},
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "DuplicateRecord",
		},
		{
			name:           "Invalid JSON",
			method:         http.MethodPost,
			path:           "/reserves/batches",
			body:           "not json",
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "BadRequest",
		},
		{
			name:           "Unknown batch",
			method:         http.MethodGet,
			path:           "/reserves/batches/missing",
			expectedStatus: http.StatusNotFound,
			expectedKind:   "BatchNotFound",
		},
		{
			name:           "Unknown record",
			method:         http.MethodGet,
			path:           "/reserves/batches/" + batchID + "/proof/nobody",
			expectedStatus: http.StatusNotFound,
			expectedKind:   "RecordNotFound",
		},
		{
			name:           "Unknown scoring run",
			method:         http.MethodGet,
			path:           "/risk/runs/missing",
			expectedStatus: http.StatusNotFound,
			expectedKind:   "ScoringRunNotFound",
		},
		{
			name:   "Invalid scoring override",
			method: http.MethodPost,
			path:   "/risk/score",
			body: `{"entities":[],"config":{"lowThreshold":"70","highThreshold":"60",` +
				`"weightCash":"4","weightFloat":"1"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedKind:   "InvalidConfig",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, s, tc.method, tc.path, tc.body)
			require.Equal(t, tc.expectedStatus, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			resp := decodeBody[types.ErrorResponse](t, w)
			assert.Equal(t, tc.expectedKind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, Config{})

	w := do(t, s, http.MethodGet, "/reserves/verify", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = do(t, s, http.MethodDelete, "/reserves/batches/abc", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestScore(t *testing.T) {
	s := newTestServer(t, Config{})

	body := `{"entities":[
		{"company":"Example Co","cash":500000,"float":1000000,"sharesOutstanding":10000000,"price":1},
		{"company":"No Market","cash":100,"float":10,"sharesOutstanding":0,"price":5},
		{"company":"Incomplete Co","cash":100}
	]}`
	w := do(t, s, http.MethodPost, "/risk/score", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[types.ScoreResponse](t, w)

	require.Len(t, resp.Results, 3)
	example := resp.Results[0].Assessment
	require.NotNil(t, example)
	assert.Equal(t, "30.0000", example.RiskScore.StringFixed(risk.ScorePlaces))
	assert.Equal(t, types.RiskLabelWarning, example.Label)
	require.NotNil(t, example.Explanation)

	noMarket := resp.Results[1].Assessment
	require.NotNil(t, noMarket)
	assert.Equal(t, types.RiskLabelRisky, noMarket.Label)
	assert.False(t, noMarket.Scored)
	assert.Contains(t, noMarket.Explanation.Flags, types.FlagInsufficientMarketData)

	assert.Nil(t, resp.Results[2].Assessment)
	assert.Equal(t, "IncompleteMetrics", resp.Results[2].ErrorKind)
	assert.Contains(t, resp.Results[2].Error, "sharesOutstanding")

	assert.Equal(t, types.ScoringSummary{Total: 3, Warning: 1, Risky: 1, Failed: 1}, resp.Summary)

	w = do(t, s, http.MethodGet, "/risk/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	run := decodeBody[types.ScoringRun](t, w)
	assert.Equal(t, resp.RunID, run.ID)
	assert.Equal(t, resp.Summary, run.Summary)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Config{})

	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, w)["status"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{RateLimit: 1, RateBurst: 2})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)

	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "RateLimited", decodeBody[types.ErrorResponse](t, w).Kind)
}

func TestScore_MalformedEntities(t *testing.T) {
	s := newTestServer(t, Config{})

	body := `{"entities":[
		{"company":"Example Co","cash":500000,"float":1000000,"sharesOutstanding":10000000,"price":1},
		{"company":"Bad Co","cash":"n/a","float":1000000,"sharesOutstanding":10000000,"price":{"usd":1}},
		{"company":42,"cash":1,"float":1,"sharesOutstanding":1,"price":1}
	]}`
	w := do(t, s, http.MethodPost, "/risk/score", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[types.ScoreResponse](t, w)

	require.Len(t, resp.Results, 3)
	require.NotNil(t, resp.Results[0].Assessment)
	assert.Equal(t, types.RiskLabelWarning, resp.Results[0].Assessment.Label)

	testCases := []struct {
		name   string
		index  int
		fields []string
	}{
		{name: "Malformed figures", index: 1, fields: []string{"cash", "price"}},
		{name: "Non string company", index: 2, fields: []string{"company"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := resp.Results[tc.index]
			assert.Nil(t, result.Assessment)
			assert.Equal(t, "InvalidMetrics", result.ErrorKind)
			for _, field := range tc.fields {
				assert.Contains(t, result.Error, field)
			}
		})
	}

	assert.Equal(t, types.ScoringSummary{Total: 3, Warning: 1, Failed: 2}, resp.Summary)
}

func TestListBatchesAndRootLookup(t *testing.T) {
	s := newTestServer(t, Config{})

	w := do(t, s, http.MethodGet, "/reserves/batches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[types.ListBatchesResponse](t, w).Batches)

	var committed []types.CommitBatchResponse
	for _, n := range []int{2, 3} {
		w := do(t, s, http.MethodPost, "/reserves/batches", types.CommitBatchRequest{Records: testutil.CreateTestRecords(n)})
		require.Equal(t, http.StatusCreated, w.Code)
		committed = append(committed, decodeBody[types.CommitBatchResponse](t, w))
	}

	w = do(t, s, http.MethodGet, "/reserves/batches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	batches := decodeBody[types.ListBatchesResponse](t, w).Batches
	require.Len(t, batches, 2)
	ids := []string{batches[0].ID, batches[1].ID}
	assert.ElementsMatch(t, []string{committed[0].BatchID, committed[1].BatchID}, ids)

	w = do(t, s, http.MethodGet, "/reserves/roots/"+committed[0].Root.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, committed[0].BatchID, decodeBody[types.CommittedBatch](t, w).ID)

	testCases := []struct {
		name           string
		root           string
		expectedStatus int
		expectedKind   string
	}{
		{name: "Unknown root", root: common.Hash{0x01}.Hex(), expectedStatus: http.StatusNotFound, expectedKind: "BatchNotFound"},
		{name: "Short root", root: "0xabcd", expectedStatus: http.StatusBadRequest, expectedKind: "MalformedProof"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, s, http.MethodGet, "/reserves/roots/"+tc.root, nil)
			require.Equal(t, tc.expectedStatus, w.Code, w.Body.String())
			assert.Equal(t, tc.expectedKind, decodeBody[types.ErrorResponse](t, w).Kind)
		})
	}
}

func TestVerifyResolvesBatch(t *testing.T) {
	s := newTestServer(t, Config{})

	w := do(t, s, http.MethodPost, "/reserves/batches", types.CommitBatchRequest{Records: testutil.CreateTestRecords(3)})
	require.Equal(t, http.StatusCreated, w.Code)
	committed := decodeBody[types.CommitBatchResponse](t, w)

	w = do(t, s, http.MethodGet, "/reserves/batches/"+committed.BatchID+"/proof/acct-00001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	proof := decodeBody[types.ProofResponse](t, w)

	w = do(t, s, http.MethodPost, "/reserves/verify", types.VerifyRequest{Record: proof.Record, Proof: proof.Proof})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	verified := decodeBody[types.VerifyResponse](t, w)
	assert.True(t, verified.Valid)
	assert.Equal(t, committed.Root, verified.Root)
	assert.Equal(t, committed.BatchID, verified.BatchID)
}

func TestAnchorHistory(t *testing.T) {
	s := newTestServer(t, Config{})

	w := do(t, s, http.MethodPost, "/reserves/batches", types.CommitBatchRequest{Records: testutil.CreateTestRecords(3)})
	require.Equal(t, http.StatusCreated, w.Code)
	committed := decodeBody[types.CommitBatchResponse](t, w)

	w = do(t, s, http.MethodGet, "/reserves/anchor/history", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	roots := decodeBody[types.AnchorHistoryResponse](t, w).Roots
	require.Len(t, roots, 1)
	assert.Equal(t, uint64(1), roots[0].Seq)
	assert.Equal(t, committed.Root, roots[0].Root)
	assert.Equal(t, committed.BatchID, roots[0].BatchID)

	t.Run("Without anchor", func(t *testing.T) {
		a, err := auditor.NewAuditor(auditor.Config{Scoring: risk.DefaultScoringConfig()}, memory.NewMemoryPersistence(), nil, zap.NewNop())
		require.NoError(t, err)
		bare := NewServer(a, Config{}, zap.NewNop())

		w := do(t, bare, http.MethodGet, "/reserves/anchor/history", nil)
		require.Equal(t, http.StatusNotImplemented, w.Code)
		assert.Equal(t, "AnchorHistoryUnavailable", decodeBody[types.ErrorResponse](t, w).Kind)
	})
}

func TestRescore(t *testing.T) {
	s := newTestServer(t, Config{})

	body := `{"entities":[
		{"company":"Example Co","cash":500000,"float":1000000,"sharesOutstanding":10000000,"price":1},
		{"company":"Bad Co","cash":"n/a","float":1,"sharesOutstanding":1,"price":1}
	]}`
	w := do(t, s, http.MethodPost, "/risk/score", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	original := decodeBody[types.ScoreResponse](t, w)

	testCases := []struct {
		name          string
		body          any
		expectedLabel types.RiskLabel
	}{
		{name: "Configured policy", body: nil, expectedLabel: types.RiskLabelWarning},
		{
			name:          "Override",
			body:          `{"config":{"lowThreshold":"20","highThreshold":"25","weightCash":"4","weightFloat":"1"}}`,
			expectedLabel: types.RiskLabelSafe,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/risk/runs/"+original.RunID+"/rescore", tc.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			resp := decodeBody[types.ScoreResponse](t, w)
			assert.NotEqual(t, original.RunID, resp.RunID)
			require.Len(t, resp.Results, 2)
			require.NotNil(t, resp.Results[0].Assessment)
			assert.Equal(t, tc.expectedLabel, resp.Results[0].Assessment.Label)
			assert.Equal(t, "InvalidMetrics", resp.Results[1].ErrorKind)

			w = do(t, s, http.MethodGet, "/risk/runs/"+resp.RunID, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, original.RunID, decodeBody[types.ScoringRun](t, w).SourceRunID)
		})
	}

	w = do(t, s, http.MethodGet, "/risk/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decodeBody[types.ListScoringRunsResponse](t, w).Runs
	assert.Len(t, runs, 3)

	w = do(t, s, http.MethodPost, "/risk/runs/missing/rescore", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ScoringRunNotFound", decodeBody[types.ErrorResponse](t, w).Kind)
}
