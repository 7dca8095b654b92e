package risk

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

func decodeSnapshot(t *testing.T, raw string) map[string]any {
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	dec.UseNumber()
	var snapshot map[string]any
	require.NoError(t, dec.Decode(&snapshot))
	return snapshot
}

func TestAnnotateSnapshot(t *testing.T) {
	s := newDefaultScorer(t)

	t.Run("Canonical keys", func(t *testing.T) {
		snapshot := decodeSnapshot(t, `{
			"company": "Acme",
			"cash": 500000,
			"float": "1000000",
			"sharesOutstanding": 10000000,
			"price": 1,
			"timestamp": "2024-01-01T00:00:00Z"
		}`)

		annotated, err := AnnotateSnapshot(snapshot, s)
		require.NoError(t, err)
		require.NotContains(t, snapshot, SnapshotRiskKey)
		assert.Equal(t, "2024-01-01T00:00:00Z", annotated["timestamp"])

		block, ok := annotated[SnapshotRiskKey].(SnapshotRisk)
		require.True(t, ok)
		assert.Equal(t, "30", block.RiskScore.String())
		assert.Equal(t, types.RiskLabelWarning, block.Label)
		assert.Equal(t, "10000000", block.Features.MarketCap.String())
		require.NotNil(t, block.Explanation)
	})

	t.Run("Export column names", func(t *testing.T) {
		snapshot := decodeSnapshot(t, `{
			"Company": "Globex",
			"bs_cash_cash_equivalents_and_sti": 1000000,
			"eqy_float": 2000000,
			"eqy_sh_out": 10000000,
			"px_last": 1
		}`)

		annotated, err := AnnotateSnapshot(snapshot, s)
		require.NoError(t, err)
		block := annotated[SnapshotRiskKey].(SnapshotRisk)
		assert.Equal(t, types.RiskLabelSafe, block.Label)
	})

	t.Run("Float values from an untyped decode", func(t *testing.T) {
		snapshot := map[string]any{
			"company":           "Initech",
			"cash":              float64(250000),
			"float":             float64(1000000),
			"sharesOutstanding": float64(10000000),
			"price":             float64(1),
		}

		annotated, err := AnnotateSnapshot(snapshot, s)
		require.NoError(t, err)
		block := annotated[SnapshotRiskKey].(SnapshotRisk)
		assert.Equal(t, "20", block.RiskScore.String())
		assert.Equal(t, types.RiskLabelWarning, block.Label)
	})

	t.Run("Missing figures", func(t *testing.T) {
		snapshot := decodeSnapshot(t, `{"company": "Acme", "cash": 1}`)

		_, err := AnnotateSnapshot(snapshot, s)
		require.ErrorIs(t, err, types.ErrIncompleteMetrics)
		require.Contains(t, err.Error(), "sharesOutstanding")
	})

	t.Run("Non numeric figure", func(t *testing.T) {
		snapshot := decodeSnapshot(t, `{"company": "Acme", "cash": true, "float": 1, "sharesOutstanding": 10, "px_last": "n/a"}`)

		_, err := AnnotateSnapshot(snapshot, s)
		require.ErrorIs(t, err, types.ErrInvalidMetrics)
		var metricsErr *types.MetricsError
		require.ErrorAs(t, err, &metricsErr)
		assert.Equal(t, []string{"cash", "price"}, metricsErr.Fields)
	})

	t.Run("Annotated snapshot encodes", func(t *testing.T) {
		snapshot := decodeSnapshot(t, `{"company": "Acme", "cash": 0, "float": 0, "sharesOutstanding": 0, "price": 0}`)

		annotated, err := AnnotateSnapshot(snapshot, s)
		require.NoError(t, err)

		data, err := json.Marshal(annotated)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"label":"RISKY"`)
		assert.Contains(t, string(data), types.FlagInsufficientMarketData)
	})
}
