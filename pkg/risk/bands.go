package risk

import (
	"github.com/shopspring/decimal"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// band is one row of the label table. A score belongs to the first band whose
// floor it reaches; a band without a floor matches everything left.
type band struct {
	label     types.RiskLabel
	floor     decimal.NullDecimal
	threshold string
	rule      string
}

// bandsFor builds the label table for a config, highest band first.
func bandsFor(cfg types.ScoringConfig) []band {
	return []band{
		{
			label:     types.RiskLabelSafe,
			floor:     decimal.NewNullDecimal(cfg.HighThreshold),
			threshold: "highThreshold",
			rule:      "riskScore >= highThreshold",
		},
		{
			label:     types.RiskLabelWarning,
			floor:     decimal.NewNullDecimal(cfg.LowThreshold),
			threshold: "lowThreshold",
			rule:      "lowThreshold <= riskScore < highThreshold",
		},
		{
			label: types.RiskLabelRisky,
			rule:  "riskScore < lowThreshold",
		},
	}
}

// classification is the result of walking the band table.
type classification struct {
	label       types.RiskLabel
	rule        string
	comparisons []types.ThresholdComparison
}

// classify assigns a label to score. Every floored band is compared, even
// after a match, so the explanation lists both threshold checks.
func classify(bands []band, score decimal.Decimal) classification {
	var out classification
	matched := false
	for _, b := range bands {
		if !b.floor.Valid {
			if !matched {
				out.label, out.rule, matched = b.label, b.rule, true
			}
			continue
		}
		reached := score.GreaterThanOrEqual(b.floor.Decimal)
		out.comparisons = append(out.comparisons, types.ThresholdComparison{
			Threshold: b.threshold,
			Value:     b.floor.Decimal,
			Operator:  ">=",
			Result:    reached,
		})
		if reached && !matched {
			out.label, out.rule, matched = b.label, b.rule, true
		}
	}
	return out
}

// Classify returns the label for a score under cfg.
func Classify(score decimal.Decimal, cfg types.ScoringConfig) types.RiskLabel {
	return classify(bandsFor(cfg), score).label
}
