package risk

import (
	"github.com/shopspring/decimal"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

const (
	// Formula is the scoring rule in the explanation's vocabulary.
	Formula = "riskScore = clamp(100 * (weightCash * cashToMarketCap + weightFloat * floatRatio), 0, 100)"

	// RuleInsufficientMarketData decides the label of an entity that could not be scored.
	RuleInsufficientMarketData = "marketCap <= 0"

	FactorCashToMarketCap = "cashToMarketCap"
	FactorFloatRatio      = "floatRatio"
)

// Explain builds the audit trail for an assessment produced under cfg. It is
// a pure function of its arguments.
func Explain(m types.FinancialMetrics, a *types.RiskAssessment, cfg types.ScoringConfig) types.Explanation {
	cashRatio := m.CashToMarketCap()
	floatRatio := m.FloatRatio()

	explanation := types.Explanation{
		Formula: Formula,
		Inputs: types.ExplanationInputs{
			Cash:              m.Cash,
			Float:             m.Float,
			SharesOutstanding: m.SharesOutstanding,
			Price:             m.Price,
		},
		Derived: types.ExplanationDerived{
			MarketCap:       m.MarketCap(),
			CashToMarketCap: cashRatio,
			FloatRatio:      floatRatio,
		},
		Contributions: []types.Contribution{
			contribution(FactorCashToMarketCap, cashRatio, cfg.WeightCash),
			contribution(FactorFloatRatio, floatRatio, cfg.WeightFloat),
		},
		RiskScore:   a.RiskScore,
		Thresholds:  cfg,
		Comparisons: []types.ThresholdComparison{},
		Label:       a.Label,
		Flags:       []string{},
	}

	if !a.Scored {
		explanation.DecidingRule = RuleInsufficientMarketData
		explanation.Flags = append(explanation.Flags, types.FlagInsufficientMarketData)
		return explanation
	}

	_, raw := scoreFrom(cfg, cashRatio.Decimal, floatRatio.Decimal)
	scaled := raw.Mul(hundred)
	explanation.RawScore = decimal.NewNullDecimal(scaled)
	explanation.Clamped = !clamp(scaled).Equal(scaled)

	c := classify(bandsFor(cfg), a.RiskScore)
	explanation.Comparisons = c.comparisons
	explanation.DecidingRule = c.rule
	return explanation
}

// contribution reports a factor's share of the score in score points.
func contribution(factor string, ratio decimal.NullDecimal, weight decimal.Decimal) types.Contribution {
	c := types.Contribution{
		Factor: factor,
		Ratio:  ratio,
		Weight: weight,
	}
	if ratio.Valid {
		c.Weighted = decimal.NewNullDecimal(weight.Mul(ratio.Decimal).Mul(hundred))
	}
	return c
}
