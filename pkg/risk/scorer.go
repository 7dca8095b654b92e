package risk

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// ScorePlaces is the number of decimal places kept in a risk score.
const ScorePlaces int32 = 4

var hundred = decimal.NewFromInt(100)

// Scorer turns validated financial metrics into risk assessments under one
// fixed policy. It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	cfg         types.ScoringConfig
	bands       []band
	concurrency int
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithConcurrency bounds how many entities ScoreBatch scores at once.
func WithConcurrency(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewScorer validates cfg and returns a scorer for it.
func NewScorer(cfg types.ScoringConfig, opts ...Option) (*Scorer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	s := &Scorer{
		cfg:         cfg,
		bands:       bandsFor(cfg),
		concurrency: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the policy the scorer was built with.
func (s *Scorer) Config() types.ScoringConfig {
	return s.cfg
}

// Score assesses one entity. The same metrics and config always produce the
// same score, label and explanation.
//
// An entity without a positive market capitalization cannot be scored: it
// gets a zero score, the RISKY label and the insufficient-market-data flag.
func (s *Scorer) Score(m types.FinancialMetrics) *types.RiskAssessment {
	assessment := &types.RiskAssessment{
		Company: m.Company,
		Metrics: types.AssessmentMetrics{
			Reserves:        m.Cash,
			Supply:          m.SharesOutstanding,
			Float:           m.Float,
			Price:           m.Price,
			MarketCap:       m.MarketCap(),
			CashToMarketCap: m.CashToMarketCap(),
			FloatRatio:      m.FloatRatio(),
		},
	}

	if !assessment.Metrics.MarketCap.IsPositive() {
		assessment.RiskScore = decimal.Zero
		assessment.Label = types.RiskLabelRisky
	} else {
		score, _ := s.compute(assessment.Metrics)
		assessment.RiskScore = score
		assessment.Label = classify(s.bands, score).label
		assessment.Scored = true
	}

	explanation := Explain(m, assessment, s.cfg)
	assessment.Explanation = &explanation
	return assessment
}

// compute returns the rounded, clamped score and the unclamped raw value.
// Both ratios must be valid.
func (s *Scorer) compute(metrics types.AssessmentMetrics) (decimal.Decimal, decimal.Decimal) {
	return scoreFrom(s.cfg, metrics.CashToMarketCap.Decimal, metrics.FloatRatio.Decimal)
}

func scoreFrom(cfg types.ScoringConfig, cashRatio, floatRatio decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	raw := cfg.WeightCash.Mul(cashRatio).Add(cfg.WeightFloat.Mul(floatRatio))
	scaled := raw.Mul(hundred)
	return clamp(scaled).Round(ScorePlaces), raw
}

func clamp(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(minScore) {
		return minScore
	}
	if v.GreaterThan(maxScore) {
		return maxScore
	}
	return v
}

// ScoreBatch validates and scores every input. Results keep input order and
// each entity owns its own slot, so a failure on one entity is recorded in its
// result without affecting the others. The returned error is only set when ctx
// is cancelled.
func (s *Scorer) ScoreBatch(ctx context.Context, inputs []types.MetricsInput) ([]types.EntityResult, error) {
	results := make([]types.EntityResult, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = s.scoreOne(i, in)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Scorer) scoreOne(index int, in types.MetricsInput) types.EntityResult {
	result := types.EntityResult{Index: index, Company: in.Company}

	metrics, err := types.NewFinancialMetrics(in)
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = types.ErrorKind(err)
		return result
	}

	result.Company = metrics.Company
	result.Assessment = s.Score(metrics)
	return result
}
