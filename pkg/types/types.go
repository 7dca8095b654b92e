package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// HashLength is the width in bytes of every leaf, node and root hash.
const HashLength = 32

// RatioPrecision is the number of decimal places kept when dividing financial figures.
const RatioPrecision int32 = 18

// ReserveRecord is one committed reserve disclosure. Amount is expressed in
// integer minor units so that hashing never depends on floating point.
type ReserveRecord struct {
	ID     string `json:"id"`
	Amount uint64 `json:"amount"`
}

// CommittedBatch is a batch of reserve records together with the root that was
// computed over them. It is sufficient to rebuild the tree and regenerate proofs.
type CommittedBatch struct {
	ID            string          `json:"id"`
	Root          common.Hash     `json:"root"`
	HashAlgorithm string          `json:"hashAlgorithm"`
	Records       []ReserveRecord `json:"records"`
	CreatedAt     int64           `json:"createdAt"`
	AnchorRef     string          `json:"anchorRef,omitempty"`
}

// BatchSummary describes a committed batch without its records.
type BatchSummary struct {
	ID            string      `json:"id"`
	Root          common.Hash `json:"root"`
	HashAlgorithm string      `json:"hashAlgorithm"`
	LeafCount     int         `json:"leafCount"`
	CreatedAt     int64       `json:"createdAt"`
	AnchorRef     string      `json:"anchorRef,omitempty"`
}

// Describe returns the batch without its records.
func (b *CommittedBatch) Describe() BatchSummary {
	return BatchSummary{
		ID:            b.ID,
		Root:          b.Root,
		HashAlgorithm: b.HashAlgorithm,
		LeafCount:     len(b.Records),
		CreatedAt:     b.CreatedAt,
		AnchorRef:     b.AnchorRef,
	}
}

// Side is the position of a sibling hash relative to the running hash.
type Side uint8

const (
	// SideUnknown is the zero value and always makes a proof malformed.
	SideUnknown Side = iota
	// SideLeft means the sibling is the left operand: H(sibling || current).
	SideLeft
	// SideRight means the sibling is the right operand: H(current || sibling).
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	if s != SideLeft && s != SideRight {
		return nil, fmt.Errorf("%w: cannot encode side %d", ErrMalformedProof, s)
	}
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: side must be a string: %v", ErrMalformedProof, err)
	}
	switch strings.ToLower(str) {
	case "left":
		*s = SideLeft
	case "right":
		*s = SideRight
	default:
		return fmt.Errorf("%w: unknown side %q", ErrMalformedProof, str)
	}
	return nil
}

// ProofStep is one level of an inclusion proof.
type ProofStep struct {
	Sibling [HashLength]byte
	Side    Side
}

type proofStepJSON struct {
	Sibling string `json:"sibling"`
	Side    *Side  `json:"side"`
}

func (p ProofStep) MarshalJSON() ([]byte, error) {
	side := p.Side
	return json.Marshal(proofStepJSON{
		Sibling: hexutil.Encode(p.Sibling[:]),
		Side:    &side,
	})
}

func (p *ProofStep) UnmarshalJSON(data []byte) error {
	var raw proofStepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Side == nil {
		return fmt.Errorf("%w: proof step is missing its side flag", ErrMalformedProof)
	}
	sibling, err := ParseHash(raw.Sibling)
	if err != nil {
		return err
	}
	p.Sibling = sibling
	p.Side = *raw.Side
	return nil
}

// InclusionProof is the ordered sibling path from a leaf up to the root.
// Steps[0] is the leaf's sibling, Steps[len-1] is the root's child.
type InclusionProof struct {
	LeafIndex int              `json:"leafIndex"`
	LeafCount int              `json:"leafCount"`
	Leaf      [HashLength]byte `json:"-"`
	Steps     []ProofStep      `json:"steps"`
}

type inclusionProofJSON struct {
	LeafIndex int         `json:"leafIndex"`
	LeafCount int         `json:"leafCount"`
	Leaf      string      `json:"leaf"`
	Steps     []ProofStep `json:"steps"`
}

func (p InclusionProof) MarshalJSON() ([]byte, error) {
	steps := p.Steps
	if steps == nil {
		steps = []ProofStep{}
	}
	return json.Marshal(inclusionProofJSON{
		LeafIndex: p.LeafIndex,
		LeafCount: p.LeafCount,
		Leaf:      hexutil.Encode(p.Leaf[:]),
		Steps:     steps,
	})
}

func (p *InclusionProof) UnmarshalJSON(data []byte) error {
	var raw inclusionProofJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Leaf != "" {
		leaf, err := ParseHash(raw.Leaf)
		if err != nil {
			return err
		}
		p.Leaf = leaf
	}
	p.LeafIndex = raw.LeafIndex
	p.LeafCount = raw.LeafCount
	p.Steps = raw.Steps
	return nil
}

// ParseHash decodes a 0x-prefixed hex string into a 32-byte hash.
// Any other width is reported as ErrMalformedProof.
func ParseHash(s string) ([HashLength]byte, error) {
	var out [HashLength]byte
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, fmt.Errorf("%w: invalid hex hash: %v", ErrMalformedProof, err)
	}
	if len(b) != HashLength {
		return out, fmt.Errorf("%w: hash must be %d bytes, got %d", ErrMalformedProof, HashLength, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// RiskLabel is the discrete risk category assigned to a reporting entity.
type RiskLabel string

const (
	RiskLabelSafe    RiskLabel = "SAFE"
	RiskLabelWarning RiskLabel = "WARNING"
	RiskLabelRisky   RiskLabel = "RISKY"
)

// FlagInsufficientMarketData marks an entity whose market capitalization is not positive.
const FlagInsufficientMarketData = "insufficient-market-data"

// MetricsInput is the loosely validated scoring input as it arrives from a
// caller. Absent figures are nil. A figure that is present but not a number
// is kept in Malformed as received, so validation can fail that one entity
// instead of the whole request.
type MetricsInput struct {
	Company           string           `json:"company"`
	Cash              *decimal.Decimal `json:"cash"`
	Float             *decimal.Decimal `json:"float"`
	SharesOutstanding *decimal.Decimal `json:"sharesOutstanding"`
	Price             *decimal.Decimal `json:"price"`

	// Malformed maps a field name to the raw JSON value that could not be parsed.
	Malformed map[string]json.RawMessage `json:"-"`
}

// metricsFigureNames lists the numeric fields of MetricsInput in report order.
var metricsFigureNames = []string{"cash", "float", "sharesOutstanding", "price"}

func (in *MetricsInput) figure(name string) **decimal.Decimal {
	switch name {
	case "cash":
		return &in.Cash
	case "float":
		return &in.Float
	case "sharesOutstanding":
		return &in.SharesOutstanding
	case "price":
		return &in.Price
	}
	return nil
}

// SetMalformed records raw as the unparseable value of field.
func (in *MetricsInput) SetMalformed(field string, raw json.RawMessage) {
	if in.Malformed == nil {
		in.Malformed = make(map[string]json.RawMessage)
	}
	in.Malformed[field] = raw
}

// ParseFigure parses a JSON number or numeric string into a decimal.
func ParseFigure(raw json.RawMessage) (decimal.Decimal, error) {
	var text string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Decimal{}, err
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(raw)
	}
	return decimal.NewFromString(text)
}

// UnmarshalJSON decodes one entity. Values of the wrong type are recorded in
// Malformed rather than failing the decode.
func (in *MetricsInput) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metrics input must be an object: %w", err)
	}

	*in = MetricsInput{}
	if v, ok := raw["company"]; ok && !isJSONNull(v) {
		if err := json.Unmarshal(v, &in.Company); err != nil {
			in.SetMalformed("company", v)
		}
	}
	for _, name := range metricsFigureNames {
		v, ok := raw[name]
		if !ok || isJSONNull(v) {
			continue
		}
		d, err := ParseFigure(v)
		if err != nil {
			in.SetMalformed(name, v)
			continue
		}
		*in.figure(name) = &d
	}
	return nil
}

// MarshalJSON writes malformed values back unchanged so they fail the same way
// wherever the input is decoded next.
func (in MetricsInput) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(metricsFigureNames)+1)
	out["company"] = in.Company
	for _, name := range metricsFigureNames {
		if d := *in.figure(name); d != nil {
			out[name] = d
		}
	}
	for name, v := range in.Malformed {
		out[name] = v
	}
	return json.Marshal(out)
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// FinancialMetrics is a validated set of disclosed figures for one entity.
// Construct it with NewFinancialMetrics.
type FinancialMetrics struct {
	Company           string
	Cash              decimal.Decimal
	Float             decimal.Decimal
	SharesOutstanding decimal.Decimal
	Price             decimal.Decimal
}

// NewFinancialMetrics validates in and returns the typed metrics. Missing
// fields produce ErrIncompleteMetrics. Malformed or negative figures produce
// ErrInvalidMetrics. Every offending field is named.
func NewFinancialMetrics(in MetricsInput) (FinancialMetrics, error) {
	company := strings.TrimSpace(in.Company)
	_, badCompany := in.Malformed["company"]

	var missing []string
	if company == "" && !badCompany {
		missing = append(missing, "company")
	}
	for _, name := range metricsFigureNames {
		if _, bad := in.Malformed[name]; !bad && *in.figure(name) == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return FinancialMetrics{}, &MetricsError{Err: ErrIncompleteMetrics, Company: company, Fields: missing}
	}

	var invalid []string
	if badCompany {
		invalid = append(invalid, "company")
	}
	for _, name := range metricsFigureNames {
		_, bad := in.Malformed[name]
		if d := *in.figure(name); bad || d.IsNegative() {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return FinancialMetrics{}, &MetricsError{Err: ErrInvalidMetrics, Company: company, Fields: invalid}
	}

	return FinancialMetrics{
		Company:           company,
		Cash:              *in.Cash,
		Float:             *in.Float,
		SharesOutstanding: *in.SharesOutstanding,
		Price:             *in.Price,
	}, nil
}

// MarketCap is shares outstanding times last price.
func (m FinancialMetrics) MarketCap() decimal.Decimal {
	return m.SharesOutstanding.Mul(m.Price)
}

// CashToMarketCap is cash over market capitalization. It is null when the
// market capitalization is not positive.
func (m FinancialMetrics) CashToMarketCap() decimal.NullDecimal {
	marketCap := m.MarketCap()
	if !marketCap.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: m.Cash.DivRound(marketCap, RatioPrecision), Valid: true}
}

// FloatRatio is equity float over shares outstanding, null when there are no shares.
func (m FinancialMetrics) FloatRatio() decimal.NullDecimal {
	if !m.SharesOutstanding.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: m.Float.DivRound(m.SharesOutstanding, RatioPrecision), Valid: true}
}

// ScoringConfig is the policy surface of the risk scorer.
type ScoringConfig struct {
	// LowThreshold is the boundary between RISKY and WARNING.
	LowThreshold decimal.Decimal `json:"lowThreshold"`
	// HighThreshold is the boundary between WARNING and SAFE.
	HighThreshold decimal.Decimal `json:"highThreshold"`
	// WeightCash is the contribution of the cash-to-market-cap ratio.
	WeightCash decimal.Decimal `json:"weightCash"`
	// WeightFloat is the contribution of the float-to-shares ratio.
	WeightFloat decimal.Decimal `json:"weightFloat"`
}

// AssessmentMetrics are the figures reported alongside a score.
type AssessmentMetrics struct {
	Reserves        decimal.Decimal     `json:"reserves"`
	Supply          decimal.Decimal     `json:"supply"`
	Float           decimal.Decimal     `json:"float"`
	Price           decimal.Decimal     `json:"price"`
	MarketCap       decimal.Decimal     `json:"marketCap"`
	CashToMarketCap decimal.NullDecimal `json:"cashToMarketCap"`
	FloatRatio      decimal.NullDecimal `json:"floatRatio"`
}

// RiskAssessment is the scoring output for one entity.
type RiskAssessment struct {
	Company     string            `json:"company"`
	RiskScore   decimal.Decimal   `json:"riskScore"`
	Label       RiskLabel         `json:"label"`
	Scored      bool              `json:"scored"`
	Metrics     AssessmentMetrics `json:"metrics"`
	Explanation *Explanation      `json:"explanation,omitempty"`
}

// ThresholdComparison records one comparison of the score against a threshold.
type ThresholdComparison struct {
	Threshold string          `json:"threshold"`
	Value     decimal.Decimal `json:"value"`
	Operator  string          `json:"operator"`
	Result    bool            `json:"result"`
}

// Contribution is one weighted term of the score.
type Contribution struct {
	Factor   string              `json:"factor"`
	Ratio    decimal.NullDecimal `json:"ratio"`
	Weight   decimal.Decimal     `json:"weight"`
	Weighted decimal.NullDecimal `json:"weighted"`
}

// ExplanationInputs are the raw figures a decision was made from.
type ExplanationInputs struct {
	Cash              decimal.Decimal `json:"cash"`
	Float             decimal.Decimal `json:"float"`
	SharesOutstanding decimal.Decimal `json:"sharesOutstanding"`
	Price             decimal.Decimal `json:"price"`
}

// ExplanationDerived are the values computed from the inputs.
type ExplanationDerived struct {
	MarketCap       decimal.Decimal     `json:"marketCap"`
	CashToMarketCap decimal.NullDecimal `json:"cashToMarketCap"`
	FloatRatio      decimal.NullDecimal `json:"floatRatio"`
}

// Explanation is an auditable breakdown of a scoring decision.
type Explanation struct {
	Formula       string                `json:"formula"`
	Inputs        ExplanationInputs     `json:"inputs"`
	Derived       ExplanationDerived    `json:"derived"`
	Contributions []Contribution        `json:"contributions"`
	RawScore      decimal.NullDecimal   `json:"rawScore"`
	Clamped       bool                  `json:"clamped"`
	RiskScore     decimal.Decimal       `json:"riskScore"`
	Thresholds    ScoringConfig         `json:"thresholds"`
	Comparisons   []ThresholdComparison `json:"comparisons"`
	DecidingRule  string                `json:"decidingRule"`
	Label         RiskLabel             `json:"label"`
	Flags         []string              `json:"flags"`
}

// EntityResult is the outcome of scoring one entity in a batch. Exactly one of
// Assessment or Error is set.
type EntityResult struct {
	Index      int             `json:"index"`
	Company    string          `json:"company"`
	Assessment *RiskAssessment `json:"assessment,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  string          `json:"errorKind,omitempty"`
}

// ScoringSummary counts results per label.
type ScoringSummary struct {
	Total   int `json:"total"`
	Safe    int `json:"safe"`
	Warning int `json:"warning"`
	Risky   int `json:"risky"`
	Failed  int `json:"failed"`
}

// ScoringRun is a persisted batch of entity results scored under one config.
// Inputs are kept so the run can be scored again under a different policy.
type ScoringRun struct {
	ID        string         `json:"id"`
	CreatedAt int64          `json:"createdAt"`
	Config    ScoringConfig  `json:"config"`
	Inputs    []MetricsInput `json:"inputs,omitempty"`
	Results   []EntityResult `json:"results"`
	Summary   ScoringSummary `json:"summary"`

	// SourceRunID is set when the run rescored the inputs of an earlier one.
	SourceRunID string `json:"sourceRunId,omitempty"`
}

// ScoringRunSummary describes a scoring run without its results.
type ScoringRunSummary struct {
	ID          string         `json:"id"`
	CreatedAt   int64          `json:"createdAt"`
	Config      ScoringConfig  `json:"config"`
	Summary     ScoringSummary `json:"summary"`
	SourceRunID string         `json:"sourceRunId,omitempty"`
}

// Describe returns the run without its inputs and results.
func (r *ScoringRun) Describe() ScoringRunSummary {
	return ScoringRunSummary{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		Config:      r.Config,
		Summary:     r.Summary,
		SourceRunID: r.SourceRunID,
	}
}
