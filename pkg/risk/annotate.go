package risk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// SnapshotRiskKey is the key under which AnnotateSnapshot stores its result.
const SnapshotRiskKey = "risk"

// snapshotAliases maps each scoring input to the keys it may appear under in
// a snapshot, canonical name first. The others are terminal export columns.
var snapshotAliases = []struct {
	field string
	keys  []string
}{
	{"company", []string{"company", "Company"}},
	{"cash", []string{"cash", "bs_cash_cash_equivalents_and_sti"}},
	{"float", []string{"float", "eqy_float"}},
	{"sharesOutstanding", []string{"sharesOutstanding", "eqy_sh_out"}},
	{"price", []string{"price", "px_last"}},
}

// SnapshotRisk is the block added to an annotated snapshot.
type SnapshotRisk struct {
	RiskScore   decimal.Decimal         `json:"riskScore"`
	Label       types.RiskLabel         `json:"label"`
	Features    types.AssessmentMetrics `json:"features"`
	Explanation *types.Explanation      `json:"explanation"`
}

// MetricsFromSnapshot extracts scoring inputs from a decoded JSON snapshot.
// Absent keys stay nil and values of the wrong type are recorded as
// malformed, so validation can name them without failing other entities.
func MetricsFromSnapshot(snapshot map[string]any) types.MetricsInput {
	var in types.MetricsInput
	for _, alias := range snapshotAliases {
		value, _, ok := lookup(snapshot, alias.keys)
		if !ok || value == nil {
			continue
		}
		if alias.field == "company" {
			name, isString := value.(string)
			if !isString {
				in.SetMalformed(alias.field, rawValue(value))
				continue
			}
			in.Company = name
			continue
		}
		d, err := toDecimal(value)
		if err != nil {
			in.SetMalformed(alias.field, rawValue(value))
			continue
		}
		switch alias.field {
		case "cash":
			in.Cash = &d
		case "float":
			in.Float = &d
		case "sharesOutstanding":
			in.SharesOutstanding = &d
		case "price":
			in.Price = &d
		}
	}
	return in
}

// AnnotateSnapshot scores a snapshot and returns a copy of it with a risk
// block added. The input map is not modified.
func AnnotateSnapshot(snapshot map[string]any, scorer *Scorer) (map[string]any, error) {
	metrics, err := types.NewFinancialMetrics(MetricsFromSnapshot(snapshot))
	if err != nil {
		return nil, err
	}

	assessment := scorer.Score(metrics)

	annotated := make(map[string]any, len(snapshot)+1)
	for k, v := range snapshot {
		annotated[k] = v
	}
	annotated[SnapshotRiskKey] = SnapshotRisk{
		RiskScore:   assessment.RiskScore,
		Label:       assessment.Label,
		Features:    assessment.Metrics,
		Explanation: assessment.Explanation,
	}
	return annotated, nil
}

func lookup(snapshot map[string]any, keys []string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := snapshot[k]; ok {
			return v, k, true
		}
	}
	return nil, "", false
}

func rawValue(value any) json.RawMessage {
	data, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage(strconv.Quote(fmt.Sprint(value)))
	}
	return data
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported value type %T", value)
	}
}
