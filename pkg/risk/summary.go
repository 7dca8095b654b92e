package risk

import (
	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// Summarize counts batch results per label. Entities that failed validation
// are counted as failed and not under any label.
func Summarize(results []types.EntityResult) types.ScoringSummary {
	summary := types.ScoringSummary{Total: len(results)}
	for _, r := range results {
		if r.Assessment == nil {
			summary.Failed++
			continue
		}
		switch r.Assessment.Label {
		case types.RiskLabelSafe:
			summary.Safe++
		case types.RiskLabelWarning:
			summary.Warning++
		case types.RiskLabelRisky:
			summary.Risky++
		}
	}
	return summary
}
