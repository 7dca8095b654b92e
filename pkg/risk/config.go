package risk

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/reservewatch/reservewatch-go/pkg/types"
)

// Reference policy values.
var (
	DefaultLowThreshold  = decimal.NewFromInt(20)
	DefaultHighThreshold = decimal.NewFromInt(60)
	DefaultWeightCash    = decimal.NewFromInt(4)
	DefaultWeightFloat   = decimal.NewFromInt(1)

	minScore = decimal.Zero
	maxScore = decimal.NewFromInt(100)
)

// DefaultScoringConfig returns the reference thresholds and weights.
func DefaultScoringConfig() types.ScoringConfig {
	return types.ScoringConfig{
		LowThreshold:  DefaultLowThreshold,
		HighThreshold: DefaultHighThreshold,
		WeightCash:    DefaultWeightCash,
		WeightFloat:   DefaultWeightFloat,
	}
}

// ValidateConfig checks that thresholds lie on the score scale in order and
// that weights are non-negative.
func ValidateConfig(cfg types.ScoringConfig) error {
	var allErrors field.ErrorList

	thresholds := []struct {
		name  string
		value decimal.Decimal
	}{
		{"lowThreshold", cfg.LowThreshold},
		{"highThreshold", cfg.HighThreshold},
	}
	for _, th := range thresholds {
		if th.value.LessThan(minScore) || th.value.GreaterThan(maxScore) {
			allErrors = append(allErrors, field.Invalid(field.NewPath(th.name), th.value.String(), "must be between 0 and 100"))
		}
	}
	if cfg.LowThreshold.GreaterThan(cfg.HighThreshold) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("lowThreshold"), cfg.LowThreshold.String(),
			fmt.Sprintf("must not exceed highThreshold (%s)", cfg.HighThreshold)))
	}

	weights := []struct {
		name  string
		value decimal.Decimal
	}{
		{"weightCash", cfg.WeightCash},
		{"weightFloat", cfg.WeightFloat},
	}
	for _, w := range weights {
		if w.value.IsNegative() {
			allErrors = append(allErrors, field.Invalid(field.NewPath(w.name), w.value.String(), "must not be negative"))
		}
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// yamlDecimal lets policy files write figures as plain YAML numbers or strings
// without passing through float64.
type yamlDecimal struct {
	decimal.Decimal
}

func (d *yamlDecimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
	v, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid number %q: %w", node.Line, node.Value, err)
	}
	d.Decimal = v
	return nil
}

type configFile struct {
	LowThreshold  *yamlDecimal `yaml:"lowThreshold"`
	HighThreshold *yamlDecimal `yaml:"highThreshold"`
	WeightCash    *yamlDecimal `yaml:"weightCash"`
	WeightFloat   *yamlDecimal `yaml:"weightFloat"`
}

// ParseConfig decodes a YAML scoring policy. Keys that are absent keep their
// reference values. The result is validated.
func ParseConfig(data []byte) (types.ScoringConfig, error) {
	var raw configFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return types.ScoringConfig{}, fmt.Errorf("failed to parse scoring config: %w", err)
	}

	cfg := DefaultScoringConfig()
	if raw.LowThreshold != nil {
		cfg.LowThreshold = raw.LowThreshold.Decimal
	}
	if raw.HighThreshold != nil {
		cfg.HighThreshold = raw.HighThreshold.Decimal
	}
	if raw.WeightCash != nil {
		cfg.WeightCash = raw.WeightCash.Decimal
	}
	if raw.WeightFloat != nil {
		cfg.WeightFloat = raw.WeightFloat.Decimal
	}

	if err := ValidateConfig(cfg); err != nil {
		return types.ScoringConfig{}, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// LoadConfigFile reads and parses a YAML scoring policy from path.
func LoadConfigFile(path string) (types.ScoringConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ScoringConfig{}, fmt.Errorf("failed to read scoring config: %w", err)
	}
	return ParseConfig(data)
}
