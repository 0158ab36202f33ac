// Package scorer computes weighted site opportunity scores and revenue
// bands from a feature snapshot and a concept's parameters.
package scorer

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescore/internal/config"
	"github.com/sells-group/sitescore/internal/estimate"
)

// DefaultScoringConfig returns a config.ScoringConfig with sensible defaults.
func DefaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		BaselineScore:        estimate.DefaultBaselineScore,
		MinMultiplier:        estimate.DefaultMinMultiplier,
		MaxConsistencyStdDev: 50,
	}
}

// CurveFromConfig builds the score-to-revenue curve described by c.
func CurveFromConfig(c config.ScoringConfig) estimate.Curve {
	return estimate.Curve{Baseline: c.BaselineScore, MinMultiplier: c.MinMultiplier}
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	if err := CurveFromConfig(c).Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.MaxConsistencyStdDev <= 0 {
		errs = append(errs, "max_consistency_stddev must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
