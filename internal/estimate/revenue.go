// Package estimate turns an opportunity score into a revenue band.
package estimate

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultBaselineScore is the score at which the revenue multiplier is 1.0,
// i.e. the location is expected to earn exactly the concept's base revenue.
const DefaultBaselineScore = 70.0

// DefaultMinMultiplier is the multiplier at score 0 (floor at 50% of base).
const DefaultMinMultiplier = 0.5

// RevenueEstimate holds a revenue band derived from a score.
type RevenueEstimate struct {
	Low        float64 `json:"low"`
	Mid        float64 `json:"mid"`
	High       float64 `json:"high"`
	Multiplier float64 `json:"multiplier"`
	Variance   float64 `json:"variance"`
}

// Curve maps a 0-100 score to a revenue multiplier. It is linear and
// monotonic, passing through MinMultiplier at score 0 and 1.0 at Baseline.
type Curve struct {
	Baseline      float64
	MinMultiplier float64
}

// DefaultCurve returns the curve used unless configuration overrides it.
func DefaultCurve() Curve {
	return Curve{Baseline: DefaultBaselineScore, MinMultiplier: DefaultMinMultiplier}
}

// Validate checks that the curve is monotonically increasing.
func (c Curve) Validate() error {
	if !(c.Baseline > 0 && c.Baseline <= 100) {
		return eris.Errorf("estimate: baseline score must be in (0, 100], got %.2f", c.Baseline)
	}
	if !(c.MinMultiplier >= 0 && c.MinMultiplier < 1) {
		return eris.Errorf("estimate: min multiplier must be in [0, 1), got %.2f", c.MinMultiplier)
	}
	return nil
}

// Multiplier returns the revenue multiplier for score, clamping score to [0, 100].
func (c Curve) Multiplier(score float64) float64 {
	score = math.Max(0, math.Min(100, score))
	return c.MinMultiplier + (1-c.MinMultiplier)*score/c.Baseline
}

// Band computes mid = base * multiplier(score), low/high = mid * (1 ∓ variance).
func (c Curve) Band(baseRevenue, variance, score float64) (*RevenueEstimate, error) {
	if !(baseRevenue > 0) {
		return nil, eris.New("estimate: base revenue must be positive")
	}
	if !(variance > 0 && variance <= 1) {
		return nil, eris.Errorf("estimate: variance must be in (0, 1], got %.4f", variance)
	}

	m := c.Multiplier(score)
	mid := baseRevenue * m
	return &RevenueEstimate{
		Low:        mid * (1 - variance),
		Mid:        mid,
		High:       mid * (1 + variance),
		Multiplier: m,
		Variance:   variance,
	}, nil
}

// FormatRevenue formats a revenue amount in human-readable form.
func FormatRevenue(amount float64) string {
	switch {
	case amount >= 1_000_000_000:
		return fmt.Sprintf("€%.1fB", amount/1_000_000_000)
	case amount >= 1_000_000:
		return fmt.Sprintf("€%.2fM", amount/1_000_000)
	case amount >= 1_000:
		return fmt.Sprintf("€%.0fK", amount/1_000)
	default:
		return fmt.Sprintf("€%.0f", amount)
	}
}

var printer = message.NewPrinter(language.English)

// FormatAmount formats an amount with thousands separators, e.g. "1,600,000".
func FormatAmount(amount float64) string {
	return printer.Sprintf("%d", int64(math.Round(amount)))
}
