// Package trust derives data coverage, confidence and method transparency
// for a prediction.
package trust

import (
	"math"
	"sort"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/sitescore/internal/model"
)

// Coverage weights per feature group.
const (
	demographicsWeight = 0.4
	competitionWeight  = 0.3
	transitWeight      = 0.3
)

// Confidence component weights.
const (
	coverageShare     = 0.4
	consistencyShare  = 0.3
	completenessShare = 0.3
)

// DefaultMaxStdDev normalises sub-score spread into a consistency value.
const DefaultMaxStdDev = 50.0

// ScoringMethod identifies the deterministic weighted scorer.
const ScoringMethod = "heuristic"

var (
	demographicsFields = []string{model.FeaturePopulation1km, model.FeaturePopulationDensity, model.FeatureMedianIncome}
	competitionFields  = []string{model.FeatureCompetitorsCount, model.FeatureCompetitorsPer1k}
	transitFields      = []string{model.FeatureNearestMetroDistanceM, model.FeatureNearestTramDistanceM, model.FeatureWalkabilityPOICount}
)

// Coverage is the fraction of expected fields present per feature group.
type Coverage struct {
	Demographics float64 `json:"demographics"`
	Competition  float64 `json:"competition"`
	Transit      float64 `json:"transit"`
	Overall      float64 `json:"overall"`
}

// MethodInfo explains how a prediction was produced.
type MethodInfo struct {
	ScoringMethod   string    `json:"scoring_method"`
	DataSources     []string  `json:"data_sources"`
	LastUpdated     time.Time `json:"last_updated"`
	ConfidenceBasis string    `json:"confidence_basis"`
}

// Calculator computes trust metrics. The zero value uses DefaultMaxStdDev.
type Calculator struct {
	MaxStdDev float64
}

// New creates a Calculator normalising consistency by maxStdDev.
func New(maxStdDev float64) *Calculator {
	return &Calculator{MaxStdDev: maxStdDev}
}

// Coverage reports per-group and overall field coverage of f.
func (c *Calculator) Coverage(f *model.FeatureSnapshot) Coverage {
	cov := Coverage{
		Demographics: fraction(f, demographicsFields),
		Competition:  fraction(f, competitionFields),
		Transit:      fraction(f, transitFields),
	}
	cov.Overall = cov.Demographics*demographicsWeight +
		cov.Competition*competitionWeight +
		cov.Transit*transitWeight
	return cov
}

// Confidence blends coverage, sub-score consistency and factor completeness
// into a value in [0, 1]. An empty breakdown yields 0.
func (c *Calculator) Confidence(breakdown []model.FactorScore, cov Coverage) float64 {
	if len(breakdown) == 0 {
		return 0
	}

	var scores []float64
	for _, fs := range breakdown {
		if fs.Present {
			scores = append(scores, fs.Score)
		}
	}

	var consistency float64
	if len(scores) > 0 {
		consistency = clamp01(1 - stdDev(scores)/c.maxStdDev())
	}
	completeness := float64(len(scores)) / float64(len(model.Factors))

	conf := coverageShare*clamp01(cov.Overall) +
		consistencyShare*consistency +
		completenessShare*completeness
	return clamp01(conf)
}

// MethodInfo lists the data sources behind f. Labels recorded on the
// snapshot win over the generic group labels.
func (c *Calculator) MethodInfo(f *model.FeatureSnapshot, now time.Time) MethodInfo {
	seen := make(map[string]bool)
	var sources []string
	add := func(label string) {
		if label != "" && !seen[label] {
			seen[label] = true
			sources = append(sources, label)
		}
	}

	for _, g := range sourceGroups {
		var labelled bool
		for _, key := range g.fields {
			if !f.Has(key) {
				continue
			}
			if src := f.Source(key); src != "" {
				add(src)
				labelled = true
			}
		}
		if !labelled && anyPresent(f, g.fields) {
			add(g.label)
		}
	}
	sort.Strings(sources)

	if len(sources) == 0 {
		sources = []string{"Limited data available"}
	}

	return MethodInfo{
		ScoringMethod:   ScoringMethod,
		DataSources:     sources,
		LastUpdated:     now.UTC(),
		ConfidenceBasis: "Based on data coverage and score component consistency",
	}
}

type sourceGroup struct {
	label  string
	fields []string
}

var sourceGroups = []sourceGroup{
	{"Population grid (1km)", []string{model.FeaturePopulation1km, model.FeaturePopulationDensity}},
	{"Postal code demographics", []string{model.FeatureMedianIncome}},
	{"OpenStreetMap (competition)", []string{model.FeatureCompetitorsCount, model.FeatureCompetitorsPer1k}},
	{"OpenStreetMap (transit)", []string{model.FeatureNearestMetroDistanceM, model.FeatureNearestTramDistanceM}},
	{"OpenStreetMap (points of interest)", []string{model.FeatureWalkabilityPOICount}},
}

var printer = message.NewPrinter(language.English)

// Highlights returns up to five short statements explaining the inputs
// that drove a score.
func Highlights(f *model.FeatureSnapshot) []string {
	var out []string

	if pop, ok := f.Get(model.FeaturePopulation1km); ok && pop > 0 {
		switch {
		case pop > 20000:
			out = append(out, printer.Sprintf("High population density: %d people in 1km radius", int64(pop)))
		case pop > 10000:
			out = append(out, printer.Sprintf("Moderate population: %d people in 1km radius", int64(pop)))
		default:
			out = append(out, printer.Sprintf("Limited population: %d people in 1km radius", int64(pop)))
		}
	}

	if inc, ok := f.Get(model.FeatureMedianIncome); ok && inc > 0 {
		switch {
		case inc > 50000:
			out = append(out, printer.Sprintf("High median income: €%d/year supports premium pricing", int64(inc)))
		case inc > 35000:
			out = append(out, printer.Sprintf("Median income: €%d/year matches target market", int64(inc)))
		default:
			out = append(out, printer.Sprintf("Lower median income: €%d/year may limit spending", int64(inc)))
		}
	}

	metro, hasMetro := f.Get(model.FeatureNearestMetroDistanceM)
	tram, hasTram := f.Get(model.FeatureNearestTramDistanceM)
	switch {
	case hasMetro && metro < 300:
		out = append(out, printer.Sprintf("Excellent transit: Metro station %dm away", int64(metro)))
	case hasTram && tram < 200:
		out = append(out, printer.Sprintf("Good transit: Tram stop %dm away", int64(tram)))
	}

	if n, ok := f.Get(model.FeatureCompetitorsCount); ok {
		switch {
		case n < 5:
			out = append(out, printer.Sprintf("Low competition: Only %d competitors nearby", int64(n)))
		case n < 15:
			out = append(out, printer.Sprintf("Moderate competition: %d competitors in area", int64(n)))
		default:
			out = append(out, printer.Sprintf("High competition: %d competitors may dilute market", int64(n)))
		}
	}

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func (c *Calculator) maxStdDev() float64 {
	if c == nil || c.MaxStdDev <= 0 {
		return DefaultMaxStdDev
	}
	return c.MaxStdDev
}

func fraction(f *model.FeatureSnapshot, fields []string) float64 {
	n := 0
	for _, key := range fields {
		if f.Has(key) {
			n++
		}
	}
	return float64(n) / float64(len(fields))
}

func anyPresent(f *model.FeatureSnapshot, fields []string) bool {
	for _, key := range fields {
		if f.Has(key) {
			return true
		}
	}
	return false
}

// stdDev is the population standard deviation of xs.
func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
