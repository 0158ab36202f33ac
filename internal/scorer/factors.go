package scorer

import (
	"math"

	"github.com/sells-group/sitescore/internal/model"
)

// Sub-score bounds and thresholds.
const (
	populationDecayPerDoubling = 25.0
	populationFloor            = 60.0

	accessBase = 50.0

	walkabilityFloor = 20.0
)

// factorInput is the raw observation behind one sub-score.
type factorInput struct {
	value   float64
	unit    string
	source  string
	present bool
}

// populationDensity returns residents per km², falling back to the 1 km
// radius headcount spread over its circle (π km²).
func populationDensity(f *model.FeatureSnapshot) factorInput {
	if v, ok := f.Get(model.FeaturePopulationDensity); ok {
		return factorInput{value: v, unit: "per_km2", source: f.Source(model.FeaturePopulationDensity), present: true}
	}
	if v, ok := f.Get(model.FeaturePopulation1km); ok {
		return factorInput{value: v / math.Pi, unit: "per_km2", source: f.Source(model.FeaturePopulation1km), present: true}
	}
	return factorInput{}
}

// scorePopulation peaks at 100 when density equals the optimum. Below it
// the score scales linearly; above it each doubling costs 25 points down
// to a floor of 60.
func scorePopulation(density, optimal float64) float64 {
	if density <= 0 || optimal <= 0 {
		return 0
	}
	if density <= optimal {
		return density / optimal * 100
	}
	return math.Max(100-populationDecayPerDoubling*math.Log2(density/optimal), populationFloor)
}

func incomeInput(f *model.FeatureSnapshot) factorInput {
	if v, ok := f.Get(model.FeatureMedianIncome); ok {
		return factorInput{value: v, unit: "eur", source: f.Source(model.FeatureMedianIncome), present: true}
	}
	return factorInput{}
}

// scoreIncome scores 85-100 inside the target band (100 at its middle),
// falls towards 0 below it and towards 50 above it.
func scoreIncome(income, targetMin, targetMax float64) float64 {
	switch {
	case income < targetMin:
		gap := targetMin - income
		penalty := math.Min(gap/targetMin*100, 50)
		return math.Max(50-penalty, 0)
	case income > targetMax:
		if targetMax <= 0 {
			return 50
		}
		gap := income - targetMax
		penalty := math.Min(gap/targetMax*50, 25)
		return math.Max(75-penalty, 50)
	default:
		maxDistance := (targetMax - targetMin) / 2
		if maxDistance <= 0 {
			return 100
		}
		middle := (targetMin + targetMax) / 2
		score := 100 - math.Abs(income-middle)/maxDistance*15
		return math.Max(score, 85)
	}
}

// accessInput prefers the metro distance as the displayed raw value.
func accessInput(f *model.FeatureSnapshot) (metro, tram *float64, in factorInput) {
	if v, ok := f.Get(model.FeatureNearestMetroDistanceM); ok {
		metro = &v
		in = factorInput{value: v, unit: "m", source: f.Source(model.FeatureNearestMetroDistanceM), present: true}
	}
	if v, ok := f.Get(model.FeatureNearestTramDistanceM); ok {
		tram = &v
		if !in.present {
			in = factorInput{value: v, unit: "m", source: f.Source(model.FeatureNearestTramDistanceM), present: true}
		}
	}
	return metro, tram, in
}

// scoreAccess starts at 50 and adds transit proximity bonuses, capped at 100.
func scoreAccess(metroM, tramM *float64) float64 {
	score := accessBase

	if metroM != nil {
		switch d := *metroM; {
		case d <= 200:
			score += 40
		case d <= 500:
			score += 30
		case d <= 1000:
			score += 15
		}
	}

	if tramM != nil {
		switch d := *tramM; {
		case d <= 100:
			score += 10
		case d <= 300:
			score += 5
		}
	}

	return math.Min(score, 100)
}

// competitionInput returns competitors per 1,000 residents, deriving it
// from the raw competitor count and the 1 km population when needed.
func competitionInput(f *model.FeatureSnapshot) factorInput {
	if v, ok := f.Get(model.FeatureCompetitorsPer1k); ok {
		return factorInput{value: v, unit: "per_1k", source: f.Source(model.FeatureCompetitorsPer1k), present: true}
	}
	count, ok := f.Get(model.FeatureCompetitorsCount)
	if !ok {
		return factorInput{}
	}
	src := f.Source(model.FeatureCompetitorsCount)
	if count == 0 {
		return factorInput{value: 0, unit: "per_1k", source: src, present: true}
	}
	if pop, ok := f.Get(model.FeaturePopulation1km); ok && pop > 0 {
		return factorInput{value: count / (pop / 1000), unit: "per_1k", source: src, present: true}
	}
	return factorInput{}
}

// scoreCompetition rewards saturation close to the concept's target. No
// competitors at all scores 40: it may signal missing demand.
func scoreCompetition(per1k, target float64) float64 {
	if per1k <= 0 {
		return 40
	}
	if target <= 0 {
		return 60
	}

	ratio := per1k / target
	switch {
	case ratio >= 0.8 && ratio <= 1.2:
		return 100
	case ratio >= 0.5 && ratio < 0.8:
		return 85
	case ratio > 1.2 && ratio <= 1.5:
		return 75
	case ratio > 1.5:
		penalty := math.Min((ratio-1.5)*30, 50)
		return math.Max(50-penalty, 20)
	default:
		return 60
	}
}

func walkabilityInput(f *model.FeatureSnapshot) factorInput {
	if v, ok := f.Get(model.FeatureWalkabilityPOICount); ok {
		return factorInput{value: v, unit: "poi", source: f.Source(model.FeatureWalkabilityPOICount), present: true}
	}
	return factorInput{}
}

// scoreWalkability buckets the POI count used as a foot-traffic proxy.
func scoreWalkability(poiCount float64) float64 {
	switch {
	case poiCount >= 100:
		return 100
	case poiCount >= 50:
		return 85
	case poiCount >= 25:
		return 70
	case poiCount >= 10:
		return 55
	default:
		return math.Max(poiCount*3, walkabilityFloor)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// LearningSignal returns the raw value of factor that outcome learning
// correlates with realised revenue. Access is the inverse metro distance,
// or inverse tram distance when no metro figure exists, so that closer
// transit reads as a larger signal.
func LearningSignal(f *model.FeatureSnapshot, factor model.Factor) (float64, bool) {
	var in factorInput
	switch factor {
	case model.FactorPopulation:
		in = populationDensity(f)
	case model.FactorIncome:
		in = incomeInput(f)
	case model.FactorAccess:
		if _, _, in = accessInput(f); in.present {
			return 1 / (math.Max(in.value, 0) + 1), true
		}
	case model.FactorCompetition:
		in = competitionInput(f)
	case model.FactorWalkability:
		in = walkabilityInput(f)
	}
	return in.value, in.present
}
