package model

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Feature keys understood by the scorer, the learner and the trust metrics.
// Feature providers may return any subset of them.
const (
	FeaturePopulation1km         = "population_1km"
	FeaturePopulationDensity     = "population_density"
	FeatureMedianIncome          = "median_income"
	FeatureCompetitorsCount      = "competitors_count"
	FeatureCompetitorsPer1k      = "competitors_per_1k_residents"
	FeatureNearestMetroDistanceM = "nearest_metro_distance_m"
	FeatureNearestTramDistanceM  = "nearest_tram_distance_m"
	FeatureWalkabilityPOICount   = "walkability_poi_count"
)

// FeatureKeys lists every known feature key.
var FeatureKeys = []string{
	FeaturePopulation1km,
	FeaturePopulationDensity,
	FeatureMedianIncome,
	FeatureCompetitorsCount,
	FeatureCompetitorsPer1k,
	FeatureNearestMetroDistanceM,
	FeatureNearestTramDistanceM,
	FeatureWalkabilityPOICount,
}

// IsFeatureKey reports whether key is a known feature key.
func IsFeatureKey(key string) bool {
	for _, k := range FeatureKeys {
		if k == key {
			return true
		}
	}
	return false
}

// SRID is the spatial reference used for stored locations (WGS 84).
const SRID = 4326

// Location is a WGS 84 coordinate.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is finite and within WGS 84 bounds.
func (l Location) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// Point returns the location as a go-geom point (x=lng, y=lat) tagged with SRID 4326.
func (l Location) Point() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{l.Lng, l.Lat}).SetSRID(SRID)
}

// LocationFromPoint converts a go-geom point back into a Location.
func LocationFromPoint(p *geom.Point) Location {
	if p == nil || p.Empty() {
		return Location{}
	}
	return Location{Lat: p.Y(), Lng: p.X()}
}

// FeatureSnapshot is the flat feature map produced by a feature provider for
// one location and category. Any key may be absent.
type FeatureSnapshot struct {
	Location *Location          `json:"location,omitempty"`
	Values   map[string]float64 `json:"values"`
	// Sources maps a feature key to the label of the data source that produced it.
	Sources map[string]string `json:"sources,omitempty"`
}

// Get returns the value for key and whether it is present and finite.
func (s *FeatureSnapshot) Get(key string) (float64, bool) {
	if s == nil || s.Values == nil {
		return 0, false
	}
	v, ok := s.Values[key]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Has reports whether key is present.
func (s *FeatureSnapshot) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Source returns the data-source label for key, or "" when unknown.
func (s *FeatureSnapshot) Source(key string) string {
	if s == nil || s.Sources == nil {
		return ""
	}
	return s.Sources[key]
}

// HasPopulation reports whether any population figure is present.
func (s *FeatureSnapshot) HasPopulation() bool {
	return s.Has(FeaturePopulationDensity) || s.Has(FeaturePopulation1km)
}

// HasLocation reports whether the snapshot carries a valid coordinate.
func (s *FeatureSnapshot) HasLocation() bool {
	return s != nil && s.Location != nil && s.Location.Valid()
}

// Clone returns a deep copy of s.
func (s *FeatureSnapshot) Clone() *FeatureSnapshot {
	if s == nil {
		return nil
	}
	out := &FeatureSnapshot{}
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}
	if s.Values != nil {
		out.Values = make(map[string]float64, len(s.Values))
		for k, v := range s.Values {
			out.Values[k] = v
		}
	}
	if s.Sources != nil {
		out.Sources = make(map[string]string, len(s.Sources))
		for k, v := range s.Sources {
			out.Sources[k] = v
		}
	}
	return out
}
