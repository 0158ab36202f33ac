// Package features supplies location feature snapshots for scoring from a
// remote HTTP service, a local grid shapefile or fixed test data.
package features

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescore/internal/model"
)

// Provider returns the feature snapshot for a location and restaurant
// category. Any feature may be absent from the snapshot.
type Provider interface {
	Snapshot(ctx context.Context, loc model.Location, category string) (*model.FeatureSnapshot, error)
}

// ErrNoCoverage is returned when the provider has no data for a location.
var ErrNoCoverage = eris.New("features: location not covered")

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, loc model.Location, category string) (*model.FeatureSnapshot, error)

// Snapshot calls f.
func (f ProviderFunc) Snapshot(ctx context.Context, loc model.Location, category string) (*model.FeatureSnapshot, error) {
	return f(ctx, loc, category)
}

// Chain asks each provider in order, moving on only when a provider does
// not cover the location. Any other error stops the chain.
type Chain []Provider

// Snapshot returns the first covered snapshot.
func (c Chain) Snapshot(ctx context.Context, loc model.Location, category string) (*model.FeatureSnapshot, error) {
	for _, p := range c {
		snap, err := p.Snapshot(ctx, loc, category)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrNoCoverage) {
			return nil, err
		}
	}
	return nil, eris.Wrapf(ErrNoCoverage, "features: %s", formatLocation(loc))
}

// Static serves fixed snapshots keyed by coordinate. A zero Default means
// unknown locations return ErrNoCoverage.
type Static struct {
	Snapshots map[model.Location]*model.FeatureSnapshot
	Default   *model.FeatureSnapshot
}

// NewStatic creates an empty Static provider.
func NewStatic() *Static {
	return &Static{Snapshots: make(map[model.Location]*model.FeatureSnapshot)}
}

// Set registers the snapshot for loc.
func (s *Static) Set(loc model.Location, snap *model.FeatureSnapshot) {
	s.Snapshots[loc] = snap
}

// Snapshot returns a copy of the registered snapshot with its location set.
func (s *Static) Snapshot(ctx context.Context, loc model.Location, _ string) (*model.FeatureSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !loc.Valid() {
		return nil, eris.Errorf("features: invalid location %s", formatLocation(loc))
	}

	snap, ok := s.Snapshots[loc]
	if !ok {
		snap = s.Default
	}
	if snap == nil {
		return nil, eris.Wrapf(ErrNoCoverage, "features: %s", formatLocation(loc))
	}

	out := snap.Clone()
	out.Location = &loc
	if out.Values == nil {
		out.Values = make(map[string]float64)
	}
	return out, nil
}

func formatLocation(loc model.Location) string {
	return fmt.Sprintf("(%.6f, %.6f)", loc.Lat, loc.Lng)
}
