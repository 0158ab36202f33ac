package features

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sitescore/internal/model"
)

func square(minX, minY, size float64) *shp.Polygon {
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{{
		{X: minX, Y: minY},
		{X: minX, Y: minY + size},
		{X: minX + size, Y: minY + size},
		{X: minX + size, Y: minY},
		{X: minX, Y: minY},
	}}))
	return &poly
}

// createTestGrid writes two adjacent 0.01° cells over central Helsinki.
// The second cell has no income value.
func createTestGrid(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grid.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.FloatField("POP_DENS", 12, 1),
		shp.FloatField("MED_INCOME", 12, 0),
		shp.StringField("NAME", 20),
	}))

	n := w.Write(square(24.93, 60.16, 0.01))
	require.NoError(t, w.WriteAttribute(int(n), 0, 9500.0))
	require.NoError(t, w.WriteAttribute(int(n), 1, 54000.0))
	require.NoError(t, w.WriteAttribute(int(n), 2, "Kamppi"))

	n = w.Write(square(24.94, 60.16, 0.01))
	require.NoError(t, w.WriteAttribute(int(n), 0, 7000.0))
	require.NoError(t, w.WriteAttribute(int(n), 2, "Kluuvi"))

	w.Close()
	return path
}

func TestLoadGrid(t *testing.T) {
	ctx := context.Background()
	g, err := LoadGrid(createTestGrid(t), nil, "population grid")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	loc := model.Location{Lat: 60.1699, Lng: 24.9384}
	snap, err := g.Snapshot(ctx, loc, "QSR")
	require.NoError(t, err)
	require.NotNil(t, snap.Location)
	assert.Equal(t, loc, *snap.Location)
	assert.Equal(t, 9500.0, snap.Values[model.FeaturePopulationDensity])
	assert.Equal(t, 54000.0, snap.Values[model.FeatureMedianIncome])
	assert.Equal(t, "population grid", snap.Source(model.FeaturePopulationDensity))
	assert.Len(t, snap.Values, 2)

	snap, err = g.Snapshot(ctx, model.Location{Lat: 60.165, Lng: 24.945}, "QSR")
	require.NoError(t, err)
	assert.Equal(t, 7000.0, snap.Values[model.FeaturePopulationDensity])
	assert.False(t, snap.Has(model.FeatureMedianIncome))

	_, err = g.Snapshot(ctx, model.Location{Lat: 61.5, Lng: 23.76}, "QSR")
	assert.True(t, errors.Is(err, ErrNoCoverage))

	_, err = g.Snapshot(ctx, model.Location{Lat: 95, Lng: 0}, "QSR")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoCoverage))
}

func TestLoadGrid_Errors(t *testing.T) {
	_, err := LoadGrid(filepath.Join(t.TempDir(), "missing.shp"), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open grid")

	_, err = LoadGrid(createTestGrid(t), map[string]string{model.FeatureMedianIncome: "INCOME_X"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the feature columns")
}

func TestContainsPoint_Hole(t *testing.T) {
	outer := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 4, Y: 4}, {X: 6, Y: 4}, {X: 6, Y: 6}, {X: 4, Y: 6}, {X: 4, Y: 4}}
	rings := [][]shp.Point{outer, hole}

	assert.True(t, containsPoint(rings, shp.Point{X: 1, Y: 1}))
	assert.False(t, containsPoint(rings, shp.Point{X: 5, Y: 5}))
	assert.False(t, containsPoint(rings, shp.Point{X: 11, Y: 5}))
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	kamppi := model.Location{Lat: 60.1699, Lng: 24.9384}
	kallio := model.Location{Lat: 60.1841, Lng: 24.9501}

	first := NewStatic()
	first.Set(kamppi, &model.FeatureSnapshot{Values: map[string]float64{model.FeaturePopulationDensity: 1}})
	second := NewStatic()
	second.Set(kamppi, &model.FeatureSnapshot{Values: map[string]float64{model.FeaturePopulationDensity: 2}})
	second.Set(kallio, &model.FeatureSnapshot{Values: map[string]float64{model.FeaturePopulationDensity: 3}})

	chain := Chain{first, second}

	snap, err := chain.Snapshot(ctx, kamppi, "QSR")
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.Values[model.FeaturePopulationDensity])

	snap, err = chain.Snapshot(ctx, kallio, "QSR")
	require.NoError(t, err)
	assert.Equal(t, 3.0, snap.Values[model.FeaturePopulationDensity])

	_, err = chain.Snapshot(ctx, model.Location{Lat: 61.5, Lng: 23.76}, "QSR")
	assert.True(t, errors.Is(err, ErrNoCoverage))

	failing := ProviderFunc(func(context.Context, model.Location, string) (*model.FeatureSnapshot, error) {
		return nil, errors.New("upstream down")
	})
	_, err = Chain{failing, second}.Snapshot(ctx, kallio, "QSR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")

	_, err = Chain{}.Snapshot(ctx, kallio, "QSR")
	assert.True(t, errors.Is(err, ErrNoCoverage))
}
