package features

import (
	"context"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/model"
)

// DefaultGridColumns maps feature keys to grid shapefile attribute names.
// DBF field names are limited to ten characters.
var DefaultGridColumns = map[string]string{
	model.FeaturePopulation1km:         "POP_1KM",
	model.FeaturePopulationDensity:     "POP_DENS",
	model.FeatureMedianIncome:          "MED_INCOME",
	model.FeatureCompetitorsCount:      "COMP_CNT",
	model.FeatureCompetitorsPer1k:      "COMP_1K",
	model.FeatureNearestMetroDistanceM: "METRO_M",
	model.FeatureNearestTramDistanceM:  "TRAM_M",
	model.FeatureWalkabilityPOICount:   "WALK_POI",
}

// Grid serves snapshots from polygon cells loaded from a WGS 84 shapefile,
// such as a 1 km population grid. A location takes the values of the first
// cell containing it.
type Grid struct {
	cells  []gridCell
	source string
}

type gridCell struct {
	box    shp.Box
	rings  [][]shp.Point
	values map[string]float64
}

// LoadGrid reads every polygon of the shapefile at path. columns maps
// feature keys to attribute names; nil uses DefaultGridColumns. source
// labels the values in returned snapshots. Empty or non-numeric attributes
// are treated as missing.
func LoadGrid(path string, columns map[string]string, source string) (*Grid, error) {
	if columns == nil {
		columns = DefaultGridColumns
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "features: open grid %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	keyIdx := make(map[string]int, len(columns))
	for key, col := range columns {
		if idx, ok := fieldIdx[strings.ToUpper(col)]; ok {
			keyIdx[key] = idx
		}
	}
	if len(keyIdx) == 0 {
		return nil, eris.Errorf("features: grid %s has none of the feature columns", path)
	}

	g := &Grid{source: source}
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 {
			skipped++
			continue
		}

		cell := gridCell{
			box:    poly.BBox(),
			rings:  splitRings(poly),
			values: make(map[string]float64, len(keyIdx)),
		}
		for key, idx := range keyIdx {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			cell.values[key] = v
		}
		g.cells = append(g.cells, cell)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "features: read grid %s", path)
	}

	zap.L().Info("features: grid loaded",
		zap.String("path", path),
		zap.Int("cells", len(g.cells)),
		zap.Int("skipped", skipped),
		zap.Int("columns", len(keyIdx)),
	)
	return g, nil
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	return len(g.cells)
}

// Snapshot returns the values of the cell containing loc.
func (g *Grid) Snapshot(ctx context.Context, loc model.Location, _ string) (*model.FeatureSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !loc.Valid() {
		return nil, eris.Errorf("features: invalid location %s", formatLocation(loc))
	}

	p := shp.Point{X: loc.Lng, Y: loc.Lat}
	for i := range g.cells {
		c := &g.cells[i]
		if p.X < c.box.MinX || p.X > c.box.MaxX || p.Y < c.box.MinY || p.Y > c.box.MaxY {
			continue
		}
		if !containsPoint(c.rings, p) {
			continue
		}

		snap := &model.FeatureSnapshot{
			Location: &loc,
			Values:   make(map[string]float64, len(c.values)),
			Sources:  make(map[string]string, len(c.values)),
		}
		for k, v := range c.values {
			snap.Values[k] = v
			if g.source != "" {
				snap.Sources[k] = g.source
			}
		}
		return snap, nil
	}
	return nil, eris.Wrapf(ErrNoCoverage, "features: %s outside grid", formatLocation(loc))
}

func splitRings(p *shp.Polygon) [][]shp.Point {
	rings := make([][]shp.Point, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < end {
			rings = append(rings, p.Points[start:end])
		}
	}
	return rings
}

// containsPoint applies the even-odd rule across all rings, so holes are
// excluded.
func containsPoint(rings [][]shp.Point, p shp.Point) bool {
	inside := false
	for _, ring := range rings {
		for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
			a, b := ring[i], ring[j]
			if (a.Y > p.Y) != (b.Y > p.Y) &&
				p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
				inside = !inside
			}
		}
	}
	return inside
}
