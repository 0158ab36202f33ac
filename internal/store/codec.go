package store

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/sitescore/internal/model"
)

func newID() string {
	return uuid.New().String()
}

// encodeLocation converts loc to EWKB bytes with SRID 4326. A nil location
// encodes as nil.
func encodeLocation(loc *model.Location) ([]byte, error) {
	if loc == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(loc.Point(), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode location")
	}
	return data, nil
}

// decodeLocation parses EWKB point bytes. Empty input decodes as nil.
func decodeLocation(data []byte) (*model.Location, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode location")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Errorf("store: location is %T, want point", g)
	}
	loc := model.LocationFromPoint(p)
	return &loc, nil
}

func encodeWeights(w model.Weights) ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal weights")
	}
	return data, nil
}

func decodeWeights(data []byte) (model.Weights, error) {
	var w model.Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal weights")
	}
	return w, nil
}

func encodeFeatures(f *model.FeatureSnapshot) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal features")
	}
	return data, nil
}

func decodeFeatures(data []byte) (*model.FeatureSnapshot, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var f model.FeatureSnapshot
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal features")
	}
	return &f, nil
}

func encodeBreakdown(b []model.FactorScore) ([]byte, error) {
	if b == nil {
		b = []model.FactorScore{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal breakdown")
	}
	return data, nil
}

func decodeBreakdown(data []byte) ([]model.FactorScore, error) {
	var b []model.FactorScore
	if len(data) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal breakdown")
	}
	return b, nil
}
