package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/predict"
)

// readFeatures loads a feature snapshot from a JSON file. Both the
// snapshot shape ({"values": {...}, "sources": {...}}) and a flat
// key/value object are accepted.
func readFeatures(path string) (*model.FeatureSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read features %s", path)
	}

	var snap model.FeatureSnapshot
	if err := json.Unmarshal(data, &snap); err == nil && len(snap.Values) > 0 {
		return &snap, nil
	}

	var flat map[string]float64
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, eris.Wrapf(err, "parse features %s", path)
	}
	return &model.FeatureSnapshot{Values: flat}, nil
}

// readCandidates loads rank candidates from a .json array of requests or
// a .csv file. CSV columns are label, lat, lng, category, tenant_id,
// concept_id and any feature key; empty cells are skipped.
func readCandidates(path string) ([]predict.Request, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read candidates %s", path)
		}
		var reqs []predict.Request
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, eris.Wrapf(err, "parse candidates %s", path)
		}
		return reqs, nil
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open candidates %s", path)
		}
		defer f.Close() //nolint
		return parseCandidatesCSV(f)
	default:
		return nil, eris.Errorf("unsupported candidates file type %q (want .json or .csv)", filepath.Ext(path))
	}
}

func parseCandidatesCSV(r io.Reader) ([]predict.Request, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "parse candidates csv")
	}
	if len(records) < 2 {
		return nil, eris.New("candidates csv has no data rows")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		switch h {
		case "label", "lat", "lng", "category", "tenant_id", "concept_id":
		default:
			if !model.IsFeatureKey(h) {
				return nil, eris.Errorf("candidates csv: unknown column %q", h)
			}
		}
		header[i] = h
	}

	reqs := make([]predict.Request, 0, len(records)-1)
	for n, rec := range records[1:] {
		line := n + 2
		var (
			req      predict.Request
			lat, lng *float64
			values   = map[string]float64{}
		)
		for i, cell := range rec {
			cell = strings.TrimSpace(cell)
			if cell == "" || i >= len(header) {
				continue
			}
			switch col := header[i]; col {
			case "label":
				req.Label = cell
			case "category":
				req.Category = cell
			case "tenant_id":
				req.TenantID = cell
			case "concept_id":
				req.ConceptID = cell
			default:
				v, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, eris.Errorf("candidates csv: line %d: %s: %q is not a number", line, col, cell)
				}
				switch col {
				case "lat":
					lat = &v
				case "lng":
					lng = &v
				default:
					values[col] = v
				}
			}
		}
		if lat != nil && lng != nil {
			req.Location = &model.Location{Lat: *lat, Lng: *lng}
		}
		if len(values) > 0 {
			req.Features = &model.FeatureSnapshot{Values: values}
		}
		if req.Label == "" {
			req.Label = "line " + strconv.Itoa(line)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
