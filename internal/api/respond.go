package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/validate"
	"github.com/sells-group/sitescore/pkg/features"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string                `json:"error"`
	Code   string                `json:"code"`
	Fields []validate.FieldError `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// respondError maps domain errors onto HTTP statuses. Anything unrecognised
// is logged and reported as an internal error without detail.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	body := errorBody{Error: err.Error(), Code: code}

	var verr *validate.Error
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		body.Error = "internal error"
	}
	respondJSON(w, status, body)
}

func classify(err error) (int, string) {
	var (
		verr      *validate.Error
		invalid   *model.InvalidConceptError
		missing   *model.MissingRequiredFeatureError
		conceptNF *model.ConceptNotFoundError
		predNF    *model.PredictionNotFoundError
		dup       *model.DuplicateOutcomeError
		sysDef    *model.SystemDefaultError
		conc      *model.ConcurrentUpdateError
		lock      *model.OptimisticLockError
		tooBig    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "request_too_large"
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation_failed"
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "invalid_concept"
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity, "missing_required_feature"
	case errors.Is(err, features.ErrNoCoverage):
		return http.StatusUnprocessableEntity, "no_feature_coverage"
	case errors.As(err, &conceptNF):
		return http.StatusNotFound, "concept_not_found"
	case errors.As(err, &predNF):
		return http.StatusNotFound, "prediction_not_found"
	case errors.As(err, &dup):
		return http.StatusConflict, "duplicate_outcome"
	case errors.As(err, &sysDef):
		return http.StatusForbidden, "system_default_read_only"
	case errors.As(err, &conc), errors.As(err, &lock):
		return http.StatusConflict, "concurrent_update"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON request body of at most maxBodyBytes into v,
// rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return eris.Wrapf(err, "api: request body over %d bytes", tooBig.Limit)
		}
		return &validate.Error{Fields: []validate.FieldError{{Field: "body", Rule: "json", Param: err.Error()}}}
	}
	return nil
}
