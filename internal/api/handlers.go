package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/sitescore/internal/concept"
	"github.com/sells-group/sitescore/internal/outcome"
	"github.com/sells-group/sitescore/internal/predict"
	"github.com/sells-group/sitescore/internal/store"
	"github.com/sells-group/sitescore/internal/validate"
)

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predict.Request
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	resp, err := s.predict.Predict(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

type rankRequest struct {
	Candidates []predict.Request `json:"candidates" validate:"required,min=1,max=100"`
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, r, err)
		return
	}
	ranked, err := s.predict.Rank(r.Context(), req.Candidates)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": ranked})
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	p, err := s.repo.GetPrediction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// handleRecordOutcome serves both /outcomes and /predictions/{id}/outcome;
// the path id wins over the body.
func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var p outcome.Params
	if err := decodeJSON(w, r, &p); err != nil {
		respondError(w, r, err)
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		p.PredictionID = id
	}
	res, err := s.recorder.Record(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListConcepts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ConceptFilter{
		TenantID:        q.Get("tenant_id"),
		Category:        q.Get("category"),
		IncludeInactive: q.Get("include_inactive") == "true",
		IncludeSystem:   q.Get("include_system") != "false",
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, &validate.Error{Fields: []validate.FieldError{{Field: "limit", Rule: "gte", Param: "0"}}})
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, &validate.Error{Fields: []validate.FieldError{{Field: "offset", Rule: "gte", Param: "0"}}})
			return
		}
		filter.Offset = n
	}

	list, err := s.concepts.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"concepts": list, "count": len(list)})
}

func (s *Server) handleCreateConcept(w http.ResponseWriter, r *http.Request) {
	var p concept.CreateParams
	if err := decodeJSON(w, r, &p); err != nil {
		respondError(w, r, err)
		return
	}
	c, err := s.concepts.Create(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetConcept(w http.ResponseWriter, r *http.Request) {
	c, err := s.concepts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateConcept(w http.ResponseWriter, r *http.Request) {
	var p concept.UpdateParams
	if err := decodeJSON(w, r, &p); err != nil {
		respondError(w, r, err)
		return
	}
	c, err := s.concepts.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeactivateConcept(w http.ResponseWriter, r *http.Request) {
	if err := s.concepts.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cloneRequest struct {
	Name     string `json:"name"`
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleCloneConcept(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	c, err := s.concepts.Clone(r.Context(), concept.CloneParams{
		SourceID: chi.URLParam(r, "id"),
		Name:     req.Name,
		TenantID: req.TenantID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleRetrainConcept(w http.ResponseWriter, r *http.Request) {
	report, err := s.learner.Retrain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if report == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"retrained": false,
			"reason":    "not enough outcomes",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"retrained": true, "report": report})
}

func (s *Server) handleConceptStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.learner.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
