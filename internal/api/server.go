// Package api exposes scoring, outcome recording and concept management
// over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/concept"
	"github.com/sells-group/sitescore/internal/learner"
	"github.com/sells-group/sitescore/internal/outcome"
	"github.com/sells-group/sitescore/internal/predict"
	"github.com/sells-group/sitescore/internal/store"
)

// Server holds the services behind the HTTP routes.
type Server struct {
	repo     store.Repository
	concepts *concept.Service
	predict  *predict.Service
	recorder *outcome.Recorder
	learner  *learner.Learner
}

// New creates a Server.
func New(repo store.Repository, concepts *concept.Service, p *predict.Service, rec *outcome.Recorder, l *learner.Learner) *Server {
	return &Server{
		repo:     repo,
		concepts: concepts,
		predict:  p,
		recorder: rec,
		learner:  l,
	}
}

// Routes builds the router. allowedOrigins configures CORS; empty allows
// any origin.
func (s *Server) Routes(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/predictions", s.handlePredict)
		r.Post("/predictions/rank", s.handleRank)
		r.Get("/predictions/{id}", s.handleGetPrediction)
		r.Post("/predictions/{id}/outcome", s.handleRecordOutcome)
		r.Post("/outcomes", s.handleRecordOutcome)

		r.Route("/concepts", func(r chi.Router) {
			r.Get("/", s.handleListConcepts)
			r.Post("/", s.handleCreateConcept)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetConcept)
				r.Patch("/", s.handleUpdateConcept)
				r.Delete("/", s.handleDeactivateConcept)
				r.Post("/clone", s.handleCloneConcept)
				r.Post("/retrain", s.handleRetrainConcept)
				r.Get("/stats", s.handleConceptStats)
			})
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
