package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/concept"
	"github.com/sells-group/sitescore/internal/learner"
	"github.com/sells-group/sitescore/internal/outcome"
	"github.com/sells-group/sitescore/internal/predict"
	"github.com/sells-group/sitescore/internal/scorer"
	"github.com/sells-group/sitescore/internal/store"
	"github.com/sells-group/sitescore/internal/trust"
	"github.com/sells-group/sitescore/pkg/features"
)

// appEnv holds the store and services shared by the commands.
type appEnv struct {
	Store    store.Repository
	Concepts *concept.Service
	Learner  *learner.Learner
	Recorder *outcome.Recorder
	Predict  *predict.Service
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store, and
// builds the services. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	backoff := time.Duration(cfg.Outcome.RetryBackoffMs) * time.Millisecond
	concepts := concept.NewService(st, concept.WithRetry(cfg.Outcome.MaxAttempts, backoff))
	l := learner.New(st, learner.ConfigFrom(cfg.Learner), learner.WithRetry(cfg.Outcome.MaxAttempts, backoff))
	rec := outcome.NewRecorder(st, l, outcome.WithConfig(cfg.Outcome))

	env := &appEnv{
		Store:    st,
		Concepts: concepts,
		Learner:  l,
		Recorder: rec,
	}
	if mode == "store" {
		return env, nil
	}

	engine, err := scorer.NewEngine(cfg.Scoring)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	opts := []predict.Option{
		predict.WithEngine(engine),
		predict.WithTrust(trust.New(cfg.Scoring.MaxConsistencyStdDev)),
		predict.WithMaxConcurrent(cfg.Predict.MaxConcurrent),
	}
	var providers features.Chain
	if cfg.Features.GridPath != "" {
		grid, err := features.LoadGrid(cfg.Features.GridPath, nil, cfg.Features.GridSource)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		providers = append(providers, grid)
	}
	if cfg.Features.BaseURL != "" {
		providers = append(providers, features.FromConfig(cfg.Features))
	}
	if len(providers) > 0 {
		opts = append(opts, predict.WithProvider(providers))
	} else {
		zap.L().Debug("no feature provider configured; requests must carry features")
	}
	env.Predict = predict.NewService(st, concepts, opts...)

	return env, nil
}
