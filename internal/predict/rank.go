package predict

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ranked is one candidate of a Rank call. Rank is 1-based over the
// candidates that scored; failed candidates have Rank 0 and sort last.
type Ranked struct {
	Rank     int       `json:"rank"`
	Label    string    `json:"label,omitempty"`
	Request  Request   `json:"-"`
	Response *Response `json:"response,omitempty"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
}

// Rank scores candidates concurrently and orders them by score, highest
// first. A failing candidate does not stop the others; only context
// cancellation aborts the call.
func (s *Service) Rank(ctx context.Context, reqs []Request) ([]Ranked, error) {
	out := make([]Ranked, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	limit := s.maxConcurrent
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, req := range reqs {
		out[i] = Ranked{Label: req.Label, Request: req}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i].Response, out[i].Err = s.Predict(gctx, req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Response, out[j].Response
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Score > b.Score
		}
	})

	failed := 0
	for i := range out {
		if out[i].Err != nil {
			out[i].Error = out[i].Err.Error()
			failed++
			continue
		}
		out[i].Rank = i + 1
	}

	zap.L().Info("predict: candidates ranked",
		zap.Int("candidates", len(reqs)),
		zap.Int("failed", failed),
	)
	return out, nil
}
