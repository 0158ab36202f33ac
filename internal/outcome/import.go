package outcome

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ImportResult is the outcome of one sheet row.
type ImportResult struct {
	Line   int     `json:"line"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
	Error  string  `json:"error,omitempty"`
}

// ImportSummary totals an import.
type ImportSummary struct {
	Rows      []ImportResult `json:"rows"`
	Recorded  int            `json:"recorded"`
	Failed    int            `json:"failed"`
	Retrained int            `json:"retrained"`
}

// Import records every row, running up to concurrency submissions at once.
// Row failures are reported per row and do not stop the import; only
// context cancellation does.
func (r *Recorder) Import(ctx context.Context, rows []Row, concurrency int) (*ImportSummary, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]ImportResult, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, row := range rows {
		results[i].Line = row.Line
		if row.Err != nil {
			results[i].Err = row.Err
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.Record(gctx, row.Params)
			results[i].Result = res
			results[i].Err = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := &ImportSummary{Rows: results}
	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
			summary.Failed++
			continue
		}
		summary.Recorded++
		if results[i].Result.TriggeredRetraining {
			summary.Retrained++
		}
	}

	zap.L().Info("outcome: import complete",
		zap.Int("rows", len(rows)),
		zap.Int("recorded", summary.Recorded),
		zap.Int("failed", summary.Failed),
		zap.Int("retrained", summary.Retrained),
	)
	return summary, nil
}
