package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sells-group/sitescore/internal/estimate"
	"github.com/sells-group/sitescore/internal/learner"
	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/outcome"
	"github.com/sells-group/sitescore/internal/predict"
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatPrediction writes a scored site with its factor breakdown to out.
func formatPrediction(out io.Writer, r *predict.Response) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if r.Label != "" {
		_, _ = fmt.Fprintf(w, "Site:\t%s\n", r.Label)
	}
	_, _ = fmt.Fprintf(w, "Prediction:\t%s\n", r.PredictionID)
	_, _ = fmt.Fprintf(w, "Score:\t%.1f (%s)\n", r.Score, r.Recommendation)
	_, _ = fmt.Fprintf(w, "Revenue:\t%s  [%s - %s]\n",
		estimate.FormatAmount(r.Revenue.Mid),
		estimate.FormatAmount(r.Revenue.Low),
		estimate.FormatAmount(r.Revenue.High),
	)
	_, _ = fmt.Fprintf(w, "Concept:\t%s (%s)\n", r.ConceptName, r.ConceptSource)
	_, _ = fmt.Fprintf(w, "Confidence:\t%.0f%%\n", r.Confidence*100)
	_, _ = fmt.Fprintf(w, "Coverage:\t%.0f%%\n", r.Coverage.Overall*100)
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FACTOR\tSCORE\tWEIGHT\tCONTRIBUTION\tRAW")
	_, _ = fmt.Fprintln(w, "------\t-----\t------\t------------\t---")
	for _, f := range r.Breakdown {
		if !f.Present {
			_, _ = fmt.Fprintf(w, "%s\t-\t%.2f\t-\tmissing\n", f.Factor, f.Weight)
			continue
		}
		raw := ""
		if f.RawValue != nil {
			raw = strings.TrimSpace(fmt.Sprintf("%s %s", estimate.FormatAmount(*f.RawValue), f.RawUnit))
		}
		_, _ = fmt.Fprintf(w, "%s\t%.1f\t%.2f\t%.1f\t%s\n", f.Factor, f.Score, f.EffectiveWeight, f.Contribution, raw)
	}
	_ = w.Flush()

	for _, h := range r.Highlights {
		_, _ = fmt.Fprintf(out, "  * %s\n", h)
	}
}

// formatRanked writes a ranking table to out.
func formatRanked(out io.Writer, ranked []predict.Ranked) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tSITE\tSCORE\tREVENUE\tCONFIDENCE\tRECOMMENDATION")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t-------\t----------\t--------------")
	for _, r := range ranked {
		if r.Response == nil {
			_, _ = fmt.Fprintf(w, "-\t%s\t-\t-\t-\terror: %s\n", r.Label, r.Error)
			continue
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%.1f\t%s\t%.0f%%\t%s\n",
			r.Rank,
			r.Label,
			r.Response.Score,
			estimate.FormatRevenue(r.Response.Revenue.Mid),
			r.Response.Confidence*100,
			r.Response.Recommendation,
		)
	}
	_ = w.Flush()
}

// formatConcepts writes a tabular list of concepts to out.
func formatConcepts(out io.Writer, concepts []*model.Concept) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTENANT\tCATEGORY\tNAME\tBASE\tOUTCOMES\tVERSION\tSTATUS")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t----\t----\t--------\t-------\t------")
	for _, c := range concepts {
		status := "active"
		switch {
		case !c.IsActive:
			status = "inactive"
		case c.IsSystemDefault:
			status = "system"
		}
		name := c.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(c.ID),
			c.TenantID,
			c.Category,
			name,
			estimate.FormatRevenue(c.BaseRevenue),
			c.OutcomesCount,
			c.Version,
			status,
		)
	}
	_ = w.Flush()
}

// formatStats writes concept accuracy figures to out.
func formatStats(out io.Writer, s *learner.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Concept:\t%s (%s)\n", s.ConceptName, s.ConceptID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", s.Status)
	_, _ = fmt.Fprintf(w, "Outcomes:\t%d\n", s.OutcomesCount)
	_, _ = fmt.Fprintf(w, "Within band:\t%d\n", s.WithinBandCount)
	_, _ = fmt.Fprintf(w, "Base revenue:\t%s\n", estimate.FormatAmount(s.BaseRevenue))
	_, _ = fmt.Fprintf(w, "Revenue band:\t±%.0f%%\n", s.RevenueVariance*100)
	if s.AvgPredictionError != nil {
		_, _ = fmt.Fprintf(w, "Avg error:\t%.1f%%\n", *s.AvgPredictionError)
	}
	if s.MedianVariancePct != nil {
		_, _ = fmt.Fprintf(w, "Median variance:\t%+.1f%%\n", *s.MedianVariancePct)
		_, _ = fmt.Fprintf(w, "Best / worst:\t%+.1f%% / %+.1f%%\n", *s.BestVariancePct, *s.WorstVariancePct)
	}
	if s.LastTrainedAt != nil {
		_, _ = fmt.Fprintf(w, "Last trained:\t%s\n", s.LastTrainedAt.Format("2006-01-02 15:04"))
	}
	for _, f := range model.Factors {
		_, _ = fmt.Fprintf(w, "  %s:\t%.3f\n", f, s.Weights[f])
	}
	_ = w.Flush()
}

// formatImport writes an outcome import summary and its failed rows to out.
func formatImport(out io.Writer, s *outcome.ImportSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Recorded:\t%d\n", s.Recorded)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Retrained:\t%d\n", s.Retrained)
	_ = w.Flush()

	for _, r := range s.Rows {
		if r.Error != "" {
			_, _ = fmt.Fprintf(out, "  line %d: %s\n", r.Line, r.Error)
		}
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
