package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sitescore/internal/estimate"
	"github.com/sells-group/sitescore/internal/outcome"
)

var (
	outcomePrediction string
	outcomeRevenue    float64
	outcomeOpened     string
	outcomeNotes      string

	outcomeImportFile        string
	outcomeImportConcurrency int
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record the actual revenue of an opened site",
	Long:  "Records the realised annual revenue for a prediction. The concept that made the prediction is recalibrated once it has enough outcomes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opened, err := time.Parse("2006-01-02", outcomeOpened)
		if err != nil {
			return eris.Wrapf(err, "parse --opened %q", outcomeOpened)
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Recorder.Record(cmd.Context(), outcome.Params{
			PredictionID:  outcomePrediction,
			ActualRevenue: outcomeRevenue,
			OpenedAt:      opened,
			Notes:         outcomeNotes,
		})
		if err != nil {
			return eris.Wrap(err, "record outcome")
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "outcome %s recorded: %+.1f%% vs prediction", res.OutcomeID, res.VariancePct)
		if res.WithinPredictedBand {
			_, _ = fmt.Fprint(out, " (within band)")
		}
		_, _ = fmt.Fprintln(out)
		if !res.Learned {
			_, _ = fmt.Fprintln(out, "prediction used the built-in fallback; no concept was updated")
			return nil
		}
		_, _ = fmt.Fprintf(out, "concept %s now has %d outcomes\n", res.ConceptID, res.OutcomesCount)
		if res.Retrain != nil {
			_, _ = fmt.Fprintf(out, "retrained: base revenue %s -> %s, avg error %.1f%%\n",
				estimate.FormatAmount(res.Retrain.PreviousBaseRevenue),
				estimate.FormatAmount(res.Retrain.NewBaseRevenue),
				res.Retrain.AvgPredictionError,
			)
		}
		return nil
	},
}

var outcomeImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Record outcomes from an .xlsx or .csv sheet",
	Long:  "Reads prediction_id, actual_revenue, opened_at and optional notes columns and records every row. Bad rows are reported and do not stop the import.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rows, err := outcome.ReadSheet(outcomeImportFile)
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := outcomeImportConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Outcome.ImportConcurrent
		}
		summary, err := env.Recorder.Import(cmd.Context(), rows, concurrency)
		if err != nil {
			return eris.Wrap(err, "import outcomes")
		}

		formatImport(cmd.OutOrStdout(), summary)
		if summary.Failed > 0 {
			return eris.Errorf("%d of %d rows failed", summary.Failed, len(rows))
		}
		return nil
	},
}

func init() {
	outcomeCmd.Flags().StringVar(&outcomePrediction, "prediction", "", "prediction id (required)")
	outcomeCmd.Flags().Float64Var(&outcomeRevenue, "revenue", 0, "actual annual revenue (required)")
	outcomeCmd.Flags().StringVar(&outcomeOpened, "opened", "", "opening date, YYYY-MM-DD (required)")
	outcomeCmd.Flags().StringVar(&outcomeNotes, "notes", "", "free-form notes")
	_ = outcomeCmd.MarkFlagRequired("prediction")
	_ = outcomeCmd.MarkFlagRequired("revenue")
	_ = outcomeCmd.MarkFlagRequired("opened")

	outcomeImportCmd.Flags().StringVar(&outcomeImportFile, "file", "", "path to .xlsx or .csv (required)")
	outcomeImportCmd.Flags().IntVar(&outcomeImportConcurrency, "concurrency", 0, "parallel submissions (default from config)")
	_ = outcomeImportCmd.MarkFlagRequired("file")
	outcomeCmd.AddCommand(outcomeImportCmd)

	rootCmd.AddCommand(outcomeCmd)
}
