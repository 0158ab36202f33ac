package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sitescore/internal/model"
	"github.com/sells-group/sitescore/internal/predict"
)

var (
	scoreLat      float64
	scoreLng      float64
	scoreFeatures string
	scoreCategory string
	scoreTenant   string
	scoreConcept  string
	scoreLabel    string
	scoreJSON     bool

	rankFile     string
	rankCategory string
	rankTenant   string
	rankJSON     bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score one candidate site and record the prediction",
	Long:  "Scores a site from a features file, or from --lat/--lng when a feature service is configured, and prints the revenue estimate with its factor breakdown.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := predict.Request{
			Label:     scoreLabel,
			ConceptID: scoreConcept,
			TenantID:  scoreTenant,
			Category:  scoreCategory,
		}
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
			loc := model.Location{Lat: scoreLat, Lng: scoreLng}
			if !loc.Valid() {
				return eris.Errorf("invalid location %f,%f", scoreLat, scoreLng)
			}
			req.Location = &loc
		}
		if scoreFeatures != "" {
			snap, err := readFeatures(scoreFeatures)
			if err != nil {
				return err
			}
			req.Features = snap
		}
		if req.Features == nil && req.Location == nil {
			return eris.New("either --features or --lat/--lng is required")
		}

		env, err := initEnv(cmd.Context(), "predict")
		if err != nil {
			return err
		}
		defer env.Close()

		resp, err := env.Predict.Predict(cmd.Context(), req)
		if err != nil {
			return eris.Wrap(err, "score")
		}

		if scoreJSON {
			return writeJSON(cmd.OutOrStdout(), resp)
		}
		formatPrediction(cmd.OutOrStdout(), resp)
		return nil
	},
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Score and rank candidate sites from a file",
	Long:  "Scores every candidate in a .json or .csv file concurrently and prints them ranked by score. Candidates that fail are listed last with their error.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reqs, err := readCandidates(rankFile)
		if err != nil {
			return err
		}
		for i := range reqs {
			if reqs[i].Category == "" && reqs[i].ConceptID == "" {
				reqs[i].Category = rankCategory
			}
			if reqs[i].TenantID == "" {
				reqs[i].TenantID = rankTenant
			}
		}

		env, err := initEnv(cmd.Context(), "predict")
		if err != nil {
			return err
		}
		defer env.Close()

		ranked, err := env.Predict.Rank(cmd.Context(), reqs)
		if err != nil {
			return eris.Wrap(err, "rank")
		}

		if rankJSON {
			return writeJSON(cmd.OutOrStdout(), ranked)
		}
		formatRanked(cmd.OutOrStdout(), ranked)
		return nil
	},
}

func init() {
	scoreCmd.Flags().Float64Var(&scoreLat, "lat", 0, "site latitude")
	scoreCmd.Flags().Float64Var(&scoreLng, "lng", 0, "site longitude")
	scoreCmd.Flags().StringVar(&scoreFeatures, "features", "", "path to a JSON features file")
	scoreCmd.Flags().StringVar(&scoreCategory, "category", "", "concept category, e.g. QSR")
	scoreCmd.Flags().StringVar(&scoreTenant, "tenant", "", "tenant whose concept should be used")
	scoreCmd.Flags().StringVar(&scoreConcept, "concept", "", "explicit concept id")
	scoreCmd.Flags().StringVar(&scoreLabel, "label", "", "label for the site")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print the response as JSON")
	rootCmd.AddCommand(scoreCmd)

	rankCmd.Flags().StringVar(&rankFile, "file", "", "path to candidates .json or .csv (required)")
	rankCmd.Flags().StringVar(&rankCategory, "category", "", "category for candidates that name none")
	rankCmd.Flags().StringVar(&rankTenant, "tenant", "", "tenant for candidates that name none")
	rankCmd.Flags().BoolVar(&rankJSON, "json", false, "print the ranking as JSON")
	_ = rankCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(rankCmd)
}
