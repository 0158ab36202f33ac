package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sitescore/internal/concept"
	"github.com/sells-group/sitescore/internal/store"
)

var (
	conceptsTenant      string
	conceptsCategory    string
	conceptsAll         bool
	conceptsNoSystem    bool
	conceptsLimit       int
	conceptsOffset      int
	conceptsJSON        bool
	conceptsFile        string
	conceptsCloneName   string
	conceptsCloneTenant string
)

var conceptsCmd = &cobra.Command{
	Use:   "concepts",
	Short: "Manage restaurant concepts",
}

var conceptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List concepts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Concepts.List(cmd.Context(), store.ConceptFilter{
			TenantID:        conceptsTenant,
			Category:        conceptsCategory,
			IncludeInactive: conceptsAll,
			IncludeSystem:   !conceptsNoSystem,
			Limit:           conceptsLimit,
			Offset:          conceptsOffset,
		})
		if err != nil {
			return eris.Wrap(err, "list concepts")
		}

		if conceptsJSON {
			return writeJSON(cmd.OutOrStdout(), list)
		}
		formatConcepts(cmd.OutOrStdout(), list)
		return nil
	},
}

var conceptsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one concept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Concepts.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), c)
	},
}

var conceptsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tenant concept from a YAML or JSON file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var p concept.CreateParams
		if err := readParamsFile(conceptsFile, &p); err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Concepts.Create(cmd.Context(), p)
		if err != nil {
			return eris.Wrap(err, "create concept")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created concept %s\n", c.ID)
		return nil
	},
}

var conceptsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a tenant concept from a YAML or JSON file of changed fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p concept.UpdateParams
		if err := readParamsFile(conceptsFile, &p); err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Concepts.Update(cmd.Context(), args[0], p)
		if err != nil {
			return eris.Wrap(err, "update concept")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated concept %s to version %d\n", c.ID, c.Version)
		return nil
	},
}

var conceptsCloneCmd = &cobra.Command{
	Use:   "clone <id>",
	Short: "Copy a concept's parameters into a new tenant concept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Concepts.Clone(cmd.Context(), concept.CloneParams{
			SourceID: args[0],
			Name:     conceptsCloneName,
			TenantID: conceptsCloneTenant,
		})
		if err != nil {
			return eris.Wrap(err, "clone concept")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created concept %s\n", c.ID)
		return nil
	},
}

var conceptsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Deactivate a tenant concept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Concepts.Deactivate(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "deactivate concept")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deactivated concept %s\n", args[0])
		return nil
	},
}

var conceptsRetrainCmd = &cobra.Command{
	Use:   "retrain <id>",
	Short: "Recalibrate a concept from its full outcome history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Learner.Retrain(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "retrain concept")
		}
		if report == nil {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "concept %s has fewer than %d outcomes; nothing to do\n",
				args[0], env.Learner.Config().MinOutcomesForTraining)
			return nil
		}
		return writeJSON(cmd.OutOrStdout(), report)
	},
}

var conceptsStatsCmd = &cobra.Command{
	Use:   "stats <id>",
	Short: "Show a concept's prediction accuracy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Learner.Stats(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "concept stats")
		}
		if conceptsJSON {
			return writeJSON(cmd.OutOrStdout(), stats)
		}
		formatStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

// readParamsFile decodes a YAML or JSON file into v.
func readParamsFile(path string, v any) error {
	if path == "" {
		return eris.New("--file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "parse %s", path)
	}
	return nil
}

func init() {
	conceptsListCmd.Flags().StringVar(&conceptsTenant, "tenant", "", "only this tenant's concepts (plus system defaults)")
	conceptsListCmd.Flags().StringVar(&conceptsCategory, "category", "", "only this category")
	conceptsListCmd.Flags().BoolVar(&conceptsAll, "all", false, "include inactive concepts")
	conceptsListCmd.Flags().BoolVar(&conceptsNoSystem, "no-system", false, "exclude system defaults")
	conceptsListCmd.Flags().IntVar(&conceptsLimit, "limit", 100, "max concepts to list")
	conceptsListCmd.Flags().IntVar(&conceptsOffset, "offset", 0, "concepts to skip")
	conceptsListCmd.Flags().BoolVar(&conceptsJSON, "json", false, "print as JSON")

	conceptsCreateCmd.Flags().StringVar(&conceptsFile, "file", "", "path to concept YAML or JSON (required)")
	_ = conceptsCreateCmd.MarkFlagRequired("file")
	conceptsUpdateCmd.Flags().StringVar(&conceptsFile, "file", "", "path to changed fields YAML or JSON (required)")
	_ = conceptsUpdateCmd.MarkFlagRequired("file")

	conceptsCloneCmd.Flags().StringVar(&conceptsCloneName, "name", "", "name of the new concept (required)")
	conceptsCloneCmd.Flags().StringVar(&conceptsCloneTenant, "tenant", "", "tenant of the new concept (required)")
	_ = conceptsCloneCmd.MarkFlagRequired("name")
	_ = conceptsCloneCmd.MarkFlagRequired("tenant")

	conceptsStatsCmd.Flags().BoolVar(&conceptsJSON, "json", false, "print as JSON")

	conceptsCmd.AddCommand(
		conceptsListCmd,
		conceptsGetCmd,
		conceptsCreateCmd,
		conceptsUpdateCmd,
		conceptsCloneCmd,
		conceptsDeactivateCmd,
		conceptsRetrainCmd,
		conceptsStatsCmd,
	)
	rootCmd.AddCommand(conceptsCmd)
}
