package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sitescore/internal/config"
)

// cfg is loaded before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sitescore",
	Short: "Restaurant site scoring and revenue prediction",
	Long: `sitescore scores candidate restaurant locations against concept profiles,
estimates annual revenue and recalibrates concepts from reported outcomes.

Settings come from ./config.yaml and SITESCORE_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		loaded, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := config.InitLogger(loaded.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
