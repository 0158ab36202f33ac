package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"migrate", "seed", "score", "rank", "outcome", "concepts", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "sitescore", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestConceptsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range conceptsCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"list", "get", "create", "update", "clone", "deactivate", "retrain", "stats"}
	for _, name := range expected {
		assert.True(t, names[name], "concepts should have subcommand %q", name)
	}
}

func TestOutcomeCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"prediction", "revenue", "opened", "notes"} {
		assert.NotNil(t, outcomeCmd.Flags().Lookup(flagName), "outcome should have --%s flag", flagName)
	}

	flag := outcomeImportCmd.Flags().Lookup("file")
	require.NotNil(t, flag, "outcome import should have --file flag")
	flag = outcomeImportCmd.Flags().Lookup("concurrency")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestConceptsListCommand_Flags(t *testing.T) {
	flag := conceptsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "100", flag.DefValue)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SITESCORE_STORE_DRIVER", "memory")
	t.Setenv("SITESCORE_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestScoreCommand_StaticFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"population_density": 8000}`), 0o644))

	out, err := runCLI(t, "score", "--features", path, "--category", "QSR", "--label", "Kamppi")
	require.NoError(t, err)
	assert.Contains(t, out, "Kamppi")
	assert.Contains(t, out, "100.0")
	assert.Contains(t, out, "static")
	assert.Contains(t, out, "1,942,857")
}

func TestScoreCommand_RequiresInput(t *testing.T) {
	scoreFeatures = ""
	_, err := runCLI(t, "score", "--category", "QSR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--features or --lat/--lng")
}

func TestRankCommand_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.csv")
	csv := "label,population_density,median_income\n" +
		"sparse,2000,40000\n" +
		"dense,8000,40000\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	out, err := runCLI(t, "rank", "--file", path, "--category", "QSR")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^1\s+dense`, out)
	assert.Regexp(t, `(?m)^2\s+sparse`, out)
}

func TestOutcomeCommand_UnknownPrediction(t *testing.T) {
	_, err := runCLI(t, "outcome", "--prediction", "missing", "--revenue", "1500000", "--opened", "2026-02-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestOutcomeCommand_BadDate(t *testing.T) {
	_, err := runCLI(t, "outcome", "--prediction", "p1", "--revenue", "1500000", "--opened", "02/01/2026")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--opened")
}
