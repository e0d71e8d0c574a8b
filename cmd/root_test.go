package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"ingest", "migrate", "runs", "initiatives", "status"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "legis-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Flags(t *testing.T) {
	for _, name := range []string{"source", "threshold", "concurrency", "dry-run", "no-enrich", "no-graph"} {
		assert.NotNil(t, ingestCmd.Flags().Lookup(name), "ingest should have --%s flag", name)
	}
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["stats"])

	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestInitiativesCommand_Flags(t *testing.T) {
	for _, name := range []string{"stage", "kind", "promoter", "legislature", "limit", "offset"} {
		assert.NotNil(t, initiativesListCmd.Flags().Lookup(name), "initiatives list should have --%s flag", name)
	}
	assert.Contains(t, initiativesCmd.Aliases, "ini")
	assert.Error(t, initiativesShowCmd.Args(initiativesShowCmd, nil))
	assert.NoError(t, initiativesShowCmd.Args(initiativesShowCmd, []string{"122/000001"}))
}
