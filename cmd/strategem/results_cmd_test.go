package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avramidis/strategem/internal/domain"
)

func TestParseRunIDs(t *testing.T) {
	ids, err := parseRunIDs("3, 7,12")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7, 12}, ids)

	_, err = parseRunIDs("5")
	assert.True(t, domain.IsKind(err, domain.InvalidInput), "comparison needs at least two runs")

	_, err = parseRunIDs("1,x")
	assert.True(t, domain.IsKind(err, domain.InvalidInput))

	_, err = parseRunIDs("1,-2")
	assert.True(t, domain.IsKind(err, domain.InvalidInput))
}

func TestCommandFlagSurface(t *testing.T) {
	cases := []struct {
		cmd   *cobra.Command
		flags []string
	}{
		{newUpdateQuotesCmd(), []string{"symbol", "ticker-id", "force"}},
		{newDailyUpdateCmd(), []string{"skip-quotes", "skip-monitors"}},
		{newListTickersCmd(), []string{"enabled-only", "with-stats"}},
		{newListStrategiesCmd(), []string{"strategy", "details"}},
		{newGetBacktestResultsCmd(), []string{"run-id", "strategy", "last", "compare", "summary-only", "full"}},
		{newRunBacktestCmd(), []string{"run-id", "no-save"}},
	}
	for _, tc := range cases {
		for _, name := range tc.flags {
			assert.NotNil(t, tc.cmd.Flags().Lookup(name), "%s --%s", tc.cmd.Use, name)
		}
	}
}
