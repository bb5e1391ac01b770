// Command strategem is the backtesting and forward-monitoring engine CLI.
// Subcommands cover the run lifecycle, monitor state machine, quote updates
// and the nightly daily-update orchestration; the dispatcher re-invokes this
// same binary for child run processes.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "strategem",
		Short:         "Trading strategy backtesting and forward-monitoring engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunBacktestCmd(),
		newGetBacktestResultsCmd(),
		newListStrategiesCmd(),
		newAddTickerCmd(),
		newListTickersCmd(),
		newUpdateQuotesCmd(),
		newCreateMonitorCmd(),
		newMonitorBacktestCmd(),
		newUpdateMonitorCmd(),
		newListMonitorsCmd(),
		newStopMonitorCmd(),
		newDailyUpdateCmd(),
		newHealthCheckCmd(),
		newScheduleCmd(),
	)
	return root
}
