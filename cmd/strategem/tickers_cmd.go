package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avramidis/strategem/internal/domain"
)

func newAddTickerCmd() *cobra.Command {
	var (
		symbol   string
		exchange string
		source   string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "add-ticker",
		Short: "Register a ticker in the universe",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if symbol == "" {
				err := domain.NewError(domain.InvalidInput, "--symbol is required")
				emitError(format, err)
				return err
			}
			t := &domain.Ticker{Symbol: symbol, Exchange: exchange, Source: source, Enabled: true}
			id, err := a.tickers.Create(t)
			if err != nil {
				emitError(format, err)
				return err
			}
			if format == formatJSON {
				return printJSON(map[string]interface{}{"success": true, "ticker_id": id, "symbol": symbol})
			}
			fmt.Printf("added ticker %s (id %d, source %s)\n", symbol, id, t.Source)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "ticker symbol")
	cmd.Flags().StringVar(&exchange, "exchange", "", "exchange code")
	cmd.Flags().StringVar(&source, "source", "stub", "quote source plugin name")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	return cmd
}

func newListTickersCmd() *cobra.Command {
	var (
		withStats   bool
		enabledOnly bool
		format      string
	)
	cmd := &cobra.Command{
		Use:   "list-tickers",
		Short: "List the ticker universe",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			tickers, err := a.tickers.List()
			if enabledOnly {
				tickers, err = a.tickers.GetEnabled()
			}
			if err != nil {
				emitError(format, err)
				return err
			}

			type row struct {
				ID        int64  `json:"id"`
				Symbol    string `json:"symbol"`
				Exchange  string `json:"exchange,omitempty"`
				Source    string `json:"source"`
				Enabled   bool   `json:"enabled"`
				FirstDate string `json:"first_date,omitempty"`
				LastDate  string `json:"last_date,omitempty"`
			}
			rows := make([]row, 0, len(tickers))
			for _, t := range tickers {
				r := row{ID: t.ID, Symbol: t.Symbol, Exchange: t.Exchange, Source: t.Source, Enabled: t.Enabled}
				if withStats {
					first, last, ok, err := a.quotes.GetDateRange(t.ID)
					if err != nil {
						emitError(format, err)
						return err
					}
					if ok {
						r.FirstDate, r.LastDate = first, last
					}
				}
				rows = append(rows, r)
			}

			if format == formatJSON {
				return printJSON(map[string]interface{}{"success": true, "tickers": rows})
			}
			for _, r := range rows {
				line := fmt.Sprintf("%4d  %-8s  source=%-6s enabled=%v", r.ID, r.Symbol, r.Source, r.Enabled)
				if withStats && r.FirstDate != "" {
					line += fmt.Sprintf("  quotes %s..%s", r.FirstDate, r.LastDate)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withStats, "with-stats", false, "include stored quote date ranges")
	cmd.Flags().BoolVar(&enabledOnly, "enabled-only", false, "list only enabled tickers")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	return cmd
}

func newUpdateQuotesCmd() *cobra.Command {
	var (
		symbol   string
		tickerID int64
		force    bool
		format   string
	)
	cmd := &cobra.Command{
		Use:   "update-quotes",
		Short: "Refresh stored quotes from each ticker's source",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			release, err := a.locks.Acquire("quotes")
			if err != nil {
				emitError(format, err)
				return err
			}
			defer release()

			var stats interface{}
			var failed int
			switch {
			case symbol != "":
				s, err := a.updateSvc.UpdateOne(cmd.Context(), symbol, force)
				if err != nil {
					emitError(format, err)
					return err
				}
				stats, failed = s, s.Failed
			case tickerID > 0:
				s, err := a.updateSvc.UpdateByID(cmd.Context(), tickerID, force)
				if err != nil {
					emitError(format, err)
					return err
				}
				stats, failed = s, s.Failed
			default:
				s, err := a.updateSvc.UpdateAll(cmd.Context(), force)
				if err != nil {
					emitError(format, err)
					return err
				}
				stats, failed = s, s.Failed
			}

			if format == formatJSON {
				if err := printJSON(map[string]interface{}{"success": failed == 0, "stats": stats}); err != nil {
					return err
				}
			} else {
				fmt.Printf("quote update: %+v\n", stats)
			}
			if failed > 0 {
				return &partialError{msg: fmt.Sprintf("%d tickers failed to update", failed)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "update a single ticker by symbol instead of the universe")
	cmd.Flags().Int64Var(&tickerID, "ticker-id", 0, "update a single ticker by id instead of the universe")
	cmd.Flags().BoolVar(&force, "force", false, "refetch the full backfill window instead of the gap")
	cmd.Flags().StringVar(&format, "format", formatHuman, "output format: human or json")
	cmd.MarkFlagsMutuallyExclusive("symbol", "ticker-id")
	return cmd
}
