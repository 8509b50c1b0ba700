package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/makwenta/finance/ledger"
	"github.com/tanpawarit/makwenta/finance/recurring"
)

var (
	forecastUser string
	forecastDays int
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Print upcoming recurring expenses for a user",
	RunE:  runForecast,
}

func init() {
	forecastCmd.Flags().StringVar(&forecastUser, "user", "", "User (thread) id")
	forecastCmd.Flags().IntVar(&forecastDays, "days", recurring.DefaultHorizonDays, "Days ahead to forecast")
	_ = forecastCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(forecastCmd)
}

func runForecast(cmd *cobra.Command, _ []string) error {
	ctx, stop := setupContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.ledger.ListObligations(ctx, forecastUser, true)
	if err != nil {
		return err
	}
	fc, err := recurring.BuildForecast(list, time.Now(), forecastDays)
	if err != nil {
		if len(fc.Items) == 0 {
			return err
		}
		a.log.Warn().Err(err).Msg("some recurring expenses could not be forecast")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Forecast %s to %s\n", ledger.FormatDate(fc.From), ledger.FormatDate(fc.To))
	for _, item := range fc.Items {
		fmt.Fprintf(out, "%s  #%-4d %-16s %s\n",
			ledger.FormatDate(item.Date), item.ObligationID, item.Category, ledger.FormatMoney(a.cfg.Currency, item.Amount))
	}
	fmt.Fprintf(out, "Total: %s\n", ledger.FormatMoney(a.cfg.Currency, fc.Total))
	return nil
}
