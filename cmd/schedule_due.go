package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/makwenta/pkg/config"
	qstashx "github.com/tanpawarit/makwenta/pkg/qstash"
)

var (
	scheduleCron        string
	scheduleDestination string
)

var scheduleDueCmd = &cobra.Command{
	Use:   "schedule-due",
	Short: "Register a QStash schedule that triggers recurring expense processing",
	Long: `Creates a QStash cron schedule that POSTs to the recurring expense callback.
The destination defaults to APP_CALLBACK_URL and must match what serve verifies.`,
	RunE: runScheduleDue,
}

func init() {
	scheduleDueCmd.Flags().StringVar(&scheduleCron, "cron", "5 0 * * *", "Cron expression (UTC)")
	scheduleDueCmd.Flags().StringVar(&scheduleDestination, "destination", "", "Callback URL (overrides APP_CALLBACK_URL)")
	rootCmd.AddCommand(scheduleDueCmd)
}

func runScheduleDue(cmd *cobra.Command, _ []string) error {
	ctx, stop := setupContext()
	defer stop()

	appCfg, err := configx.New[AppConfig]("APP")
	if err != nil {
		return err
	}
	destination := strings.TrimSpace(scheduleDestination)
	if destination == "" {
		destination = strings.TrimSpace(appCfg.CallbackURL)
	}
	if destination == "" {
		return errors.New("no destination: set --destination or APP_CALLBACK_URL")
	}

	qCfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		return err
	}
	client, err := qstashx.NewClient(*qCfg)
	if err != nil {
		return err
	}

	id, err := client.Schedule(ctx, destination, scheduleCron, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s created: %q -> %s\n", id, scheduleCron, destination)
	return nil
}
