package cmd

import (
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/makwenta/pkg/config"
	logx "github.com/tanpawarit/makwenta/pkg/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "makwenta",
	Short: "Conversational personal finance assistant",
	Long: `Makwenta keeps a ledger of expenses, budgets, goals and recurring bills and
answers questions about them in a chat. Each message runs a bounded
plan/act/observe loop against a tool-calling language model.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadRootConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

// loadRootConfig applies --env and reinitializes the logger, since the
// autoload import already ran before flags were parsed.
func loadRootConfig(_ *cobra.Command, _ []string) error {
	configx.SetEnvFile(envFile)

	logCfg, err := configx.New[logx.Config]("LOG")
	if err != nil {
		return err
	}
	logx.Init(*logCfg)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to a .env file (defaults to ./.env when present)")
}
