package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var chatThread string

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Send one message and print the reply",
	Long: `Runs a single conversation turn locally, which is handy for trying prompts
without the HTTP server. Use the same --thread across calls to keep history
when a persistent store is configured.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "local", "Conversation thread id")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := setupContext()
	defer stop()

	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		return errors.New("message is empty")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}

	res, err := orch.HandleMessage(ctx, chatThread, message)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
	if res.LimitReached {
		a.log.Warn().Str("turn_id", res.TurnID).Int("rounds", res.Rounds).Msg("turn stopped at round limit")
	}
	return nil
}
