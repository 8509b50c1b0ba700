package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/makwenta/finance/ledger"
)

var (
	processAsOf string
	processUser string
)

var processDueCmd = &cobra.Command{
	Use:   "process-due",
	Short: "Record every recurring expense due on or before a date",
	Long: `Materializes due recurring expenses into ledger transactions, one occurrence
per expense per run. Safe to repeat: a second run on the same date records nothing.`,
	RunE: runProcessDue,
}

func init() {
	processDueCmd.Flags().StringVar(&processAsOf, "as-of", "", "Processing date YYYY-MM-DD (default today, UTC)")
	processDueCmd.Flags().StringVar(&processUser, "user", "", "Only process this user's expenses")
	rootCmd.AddCommand(processDueCmd)
}

func runProcessDue(cmd *cobra.Command, _ []string) error {
	ctx, stop := setupContext()
	defer stop()

	asOf, err := parseAsOf(processAsOf)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.processor.ProcessDue(ctx, asOf, processUser)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Processed %d recurring expense(s) as of %s\n", res.Processed, ledger.FormatDate(asOf))
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  failed: %v\n", e)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d recurring expense(s) failed", len(res.Errors))
	}
	return nil
}
