package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
	"github.com/tanpawarit/makwenta/finance/ledger"
	"github.com/tanpawarit/makwenta/finance/recurring"
)

func frequencyEnum() []string {
	out := make([]string, 0, len(ledger.Frequencies))
	for _, f := range ledger.Frequencies {
		out = append(out, string(f))
	}
	return out
}

var recurringIDParam = Param{
	Name: "recurring_id", Desc: "ID from view_recurring_expenses", Type: TypeInteger, Required: true,
}

func (f Finance) describeObligation(b *strings.Builder, o ledger.Obligation) {
	fmt.Fprintf(b, "#%d %s: %s", o.ID, o.Category, f.money(o.Amount))
	if o.Description != "" {
		fmt.Fprintf(b, " - %s", o.Description)
	}
	until := "indefinite"
	if o.EndDate != nil {
		until = "until " + ledger.FormatDate(*o.EndDate)
	}
	status := "Active"
	if !o.IsActive {
		status = "Paused"
	}
	fmt.Fprintf(b, "\n   %s (%s) | Next: %s | %s\n", o.Frequency, until, ledger.FormatDate(o.NextOccurrence), status)
}

func (f Finance) addRecurring() Action {
	return NewAction(Spec{
		Name:        ActionAddRecurring,
		Description: "Create a recurring expense that is recorded automatically whenever it falls due.",
		Params: []Param{
			{Name: "amount", Desc: "Amount per occurrence", Type: TypeNumber, Required: true},
			{Name: "category", Desc: "Expense category, e.g. Rent, Subscription", Type: TypeString, Required: true},
			{Name: "frequency", Desc: "How often it repeats", Type: TypeString, Required: true, Enum: frequencyEnum()},
			{Name: "description", Desc: "Optional details", Type: TypeString},
			{Name: "start_date", Desc: "First occurrence (YYYY-MM-DD), defaults to today", Type: TypeString},
			{Name: "end_date", Desc: "Last possible occurrence (YYYY-MM-DD), empty for indefinite", Type: TypeString},
		},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		amount := args.Decimal("amount")
		if !amount.IsPositive() {
			return "", ledger.ErrInvalidAmount
		}
		freq, err := ledger.ParseFrequency(args.String("frequency"))
		if err != nil {
			return "", err
		}
		now := today(inv)
		start, err := optionalDate(args, "start_date", now)
		if err != nil {
			return "", err
		}

		o := ledger.Obligation{
			UserID:      inv.UserID,
			Amount:      amount,
			Category:    args.String("category"),
			Description: args.String("description"),
			Frequency:   freq,
			StartDate:   start,
			IsActive:    true,
		}
		if args.Has("end_date") {
			end, err := optionalDate(args, "end_date", now)
			if err != nil {
				return "", err
			}
			if end.Before(start) {
				return "", errors.New("end_date must not be before start_date")
			}
			o.EndDate = &end
		}

		if o.NextOccurrence, err = recurring.InitialNext(start, now, freq); err != nil {
			return "", err
		}
		if o.EndsBefore(o.NextOccurrence) {
			return "", fmt.Errorf("no occurrence left between today and end_date %s", ledger.FormatDate(*o.EndDate))
		}

		created, err := f.Ledger.CreateObligation(ctx, o)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Recurring expense created with ID %d: %s - %s (%s). Next occurrence: %s. It will be recorded automatically when due.",
			created.ID, created.Category, f.money(created.Amount), created.Frequency, ledger.FormatDate(created.NextOccurrence)), nil
	})
}

func (f Finance) viewRecurring() Action {
	return NewAction(Spec{
		Name:        ActionViewRecurring,
		Description: "List the user's recurring expenses.",
		Params: []Param{
			{Name: "include_paused", Desc: "Also list paused expenses", Type: TypeBoolean},
		},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		list, err := f.Ledger.ListObligations(ctx, inv.UserID, !args.Bool("include_paused"))
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "You have no recurring expenses set up.", nil
		}

		var b strings.Builder
		b.WriteString("Your Recurring Expenses:\n\n")
		for _, o := range list {
			f.describeObligation(&b, o)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}

func (f Finance) editRecurring() Action {
	return NewAction(Spec{
		Name:        ActionEditRecurring,
		Description: "Change fields of an existing recurring expense. Provide at least one field.",
		Params: []Param{
			recurringIDParam,
			{Name: "amount", Desc: "New amount", Type: TypeNumber},
			{Name: "category", Desc: "New category", Type: TypeString},
			{Name: "description", Desc: "New description", Type: TypeString},
			{Name: "frequency", Desc: "New frequency", Type: TypeString, Enum: frequencyEnum()},
			{Name: "end_date", Desc: "New end date (YYYY-MM-DD)", Type: TypeString},
		},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		patch := ledger.ObligationPatch{ID: args.Int("recurring_id"), UserID: inv.UserID}
		if args.Has("amount") {
			amount := args.Decimal("amount")
			if !amount.IsPositive() {
				return "", ledger.ErrInvalidAmount
			}
			patch.Amount = &amount
		}
		if args.Has("category") {
			c := args.String("category")
			patch.Category = &c
		}
		if args.Has("description") {
			d := args.String("description")
			patch.Description = &d
		}
		if args.Has("frequency") {
			freq, err := ledger.ParseFrequency(args.String("frequency"))
			if err != nil {
				return "", err
			}
			patch.Frequency = &freq
		}
		if args.Has("end_date") {
			end, err := ledger.ParseDate(args.String("end_date"))
			if err != nil {
				return "", err
			}
			patch.EndDate = &end
		}

		updated, err := f.Ledger.UpdateObligation(ctx, patch)
		if err != nil {
			return "", err
		}
		if !updated.IsActive && updated.EndsBefore(updated.NextOccurrence) {
			return fmt.Sprintf("Recurring expense #%d updated. It ends before its next occurrence (%s), so it is now inactive.",
				updated.ID, ledger.FormatDate(updated.NextOccurrence)), nil
		}
		return fmt.Sprintf("Recurring expense #%d updated successfully.", updated.ID), nil
	})
}

func (f Finance) pauseRecurring() Action {
	return NewAction(Spec{
		Name:        ActionPauseRecurring,
		Description: "Pause a recurring expense without deleting it.",
		Params:      []Param{recurringIDParam},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		o, err := f.Ledger.SetObligationActive(ctx, inv.UserID, args.Int("recurring_id"), false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Recurring expense #%d paused. It will no longer be recorded automatically.", o.ID), nil
	})
}

// resumeRecurring skips occurrences missed while paused so resuming never
// back-fills them.
func (f Finance) resumeRecurring() Action {
	return NewAction(Spec{
		Name:        ActionResumeRecurring,
		Description: "Resume a paused recurring expense.",
		Params:      []Param{recurringIDParam},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		id := args.Int("recurring_id")
		o, err := f.Ledger.GetObligation(ctx, inv.UserID, id)
		if err != nil {
			return "", err
		}

		next, err := recurring.NextOnOrAfter(o.NextOccurrence, today(inv), o.Frequency, o.StartDate)
		if err != nil {
			return "", err
		}
		if o.EndsBefore(next) {
			return "", fmt.Errorf("recurring expense #%d ended on %s", id, ledger.FormatDate(*o.EndDate))
		}
		if !next.Equal(o.NextOccurrence) {
			if _, err := f.Ledger.UpdateObligation(ctx, ledger.ObligationPatch{ID: id, UserID: inv.UserID, NextOccurrence: &next}); err != nil {
				return "", err
			}
		}
		if _, err := f.Ledger.SetObligationActive(ctx, inv.UserID, id, true); err != nil {
			return "", err
		}
		return fmt.Sprintf("Recurring expense #%d resumed. Next occurrence: %s.", id, ledger.FormatDate(next)), nil
	})
}

func (f Finance) deleteRecurring() Action {
	return NewAction(Spec{
		Name:        ActionDeleteRecurring,
		Description: "Permanently delete a recurring expense. Prefer pausing when unsure.",
		Params:      []Param{recurringIDParam},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		id := args.Int("recurring_id")
		if err := f.Ledger.DeleteObligation(ctx, inv.UserID, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Recurring expense #%d deleted permanently.", id), nil
	})
}

func (f Finance) forecastRecurring() Action {
	return NewAction(Spec{
		Name:        ActionForecastRecurring,
		Description: "Predict upcoming recurring expenses for budget planning.",
		Params: []Param{
			{Name: "days", Desc: "Days ahead to forecast, 1 to 365 (default 30)", Type: TypeInteger},
		},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		days := int64(recurring.DefaultHorizonDays)
		if args.Has("days") {
			days = args.Int("days")
		}
		if days < 1 || days > recurring.MaxHorizonDays {
			return "", fmt.Errorf("days must be between 1 and %d", recurring.MaxHorizonDays)
		}

		list, err := f.Ledger.ListObligations(ctx, inv.UserID, true)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "You have no active recurring expenses to forecast.", nil
		}

		fc, err := recurring.BuildForecast(list, today(inv), int(days))
		if err != nil && len(fc.Items) == 0 {
			return "", err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Recurring Expense Forecast (next %d days):\n\n", days)
		overdue := ""
		if fc.Overdue > 0 {
			overdue = fmt.Sprintf("\nNote: %d recurring expense(s) are overdue and not included; they are recorded when due expenses are processed.", fc.Overdue)
		}
		if len(fc.Items) == 0 {
			b.WriteString("No recurring expenses scheduled in this period.")
			b.WriteString(overdue)
			return b.String(), nil
		}
		for _, item := range fc.Items {
			fmt.Fprintf(&b, "- %s %s: %s", ledger.FormatDate(item.Date), item.Category, f.money(item.Amount))
			if item.Description != "" {
				fmt.Fprintf(&b, " (%s)", item.Description)
			}
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "\nTotal Forecasted: %s", f.money(fc.Total))
		b.WriteString(overdue)
		return b.String(), nil
	})
}

func (f Finance) processDueRecurring() Action {
	return NewAction(Spec{
		Name:        ActionProcessDueRecurring,
		Description: "Record every recurring expense of the user that is due today or earlier.",
	}, func(ctx context.Context, inv contractx.Invocation, _ Args) (string, error) {
		res, err := f.Processor.ProcessDue(ctx, today(inv), inv.UserID)
		if err != nil {
			return "", err
		}
		if res.Processed == 0 && len(res.Errors) == 0 {
			return "No recurring expenses are due.", nil
		}

		msg := fmt.Sprintf("Recorded %d due recurring expense(s).", res.Processed)
		if len(res.Errors) > 0 {
			var failed []string
			for _, e := range res.Errors {
				failed = append(failed, fmt.Sprintf("#%d (%v)", e.ObligationID, e.Err))
			}
			msg += " Failed: " + strings.Join(failed, ", ") + "."
		}
		return msg, nil
	})
}
