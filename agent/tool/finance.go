package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
	"github.com/tanpawarit/makwenta/finance/ledger"
	"github.com/tanpawarit/makwenta/finance/recurring"
)

const (
	ActionRecordTransaction   = "record_transaction"
	ActionCheckBudget         = "check_budget"
	ActionDailySummary        = "get_daily_summary"
	ActionExpensesByDate      = "get_expenses_by_date"
	ActionWeeklyBreakdown     = "get_weekly_breakdown"
	ActionSetBudget           = "set_my_budget"
	ActionSetGoal             = "set_financial_goal"
	ActionCheckGoals          = "check_goals"
	ActionAddRecurring        = "add_recurring_expense"
	ActionViewRecurring       = "view_recurring_expenses"
	ActionEditRecurring       = "edit_recurring_expense"
	ActionPauseRecurring      = "pause_recurring_expense"
	ActionResumeRecurring     = "resume_recurring_expense"
	ActionDeleteRecurring     = "delete_recurring_expense"
	ActionForecastRecurring   = "forecast_recurring_expenses"
	ActionProcessDueRecurring = "process_due_recurring_expenses"

	// AllCategories is the budget snapshot key that covers every category.
	AllCategories = "All"
)

// Finance holds what the finance actions share.
type Finance struct {
	Ledger              ledger.Store
	Processor           *recurring.Processor
	Currency            string
	DefaultWeeklyBudget decimal.Decimal
}

func (f Finance) validate() error {
	if f.Ledger == nil {
		return errors.New("ledger store is required")
	}
	if f.Processor == nil {
		return errors.New("recurring processor is required")
	}
	return nil
}

// NewFinanceCatalog registers every finance action plus math_evaluate.
func NewFinanceCatalog(f Finance) (*Catalog, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.Currency) == "" {
		f.Currency = "₱"
	}
	if !f.DefaultWeeklyBudget.IsPositive() {
		f.DefaultWeeklyBudget = decimal.NewFromInt(2000)
	}

	return NewCatalog(
		f.recordTransaction(),
		f.checkBudget(),
		f.dailySummary(),
		f.expensesByDate(),
		f.weeklyBreakdown(),
		f.setBudget(),
		f.setGoal(),
		f.checkGoals(),
		f.addRecurring(),
		f.viewRecurring(),
		f.editRecurring(),
		f.pauseRecurring(),
		f.resumeRecurring(),
		f.deleteRecurring(),
		f.forecastRecurring(),
		f.processDueRecurring(),
		MathEvaluate(),
	)
}

func (f Finance) money(d decimal.Decimal) string {
	return ledger.FormatMoney(f.Currency, d)
}

func today(inv contractx.Invocation) time.Time {
	if inv.Now.IsZero() {
		return ledger.DateOf(time.Now())
	}
	return ledger.DateOf(inv.Now)
}

// optionalDate parses a YYYY-MM-DD argument, falling back to def when absent.
func optionalDate(args Args, name string, def time.Time) (time.Time, error) {
	if !args.Has(name) {
		return def, nil
	}
	d, err := ledger.ParseDate(args.String(name))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func snapshotLimit(limits map[string]decimal.Decimal) (decimal.Decimal, bool) {
	v, ok := limits[AllCategories]
	if !ok || !v.IsPositive() {
		return decimal.Zero, false
	}
	return v, true
}

func (f Finance) recordTransaction() Action {
	return NewAction(Spec{
		Name:        ActionRecordTransaction,
		Description: "Record a new expense for the user.",
		Params: []Param{
			{Name: "amount", Desc: "Amount spent, positive", Type: TypeNumber, Required: true},
			{Name: "category", Desc: "Expense category, e.g. Food, Transport", Type: TypeString, Required: true},
			{Name: "description", Desc: "Optional details", Type: TypeString},
			{Name: "expense_date", Desc: "Date of the expense (YYYY-MM-DD), defaults to today", Type: TypeString},
		},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		amount := args.Decimal("amount")
		if !amount.IsPositive() {
			return "", ledger.ErrInvalidAmount
		}
		date, err := optionalDate(args, "expense_date", today(inv))
		if err != nil {
			return "", err
		}

		tx, err := f.Ledger.RecordTransaction(ctx, ledger.Transaction{
			UserID:      inv.UserID,
			Amount:      amount,
			Category:    args.String("category"),
			Description: args.String("description"),
			ExpenseDate: date,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Transaction of %s (%s) on %s recorded successfully. You MUST now use the check_budget tool.",
			f.money(tx.Amount), tx.Category, ledger.FormatDate(tx.ExpenseDate)), nil
	})
}

func (f Finance) checkBudget() Action {
	return NewAction(Spec{
		Name:        ActionCheckBudget,
		Description: "Compare today's and this week's spending against the user's budget.",
		NeedsBudget: true,
	}, func(ctx context.Context, inv contractx.Invocation, _ Args) (string, error) {
		limits, err := f.Ledger.GetBudget(ctx, inv.UserID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			limits = ledger.BudgetLimits{}
			limits.Daily, _ = snapshotLimit(inv.Budget.DailyLimits)
			limits.Weekly, _ = snapshotLimit(inv.Budget.WeeklyLimits)
		case err != nil:
			return "", err
		}
		if limits.IsZero() {
			return "You haven't set a budget yet. Please tell me your daily, weekly, or monthly budget.", nil
		}

		now := today(inv)
		var b strings.Builder
		b.WriteString("Budget Status:\n")
		periods := []struct {
			label  string
			period ledger.Period
		}{
			{"Daily", ledger.PeriodDaily},
			{"Weekly", ledger.PeriodWeekly},
			{"Monthly", ledger.PeriodMonthly},
		}
		for _, p := range periods {
			limit := limits.Limit(p.period)
			if !limit.IsPositive() {
				continue
			}
			from, to := ledger.PeriodRange(p.period, now)
			spent, err := f.Ledger.SumSpending(ctx, inv.UserID, from, to, AllCategories)
			if err != nil {
				return "", err
			}
			marker := "OK"
			if spent.GreaterThan(limit) {
				marker = "OVER by " + f.money(spent.Sub(limit))
			}
			fmt.Fprintf(&b, "%s: %s / %s (%s)\n", p.label, f.money(spent), f.money(limit), marker)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}

func (f Finance) dailySummary() Action {
	return NewAction(Spec{
		Name:        ActionDailySummary,
		Description: "Build a short greeting with this week's budget, spending and what remains.",
		NeedsBudget: true,
	}, func(ctx context.Context, inv contractx.Invocation, _ Args) (string, error) {
		now := today(inv)
		name := strings.TrimSpace(inv.Budget.UserName)
		if name == "" {
			name = "there"
		}
		currency := f.Currency
		if c := strings.TrimSpace(inv.Budget.CurrencySymbol); c != "" {
			currency = c
		}
		weekly, ok := snapshotLimit(inv.Budget.WeeklyLimits)
		if !ok {
			weekly = f.DefaultWeeklyBudget
		}

		from, to := ledger.PeriodRange(ledger.PeriodWeekly, now)
		spent, err := f.Ledger.SumSpending(ctx, inv.UserID, from, to, AllCategories)
		if err != nil {
			return "", err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Hello %s!\n%s\n\n", name, now.Format("Monday, January 2, 2006"))
		b.WriteString("--- WEEKLY FINANCIAL STATUS ---\n")
		fmt.Fprintf(&b, "Weekly Budget: %s\n", ledger.FormatMoney(currency, weekly))
		fmt.Fprintf(&b, "Spent This Week: %s\n", ledger.FormatMoney(currency, spent))
		fmt.Fprintf(&b, "Remaining: %s", ledger.FormatMoney(currency, weekly.Sub(spent)))
		return b.String(), nil
	})
}

func (f Finance) expensesByDate() Action {
	return NewAction(Spec{
		Name:        ActionExpensesByDate,
		Description: "List the user's expenses on one date.",
		Params: []Param{
			{Name: "date", Desc: "Date in YYYY-MM-DD format", Type: TypeString, Required: true},
		},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		date, err := ledger.ParseDate(args.String("date"))
		if err != nil {
			return "", err
		}
		txs, err := f.Ledger.ListTransactions(ctx, inv.UserID, date, date)
		if err != nil {
			return "", err
		}
		label := ledger.FormatDate(date)
		if len(txs) == 0 {
			return fmt.Sprintf("No expenses found for %s.", label), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Expenses for %s:\n", label)
		total := decimal.Zero
		for _, tx := range txs {
			fmt.Fprintf(&b, "- %s: %s", tx.Category, f.money(tx.Amount))
			if tx.Description != "" {
				fmt.Fprintf(&b, " (%s)", tx.Description)
			}
			b.WriteByte('\n')
			total = total.Add(tx.Amount)
		}
		fmt.Fprintf(&b, "\nTotal: %s", f.money(total))
		return b.String(), nil
	})
}

func (f Finance) weeklyBreakdown() Action {
	return NewAction(Spec{
		Name:        ActionWeeklyBreakdown,
		Description: "Day-by-day spending for a Monday to Sunday week, flagging days over the daily budget.",
		Params: []Param{
			{Name: "week_start_date", Desc: "Monday of the week (YYYY-MM-DD); other days snap to their Monday", Type: TypeString, Required: true},
		},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		date, err := ledger.ParseDate(args.String("week_start_date"))
		if err != nil {
			return "", err
		}
		start := ledger.WeekStart(date)
		end := start.AddDate(0, 0, 6)

		dailyLimit := decimal.Zero
		limits, err := f.Ledger.GetBudget(ctx, inv.UserID)
		switch {
		case err == nil:
			dailyLimit = limits.Daily
		case !errors.Is(err, ledger.ErrNotFound):
			return "", err
		}

		txs, err := f.Ledger.ListTransactions(ctx, inv.UserID, start, end)
		if err != nil {
			return "", err
		}
		perDay := make(map[string]decimal.Decimal, 7)
		for _, tx := range txs {
			key := ledger.FormatDate(tx.ExpenseDate)
			perDay[key] = perDay[key].Add(tx.Amount)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Weekly Breakdown (%s to %s)\n\n", ledger.FormatDate(start), ledger.FormatDate(end))
		total := decimal.Zero
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			key := ledger.FormatDate(d)
			spent := perDay[key]
			total = total.Add(spent)
			fmt.Fprintf(&b, "%s (%s): %s", d.Weekday(), key, f.money(spent))
			if dailyLimit.IsPositive() && spent.GreaterThan(dailyLimit) {
				b.WriteString(" OVER")
			}
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "\nWeek Total: %s", f.money(total))
		return b.String(), nil
	})
}

func (f Finance) setBudget() Action {
	return NewAction(Spec{
		Name:        ActionSetBudget,
		Description: "Set the user's budget. The other periods are derived automatically.",
		Params: []Param{
			{Name: "amount", Desc: "Budget amount", Type: TypeNumber, Required: true},
			{Name: "period", Desc: "Period the amount covers", Type: TypeString, Required: true,
				Enum: []string{string(ledger.PeriodDaily), string(ledger.PeriodWeekly), string(ledger.PeriodMonthly)}},
		},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		period, err := ledger.ParsePeriod(args.String("period"))
		if err != nil {
			return "", err
		}
		limits, err := ledger.NormalizeBudget(args.Decimal("amount"), period)
		if err != nil {
			return "", err
		}
		limits.UserID = inv.UserID
		if err := f.Ledger.UpsertBudget(ctx, limits); err != nil {
			return "", err
		}
		return fmt.Sprintf("Budget set successfully!\nDaily: %s\nWeekly: %s\nMonthly: %s",
			f.money(limits.Daily), f.money(limits.Weekly), f.money(limits.Monthly)), nil
	})
}

func (f Finance) setGoal() Action {
	return NewAction(Spec{
		Name:        ActionSetGoal,
		Description: "Create a savings goal and show how much to set aside per day, week and month.",
		Params: []Param{
			{Name: "goal_name", Desc: "What the user is saving for", Type: TypeString, Required: true},
			{Name: "target_amount", Desc: "Total amount needed", Type: TypeNumber, Required: true},
			{Name: "deadline_date", Desc: "Deadline (YYYY-MM-DD)", Type: TypeString, Required: true},
		},
	}, func(ctx context.Context, inv contractx.Invocation, args Args) (string, error) {
		target := args.Decimal("target_amount")
		if !target.IsPositive() {
			return "", ledger.ErrInvalidAmount
		}
		deadline, err := ledger.ParseDate(args.String("deadline_date"))
		if err != nil {
			return "", err
		}
		days := int64(deadline.Sub(today(inv)).Hours() / 24)
		if days <= 0 {
			return "", errors.New("the deadline must be in the future")
		}

		goal, err := f.Ledger.CreateGoal(ctx, ledger.Goal{
			UserID:   inv.UserID,
			Name:     args.String("goal_name"),
			Target:   target,
			Saved:    decimal.Zero,
			Deadline: deadline,
		})
		if err != nil {
			return "", err
		}

		daily := target.Div(decimal.NewFromInt(days))
		return fmt.Sprintf("Goal '%s' set successfully!\n\nTo reach %s by %s (%d days):\n- Daily: %s\n- Weekly: %s\n- Monthly: %s",
			goal.Name, f.money(target), ledger.FormatDate(goal.Deadline), days,
			f.money(daily), f.money(daily.Mul(decimal.NewFromInt(7))), f.money(daily.Mul(decimal.NewFromInt(30)))), nil
	})
}

func (f Finance) checkGoals() Action {
	return NewAction(Spec{
		Name:        ActionCheckGoals,
		Description: "Show progress on all savings goals.",
	}, func(ctx context.Context, inv contractx.Invocation, _ Args) (string, error) {
		goals, err := f.Ledger.ListGoals(ctx, inv.UserID)
		if err != nil {
			return "", err
		}
		if len(goals) == 0 {
			return "You have no active savings goals.", nil
		}

		var b strings.Builder
		b.WriteString("Your Savings Goals:\n")
		for _, g := range goals {
			fmt.Fprintf(&b, "\n%s\n  Target: %s\n  Saved: %s (%s%%)\n  Deadline: %s\n",
				g.Name, f.money(g.Target), f.money(g.Saved), g.Progress().StringFixed(1), ledger.FormatDate(g.Deadline))
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}
