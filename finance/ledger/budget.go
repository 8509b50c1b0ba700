package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

var (
	daysPerWeek   = decimal.NewFromInt(7)
	daysPerMonth  = decimal.NewFromInt(30)
	weeksPerMonth = decimal.RequireFromString("4.3")
)

func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, nil
	case "day":
		return PeriodDaily, nil
	case "week":
		return PeriodWeekly, nil
	case "month":
		return PeriodMonthly, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrUnknownPeriod, raw)
	}
}

// NormalizeBudget derives all three comparison windows from one stated
// budget using week = 7 days and month = 30 days = 4.3 weeks. Results are
// rounded to cents.
func NormalizeBudget(amount decimal.Decimal, period Period) (BudgetLimits, error) {
	if !amount.IsPositive() {
		return BudgetLimits{}, ErrInvalidAmount
	}

	var daily, weekly, monthly decimal.Decimal
	switch period {
	case PeriodDaily:
		daily = amount
		weekly = amount.Mul(daysPerWeek)
		monthly = amount.Mul(daysPerMonth)
	case PeriodWeekly:
		weekly = amount
		daily = amount.Div(daysPerWeek)
		monthly = amount.Mul(weeksPerMonth)
	case PeriodMonthly:
		monthly = amount
		daily = amount.Div(daysPerMonth)
		weekly = amount.Div(weeksPerMonth)
	default:
		return BudgetLimits{}, fmt.Errorf("%w: got %q", ErrUnknownPeriod, period)
	}

	return BudgetLimits{
		Daily:   daily.Round(2),
		Weekly:  weekly.Round(2),
		Monthly: monthly.Round(2),
	}, nil
}

// Limit returns the limit for one window.
func (b BudgetLimits) Limit(period Period) decimal.Decimal {
	switch period {
	case PeriodDaily:
		return b.Daily
	case PeriodWeekly:
		return b.Weekly
	case PeriodMonthly:
		return b.Monthly
	default:
		return decimal.Zero
	}
}

// IsZero reports whether no window has a limit.
func (b BudgetLimits) IsZero() bool {
	return b.Daily.IsZero() && b.Weekly.IsZero() && b.Monthly.IsZero()
}

// PeriodRange returns the inclusive date window a period covers up to today:
// the day itself, Monday of the current week, or the first of the month.
func PeriodRange(period Period, today time.Time) (time.Time, time.Time) {
	today = DateOf(today)
	switch period {
	case PeriodWeekly:
		return WeekStart(today), today
	case PeriodMonthly:
		return time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), today
	default:
		return today, today
	}
}
