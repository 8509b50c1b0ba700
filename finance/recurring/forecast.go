package recurring

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tanpawarit/makwenta/finance/ledger"
)

const (
	DefaultHorizonDays = 30
	MaxHorizonDays     = 365
)

var ErrHorizon = fmt.Errorf("days must be between 0 and %d", MaxHorizonDays)

type ForecastItem struct {
	ObligationID int64
	Date         time.Time
	Amount       decimal.Decimal
	Category     string
	Description  string
	Frequency    ledger.Frequency
}

type Forecast struct {
	From  time.Time
	To    time.Time
	Items []ForecastItem
	Total decimal.Decimal
	// Overdue counts active obligations whose pending occurrence is already
	// before From. Those occurrences are left to due processing.
	Overdue int
}

// BuildForecast lists every occurrence of the active obligations falling in
// [today, today+horizonDays], honoring end dates. Occurrences already overdue
// are left to due processing and are not forecast. Items are ordered by date;
// ties keep the input order.
func BuildForecast(obligations []ledger.Obligation, today time.Time, horizonDays int) (Forecast, error) {
	if horizonDays < 0 || horizonDays > MaxHorizonDays {
		return Forecast{}, fmt.Errorf("%w: got %d", ErrHorizon, horizonDays)
	}

	today = ledger.DateOf(today)
	until := today.AddDate(0, 0, horizonDays)
	out := Forecast{From: today, To: until, Total: decimal.Zero}

	var errs []error
	for _, o := range obligations {
		if !o.IsActive {
			continue
		}
		if next := ledger.DateOf(o.NextOccurrence); next.Before(today) && !o.EndsBefore(next) {
			out.Overdue++
		}
		items, err := occurrences(o, today, until)
		if err != nil {
			errs = append(errs, fmt.Errorf("recurring expense %d: %w", o.ID, err))
			continue
		}
		out.Items = append(out.Items, items...)
	}

	sort.SliceStable(out.Items, func(i, j int) bool {
		return out.Items[i].Date.Before(out.Items[j].Date)
	})
	for _, item := range out.Items {
		out.Total = out.Total.Add(item.Amount)
	}
	return out, errors.Join(errs...)
}

func occurrences(o ledger.Obligation, from, until time.Time) ([]ForecastItem, error) {
	var items []ForecastItem
	for date := ledger.DateOf(o.NextOccurrence); !date.After(until) && !o.EndsBefore(date); {
		if !date.Before(from) {
			items = append(items, ForecastItem{
				ObligationID: o.ID,
				Date:         date,
				Amount:       o.Amount,
				Category:     o.Category,
				Description:  o.Description,
				Frequency:    o.Frequency,
			})
		}
		next, err := NextFor(o, date)
		if err != nil {
			return nil, err
		}
		date = next
	}
	return items, nil
}
