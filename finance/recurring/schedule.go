// Package recurring computes occurrence dates for recurring obligations,
// forecasts them over a horizon, and materializes due occurrences into the
// ledger.
package recurring

import (
	"fmt"
	"time"

	"github.com/tanpawarit/makwenta/finance/ledger"
)

// Advance moves date one step forward. Monthly keeps the day of month and
// clamps to the last day of a shorter month. Yearly keeps month and day and
// clamps Feb 29 to Feb 28 in non-leap years. The result is always after date.
func Advance(date time.Time, freq ledger.Frequency) (time.Time, error) {
	return AdvanceAnchored(date, freq, date)
}

// AdvanceAnchored is Advance with the target day of month (and month, for
// yearly) taken from anchor instead of date. Obligations anchor on their start
// date so that one short month does not pull every later occurrence earlier:
// Jan 31 -> Feb 28 -> Mar 31 -> Apr 30.
func AdvanceAnchored(date time.Time, freq ledger.Frequency, anchor time.Time) (time.Time, error) {
	date = ledger.DateOf(date)
	switch freq {
	case ledger.Daily:
		return date.AddDate(0, 0, 1), nil
	case ledger.Weekly:
		return date.AddDate(0, 0, 7), nil
	case ledger.Biweekly:
		return date.AddDate(0, 0, 14), nil
	case ledger.Monthly:
		y, m := date.Year(), date.Month()+1
		if m > time.December {
			y, m = y+1, time.January
		}
		return clampedDate(y, m, anchor.Day()), nil
	case ledger.Yearly:
		return clampedDate(date.Year()+1, anchor.Month(), anchor.Day()), nil
	default:
		return time.Time{}, fmt.Errorf("%w: got %q", ledger.ErrUnknownFrequency, freq)
	}
}

// InitialNext returns the first occurrence on or after today for a schedule
// starting at start.
func InitialNext(start, today time.Time, freq ledger.Frequency) (time.Time, error) {
	return NextOnOrAfter(start, today, freq, start)
}

// NextOnOrAfter steps from date until the result is no longer before today.
// A date already on or after today is returned unchanged.
func NextOnOrAfter(date, today time.Time, freq ledger.Frequency, anchor time.Time) (time.Time, error) {
	next := ledger.DateOf(date)
	today = ledger.DateOf(today)
	for next.Before(today) {
		var err error
		if next, err = AdvanceAnchored(next, freq, anchor); err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}

// NextFor advances an obligation past date on its own anchored schedule.
func NextFor(o ledger.Obligation, date time.Time) (time.Time, error) {
	anchor := o.StartDate
	if anchor.IsZero() {
		anchor = date
	}
	return AdvanceAnchored(date, o.Frequency, anchor)
}

func clampedDate(year int, month time.Month, day int) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
