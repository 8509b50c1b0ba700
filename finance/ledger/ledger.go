// Package ledger defines the persistence contract for transactions, budgets,
// savings goals and recurring obligations, along with the value types that
// flow through it. Implementations live in the pgstore and memstore
// subpackages.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrUnknownPeriod    = errors.New("period must be one of daily, weekly, monthly")
	ErrUnknownFrequency = errors.New("frequency must be one of daily, weekly, biweekly, monthly, yearly")
	// ErrStaleOccurrence is returned by ApplyOccurrence when the obligation no
	// longer sits on the occurrence being materialized.
	ErrStaleOccurrence = errors.New("occurrence already processed")
	ErrEmptyPatch      = errors.New("no fields to update")
)

type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
)

// Frequencies lists the supported frequencies in display order.
var Frequencies = []Frequency{Daily, Weekly, Biweekly, Monthly, Yearly}

func ParseFrequency(raw string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Yearly:
		return f, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrUnknownFrequency, raw)
	}
}

type Transaction struct {
	ID          int64
	UserID      string
	Amount      decimal.Decimal
	Category    string
	Description string
	ExpenseDate time.Time
	// Automated marks entries materialized from a recurring obligation.
	Automated    bool
	ObligationID *int64
	RecordedAt   time.Time
}

type BudgetLimits struct {
	UserID    string
	Daily     decimal.Decimal
	Weekly    decimal.Decimal
	Monthly   decimal.Decimal
	UpdatedAt time.Time
}

type Goal struct {
	ID        int64
	UserID    string
	Name      string
	Target    decimal.Decimal
	Saved     decimal.Decimal
	Deadline  time.Time
	CreatedAt time.Time
}

// Progress returns the saved share of the target in percent.
func (g Goal) Progress() decimal.Decimal {
	if !g.Target.IsPositive() {
		return decimal.Zero
	}
	return g.Saved.Div(g.Target).Mul(decimal.NewFromInt(100))
}

// Obligation is a recurring financial commitment. NextOccurrence is the
// earliest occurrence not yet materialized into a transaction.
type Obligation struct {
	ID             int64
	UserID         string
	Amount         decimal.Decimal
	Category       string
	Description    string
	Frequency      Frequency
	StartDate      time.Time
	EndDate        *time.Time
	NextOccurrence time.Time
	IsActive       bool
	LastProcessed  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EndsBefore reports whether d lies past the obligation's end date.
func (o Obligation) EndsBefore(d time.Time) bool {
	return o.EndDate != nil && DateOf(d).After(DateOf(*o.EndDate))
}

// ObligationPatch carries a partial update. Nil fields are left untouched.
// Stores deactivate the obligation when the result ends before its next
// occurrence.
type ObligationPatch struct {
	ID          int64
	UserID      string
	Amount      *decimal.Decimal
	Category    *string
	Description *string
	Frequency   *Frequency
	EndDate     *time.Time
	// NextOccurrence is set by callers that re-derive the schedule, such as
	// resume. A frequency change alone keeps the pending occurrence.
	NextOccurrence *time.Time
}

func (p ObligationPatch) IsEmpty() bool {
	return p.Amount == nil && p.Category == nil && p.Description == nil &&
		p.Frequency == nil && p.EndDate == nil && p.NextOccurrence == nil
}

// Occurrence is one due occurrence ready to be committed. ApplyOccurrence
// records Transaction, moves the obligation from Due to Next, stamps
// ProcessedOn and deactivates it when Deactivate is set, all in one unit.
type Occurrence struct {
	ObligationID int64
	Due          time.Time
	Next         time.Time
	Deactivate   bool
	ProcessedOn  time.Time
	Transaction  Transaction
}

// Store is the Ledger Store contract. Every call is atomic on its own and is
// keyed by the caller identity where one applies.
type Store interface {
	RecordTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	// SumSpending totals transactions dated within [from, to]. An empty
	// category or "all" sums every category.
	SumSpending(ctx context.Context, userID string, from, to time.Time, category string) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]Transaction, error)

	GetBudget(ctx context.Context, userID string) (BudgetLimits, error)
	UpsertBudget(ctx context.Context, limits BudgetLimits) error

	CreateGoal(ctx context.Context, goal Goal) (Goal, error)
	ListGoals(ctx context.Context, userID string) ([]Goal, error)

	CreateObligation(ctx context.Context, o Obligation) (Obligation, error)
	GetObligation(ctx context.Context, userID string, id int64) (Obligation, error)
	ListObligations(ctx context.Context, userID string, activeOnly bool) ([]Obligation, error)
	UpdateObligation(ctx context.Context, patch ObligationPatch) (Obligation, error)
	SetObligationActive(ctx context.Context, userID string, id int64, active bool) (Obligation, error)
	DeleteObligation(ctx context.Context, userID string, id int64) error
	// ListDueObligations returns active obligations with NextOccurrence on or
	// before asOf, oldest first. An empty userID selects every user.
	ListDueObligations(ctx context.Context, asOf time.Time, userID string) ([]Obligation, error)
	ApplyOccurrence(ctx context.Context, occ Occurrence) error
}

// IsAllCategories reports whether category selects every category.
func IsAllCategories(category string) bool {
	c := strings.TrimSpace(category)
	return c == "" || strings.EqualFold(c, "all")
}
