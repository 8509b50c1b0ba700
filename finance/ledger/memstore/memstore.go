// Package memstore is an in-process ledger.Store used by tests and the chat
// command when no database is configured.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tanpawarit/makwenta/finance/ledger"
)

type Store struct {
	mu sync.Mutex

	now func() time.Time

	nextTx   int64
	nextGoal int64
	nextObl  int64

	transactions []ledger.Transaction
	budgets      map[string]ledger.BudgetLimits
	goals        []ledger.Goal
	obligations  map[int64]ledger.Obligation
}

var _ ledger.Store = (*Store)(nil)

type Option func(*Store)

// WithClock overrides the timestamp source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		budgets:     make(map[string]ledger.BudgetLimits),
		obligations: make(map[int64]ledger.Obligation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) RecordTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(tx), nil
}

func (s *Store) recordLocked(tx ledger.Transaction) ledger.Transaction {
	s.nextTx++
	tx.ID = s.nextTx
	tx.ExpenseDate = ledger.DateOf(tx.ExpenseDate)
	if tx.RecordedAt.IsZero() {
		tx.RecordedAt = s.now().UTC()
	}
	s.transactions = append(s.transactions, tx)
	return tx
}

func (s *Store) SumSpending(_ context.Context, userID string, from, to time.Time, category string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, tx := range s.inRange(userID, from, to) {
		if !ledger.IsAllCategories(category) && !strings.EqualFold(tx.Category, strings.TrimSpace(category)) {
			continue
		}
		total = total.Add(tx.Amount)
	}
	return total, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, from, to time.Time) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.inRange(userID, from, to)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpenseDate.Before(out[j].ExpenseDate)
	})
	return out, nil
}

func (s *Store) inRange(userID string, from, to time.Time) []ledger.Transaction {
	from, to = ledger.DateOf(from), ledger.DateOf(to)
	var out []ledger.Transaction
	for _, tx := range s.transactions {
		if tx.UserID != userID {
			continue
		}
		if tx.ExpenseDate.Before(from) || tx.ExpenseDate.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (s *Store) GetBudget(_ context.Context, userID string) (ledger.BudgetLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[userID]
	if !ok {
		return ledger.BudgetLimits{}, fmt.Errorf("budget for %s: %w", userID, ledger.ErrNotFound)
	}
	return b, nil
}

func (s *Store) UpsertBudget(_ context.Context, limits ledger.BudgetLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	limits.UpdatedAt = s.now().UTC()
	s.budgets[limits.UserID] = limits
	return nil
}

func (s *Store) CreateGoal(_ context.Context, goal ledger.Goal) (ledger.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGoal++
	goal.ID = s.nextGoal
	goal.Deadline = ledger.DateOf(goal.Deadline)
	goal.CreatedAt = s.now().UTC()
	s.goals = append(s.goals, goal)
	return goal, nil
}

func (s *Store) ListGoals(_ context.Context, userID string) ([]ledger.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.Goal
	for _, g := range s.goals {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

func (s *Store) CreateObligation(_ context.Context, o ledger.Obligation) (ledger.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextObl++
	now := s.now().UTC()
	o.ID = s.nextObl
	o.StartDate = ledger.DateOf(o.StartDate)
	o.NextOccurrence = ledger.DateOf(o.NextOccurrence)
	o.CreatedAt = now
	o.UpdatedAt = now
	s.obligations[o.ID] = o
	return o, nil
}

func (s *Store) GetObligation(_ context.Context, userID string, id int64) (ledger.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownedLocked(userID, id)
}

func (s *Store) ownedLocked(userID string, id int64) (ledger.Obligation, error) {
	o, ok := s.obligations[id]
	if !ok || o.UserID != userID {
		return ledger.Obligation{}, fmt.Errorf("recurring expense %d: %w", id, ledger.ErrNotFound)
	}
	return o, nil
}

func (s *Store) ListObligations(_ context.Context, userID string, activeOnly bool) ([]ledger.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.Obligation
	for _, o := range s.obligations {
		if o.UserID != userID || (activeOnly && !o.IsActive) {
			continue
		}
		out = append(out, o)
	}
	sortObligations(out)
	return out, nil
}

func (s *Store) UpdateObligation(_ context.Context, patch ledger.ObligationPatch) (ledger.Obligation, error) {
	if patch.IsEmpty() {
		return ledger.Obligation{}, ledger.ErrEmptyPatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.ownedLocked(patch.UserID, patch.ID)
	if err != nil {
		return ledger.Obligation{}, err
	}
	if patch.Amount != nil {
		o.Amount = *patch.Amount
	}
	if patch.Category != nil {
		o.Category = *patch.Category
	}
	if patch.Description != nil {
		o.Description = *patch.Description
	}
	if patch.Frequency != nil {
		o.Frequency = *patch.Frequency
	}
	if patch.EndDate != nil {
		end := ledger.DateOf(*patch.EndDate)
		o.EndDate = &end
	}
	if patch.NextOccurrence != nil {
		o.NextOccurrence = ledger.DateOf(*patch.NextOccurrence)
	}
	if o.EndsBefore(o.NextOccurrence) {
		o.IsActive = false
	}
	o.UpdatedAt = s.now().UTC()
	s.obligations[o.ID] = o
	return o, nil
}

func (s *Store) SetObligationActive(_ context.Context, userID string, id int64, active bool) (ledger.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.ownedLocked(userID, id)
	if err != nil {
		return ledger.Obligation{}, err
	}
	o.IsActive = active
	o.UpdatedAt = s.now().UTC()
	s.obligations[id] = o
	return o, nil
}

func (s *Store) DeleteObligation(_ context.Context, userID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedLocked(userID, id); err != nil {
		return err
	}
	delete(s.obligations, id)
	return nil
}

func (s *Store) ListDueObligations(_ context.Context, asOf time.Time, userID string) ([]ledger.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asOf = ledger.DateOf(asOf)
	var out []ledger.Obligation
	for _, o := range s.obligations {
		if !o.IsActive || o.NextOccurrence.After(asOf) {
			continue
		}
		if userID != "" && o.UserID != userID {
			continue
		}
		out = append(out, o)
	}
	sortObligations(out)
	return out, nil
}

func (s *Store) ApplyOccurrence(_ context.Context, occ ledger.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.obligations[occ.ObligationID]
	if !ok {
		return fmt.Errorf("recurring expense %d: %w", occ.ObligationID, ledger.ErrNotFound)
	}
	if !o.IsActive || !o.NextOccurrence.Equal(ledger.DateOf(occ.Due)) {
		return fmt.Errorf("recurring expense %d due %s: %w", o.ID, ledger.FormatDate(occ.Due), ledger.ErrStaleOccurrence)
	}

	tx := occ.Transaction
	id := o.ID
	tx.ObligationID = &id
	tx.Automated = true
	s.recordLocked(tx)

	processed := ledger.DateOf(occ.ProcessedOn)
	o.NextOccurrence = ledger.DateOf(occ.Next)
	o.LastProcessed = &processed
	if occ.Deactivate {
		o.IsActive = false
	}
	o.UpdatedAt = s.now().UTC()
	s.obligations[o.ID] = o
	return nil
}

func sortObligations(list []ledger.Obligation) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].NextOccurrence.Equal(list[j].NextOccurrence) {
			return list[i].NextOccurrence.Before(list[j].NextOccurrence)
		}
		return list[i].ID < list[j].ID
	})
}
