// Package pgstore implements ledger.Store on Postgres through bun.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/tanpawarit/makwenta/finance/ledger"
)

type Store struct {
	db *bun.DB
}

var _ ledger.Store = (*Store)(nil)

func New(db *bun.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	return &Store{db: db}, nil
}

// Migrate creates the ledger tables and indexes when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range models {
			if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("create table for %T: %w", model, err)
			}
		}

		indexes := []struct {
			model   any
			name    string
			columns []string
		}{
			{(*transactionRow)(nil), "transactions_user_date_idx", []string{"user_id", "expense_date"}},
			{(*goalRow)(nil), "goals_user_idx", []string{"user_id"}},
			{(*obligationRow)(nil), "recurring_expenses_due_idx", []string{"is_active", "next_occurrence"}},
		}
		for _, idx := range indexes {
			_, err := tx.NewCreateIndex().
				Model(idx.model).
				Index(idx.name).
				Column(idx.columns...).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("create index %s: %w", idx.name, err)
			}
		}
		return nil
	})
}

func (s *Store) RecordTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	row := transactionFrom(tx)
	if _, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx); err != nil {
		return ledger.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return row.domain(), nil
}

func (s *Store) SumSpending(ctx context.Context, userID string, from, to time.Time, category string) (decimal.Decimal, error) {
	var total decimal.Decimal
	q := s.db.NewSelect().
		Model((*transactionRow)(nil)).
		ColumnExpr("COALESCE(SUM(t.amount), 0)").
		Where("t.user_id = ?", userID).
		Where("t.expense_date BETWEEN ? AND ?", ledger.DateOf(from), ledger.DateOf(to))
	if !ledger.IsAllCategories(category) {
		q = q.Where("lower(t.category) = lower(?)", strings.TrimSpace(category))
	}
	if err := q.Scan(ctx, &total); err != nil {
		return decimal.Zero, fmt.Errorf("sum spending: %w", err)
	}
	return total, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]ledger.Transaction, error) {
	var rows []transactionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("t.user_id = ?", userID).
		Where("t.expense_date BETWEEN ? AND ?", ledger.DateOf(from), ledger.DateOf(to)).
		Order("t.expense_date ASC", "t.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]ledger.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].domain())
	}
	return out, nil
}

func (s *Store) GetBudget(ctx context.Context, userID string) (ledger.BudgetLimits, error) {
	row := new(budgetRow)
	err := s.db.NewSelect().Model(row).Where("b.user_id = ?", userID).Scan(ctx)
	if err != nil {
		return ledger.BudgetLimits{}, notFound(err, "budget for "+userID)
	}
	return ledger.BudgetLimits{
		UserID:    row.UserID,
		Daily:     row.Daily,
		Weekly:    row.Weekly,
		Monthly:   row.Monthly,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (s *Store) UpsertBudget(ctx context.Context, limits ledger.BudgetLimits) error {
	row := &budgetRow{
		UserID:    limits.UserID,
		Daily:     limits.Daily,
		Weekly:    limits.Weekly,
		Monthly:   limits.Monthly,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (user_id) DO UPDATE").
		Set("daily_limit = EXCLUDED.daily_limit").
		Set("weekly_limit = EXCLUDED.weekly_limit").
		Set("monthly_limit = EXCLUDED.monthly_limit").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	return nil
}

func (s *Store) CreateGoal(ctx context.Context, goal ledger.Goal) (ledger.Goal, error) {
	row := &goalRow{
		UserID:    goal.UserID,
		Name:      goal.Name,
		Target:    goal.Target,
		Saved:     goal.Saved,
		Deadline:  ledger.DateOf(goal.Deadline),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx); err != nil {
		return ledger.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	return row.domain(), nil
}

func (s *Store) ListGoals(ctx context.Context, userID string) ([]ledger.Goal, error) {
	var rows []goalRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("g.user_id = ?", userID).
		Order("g.deadline ASC", "g.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}

	out := make([]ledger.Goal, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].domain())
	}
	return out, nil
}

func (s *Store) CreateObligation(ctx context.Context, o ledger.Obligation) (ledger.Obligation, error) {
	now := time.Now().UTC()
	row := &obligationRow{
		UserID:         o.UserID,
		Amount:         o.Amount,
		Category:       o.Category,
		Description:    o.Description,
		Frequency:      string(o.Frequency),
		StartDate:      ledger.DateOf(o.StartDate),
		EndDate:        datePtr(o.EndDate),
		NextOccurrence: ledger.DateOf(o.NextOccurrence),
		IsActive:       o.IsActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx); err != nil {
		return ledger.Obligation{}, fmt.Errorf("insert recurring expense: %w", err)
	}
	return row.domain(), nil
}

func (s *Store) GetObligation(ctx context.Context, userID string, id int64) (ledger.Obligation, error) {
	row, err := selectObligation(ctx, s.db, userID, id, false)
	if err != nil {
		return ledger.Obligation{}, err
	}
	return row.domain(), nil
}

func (s *Store) ListObligations(ctx context.Context, userID string, activeOnly bool) ([]ledger.Obligation, error) {
	var rows []obligationRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("r.user_id = ?", userID).
		Order("r.next_occurrence ASC", "r.id ASC")
	if activeOnly {
		q = q.Where("r.is_active")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list recurring expenses: %w", err)
	}
	return obligations(rows), nil
}

func (s *Store) UpdateObligation(ctx context.Context, patch ledger.ObligationPatch) (ledger.Obligation, error) {
	if patch.IsEmpty() {
		return ledger.Obligation{}, ledger.ErrEmptyPatch
	}

	var out ledger.Obligation
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row, err := selectObligation(ctx, tx, patch.UserID, patch.ID, true)
		if err != nil {
			return err
		}

		if patch.Amount != nil {
			row.Amount = *patch.Amount
		}
		if patch.Category != nil {
			row.Category = *patch.Category
		}
		if patch.Description != nil {
			row.Description = *patch.Description
		}
		if patch.Frequency != nil {
			row.Frequency = string(*patch.Frequency)
		}
		if patch.EndDate != nil {
			row.EndDate = datePtr(patch.EndDate)
		}
		if patch.NextOccurrence != nil {
			row.NextOccurrence = ledger.DateOf(*patch.NextOccurrence)
		}
		if row.EndDate != nil && row.NextOccurrence.After(ledger.DateOf(*row.EndDate)) {
			row.IsActive = false
		}
		row.UpdatedAt = time.Now().UTC()

		if _, err := tx.NewUpdate().Model(row).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("update recurring expense %d: %w", row.ID, err)
		}
		out = row.domain()
		return nil
	})
	return out, err
}

func (s *Store) SetObligationActive(ctx context.Context, userID string, id int64, active bool) (ledger.Obligation, error) {
	row := new(obligationRow)
	res, err := s.db.NewUpdate().
		Model(row).
		Set("is_active = ?", active).
		Set("updated_at = ?", time.Now().UTC()).
		Where("r.id = ?", id).
		Where("r.user_id = ?", userID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return ledger.Obligation{}, notFound(err, fmt.Sprintf("recurring expense %d", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.Obligation{}, fmt.Errorf("recurring expense %d: %w", id, ledger.ErrNotFound)
	}
	return row.domain(), nil
}

func (s *Store) DeleteObligation(ctx context.Context, userID string, id int64) error {
	res, err := s.db.NewDelete().
		Model((*obligationRow)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete recurring expense %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recurring expense %d: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) ListDueObligations(ctx context.Context, asOf time.Time, userID string) ([]ledger.Obligation, error) {
	var rows []obligationRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("r.is_active").
		Where("r.next_occurrence <= ?", ledger.DateOf(asOf)).
		Order("r.next_occurrence ASC", "r.id ASC")
	if userID != "" {
		q = q.Where("r.user_id = ?", userID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list due recurring expenses: %w", err)
	}
	return obligations(rows), nil
}

// ApplyOccurrence inserts the generated transaction and advances the
// obligation in one transaction. The update only matches while the row still
// sits on occ.Due, so a concurrent or repeated run cannot double-record.
func (s *Store) ApplyOccurrence(ctx context.Context, occ ledger.Occurrence) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		processed := ledger.DateOf(occ.ProcessedOn)
		upd := tx.NewUpdate().
			Model((*obligationRow)(nil)).
			Set("next_occurrence = ?", ledger.DateOf(occ.Next)).
			Set("last_processed = ?", processed).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", occ.ObligationID).
			Where("is_active").
			Where("next_occurrence = ?", ledger.DateOf(occ.Due))
		if occ.Deactivate {
			upd = upd.Set("is_active = FALSE")
		}

		res, err := upd.Exec(ctx)
		if err != nil {
			return fmt.Errorf("advance recurring expense %d: %w", occ.ObligationID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("recurring expense %d due %s: %w",
				occ.ObligationID, ledger.FormatDate(occ.Due), ledger.ErrStaleOccurrence)
		}

		txn := occ.Transaction
		id := occ.ObligationID
		txn.ObligationID = &id
		txn.Automated = true
		if _, err := tx.NewInsert().Model(transactionFrom(txn)).Exec(ctx); err != nil {
			return fmt.Errorf("insert recurring transaction: %w", err)
		}
		return nil
	})
}

func selectObligation(ctx context.Context, db bun.IDB, userID string, id int64, forUpdate bool) (*obligationRow, error) {
	row := new(obligationRow)
	q := db.NewSelect().
		Model(row).
		Where("r.id = ?", id).
		Where("r.user_id = ?", userID)
	if forUpdate {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, notFound(err, fmt.Sprintf("recurring expense %d", id))
	}
	return row, nil
}

func obligations(rows []obligationRow) []ledger.Obligation {
	out := make([]ledger.Obligation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].domain())
	}
	return out
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func datePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := ledger.DateOf(*t)
	return &d
}
