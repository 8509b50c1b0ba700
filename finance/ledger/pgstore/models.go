package pgstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/tanpawarit/makwenta/finance/ledger"
)

type transactionRow struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID           int64           `bun:"id,pk,autoincrement"`
	UserID       string          `bun:"user_id,notnull"`
	Amount       decimal.Decimal `bun:"amount,type:numeric(14,2),notnull"`
	Category     string          `bun:"category,notnull,default:'General'"`
	Description  string          `bun:"description"`
	ExpenseDate  time.Time       `bun:"expense_date,type:date,notnull"`
	Automated    bool            `bun:"automated,notnull,default:false"`
	ObligationID *int64          `bun:"obligation_id"`
	RecordedAt   time.Time       `bun:"recorded_at,notnull,default:current_timestamp"`
}

func (r *transactionRow) domain() ledger.Transaction {
	return ledger.Transaction{
		ID:           r.ID,
		UserID:       r.UserID,
		Amount:       r.Amount,
		Category:     r.Category,
		Description:  r.Description,
		ExpenseDate:  ledger.DateOf(r.ExpenseDate),
		Automated:    r.Automated,
		ObligationID: r.ObligationID,
		RecordedAt:   r.RecordedAt,
	}
}

func transactionFrom(tx ledger.Transaction) *transactionRow {
	recorded := tx.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	return &transactionRow{
		UserID:       tx.UserID,
		Amount:       tx.Amount,
		Category:     tx.Category,
		Description:  tx.Description,
		ExpenseDate:  ledger.DateOf(tx.ExpenseDate),
		Automated:    tx.Automated,
		ObligationID: tx.ObligationID,
		RecordedAt:   recorded,
	}
}

type budgetRow struct {
	bun.BaseModel `bun:"table:budgets,alias:b"`

	UserID    string          `bun:"user_id,pk"`
	Daily     decimal.Decimal `bun:"daily_limit,type:numeric(14,2),notnull"`
	Weekly    decimal.Decimal `bun:"weekly_limit,type:numeric(14,2),notnull"`
	Monthly   decimal.Decimal `bun:"monthly_limit,type:numeric(14,2),notnull"`
	UpdatedAt time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

type goalRow struct {
	bun.BaseModel `bun:"table:goals,alias:g"`

	ID        int64           `bun:"id,pk,autoincrement"`
	UserID    string          `bun:"user_id,notnull"`
	Name      string          `bun:"name,notnull"`
	Target    decimal.Decimal `bun:"target_amount,type:numeric(14,2),notnull"`
	Saved     decimal.Decimal `bun:"saved_amount,type:numeric(14,2),notnull,default:0"`
	Deadline  time.Time       `bun:"deadline,type:date,notnull"`
	CreatedAt time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

func (r *goalRow) domain() ledger.Goal {
	return ledger.Goal{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Target:    r.Target,
		Saved:     r.Saved,
		Deadline:  ledger.DateOf(r.Deadline),
		CreatedAt: r.CreatedAt,
	}
}

type obligationRow struct {
	bun.BaseModel `bun:"table:recurring_expenses,alias:r"`

	ID             int64           `bun:"id,pk,autoincrement"`
	UserID         string          `bun:"user_id,notnull"`
	Amount         decimal.Decimal `bun:"amount,type:numeric(14,2),notnull"`
	Category       string          `bun:"category,notnull"`
	Description    string          `bun:"description"`
	Frequency      string          `bun:"frequency,notnull"`
	StartDate      time.Time       `bun:"start_date,type:date,notnull"`
	EndDate        *time.Time      `bun:"end_date,type:date"`
	NextOccurrence time.Time       `bun:"next_occurrence,type:date,notnull"`
	IsActive       bool            `bun:"is_active,notnull,default:true"`
	LastProcessed  *time.Time      `bun:"last_processed,type:date"`
	CreatedAt      time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

func (r *obligationRow) domain() ledger.Obligation {
	o := ledger.Obligation{
		ID:             r.ID,
		UserID:         r.UserID,
		Amount:         r.Amount,
		Category:       r.Category,
		Description:    r.Description,
		Frequency:      ledger.Frequency(r.Frequency),
		StartDate:      ledger.DateOf(r.StartDate),
		NextOccurrence: ledger.DateOf(r.NextOccurrence),
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.EndDate != nil {
		end := ledger.DateOf(*r.EndDate)
		o.EndDate = &end
	}
	if r.LastProcessed != nil {
		last := ledger.DateOf(*r.LastProcessed)
		o.LastProcessed = &last
	}
	return o
}

var models = []any{
	(*transactionRow)(nil),
	(*budgetRow)(nil),
	(*goalRow)(nil),
	(*obligationRow)(nil),
}
