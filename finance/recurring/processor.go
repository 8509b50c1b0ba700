package recurring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tanpawarit/makwenta/finance/ledger"
	logx "github.com/tanpawarit/makwenta/pkg/logger"
)

// ItemError records one obligation that could not be processed.
type ItemError struct {
	ObligationID int64
	UserID       string
	Err          error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("recurring expense %d: %v", e.ObligationID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

type Result struct {
	Processed int
	Errors    []ItemError
}

// Processor turns due obligations into ledger transactions.
type Processor struct {
	store  ledger.Store
	log    zerolog.Logger
	tracer trace.Tracer
}

type Option func(*Processor)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) {
		if t != nil {
			p.tracer = t
		}
	}
}

func NewProcessor(store ledger.Store, opts ...Option) (*Processor, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	p := &Processor{
		store:  store,
		log:    logx.For("recurring"),
		tracer: otel.Tracer("github.com/tanpawarit/makwenta/finance/recurring"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ProcessDue materializes the current occurrence of every active obligation
// due on or before asOf, optionally restricted to one user. Each obligation
// is committed on its own; a failure is recorded and the batch moves on.
// Obligations several periods behind advance one occurrence per run.
func (p *Processor) ProcessDue(ctx context.Context, asOf time.Time, userID string) (Result, error) {
	asOf = ledger.DateOf(asOf)
	ctx, span := p.tracer.Start(ctx, "recurring.process_due", trace.WithAttributes(
		attribute.String("as_of", ledger.FormatDate(asOf)),
		attribute.String("user_id", userID),
	))
	defer span.End()

	due, err := p.store.ListDueObligations(ctx, asOf, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due")
		return Result{}, fmt.Errorf("list due recurring expenses: %w", err)
	}

	var res Result
	for _, o := range due {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return res, err
		}

		applied, err := p.processOne(ctx, o, asOf)
		switch {
		case err != nil:
			p.log.Warn().Err(err).Int64("obligation_id", o.ID).Str("user_id", o.UserID).Msg("recurring occurrence failed")
			res.Errors = append(res.Errors, ItemError{ObligationID: o.ID, UserID: o.UserID, Err: err})
		case applied:
			res.Processed++
		}
	}

	span.SetAttributes(
		attribute.Int("processed", res.Processed),
		attribute.Int("failed", len(res.Errors)),
	)
	if len(res.Errors) > 0 {
		span.SetStatus(codes.Error, "some recurring expenses failed")
	}
	p.log.Info().
		Str("as_of", ledger.FormatDate(asOf)).
		Int("due", len(due)).
		Int("processed", res.Processed).
		Int("failed", len(res.Errors)).
		Msg("due recurring expenses processed")
	return res, nil
}

func (p *Processor) processOne(ctx context.Context, o ledger.Obligation, asOf time.Time) (bool, error) {
	// An end date moved before the pending occurrence leaves nothing to record.
	if o.EndsBefore(o.NextOccurrence) {
		if _, err := p.store.SetObligationActive(ctx, o.UserID, o.ID, false); err != nil {
			return false, err
		}
		p.log.Debug().
			Int64("obligation_id", o.ID).
			Str("next", ledger.FormatDate(o.NextOccurrence)).
			Msg("recurring expense ended before its next occurrence, deactivated")
		return false, nil
	}

	next, err := NextFor(o, o.NextOccurrence)
	if err != nil {
		return false, err
	}

	occ := ledger.Occurrence{
		ObligationID: o.ID,
		Due:          o.NextOccurrence,
		Next:         next,
		Deactivate:   o.EndsBefore(next),
		ProcessedOn:  asOf,
		Transaction: ledger.Transaction{
			UserID:      o.UserID,
			Amount:      o.Amount,
			Category:    o.Category,
			Description: AutoDescription(o.Description),
			ExpenseDate: o.NextOccurrence,
			Automated:   true,
		},
	}

	if err := p.store.ApplyOccurrence(ctx, occ); err != nil {
		if errors.Is(err, ledger.ErrStaleOccurrence) {
			// Another run got there first.
			p.log.Debug().Int64("obligation_id", o.ID).Msg("occurrence already applied")
			return false, nil
		}
		return false, err
	}

	p.log.Debug().
		Int64("obligation_id", o.ID).
		Str("date", ledger.FormatDate(occ.Due)).
		Str("next", ledger.FormatDate(next)).
		Bool("deactivated", occ.Deactivate).
		Msg("recurring occurrence recorded")
	return true, nil
}

// AutoDescription tags a generated transaction's description.
func AutoDescription(desc string) string {
	if d := strings.TrimSpace(desc); d != "" {
		return "[Auto] " + d
	}
	return "[Auto-recurring]"
}
