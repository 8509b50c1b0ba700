package recurring

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/makwenta/finance/ledger"
	"github.com/tanpawarit/makwenta/finance/ledger/memstore"
)

func newProcessor(t *testing.T, store ledger.Store) *Processor {
	t.Helper()
	p, err := NewProcessor(store, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return p
}

func seed(t *testing.T, store ledger.Store, o ledger.Obligation) ledger.Obligation {
	t.Helper()
	created, err := store.CreateObligation(context.Background(), o)
	require.NoError(t, err)
	return created
}

func TestProcessDueIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	rent := seed(t, store, obligation(0, 2100, ledger.Monthly, "2025-01-31"))
	asOf := day("2025-02-01")

	p := newProcessor(t, store)
	first, err := p.ProcessDue(ctx, asOf, "")
	require.NoError(t, err)
	require.Equal(t, 1, first.Processed)
	require.Empty(t, first.Errors)

	second, err := p.ProcessDue(ctx, asOf, "")
	require.NoError(t, err)
	require.Equal(t, 0, second.Processed)

	got, err := store.GetObligation(ctx, "u1", rent.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-02-28", ledger.FormatDate(got.NextOccurrence))
	require.Equal(t, "2025-02-01", ledger.FormatDate(*got.LastProcessed))

	txs, err := store.ListTransactions(ctx, "u1", day("2025-01-01"), day("2025-12-31"))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "2025-01-31", ledger.FormatDate(txs[0].ExpenseDate))
	require.Equal(t, "[Auto] item", txs[0].Description)
	require.True(t, txs[0].Amount.Equal(decimal.NewFromInt(2100)))
}

func TestProcessDueAdvancesOnAnchor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	o := obligation(0, 10, ledger.Monthly, "2025-02-28")
	o.StartDate = day("2025-01-31")
	created := seed(t, store, o)

	_, err := newProcessor(t, store).ProcessDue(ctx, day("2025-03-01"), "")
	require.NoError(t, err)

	got, err := store.GetObligation(ctx, "u1", created.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-03-31", ledger.FormatDate(got.NextOccurrence))
}

func TestProcessDueCatchesUpOneOccurrencePerRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	created := seed(t, store, obligation(0, 5, ledger.Weekly, "2025-03-01"))
	p := newProcessor(t, store)
	asOf := day("2025-03-20")

	for want := 1; want <= 3; want++ {
		res, err := p.ProcessDue(ctx, asOf, "")
		require.NoError(t, err)
		require.Equal(t, 1, res.Processed)
	}
	res, err := p.ProcessDue(ctx, asOf, "")
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)

	got, err := store.GetObligation(ctx, "u1", created.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-03-22", ledger.FormatDate(got.NextOccurrence))
}

func TestProcessDueDeactivatesPastEndDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	o := obligation(0, 5, ledger.Monthly, "2025-03-10")
	end := day("2025-03-31")
	o.EndDate = &end
	o.Description = ""
	created := seed(t, store, o)

	res, err := newProcessor(t, store).ProcessDue(ctx, day("2025-03-10"), "")
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	got, err := store.GetObligation(ctx, "u1", created.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	txs, err := store.ListTransactions(ctx, "u1", day("2025-03-10"), day("2025-03-10"))
	require.NoError(t, err)
	require.Equal(t, "[Auto-recurring]", txs[0].Description)
}

func TestProcessDueScopesToUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	mine := obligation(0, 5, ledger.Daily, "2025-03-01")
	theirs := obligation(0, 5, ledger.Daily, "2025-03-01")
	theirs.UserID = "u2"
	seed(t, store, mine)
	seed(t, store, theirs)

	res, err := newProcessor(t, store).ProcessDue(ctx, day("2025-03-01"), "u2")
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	total, err := store.SumSpending(ctx, "u1", day("2025-03-01"), day("2025-03-01"), "all")
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestProcessDueSkipsEndDateMovedBeforeNext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	created := seed(t, store, obligation(0, 5, ledger.Monthly, "2025-03-10"))

	end := day("2025-03-01")
	edited, err := store.UpdateObligation(ctx, ledger.ObligationPatch{ID: created.ID, UserID: "u1", EndDate: &end})
	require.NoError(t, err)
	require.False(t, edited.IsActive)

	res, err := newProcessor(t, store).ProcessDue(ctx, day("2025-03-15"), "")
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)

	txs, err := store.ListTransactions(ctx, "u1", day("2025-01-01"), day("2025-12-31"))
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestProcessDueDeactivatesWithoutRecordingWhenAlreadyEnded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	o := obligation(0, 5, ledger.Monthly, "2025-03-10")
	end := day("2025-03-01")
	o.EndDate = &end
	created := seed(t, store, o)

	res, err := newProcessor(t, store).ProcessDue(ctx, day("2025-03-15"), "")
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)
	require.Empty(t, res.Errors)

	got, err := store.GetObligation(ctx, "u1", created.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Equal(t, "2025-03-10", ledger.FormatDate(got.NextOccurrence))

	txs, err := store.ListTransactions(ctx, "u1", day("2025-01-01"), day("2025-12-31"))
	require.NoError(t, err)
	require.Empty(t, txs)
}

// failingStore fails ApplyOccurrence for selected obligations.
type failingStore struct {
	*memstore.Store
	failFor map[int64]bool
}

func (s *failingStore) ApplyOccurrence(ctx context.Context, occ ledger.Occurrence) error {
	if s.failFor[occ.ObligationID] {
		return errors.New("connection reset")
	}
	return s.Store.ApplyOccurrence(ctx, occ)
}

func TestProcessDueContinuesAfterItemFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := memstore.New()
	bad := seed(t, base, obligation(0, 5, ledger.Daily, "2025-03-01"))
	seed(t, base, obligation(0, 7, ledger.Daily, "2025-03-01"))
	store := &failingStore{Store: base, failFor: map[int64]bool{bad.ID: true}}

	res, err := newProcessor(t, store).ProcessDue(ctx, day("2025-03-01"), "")
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Len(t, res.Errors, 1)
	require.Equal(t, bad.ID, res.Errors[0].ObligationID)
	require.Contains(t, res.Errors[0].Error(), "connection reset")
}

func TestProcessDueConcurrentRunsRecordOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	seed(t, store, obligation(0, 5, ledger.Monthly, "2025-03-01"))
	p := newProcessor(t, store)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.ProcessDue(ctx, day("2025-03-01"), "")
			if err != nil {
				return
			}
			mu.Lock()
			total += res.Processed
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, total)
	txs, err := store.ListTransactions(ctx, "u1", day("2025-03-01"), day("2025-03-01"))
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestAutoDescription(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[Auto] Netflix", AutoDescription(" Netflix "))
	require.Equal(t, "[Auto-recurring]", AutoDescription(""))
}

func TestNewProcessorRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := NewProcessor(nil)
	require.Error(t, err)
}
