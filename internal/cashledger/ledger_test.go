package cashledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/cache"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store/memory"
)

const testStore = "main-store"

func newTestLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return New(repo, cache.NewLocalSyncGuard(), time.Minute, nil), repo
}

func insertCompletedSale(t *testing.T, repo *memory.Store, id string, total int64, method domain.PaymentMethod) {
	t.Helper()
	now := time.Now().UTC()
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.SaleTransaction{
			ID: id, StoreID: testStore, SequenceNo: 1, BusinessDate: "2026-03-01", CashierID: "cashier",
			TotalCents: total, Status: domain.SaleCompleted, PaymentCents: total, PaymentMethod: method,
			CreatedAt: now, UpdatedAt: now, CompletedAt: &now,
		})
	})
	require.NoError(t, err)
}

func TestRecordRejectsNonPositiveAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	for _, amount := range []int64{0, -500} {
		_, err := l.Record(context.Background(), testStore, "admin", domain.CashEntryRequest{
			Type: domain.CashExpense, AmountCents: amount, PaymentMethod: domain.PaymentCash,
		})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "amount %d", amount)
	}
}

func TestRecordValidatesCategory(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Record(ctx, testStore, "admin", domain.CashEntryRequest{Type: domain.CashExpense, AmountCents: 100, PaymentMethod: "cash", CategoryID: "nope"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = l.Record(ctx, testStore, "admin", domain.CashEntryRequest{Type: domain.CashExpense, AmountCents: 100, PaymentMethod: "cash", CategoryID: CategoryRefund})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput), "system categories are reserved")

	entry, err := l.Record(ctx, testStore, "admin", domain.CashEntryRequest{Type: domain.CashExpense, AmountCents: 100, PaymentMethod: "cash", CategoryID: "supplies"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCash, entry.PaymentMethod)
	assert.Equal(t, domain.RefManual, entry.ReferenceType)
}

func TestSyncSaleIsIdempotent(t *testing.T) {
	l, repo := newTestLedger(t)
	ctx := context.Background()
	insertCompletedSale(t, repo, "sale-1", 10000, domain.PaymentCash)

	first, err := l.SyncSale(ctx, testStore, "sale-1")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(10000), first.Entry.AmountCents)
	assert.Equal(t, "cashier", first.Entry.CreatedBy)

	second, err := l.SyncSale(ctx, testStore, "sale-1")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	entries, err := l.List(ctx, domain.CashFilter{StoreID: testStore})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSyncSaleConcurrentCallsWriteOnce(t *testing.T) {
	l, repo := newTestLedger(t)
	ctx := context.Background()
	insertCompletedSale(t, repo, "sale-1", 10000, domain.PaymentQRIS)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.SyncSale(ctx, testStore, "sale-1")
			if err != nil {
				assert.True(t, domain.IsRetryable(err), "unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := l.List(ctx, domain.CashFilter{StoreID: testStore})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSyncSaleRejectsDraftAndUnknownSale(t *testing.T) {
	l, repo := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.SaleTransaction{ID: "sale-draft", StoreID: testStore, Status: domain.SaleDraft, TotalCents: 500, CreatedAt: now})
	}))

	_, err := l.SyncSale(ctx, testStore, "sale-draft")
	assert.True(t, errors.Is(err, domain.ErrInvalidState))

	_, err = l.SyncSale(ctx, testStore, "sale-missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = l.SyncSale(ctx, "other-store", "sale-draft")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSaleEntriesAreImmutable(t *testing.T) {
	l, repo := newTestLedger(t)
	ctx := context.Background()
	insertCompletedSale(t, repo, "sale-1", 10000, domain.PaymentCash)
	synced, err := l.SyncSale(ctx, testStore, "sale-1")
	require.NoError(t, err)

	amount := int64(1)
	_, err = l.Update(ctx, testStore, synced.Entry.ID, domain.CashEntryPatch{AmountCents: &amount})
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
	assert.True(t, errors.Is(l.Delete(ctx, testStore, synced.Entry.ID), domain.ErrInvalidState))
}

func TestVerifiedEntriesAreImmutable(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	entry, err := l.Record(ctx, testStore, "admin", domain.CashEntryRequest{Type: domain.CashExpense, AmountCents: 2500, PaymentMethod: domain.PaymentCash, CategoryID: "utilities"})
	require.NoError(t, err)

	amount := int64(3000)
	notes := "electricity march"
	updated, err := l.Update(ctx, testStore, entry.ID, domain.CashEntryPatch{AmountCents: &amount, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), updated.AmountCents)
	assert.Equal(t, notes, updated.Notes)

	verified, err := l.Verify(ctx, testStore, "admin", entry.ID)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.NotNil(t, verified.VerifiedAt)

	_, err = l.Update(ctx, testStore, entry.ID, domain.CashEntryPatch{AmountCents: &amount})
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
	assert.True(t, errors.Is(l.Delete(ctx, testStore, entry.ID), domain.ErrInvalidState))
	_, err = l.Verify(ctx, testStore, "admin", entry.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestDeleteUnverifiedEntry(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	entry, err := l.Record(ctx, testStore, "admin", domain.CashEntryRequest{Type: domain.CashIncome, AmountCents: 700, PaymentMethod: domain.PaymentDebit})
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, testStore, entry.ID))
	_, err = l.Get(ctx, testStore, entry.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestBalanceFlowAndBreakdown(t *testing.T) {
	l, repo := newTestLedger(t)
	ctx := context.Background()
	insertCompletedSale(t, repo, "sale-1", 10000, domain.PaymentCash)
	insertCompletedSale(t, repo, "sale-2", 4000, domain.PaymentQRIS)
	_, err := l.SyncSale(ctx, testStore, "sale-1")
	require.NoError(t, err)
	_, err = l.SyncSale(ctx, testStore, "sale-2")
	require.NoError(t, err)

	for _, req := range []domain.CashEntryRequest{
		{Type: domain.CashExpense, AmountCents: 3000, PaymentMethod: domain.PaymentCash, CategoryID: "supplies"},
		{Type: domain.CashExpense, AmountCents: 1000, PaymentMethod: domain.PaymentCash, CategoryID: "utilities"},
		{Type: domain.CashExpense, AmountCents: 2000, PaymentMethod: domain.PaymentQRIS},
	} {
		_, err := l.Record(ctx, testStore, "admin", req)
		require.NoError(t, err)
	}

	all, err := l.Balance(ctx, testStore, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(14000), all.IncomeCents)
	assert.Equal(t, int64(6000), all.ExpenseCents)
	assert.Equal(t, int64(8000), all.BalanceCents)

	cash := domain.PaymentCash
	cashOnly, err := l.Balance(ctx, testStore, &cash)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), cashOnly.BalanceCents)

	flow, err := l.FlowSummary(ctx, testStore, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, flow.ByMethod, 3)
	assert.Equal(t, domain.PaymentCash, flow.ByMethod[0].PaymentMethod)
	assert.Equal(t, int64(6000), flow.ByMethod[0].NetCents)
	assert.Equal(t, int64(2000), flow.ByMethod[1].NetCents)
	assert.Equal(t, 0, flow.ByMethod[2].Entries)
	assert.Equal(t, int64(8000), flow.NetCents)

	breakdown, err := l.ExpenseBreakdown(ctx, testStore, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), breakdown.TotalCents)
	require.Len(t, breakdown.Categories, 3)
	assert.Equal(t, "supplies", breakdown.Categories[0].CategoryID)
	assert.Equal(t, "50.00", breakdown.Categories[0].SharePercent)
	assert.Equal(t, uncategorized, breakdown.Categories[1].CategoryID)
	assert.Equal(t, "33.33", breakdown.Categories[1].SharePercent)
	assert.Equal(t, "16.67", breakdown.Categories[2].SharePercent)

	_, err = l.FlowSummary(ctx, testStore, time.Now(), time.Now().Add(-time.Hour))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
