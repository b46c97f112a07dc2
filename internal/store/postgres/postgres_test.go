package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewWithDB(sqlx.NewDb(mockDB, "pgx"), nil), mock
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sale_sequences")).
		WithArgs("main-store", "2026-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(4))
	mock.ExpectCommit()

	var seq int
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		seq, err = tx.NextSaleSequence(ctx, "main-store", "2026-03-01")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 4, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxMapsSerializationFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.ApplyStockMovement(ctx, domain.StockMovement{
			ID: "mv-1", StoreID: "main-store", ProductID: "prd-1", Type: domain.MovementOut,
			QtyDelta: -1, BeforeQty: 5, AfterQty: 4, CreatedAt: time.Now().UTC(),
		}, 1000)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConcurrencyConflict))
	assert.True(t, domain.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStockMovementDetectsStaleQuantity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.ApplyStockMovement(ctx, domain.StockMovement{
			ID: "mv-1", StoreID: "main-store", ProductID: "prd-1", Type: domain.MovementIn,
			QtyDelta: 3, BeforeQty: 0, AfterQty: 3, CreatedAt: time.Now().UTC(),
		}, 500)
	})
	assert.True(t, errors.Is(err, domain.ErrConcurrencyConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStockMovementWritesProductThenMovement(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE products")).
		WithArgs("prd-1", "main-store", 7, int64(1200), at, 10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_movements")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.ApplyStockMovement(ctx, domain.StockMovement{
			ID: "mv-1", StoreID: "main-store", ProductID: "prd-1", Type: domain.MovementOut,
			QtyDelta: -3, ReferenceType: domain.RefSale, ReferenceID: "sale-1",
			BeforeQty: 10, AfterQty: 7, CostCents: 1200, CreatedBy: "cashier", CreatedAt: at,
		}, 1200)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCashTransactionReportsDuplicateSale(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (sale_transaction_id) WHERE sale_transaction_id <> '' DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	now := time.Now().UTC()
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertCashTransaction(ctx, domain.CashTransaction{
			ID: "cash-2", StoreID: "main-store", Type: domain.CashIncome, AmountCents: 30000,
			PaymentMethod: domain.PaymentCash, SaleTransactionID: "sale-1", ReferenceType: domain.RefSale,
			ReferenceID: "sale-1", CreatedBy: "cashier", CreatedAt: now, UpdatedAt: now,
		})
	})
	assert.True(t, errors.Is(err, domain.ErrDuplicateSync))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDrawerMapsOpenDrawerConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cash_drawers")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_cash_drawers_open"})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertDrawer(ctx, domain.CashDrawer{
			ID: "drw-2", StoreID: "main-store", CashierID: "cashier", OpenedAt: time.Now().UTC(),
			OpeningBalanceCents: 100000, Status: domain.DrawerOpen,
		})
	})
	assert.True(t, errors.Is(err, domain.ErrDrawerAlreadyOpen))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDrawerCashTotalsScansAggregates(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	to := from.Add(8 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cash_transactions")).
		WithArgs("main-store", "cashier", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"cash_in", "cash_out"}).AddRow(int64(50000), int64(5000)))
	mock.ExpectCommit()

	var totals domain.DrawerCashTotals
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		totals, err = tx.DrawerCashTotals(ctx, "main-store", "cashier", from, to)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), totals.CashInCents)
	assert.Equal(t, int64(5000), totals.CashOutCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCashTransactionNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM cash_transactions WHERE id = $1")).
		WithArgs("cash-missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetCashTransaction(context.Background(), "cash-missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCashTransactionsBuildsFilter(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	columns := []string{"id", "store_id", "type", "amount_cents", "payment_method", "category_id",
		"sale_transaction_id", "reference_type", "reference_id", "notes", "is_verified", "verified_by",
		"verified_at", "created_by", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM cash_transactions WHERE store_id = $1 AND type = $2 ORDER BY created_at DESC, id DESC LIMIT $3")).
		WithArgs("main-store", "EXPENSE", 10).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("cash-1", "main-store", "EXPENSE", int64(20000), "CASH", "supplies", "", "MANUAL", "", "paper", false, "", nil, "admin", created, created))

	entries, err := s.ListCashTransactions(context.Background(), domain.CashFilter{
		StoreID: "main-store",
		Type:    domain.CashExpense,
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CashExpense, entries[0].Type)
	assert.Equal(t, domain.PaymentCash, entries[0].PaymentMethod)
	assert.Equal(t, "supplies", entries[0].CategoryID)
	assert.Nil(t, entries[0].VerifiedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProductRejectsDuplicateSKU(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO products")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.CreateProduct(context.Background(), domain.Product{StoreID: "main-store", SKU: "sku-a", Name: "Kopi", PriceCents: 10000})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErrorPassesThroughOtherErrors(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, mapError(plain))

	lockTimeout := mapError(&pgconn.PgError{Code: "55P03"})
	assert.True(t, errors.Is(lockTimeout, domain.ErrConcurrencyConflict))

	fk := &pgconn.PgError{Code: "23503"}
	assert.Equal(t, error(fk), mapError(fk))
}

func TestWhereNumbersPlaceholders(t *testing.T) {
	w := newWhere()
	w.add("store_id = ?", "main-store")
	w.window("created_at", time.Unix(0, 0), time.Unix(10, 0))
	limit := w.limitOffset(domain.Page{Limit: 20, Offset: 40})

	assert.Equal(t, " WHERE store_id = $1 AND created_at >= $2 AND created_at < $3", w.sql())
	assert.Equal(t, " LIMIT $4 OFFSET $5", limit)
	assert.Len(t, w.args, 5)
}
