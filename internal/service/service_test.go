package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store/memory"
)

// flakyRepo fails the first n units of work with a concurrency conflict.
type flakyRepo struct {
	*memory.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (r *flakyRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	r.calls.Add(1)
	if r.failures.Add(-1) >= 0 {
		return domain.ErrConcurrencyConflict
	}
	return r.Store.WithinTx(ctx, fn)
}

// brokenStockRepo hands out units whose stock writes always fail.
type brokenStockRepo struct {
	*memory.Store
}

type brokenStockTx struct {
	store.Tx
}

func (brokenStockTx) ApplyStockMovement(context.Context, domain.StockMovement, int64) error {
	return errors.New("stock_movements unavailable")
}

func (r *brokenStockRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return r.Store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, brokenStockTx{Tx: tx})
	})
}

type brokenAuditRepo struct {
	*memory.Store
}

func (r *brokenAuditRepo) CreateAuditLog(context.Context, domain.AuditLog) error {
	return errors.New("audit table unavailable")
}

func newTestService(repo store.Repository) *Service {
	return New(repo, nil, nil, Options{DefaultStoreID: "main-store", Location: time.UTC, RetryAttempts: 3}, nil)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin, StoreID: "main-store"})
}

func cashierCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: domain.RoleCashier, StoreID: "main-store"})
}

func seedProduct(t *testing.T, svc *Service, sku string, qty int) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU:              sku,
		Name:             "Produk " + sku,
		Category:         "snack",
		PriceCents:       10000,
		InitialStock:     qty,
		InitialCostCents: 6000,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService(memory.New())

	_, err := svc.CreateProduct(cashierCtx("cashier"), domain.ProductCreateRequest{SKU: "SKU-1", Name: "Mie", PriceCents: 3000})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for cashier, got %v", err)
	}
}

func TestCreateProductBooksInitialStockThroughLedger(t *testing.T) {
	svc := newTestService(memory.New())
	product := seedProduct(t, svc, "sku-mie-01", 12)

	if product.SKU != "SKU-MIE-01" {
		t.Fatalf("expected normalized sku, got %s", product.SKU)
	}
	if product.Qty != 12 || product.CostCents != 6000 {
		t.Fatalf("expected qty 12 at cost 6000, got qty %d cost %d", product.Qty, product.CostCents)
	}

	page, err := svc.StockMovements(adminCtx(), product.ID, domain.Page{})
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if page.Total != 1 || page.Movements[0].Type != domain.MovementIn || page.Movements[0].ReferenceType != domain.RefPurchase {
		t.Fatalf("expected a single PURCHASE IN movement, got %+v", page.Movements)
	}
}

func TestCreateProductLeavesNothingWhenOpeningStockFails(t *testing.T) {
	repo := &brokenStockRepo{Store: memory.New()}
	svc := newTestService(repo)

	_, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU: "SKU-GARAM", Name: "Garam", PriceCents: 4000, InitialStock: 10, InitialCostCents: 2500,
	})
	if err == nil {
		t.Fatalf("expected opening stock failure to surface")
	}
	products, err := svc.ListProducts(adminCtx())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected no half-created product, got %+v", products)
	}

	// without opening stock no movement is written, so the product is created
	if _, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{SKU: "SKU-GARAM", Name: "Garam", PriceCents: 4000}); err != nil {
		t.Fatalf("expected sku to be free again, got %v", err)
	}
}

func TestSaleLifecycleWritesAudit(t *testing.T) {
	svc := newTestService(memory.New())
	product := seedProduct(t, svc, "SKU-KOPI", 10)
	ctx := cashierCtx("cashier")

	draft, err := svc.CreateSale(ctx, domain.SaleCreateRequest{Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 2}}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if draft.CashierID != "cashier" {
		t.Fatalf("expected cashier from actor, got %s", draft.CashierID)
	}

	done, err := svc.CompleteSale(ctx, draft.ID, domain.SaleCompleteRequest{PaymentCents: 25000, PaymentMethod: domain.PaymentCash})
	if err != nil {
		t.Fatalf("complete sale: %v", err)
	}
	if done.Sale.ChangeCents != 5000 {
		t.Fatalf("expected change 5000, got %d", done.Sale.ChangeCents)
	}

	synced, err := svc.SyncSaleCash(ctx, draft.ID)
	if err != nil {
		t.Fatalf("sync sale: %v", err)
	}
	if !synced.Duplicate {
		t.Fatalf("expected completed sale to already be synced")
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 50)
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "sale_complete" && entry.EntityID == draft.ID && entry.ActorUsername == "cashier" {
			found = true
		}
		if entry.Action == "cash_sync_sale" {
			t.Fatalf("duplicate sync must not be audited")
		}
	}
	if !found {
		t.Fatalf("expected sale_complete audit entry, got %+v", logs)
	}
}

func TestRetriesConcurrencyConflict(t *testing.T) {
	repo := &flakyRepo{Store: memory.New()}
	svc := newTestService(repo)
	product := seedProduct(t, svc, "SKU-TEH", 5)

	repo.failures.Store(2)
	repo.calls.Store(0)
	draft, err := svc.CreateSale(cashierCtx("cashier"), domain.SaleCreateRequest{Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 1}}})
	if err != nil {
		t.Fatalf("expected sale to succeed after retries, got %v", err)
	}
	if draft == nil || draft.SequenceNo != 1 {
		t.Fatalf("expected first sequence number, got %+v", draft)
	}
	if got := repo.calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	repo := &flakyRepo{Store: memory.New()}
	svc := newTestService(repo)
	product := seedProduct(t, svc, "SKU-GULA", 5)

	repo.failures.Store(10)
	repo.calls.Store(0)
	_, err := svc.CreateSale(cashierCtx("cashier"), domain.SaleCreateRequest{Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 1}}})
	if !domain.IsRetryable(err) {
		t.Fatalf("expected retryable conflict after budget, got %v", err)
	}
	if got := repo.calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
}

func TestNonRetryableErrorsAreNotRetried(t *testing.T) {
	repo := &flakyRepo{Store: memory.New()}
	svc := newTestService(repo)
	product := seedProduct(t, svc, "SKU-SUSU", 1)

	repo.calls.Store(0)
	draft, err := svc.CreateSale(cashierCtx("cashier"), domain.SaleCreateRequest{Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 3}}})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	_, err = svc.CompleteSale(cashierCtx("cashier"), draft.ID, domain.SaleCompleteRequest{PaymentCents: 30000, PaymentMethod: domain.PaymentCash})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := repo.calls.Load(); got != 2 {
		t.Fatalf("expected one unit for create and one for complete, got %d", got)
	}
}

func TestCashiersSeeOnlyTheirOwnSales(t *testing.T) {
	svc := newTestService(memory.New())
	product := seedProduct(t, svc, "SKU-ROTI", 20)

	for _, cashier := range []string{"ani", "budi", "ani"} {
		if _, err := svc.CreateSale(cashierCtx(cashier), domain.SaleCreateRequest{Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 1}}}); err != nil {
			t.Fatalf("create sale: %v", err)
		}
	}

	own, err := svc.ListSales(cashierCtx("ani"), store.SaleQuery{CashierID: "budi"})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(own) != 2 {
		t.Fatalf("expected cashier filter forced to ani, got %d sales", len(own))
	}

	all, err := svc.ListSales(adminCtx(), store.SaleQuery{})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected admin to see 3 sales, got %d", len(all))
	}
}

func TestCashierCannotCloseAnotherDrawer(t *testing.T) {
	svc := newTestService(memory.New())

	opened, err := svc.OpenDrawer(cashierCtx("ani"), domain.DrawerOpenRequest{OpeningBalanceCents: 100000})
	if err != nil {
		t.Fatalf("open drawer: %v", err)
	}

	_, err = svc.CloseDrawer(cashierCtx("budi"), opened.ID, domain.DrawerCloseRequest{})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.GetDrawer(cashierCtx("budi"), opened.ID); !errors.Is(err, domain.ErrDrawerNotFound) {
		t.Fatalf("expected other cashier's drawer to be hidden, got %v", err)
	}

	counted := int64(100000)
	closed, err := svc.CloseDrawer(adminCtx(), opened.ID, domain.DrawerCloseRequest{CountedBalanceCents: &counted})
	if err != nil {
		t.Fatalf("admin close: %v", err)
	}
	if closed.Status != domain.DrawerBalanced {
		t.Fatalf("expected BALANCED, got %s", closed.Status)
	}
}

func TestStoreComesFromActor(t *testing.T) {
	svc := newTestService(memory.New())
	otherAdmin := WithActor(context.Background(), domain.Actor{Username: "owner", Role: domain.RoleAdmin, StoreID: "branch-2"})

	if _, err := svc.CreateProduct(otherAdmin, domain.ProductCreateRequest{SKU: "SKU-X", Name: "Branch item", PriceCents: 5000}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	mainProducts, err := svc.ListProducts(adminCtx())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(mainProducts) != 0 {
		t.Fatalf("expected main-store catalog to stay empty, got %d", len(mainProducts))
	}
	branchProducts, err := svc.ListProducts(otherAdmin)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(branchProducts) != 1 {
		t.Fatalf("expected one branch product, got %d", len(branchProducts))
	}
}

func TestAuditFailureDoesNotFailRequest(t *testing.T) {
	svc := newTestService(&brokenAuditRepo{Store: memory.New()})

	entry, err := svc.RecordCash(adminCtx(), domain.CashEntryRequest{
		Type:          domain.CashExpense,
		AmountCents:   15000,
		PaymentMethod: domain.PaymentCash,
		CategoryID:    "supplies",
		Notes:         "plastic bags",
	})
	if err != nil {
		t.Fatalf("expected cash entry despite audit failure, got %v", err)
	}
	if entry.CreatedBy != "admin" {
		t.Fatalf("expected created_by from actor, got %s", entry.CreatedBy)
	}
}

func TestAuditLogDateValidation(t *testing.T) {
	svc := newTestService(memory.New())

	if _, err := svc.ListAuditLogs(adminCtx(), "15-10-2026", 10); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad date, got %v", err)
	}
	if _, err := svc.ListAuditLogs(cashierCtx("cashier"), "", 10); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected cashier to be forbidden, got %v", err)
	}
}
