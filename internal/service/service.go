package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/cache"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/cashledger"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/drawer"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/returns"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/sale"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/stockledger"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultStoreID string
	Location       *time.Location
	AllowBackorder bool
	ValuationTTL   time.Duration
	SyncGuardTTL   time.Duration
	RetryAttempts  int
}

// Service is the application facade over the ledgers. It resolves the
// acting user and store, retries units that lost a concurrency race and
// records audit entries once a unit has committed.
type Service struct {
	repo           store.Repository
	stock          *stockledger.Ledger
	cash           *cashledger.Ledger
	sales          *sale.Engine
	returns        *returns.Processor
	drawers        *drawer.Reconciler
	defaultStoreID string
	retryAttempts  int
	log            *zap.Logger
}

func New(repo store.Repository, valuations cache.ValuationCache, guard cache.SyncGuard, opts Options, log *zap.Logger) *Service {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 3
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}

	stock := stockledger.New(repo, valuations, stockledger.Options{
		AllowBackorder: opts.AllowBackorder,
		ValuationTTL:   opts.ValuationTTL,
	}, log)
	cash := cashledger.New(repo, guard, opts.SyncGuardTTL, log)

	return &Service{
		repo:           repo,
		stock:          stock,
		cash:           cash,
		sales:          sale.New(repo, stock, cash, opts.Location, log),
		returns:        returns.New(repo, stock, cash, log),
		drawers:        drawer.New(repo, log),
		defaultStoreID: opts.DefaultStoreID,
		retryAttempts:  opts.RetryAttempts,
		log:            log.Named("service"),
	}
}

// Stock exposes the stock ledger for startup seeding.
func (s *Service) Stock() *stockledger.Ledger {
	return s.stock
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	_, storeID := s.scope(ctx)
	return s.repo.ListProducts(ctx, storeID)
}

// CreateProduct registers a product with zero stock. A positive initial
// stock is booked as a PURCHASE receipt in the same unit, so either both the
// product and its ledger trail exist or neither does.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, domain.Invalidf("sku and name are required")
	}
	if req.PriceCents < 1 || req.MinStock < 0 || req.InitialStock < 0 || req.InitialCostCents < 0 {
		return domain.Product{}, domain.Invalidf("price must be positive and stock values must not be negative")
	}

	var created *domain.Product
	err := s.retry(ctx, "product_create", func() error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			product, err := tx.InsertProduct(ctx, domain.Product{
				StoreID:    storeID,
				SKU:        req.SKU,
				Name:       req.Name,
				Category:   req.Category,
				MinStock:   req.MinStock,
				PriceCents: req.PriceCents,
			})
			if err != nil {
				return err
			}
			if req.InitialStock > 0 {
				cost := req.InitialCostCents
				if _, err := s.stock.RecordMovement(ctx, tx, stockledger.MovementInput{
					StoreID:       storeID,
					ProductID:     product.ID,
					Type:          domain.MovementIn,
					Quantity:      req.InitialStock,
					ReferenceType: domain.RefPurchase,
					CostCents:     &cost,
					Notes:         "initial stock",
					CreatedBy:     actor.Username,
				}); err != nil {
					return err
				}
			}
			created = product
			return nil
		})
	})
	if err != nil {
		return domain.Product{}, err
	}
	if req.InitialStock > 0 {
		s.stock.InvalidateValuation(ctx, storeID)
		refreshed, err := s.repo.GetProduct(ctx, storeID, created.ID)
		if err != nil {
			return domain.Product{}, err
		}
		created = refreshed
	}

	s.logAudit(ctx, storeID, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%d,stock=%d", created.SKU, created.PriceCents, req.InitialStock))
	return *created, nil
}

func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceiveRequest) (*domain.StockMovement, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var movement *domain.StockMovement
	err := s.retry(ctx, "stock_receive", func() (err error) {
		movement, err = s.stock.Receive(ctx, storeID, actor.Username, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "stock_receive", "product", movement.ProductID, fmt.Sprintf("qty=%d,cost=%d", movement.QtyDelta, movement.CostCents))
	return movement, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (*domain.StockMovement, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var movement *domain.StockMovement
	err := s.retry(ctx, "stock_adjust", func() (err error) {
		movement, err = s.stock.Adjust(ctx, storeID, actor.Username, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "stock_adjust", "product", movement.ProductID, fmt.Sprintf("delta=%d,notes=%s", movement.QtyDelta, movement.Notes))
	return movement, nil
}

func (s *Service) StockOpname(ctx context.Context, req domain.StockOpnameRequest) (domain.StockOpnameResponse, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return domain.StockOpnameResponse{}, err
	}
	lines := make([]stockledger.OpnameLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, stockledger.OpnameLine{ProductID: strings.TrimSpace(line.ProductID), CountedQty: line.CountedQty})
	}

	var resp domain.StockOpnameResponse
	err := s.retry(ctx, "stock_opname", func() error {
		opnameID, movements, unchanged, err := s.stock.Opname(ctx, storeID, actor.Username, lines, req.Notes)
		if err != nil {
			return err
		}
		resp = domain.StockOpnameResponse{OpnameID: opnameID, Movements: movements, Unchanged: unchanged}
		return nil
	})
	if err != nil {
		return domain.StockOpnameResponse{}, err
	}
	s.logAudit(ctx, storeID, "stock_opname", "opname", resp.OpnameID, fmt.Sprintf("lines=%d,adjusted=%d", len(lines), len(resp.Movements)))
	return resp, nil
}

func (s *Service) StockMovements(ctx context.Context, productID string, page domain.Page) (*domain.MovementPage, error) {
	_, storeID := s.scope(ctx)
	return s.stock.MovementsByProduct(ctx, storeID, strings.TrimSpace(productID), page)
}

func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	_, storeID := s.scope(ctx)
	return s.stock.LowStock(ctx, storeID)
}

func (s *Service) StockValuation(ctx context.Context) (*domain.InventoryValuation, error) {
	_, storeID := s.scope(ctx)
	return s.stock.Valuation(ctx, storeID)
}

func (s *Service) DeadStock(ctx context.Context, days int) ([]domain.DeadStockItem, error) {
	_, storeID := s.scope(ctx)
	return s.stock.DeadStock(ctx, storeID, days)
}

func (s *Service) ReplayStock(ctx context.Context, productID string) (*domain.ReplayResult, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	result, err := s.stock.Replay(ctx, storeID, strings.TrimSpace(productID))
	if err != nil {
		return nil, err
	}
	if !result.Consistent {
		s.log.Error("stock ledger replay mismatch",
			zap.String("store_id", storeID),
			zap.String("product_id", result.ProductID),
			zap.Int("replayed_qty", result.ReplayedQty),
			zap.Int("current_qty", result.CurrentQty),
		)
	}
	return result, nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.SaleTransaction, error) {
	actor, storeID := s.scope(ctx)
	var created *domain.SaleTransaction
	err := s.retry(ctx, "sale_create", func() (err error) {
		created, err = s.sales.Create(ctx, storeID, actor.Username, req)
		return err
	})
	return created, err
}

func (s *Service) UpdateSale(ctx context.Context, saleID string, req domain.SaleCreateRequest) (*domain.SaleTransaction, error) {
	_, storeID := s.scope(ctx)
	var updated *domain.SaleTransaction
	err := s.retry(ctx, "sale_update", func() (err error) {
		updated, err = s.sales.Update(ctx, storeID, saleID, req)
		return err
	})
	return updated, err
}

func (s *Service) CompleteSale(ctx context.Context, saleID string, req domain.SaleCompleteRequest) (*domain.SaleCompletion, error) {
	_, storeID := s.scope(ctx)
	var completion *domain.SaleCompletion
	err := s.retry(ctx, "sale_complete", func() (err error) {
		completion, err = s.sales.Complete(ctx, storeID, saleID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "sale_complete", "sale", saleID, fmt.Sprintf("total=%d,method=%s", completion.Sale.TotalCents, completion.Sale.PaymentMethod))
	return completion, nil
}

// DeleteSale removes a draft or reverses a completed sale. Callers gate
// completed-sale reversal behind the manager PIN.
func (s *Service) DeleteSale(ctx context.Context, saleID string) (*domain.SaleTransaction, error) {
	actor, storeID := s.scope(ctx)
	var deleted *domain.SaleTransaction
	err := s.retry(ctx, "sale_delete", func() (err error) {
		deleted, err = s.sales.Delete(ctx, storeID, saleID, actor.Username)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "sale_delete", "sale", saleID, fmt.Sprintf("total=%d", deleted.TotalCents))
	return deleted, nil
}

func (s *Service) LockSale(ctx context.Context, saleID string) (*domain.SaleTransaction, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var locked *domain.SaleTransaction
	err := s.retry(ctx, "sale_lock", func() (err error) {
		locked, err = s.sales.Lock(ctx, storeID, saleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "sale_lock", "sale", saleID, "")
	return locked, nil
}

func (s *Service) LockSalePeriod(ctx context.Context, until time.Time) (domain.SaleLockPeriodResponse, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return domain.SaleLockPeriodResponse{}, err
	}
	var locked int
	err := s.retry(ctx, "sale_lock_period", func() (err error) {
		locked, err = s.sales.LockPeriod(ctx, storeID, until)
		return err
	})
	if err != nil {
		return domain.SaleLockPeriodResponse{}, err
	}
	s.logAudit(ctx, storeID, "sale_lock_period", "store", storeID, fmt.Sprintf("until=%s,locked=%d", until.UTC().Format(time.RFC3339), locked))
	return domain.SaleLockPeriodResponse{Locked: locked}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (*domain.SaleTransaction, error) {
	_, storeID := s.scope(ctx)
	return s.sales.Get(ctx, storeID, saleID)
}

// ListSales scopes the query to the actor's store. Cashiers only see their
// own sales.
func (s *Service) ListSales(ctx context.Context, q store.SaleQuery) ([]domain.SaleTransaction, error) {
	actor, storeID := s.scope(ctx)
	q.StoreID = storeID
	if actor.Role == domain.RoleCashier {
		q.CashierID = actor.Username
	}
	return s.sales.List(ctx, q)
}

func (s *Service) SyncSaleCash(ctx context.Context, saleID string) (*domain.CashEntryResponse, error) {
	_, storeID := s.scope(ctx)
	var resp *domain.CashEntryResponse
	err := s.retry(ctx, "sale_sync_cash", func() (err error) {
		resp, err = s.cash.SyncSale(ctx, storeID, saleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !resp.Duplicate {
		s.logAudit(ctx, storeID, "cash_sync_sale", "sale", saleID, fmt.Sprintf("entry=%s", resp.Entry.ID))
	}
	return resp, nil
}

func (s *Service) RecordCash(ctx context.Context, req domain.CashEntryRequest) (*domain.CashTransaction, error) {
	actor, storeID := s.scope(ctx)
	var entry *domain.CashTransaction
	err := s.retry(ctx, "cash_record", func() (err error) {
		entry, err = s.cash.Record(ctx, storeID, actor.Username, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "cash_record", "cash_transaction", entry.ID, fmt.Sprintf("type=%s,amount=%d,method=%s", entry.Type, entry.AmountCents, entry.PaymentMethod))
	return entry, nil
}

func (s *Service) UpdateCash(ctx context.Context, id string, patch domain.CashEntryPatch) (*domain.CashTransaction, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var entry *domain.CashTransaction
	err := s.retry(ctx, "cash_update", func() (err error) {
		entry, err = s.cash.Update(ctx, storeID, id, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "cash_update", "cash_transaction", id, fmt.Sprintf("amount=%d", entry.AmountCents))
	return entry, nil
}

func (s *Service) DeleteCash(ctx context.Context, id string) error {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.retry(ctx, "cash_delete", func() error {
		return s.cash.Delete(ctx, storeID, id)
	}); err != nil {
		return err
	}
	s.logAudit(ctx, storeID, "cash_delete", "cash_transaction", id, "")
	return nil
}

func (s *Service) VerifyCash(ctx context.Context, id string) (*domain.CashTransaction, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var entry *domain.CashTransaction
	err := s.retry(ctx, "cash_verify", func() (err error) {
		entry, err = s.cash.Verify(ctx, storeID, actor.Username, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "cash_verify", "cash_transaction", id, "")
	return entry, nil
}

func (s *Service) ListCash(ctx context.Context, filter domain.CashFilter) ([]domain.CashTransaction, error) {
	_, storeID := s.scope(ctx)
	filter.StoreID = storeID
	return s.cash.List(ctx, filter)
}

func (s *Service) CashBalance(ctx context.Context, method *domain.PaymentMethod) (*domain.CashBalance, error) {
	_, storeID := s.scope(ctx)
	return s.cash.Balance(ctx, storeID, method)
}

func (s *Service) CashFlow(ctx context.Context, from time.Time, to time.Time) (*domain.CashFlowSummary, error) {
	_, storeID := s.scope(ctx)
	return s.cash.FlowSummary(ctx, storeID, from, to)
}

func (s *Service) ExpenseBreakdown(ctx context.Context, from time.Time, to time.Time) (*domain.ExpenseBreakdown, error) {
	_, storeID := s.scope(ctx)
	return s.cash.ExpenseBreakdown(ctx, storeID, from, to)
}

func (s *Service) CashCategories(ctx context.Context) ([]domain.ExpenseCategory, error) {
	return s.cash.Categories(ctx)
}

// CreateReturn books a refund against a completed or locked sale. Callers
// gate it behind the manager PIN.
func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnCreateRequest) (*domain.Return, error) {
	actor, storeID := s.scope(ctx)
	var ret *domain.Return
	err := s.retry(ctx, "return_create", func() (err error) {
		ret, err = s.returns.CreateReturn(ctx, storeID, actor.Username, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "return_create", "return", ret.ID, fmt.Sprintf("sale=%s,refund=%d,method=%s", ret.SaleTransactionID, ret.RefundTotalCents, ret.RefundMethod))
	return ret, nil
}

func (s *Service) ListReturnable(ctx context.Context, page domain.Page) ([]domain.ReturnableSale, error) {
	actor, storeID := s.scope(ctx)
	cashierID := ""
	if actor.Role == domain.RoleCashier {
		cashierID = actor.Username
	}
	return s.returns.ListReturnable(ctx, storeID, cashierID, page)
}

func (s *Service) GetReturn(ctx context.Context, returnID string) (*domain.Return, error) {
	_, storeID := s.scope(ctx)
	return s.returns.Get(ctx, storeID, returnID)
}

func (s *Service) ReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error) {
	_, storeID := s.scope(ctx)
	return s.returns.ListBySale(ctx, storeID, saleID)
}

func (s *Service) OpenDrawer(ctx context.Context, req domain.DrawerOpenRequest) (*domain.CashDrawer, error) {
	actor, storeID := s.scope(ctx)
	var opened *domain.CashDrawer
	err := s.retry(ctx, "drawer_open", func() (err error) {
		opened, err = s.drawers.Open(ctx, storeID, actor.Username, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "drawer_open", "cash_drawer", opened.ID, fmt.Sprintf("opening=%d", opened.OpeningBalanceCents))
	return opened, nil
}

func (s *Service) CurrentDrawer(ctx context.Context) (*domain.CashDrawer, error) {
	actor, storeID := s.scope(ctx)
	return s.drawers.Current(ctx, storeID, actor.Username)
}

// CloseDrawer closes a drawer. Cashiers may only close their own.
func (s *Service) CloseDrawer(ctx context.Context, drawerID string, req domain.DrawerCloseRequest) (*domain.CashDrawer, error) {
	actor, storeID := s.scope(ctx)
	if actor.Role == domain.RoleCashier {
		existing, err := s.drawers.Get(ctx, storeID, drawerID)
		if err != nil {
			return nil, err
		}
		if existing.CashierID != actor.Username {
			return nil, fmt.Errorf("%w: drawer belongs to another cashier", domain.ErrForbidden)
		}
	}

	var closed *domain.CashDrawer
	err := s.retry(ctx, "drawer_close", func() (err error) {
		closed, err = s.drawers.Close(ctx, storeID, drawerID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	detail := fmt.Sprintf("status=%s,cash_in=%d,cash_out=%d", closed.Status, closed.CashInCents, closed.CashOutCents)
	if closed.DifferenceCents != nil {
		detail += fmt.Sprintf(",difference=%d", *closed.DifferenceCents)
	}
	s.logAudit(ctx, storeID, "drawer_close", "cash_drawer", drawerID, detail)
	return closed, nil
}

func (s *Service) DrawerHistory(ctx context.Context, cashierID string, page domain.Page) ([]domain.CashDrawer, error) {
	actor, storeID := s.scope(ctx)
	if actor.Role == domain.RoleCashier {
		cashierID = actor.Username
	}
	return s.drawers.History(ctx, storeID, strings.TrimSpace(cashierID), page)
}

func (s *Service) GetDrawer(ctx context.Context, drawerID string) (*domain.CashDrawer, error) {
	actor, storeID := s.scope(ctx)
	drawer, err := s.drawers.Get(ctx, storeID, drawerID)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleCashier && drawer.CashierID != actor.Username {
		return nil, fmt.Errorf("%w: %s", domain.ErrDrawerNotFound, drawerID)
	}
	return drawer, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, storeID := s.scope(ctx)
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, domain.Invalidf("date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

// StoreID returns the store the request in ctx operates on.
func (s *Service) StoreID(ctx context.Context) string {
	_, storeID := s.scope(ctx)
	return storeID
}

// scope resolves the acting user and the store they operate on. Requests
// without an actor run as the system user in the default store.
func (s *Service) scope(ctx context.Context) (domain.Actor, string) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	storeID := strings.TrimSpace(actor.StoreID)
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	return actor, storeID
}

func requireAdmin(actor domain.Actor) error {
	if actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return nil
}

// retry runs fn until it succeeds, fails with a non-retryable error or the
// attempt budget is spent. Every attempt is a fresh unit of work.
func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		err = fn()
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		if attempt == s.retryAttempts {
			break
		}
		s.log.Warn("retrying after concurrency conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return err
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor, _ := s.scope(ctx)

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}
