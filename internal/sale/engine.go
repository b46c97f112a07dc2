// Package sale drives a sale through DRAFT, COMPLETED, LOCKED and DELETED.
// Completion and reversal move stock and cash in the same unit of work as
// the status change.
package sale

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/cashledger"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/stockledger"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/xid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxLineQty       = 10000
)

type Engine struct {
	repo  store.Repository
	stock *stockledger.Ledger
	cash  *cashledger.Ledger
	loc   *time.Location
	log   *zap.Logger
	now   func() time.Time
}

func New(repo store.Repository, stock *stockledger.Ledger, cash *cashledger.Ledger, loc *time.Location, log *zap.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		repo:  repo,
		stock: stock,
		cash:  cash,
		loc:   loc,
		log:   log.Named("sale"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// BusinessDate is the calendar day in the store's timezone used to scope the
// daily receipt sequence.
func (e *Engine) BusinessDate(t time.Time) string {
	return t.In(e.loc).Format("2006-01-02")
}

func (e *Engine) Create(ctx context.Context, storeID string, cashierID string, req domain.SaleCreateRequest) (*domain.SaleTransaction, error) {
	if strings.TrimSpace(cashierID) == "" {
		return nil, domain.Invalidf("cashier is required")
	}
	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}
	catalog, err := e.catalogFor(ctx, storeID, lines)
	if err != nil {
		return nil, err
	}
	items, total := buildItems(lines, catalog, nil)

	now := e.now()
	sale := domain.SaleTransaction{
		ID:           xid.New("sale"),
		StoreID:      storeID,
		BusinessDate: e.BusinessDate(now),
		CashierID:    cashierID,
		Items:        items,
		TotalCents:   total,
		Status:       domain.SaleDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = e.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seq, err := tx.NextSaleSequence(ctx, storeID, sale.BusinessDate)
		if err != nil {
			return err
		}
		sale.SequenceNo = seq
		return tx.InsertSale(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// Update replaces the item list of a draft. Products already on the draft
// keep the price captured when they were first added.
func (e *Engine) Update(ctx context.Context, storeID string, saleID string, req domain.SaleCreateRequest) (*domain.SaleTransaction, error) {
	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}
	catalog, err := e.catalogFor(ctx, storeID, lines)
	if err != nil {
		return nil, err
	}

	var updated domain.SaleTransaction
	err = e.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := lockSale(ctx, tx, storeID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleDraft {
			return fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, saleID, sale.Status)
		}
		snapshot := make(map[string]int64, len(sale.Items))
		for _, item := range sale.Items {
			snapshot[item.ProductID] = item.UnitPriceCents
		}
		sale.Items, sale.TotalCents = buildItems(lines, catalog, snapshot)
		sale.UpdatedAt = e.now()
		updated = *sale
		return tx.UpdateSale(ctx, updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Complete takes payment for a draft. The status change, one OUT movement
// per line and the single INCOME entry commit together or not at all.
func (e *Engine) Complete(ctx context.Context, storeID string, saleID string, req domain.SaleCompleteRequest) (*domain.SaleCompletion, error) {
	method, err := domain.ParsePaymentMethod(string(req.PaymentMethod))
	if err != nil {
		return nil, err
	}
	if req.PaymentCents < 0 {
		return nil, domain.Invalidf("payment must not be negative")
	}

	var result domain.SaleCompletion
	err = e.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := lockSale(ctx, tx, storeID, saleID)
		if err != nil {
			return err
		}
		if !sale.Status.CanTransition(domain.SaleCompleted) {
			return fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, saleID, sale.Status)
		}
		if len(sale.Items) == 0 {
			return fmt.Errorf("%w: sale %s has no items", domain.ErrInvalidState, saleID)
		}
		if req.PaymentCents < sale.TotalCents {
			return fmt.Errorf("%w: paid %d of %d", domain.ErrInsufficientPayment, req.PaymentCents, sale.TotalCents)
		}

		inputs := make([]stockledger.MovementInput, 0, len(sale.Items))
		for _, item := range sale.Items {
			inputs = append(inputs, stockledger.MovementInput{
				StoreID:       storeID,
				ProductID:     item.ProductID,
				Type:          domain.MovementOut,
				Quantity:      item.Qty,
				ReferenceType: domain.RefSale,
				ReferenceID:   sale.ID,
				CreatedBy:     sale.CashierID,
			})
		}
		movements, err := e.stock.RecordMovements(ctx, tx, inputs)
		if err != nil {
			return err
		}

		now := e.now()
		sale.Status = domain.SaleCompleted
		sale.PaymentCents = req.PaymentCents
		sale.PaymentMethod = method
		sale.ChangeCents = req.PaymentCents - sale.TotalCents
		sale.CompletedAt = &now
		sale.UpdatedAt = now
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}

		entry, duplicate, err := e.cash.RecordTx(ctx, tx, cashledger.SaleIncome(*sale))
		if err != nil {
			return err
		}
		if duplicate {
			return fmt.Errorf("%w: draft sale %s already has cash entry %s", domain.ErrInvalidState, saleID, entry.ID)
		}

		result = domain.SaleCompletion{Sale: *sale, Movements: movements, CashEntry: *entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.stock.InvalidateValuation(ctx, storeID)
	e.log.Info("sale completed",
		zap.String("sale_id", saleID),
		zap.Int("sequence_no", result.Sale.SequenceNo),
		zap.Int64("total_cents", result.Sale.TotalCents),
		zap.String("payment_method", string(method)))
	return &result, nil
}

// Delete discards a draft, or reverses a completed sale that has no returns
// by restocking every line and booking one SALE_REVERSAL expense.
func (e *Engine) Delete(ctx context.Context, storeID string, saleID string, actor string) (*domain.SaleTransaction, error) {
	var deleted domain.SaleTransaction
	reversed := false
	err := e.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := lockSale(ctx, tx, storeID, saleID)
		if err != nil {
			return err
		}
		if !sale.Status.CanTransition(domain.SaleDeleted) {
			return fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, saleID, sale.Status)
		}

		if sale.Status == domain.SaleCompleted {
			returned, err := tx.ReturnedQtyBySaleItem(ctx, saleID)
			if err != nil {
				return err
			}
			for _, qty := range returned {
				if qty > 0 {
					return fmt.Errorf("%w: sale %s has returns", domain.ErrInvalidState, saleID)
				}
			}
			if err := e.reverse(ctx, tx, *sale, actor); err != nil {
				return err
			}
			reversed = true
		}

		now := e.now()
		sale.Status = domain.SaleDeleted
		sale.DeletedAt = &now
		sale.UpdatedAt = now
		deleted = *sale
		return tx.UpdateSale(ctx, deleted)
	})
	if err != nil {
		return nil, err
	}
	if reversed {
		e.stock.InvalidateValuation(ctx, storeID)
		e.log.Info("completed sale reversed", zap.String("sale_id", saleID), zap.String("actor", actor))
	}
	return &deleted, nil
}

func (e *Engine) reverse(ctx context.Context, tx store.Tx, sale domain.SaleTransaction, actor string) error {
	inputs := make([]stockledger.MovementInput, 0, len(sale.Items))
	for _, item := range sale.Items {
		inputs = append(inputs, stockledger.MovementInput{
			StoreID:       sale.StoreID,
			ProductID:     item.ProductID,
			Type:          domain.MovementIn,
			Quantity:      item.Qty,
			ReferenceType: domain.RefSaleReversal,
			ReferenceID:   sale.ID,
			Notes:         "sale deleted by " + actor,
			CreatedBy:     actor,
		})
	}
	if _, err := e.stock.RecordMovements(ctx, tx, inputs); err != nil {
		return err
	}

	_, _, err := e.cash.RecordTx(ctx, tx, cashledger.Entry{
		StoreID:       sale.StoreID,
		Type:          domain.CashExpense,
		AmountCents:   sale.TotalCents,
		PaymentMethod: sale.PaymentMethod,
		CategoryID:    cashledger.CategorySaleReversal,
		ReferenceType: domain.RefSaleReversal,
		ReferenceID:   sale.ID,
		Notes:         fmt.Sprintf("reversal of sale #%d %s by %s", sale.SequenceNo, sale.BusinessDate, actor),
		CreatedBy:     sale.CashierID,
	})
	return err
}

func (e *Engine) Lock(ctx context.Context, storeID string, saleID string) (*domain.SaleTransaction, error) {
	var locked domain.SaleTransaction
	err := e.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := lockSale(ctx, tx, storeID, saleID)
		if err != nil {
			return err
		}
		if !sale.Status.CanTransition(domain.SaleLocked) {
			return fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, saleID, sale.Status)
		}
		now := e.now()
		sale.Status = domain.SaleLocked
		sale.LockedAt = &now
		sale.UpdatedAt = now
		locked = *sale
		return tx.UpdateSale(ctx, locked)
	})
	if err != nil {
		return nil, err
	}
	return &locked, nil
}

// LockPeriod locks every sale completed before until, closing the period.
func (e *Engine) LockPeriod(ctx context.Context, storeID string, until time.Time) (int, error) {
	if until.IsZero() {
		return 0, domain.Invalidf("until is required")
	}
	if until.After(e.now()) {
		return 0, domain.Invalidf("cannot lock a period that has not ended")
	}

	count := 0
	err := e.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		count = 0
		ids, err := tx.CompletedSaleIDsBefore(ctx, storeID, until)
		if err != nil {
			return err
		}
		now := e.now()
		for _, id := range ids {
			sale, err := tx.LockSale(ctx, id)
			if err != nil {
				return err
			}
			if sale.Status != domain.SaleCompleted {
				continue
			}
			sale.Status = domain.SaleLocked
			sale.LockedAt = &now
			sale.UpdatedAt = now
			if err := tx.UpdateSale(ctx, *sale); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info("sales period locked", zap.String("store_id", storeID), zap.Time("until", until), zap.Int("locked", count))
	return count, nil
}

func (e *Engine) Get(ctx context.Context, storeID string, saleID string) (*domain.SaleTransaction, error) {
	sale, err := e.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.StoreID != storeID {
		return nil, fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
	}
	return sale, nil
}

func (e *Engine) List(ctx context.Context, q store.SaleQuery) ([]domain.SaleTransaction, error) {
	for _, status := range q.Statuses {
		if !status.Valid() {
			return nil, domain.Invalidf("unknown sale status %q", status)
		}
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return e.repo.ListSales(ctx, q)
}

func lockSale(ctx context.Context, tx store.Tx, storeID string, saleID string) (*domain.SaleTransaction, error) {
	sale, err := tx.LockSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.StoreID != storeID {
		return nil, fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
	}
	return sale, nil
}

// mergeLines validates requested lines and folds repeated products into one
// line, keeping first-seen order.
func mergeLines(lines []domain.SaleLineRequest) ([]domain.SaleLineRequest, error) {
	if len(lines) == 0 {
		return nil, domain.Invalidf("sale requires at least one item")
	}
	out := make([]domain.SaleLineRequest, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, domain.Invalidf("item product is required")
		}
		if line.Qty <= 0 {
			return nil, domain.Invalidf("item %s quantity must be positive", id)
		}
		if i, seen := index[id]; seen {
			out[i].Qty += line.Qty
			if out[i].Qty > maxLineQty {
				return nil, domain.Invalidf("item %s quantity exceeds %d", id, maxLineQty)
			}
			continue
		}
		if line.Qty > maxLineQty {
			return nil, domain.Invalidf("item %s quantity exceeds %d", id, maxLineQty)
		}
		index[id] = len(out)
		out = append(out, domain.SaleLineRequest{ProductID: id, Qty: line.Qty})
	}
	return out, nil
}

func (e *Engine) catalogFor(ctx context.Context, storeID string, lines []domain.SaleLineRequest) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := e.repo.GetProductsByIDs(ctx, storeID, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
		}
		if !product.Active {
			return nil, domain.Invalidf("product %s is inactive", product.SKU)
		}
	}
	return products, nil
}

func buildItems(lines []domain.SaleLineRequest, catalog map[string]domain.Product, snapshot map[string]int64) ([]domain.SaleItem, int64) {
	items := make([]domain.SaleItem, 0, len(lines))
	var total int64
	for _, line := range lines {
		product := catalog[line.ProductID]
		price := product.PriceCents
		if captured, ok := snapshot[line.ProductID]; ok {
			price = captured
		}
		subtotal := price * int64(line.Qty)
		items = append(items, domain.SaleItem{
			ID:             xid.New("si"),
			ProductID:      product.ID,
			SKU:            product.SKU,
			Name:           product.Name,
			Qty:            line.Qty,
			UnitPriceCents: price,
			SubtotalCents:  subtotal,
		})
		total += subtotal
	}
	return items, total
}
