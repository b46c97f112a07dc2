package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
)

// memTx runs with the store's writer lock held. Each mutation pushes an undo
// step; rollback replays them newest first.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockProducts(_ context.Context, storeID string, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		product, ok := t.s.products[id]
		if !ok || product.StoreID != storeID {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
		}
		out[id] = product
	}
	return out, nil
}

func (t *memTx) ApplyStockMovement(_ context.Context, movement domain.StockMovement, costCents int64) error {
	product, ok := t.s.products[movement.ProductID]
	if !ok || product.StoreID != movement.StoreID {
		return fmt.Errorf("%w: product %s", domain.ErrNotFound, movement.ProductID)
	}
	if product.Qty != movement.BeforeQty {
		return fmt.Errorf("%w: product %s qty moved from %d", domain.ErrConcurrencyConflict, product.ID, movement.BeforeQty)
	}

	previous := product
	movementCount := len(t.s.movements)
	t.undo = append(t.undo, func() {
		t.s.products[previous.ID] = previous
		t.s.movements = t.s.movements[:movementCount]
	})

	product.Qty = movement.AfterQty
	product.CostCents = costCents
	product.UpdatedAt = movement.CreatedAt
	t.s.products[product.ID] = product
	t.s.movements = append(t.s.movements, movement)
	return nil
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	created, err := t.s.insertProduct(product)
	if err != nil {
		return nil, err
	}
	t.undo = append(t.undo, func() { delete(t.s.products, created.ID) })
	return created, nil
}

func (t *memTx) InsertCashTransaction(_ context.Context, entry domain.CashTransaction) error {
	if entry.SaleTransactionID != "" {
		if _, exists := t.s.cashBySale[entry.SaleTransactionID]; exists {
			return fmt.Errorf("%w: sale %s", domain.ErrDuplicateSync, entry.SaleTransactionID)
		}
	}
	if _, exists := t.s.cashByID[entry.ID]; exists {
		return domain.Invalidf("cash transaction %s already exists", entry.ID)
	}

	orderLen := len(t.s.cashOrder)
	t.undo = append(t.undo, func() {
		delete(t.s.cashByID, entry.ID)
		if entry.SaleTransactionID != "" {
			delete(t.s.cashBySale, entry.SaleTransactionID)
		}
		t.s.cashOrder = t.s.cashOrder[:orderLen]
	})

	t.s.cashByID[entry.ID] = entry
	t.s.cashOrder = append(t.s.cashOrder, entry.ID)
	if entry.SaleTransactionID != "" {
		t.s.cashBySale[entry.SaleTransactionID] = entry.ID
	}
	return nil
}

func (t *memTx) CashTransactionBySale(_ context.Context, saleID string) (*domain.CashTransaction, error) {
	id, ok := t.s.cashBySale[saleID]
	if !ok {
		return nil, fmt.Errorf("%w: cash entry for sale %s", domain.ErrNotFound, saleID)
	}
	entry := t.s.cashByID[id]
	return &entry, nil
}

func (t *memTx) LockCashTransaction(_ context.Context, id string) (*domain.CashTransaction, error) {
	entry, ok := t.s.cashByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, id)
	}
	return &entry, nil
}

func (t *memTx) UpdateCashTransaction(_ context.Context, entry domain.CashTransaction) error {
	previous, ok := t.s.cashByID[entry.ID]
	if !ok {
		return fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, entry.ID)
	}
	t.undo = append(t.undo, func() { t.s.cashByID[previous.ID] = previous })
	t.s.cashByID[entry.ID] = entry
	return nil
}

func (t *memTx) DeleteCashTransaction(_ context.Context, id string) error {
	previous, ok := t.s.cashByID[id]
	if !ok {
		return fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, id)
	}
	previousOrder := slices.Clone(t.s.cashOrder)
	t.undo = append(t.undo, func() {
		t.s.cashByID[previous.ID] = previous
		t.s.cashOrder = previousOrder
	})
	delete(t.s.cashByID, id)
	t.s.cashOrder = slices.DeleteFunc(t.s.cashOrder, func(v string) bool { return v == id })
	return nil
}

func (t *memTx) NextSaleSequence(_ context.Context, storeID string, businessDate string) (int, error) {
	key := sequenceKey(storeID, businessDate)
	previous, existed := t.s.saleSequences[key]
	t.undo = append(t.undo, func() {
		if existed {
			t.s.saleSequences[key] = previous
			return
		}
		delete(t.s.saleSequences, key)
	})
	next := previous + 1
	t.s.saleSequences[key] = next
	return next, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.SaleTransaction) error {
	if _, exists := t.s.salesByID[sale.ID]; exists {
		return domain.Invalidf("sale %s already exists", sale.ID)
	}
	orderLen := len(t.s.saleOrder)
	t.undo = append(t.undo, func() {
		delete(t.s.salesByID, sale.ID)
		t.s.saleOrder = t.s.saleOrder[:orderLen]
	})
	t.s.salesByID[sale.ID] = cloneSale(sale)
	t.s.saleOrder = append(t.s.saleOrder, sale.ID)
	return nil
}

func (t *memTx) LockSale(_ context.Context, saleID string) (*domain.SaleTransaction, error) {
	sale, ok := t.s.salesByID[saleID]
	if !ok {
		return nil, fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
	}
	out := cloneSale(sale)
	return &out, nil
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.SaleTransaction) error {
	previous, ok := t.s.salesByID[sale.ID]
	if !ok {
		return fmt.Errorf("%w: sale %s", domain.ErrNotFound, sale.ID)
	}
	t.undo = append(t.undo, func() { t.s.salesByID[previous.ID] = previous })
	t.s.salesByID[sale.ID] = cloneSale(sale)
	return nil
}

func (t *memTx) CompletedSaleIDsBefore(_ context.Context, storeID string, until time.Time) ([]string, error) {
	ids := make([]string, 0)
	for _, id := range t.s.saleOrder {
		sale := t.s.salesByID[id]
		if sale.StoreID != storeID || sale.Status != domain.SaleCompleted || sale.CompletedAt == nil {
			continue
		}
		if sale.CompletedAt.Before(until) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *memTx) ReturnedQtyBySaleItem(_ context.Context, saleID string) (map[string]int, error) {
	return t.s.returnedQty(saleID), nil
}

func (t *memTx) InsertReturn(_ context.Context, ret domain.Return) error {
	if _, exists := t.s.returnsByID[ret.ID]; exists {
		return domain.Invalidf("return %s already exists", ret.ID)
	}
	previous := slices.Clone(t.s.returnsBySale[ret.SaleTransactionID])
	t.undo = append(t.undo, func() {
		delete(t.s.returnsByID, ret.ID)
		if len(previous) == 0 {
			delete(t.s.returnsBySale, ret.SaleTransactionID)
			return
		}
		t.s.returnsBySale[ret.SaleTransactionID] = previous
	})
	t.s.returnsByID[ret.ID] = cloneReturn(ret)
	t.s.returnsBySale[ret.SaleTransactionID] = append(t.s.returnsBySale[ret.SaleTransactionID], ret.ID)
	return nil
}

func (t *memTx) InsertDrawer(_ context.Context, drawer domain.CashDrawer) error {
	key := drawerKey(drawer.StoreID, drawer.CashierID)
	if _, exists := t.s.openDrawers[key]; exists {
		return fmt.Errorf("%w: cashier %s", domain.ErrDrawerAlreadyOpen, drawer.CashierID)
	}
	orderLen := len(t.s.drawerOrder)
	t.undo = append(t.undo, func() {
		delete(t.s.drawersByID, drawer.ID)
		delete(t.s.openDrawers, key)
		t.s.drawerOrder = t.s.drawerOrder[:orderLen]
	})
	t.s.drawersByID[drawer.ID] = drawer
	t.s.drawerOrder = append(t.s.drawerOrder, drawer.ID)
	if drawer.Status == domain.DrawerOpen {
		t.s.openDrawers[key] = drawer.ID
	}
	return nil
}

func (t *memTx) LockDrawer(_ context.Context, drawerID string) (*domain.CashDrawer, error) {
	drawer, ok := t.s.drawersByID[drawerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDrawerNotFound, drawerID)
	}
	return &drawer, nil
}

func (t *memTx) UpdateDrawer(_ context.Context, drawer domain.CashDrawer) error {
	previous, ok := t.s.drawersByID[drawer.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDrawerNotFound, drawer.ID)
	}
	key := drawerKey(drawer.StoreID, drawer.CashierID)
	previousOpen, hadOpen := t.s.openDrawers[key]
	t.undo = append(t.undo, func() {
		t.s.drawersByID[previous.ID] = previous
		if hadOpen {
			t.s.openDrawers[key] = previousOpen
		} else {
			delete(t.s.openDrawers, key)
		}
	})
	t.s.drawersByID[drawer.ID] = drawer
	if drawer.Status != domain.DrawerOpen && previousOpen == drawer.ID {
		delete(t.s.openDrawers, key)
	}
	return nil
}

func (t *memTx) DrawerCashTotals(_ context.Context, storeID string, cashierID string, from time.Time, to time.Time) (domain.DrawerCashTotals, error) {
	var totals domain.DrawerCashTotals
	for _, id := range t.s.cashOrder {
		entry := t.s.cashByID[id]
		if entry.StoreID != storeID || entry.CreatedBy != cashierID || entry.PaymentMethod != domain.PaymentCash {
			continue
		}
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		switch {
		case entry.Type == domain.CashIncome && entry.SaleTransactionID != "":
			totals.CashInCents += entry.AmountCents
		case entry.Type == domain.CashExpense && (entry.ReferenceType == domain.RefReturn || entry.ReferenceType == domain.RefSaleReversal):
			totals.CashOutCents += entry.AmountCents
		}
	}
	return totals, nil
}

func (s *Store) returnedQty(saleID string) map[string]int {
	out := make(map[string]int)
	for _, id := range s.returnsBySale[saleID] {
		for _, item := range s.returnsByID[id].Items {
			out[item.SaleItemID] += item.Qty
		}
	}
	return out
}
