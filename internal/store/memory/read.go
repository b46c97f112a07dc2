package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
)

func (s *Store) ListStockMovements(_ context.Context, storeID string, productID string, page domain.Page) ([]domain.StockMovement, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.StockMovement, 0)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if m.StoreID == storeID && m.ProductID == productID {
			matched = append(matched, m)
		}
	}
	return slices.Clone(paginate(matched, page)), len(matched), nil
}

func (s *Store) StockMovementsAscending(_ context.Context, storeID string, productID string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockMovement, 0)
	for _, m := range s.movements {
		if m.StoreID == storeID && m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) LastMovementAt(_ context.Context, storeID string, movementType domain.MovementType) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Time)
	for _, m := range s.movements {
		if m.StoreID != storeID || m.Type != movementType {
			continue
		}
		if last, ok := out[m.ProductID]; !ok || m.CreatedAt.After(last) {
			out[m.ProductID] = m.CreatedAt
		}
	}
	return out, nil
}

func (s *Store) GetCashTransaction(_ context.Context, id string) (*domain.CashTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.cashByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, id)
	}
	return &entry, nil
}

func (s *Store) ListCashTransactions(_ context.Context, filter domain.CashFilter) ([]domain.CashTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.CashTransaction, 0)
	for i := len(s.cashOrder) - 1; i >= 0; i-- {
		entry := s.cashByID[s.cashOrder[i]]
		if entry.StoreID != filter.StoreID {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if filter.PaymentMethod != "" && entry.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if !inWindow(entry.CreatedAt, filter.From, filter.To) {
			continue
		}
		matched = append(matched, entry)
	}
	return slices.Clone(paginate(matched, domain.Page{Limit: filter.Limit, Offset: filter.Offset})), nil
}

func (s *Store) SumCash(_ context.Context, storeID string, from time.Time, to time.Time) ([]store.CashSum, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		cashType domain.CashType
		method   domain.PaymentMethod
		category string
	}
	sums := make(map[key]*store.CashSum)
	order := make([]key, 0)
	for _, id := range s.cashOrder {
		entry := s.cashByID[id]
		if entry.StoreID != storeID || !inWindow(entry.CreatedAt, from, to) {
			continue
		}
		k := key{entry.Type, entry.PaymentMethod, entry.CategoryID}
		sum, ok := sums[k]
		if !ok {
			sum = &store.CashSum{Type: k.cashType, PaymentMethod: k.method, CategoryID: k.category}
			sums[k] = sum
			order = append(order, k)
		}
		sum.TotalCents += entry.AmountCents
		sum.Entries++
	}

	out := make([]store.CashSum, 0, len(order))
	for _, k := range order {
		out = append(out, *sums[k])
	}
	return out, nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.SaleTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, q store.SaleQuery) ([]domain.SaleTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.SaleTransaction, 0)
	for i := len(s.saleOrder) - 1; i >= 0; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		if sale.StoreID != q.StoreID {
			continue
		}
		if q.CashierID != "" && sale.CashierID != q.CashierID {
			continue
		}
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, sale.Status) {
			continue
		}
		if !inWindow(sale.CreatedAt, q.From, q.To) {
			continue
		}
		matched = append(matched, cloneSale(sale))
	}
	return paginate(matched, domain.Page{Limit: q.Limit, Offset: q.Offset}), nil
}

func (s *Store) GetReturn(_ context.Context, returnID string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returnsByID[returnID]
	if !ok {
		return nil, fmt.Errorf("%w: return %s", domain.ErrNotFound, returnID)
	}
	out := cloneReturn(ret)
	return &out, nil
}

func (s *Store) ListReturnsBySale(_ context.Context, saleID string) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.returnsBySale[saleID]
	out := make([]domain.Return, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneReturn(s.returnsByID[id]))
	}
	return out, nil
}

func (s *Store) ReturnedQtyBySaleItems(_ context.Context, saleIDs []string) (map[string]map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]int, len(saleIDs))
	for _, id := range saleIDs {
		out[id] = s.returnedQty(id)
	}
	return out, nil
}

func (s *Store) GetDrawer(_ context.Context, drawerID string) (*domain.CashDrawer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drawer, ok := s.drawersByID[drawerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDrawerNotFound, drawerID)
	}
	return &drawer, nil
}

func (s *Store) GetOpenDrawer(_ context.Context, storeID string, cashierID string) (*domain.CashDrawer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.openDrawers[drawerKey(storeID, cashierID)]
	if !ok {
		return nil, fmt.Errorf("%w: no open drawer for cashier %s", domain.ErrDrawerNotFound, cashierID)
	}
	drawer := s.drawersByID[id]
	return &drawer, nil
}

func (s *Store) ListDrawers(_ context.Context, storeID string, cashierID string, page domain.Page) ([]domain.CashDrawer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.CashDrawer, 0)
	for i := len(s.drawerOrder) - 1; i >= 0; i-- {
		drawer := s.drawersByID[s.drawerOrder[i]]
		if drawer.StoreID != storeID {
			continue
		}
		if cashierID != "" && !strings.EqualFold(drawer.CashierID, cashierID) {
			continue
		}
		matched = append(matched, drawer)
	}
	return slices.Clone(paginate(matched, page)), nil
}
