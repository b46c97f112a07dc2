package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
)

type saleItemRow struct {
	SaleID string `db:"sale_id"`
	domain.SaleItem
}

type returnItemRow struct {
	ReturnID string `db:"return_id"`
	domain.ReturnItem
}

func (s *Store) ListStockMovements(ctx context.Context, storeID string, productID string, page domain.Page) ([]domain.StockMovement, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM stock_movements WHERE store_id = $1 AND product_id = $2
	`, storeID, productID); err != nil {
		return nil, 0, err
	}

	w := newWhere()
	w.add("store_id = ?", storeID)
	w.add("product_id = ?", productID)
	query := `SELECT ` + movementColumns + ` FROM stock_movements` + w.sql() + ` ORDER BY created_at DESC, id DESC`
	query += w.limitOffset(page)

	movements := make([]domain.StockMovement, 0)
	if err := s.db.SelectContext(ctx, &movements, query, w.args...); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

func (s *Store) StockMovementsAscending(ctx context.Context, storeID string, productID string) ([]domain.StockMovement, error) {
	movements := make([]domain.StockMovement, 0)
	err := s.db.SelectContext(ctx, &movements, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE store_id = $1 AND product_id = $2
		ORDER BY created_at, id
	`, storeID, productID)
	return movements, err
}

func (s *Store) LastMovementAt(ctx context.Context, storeID string, movementType domain.MovementType) (map[string]time.Time, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT product_id, MAX(created_at)
		FROM stock_movements
		WHERE store_id = $1 AND type = $2
		GROUP BY product_id
	`, storeID, movementType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var productID string
		var at time.Time
		if err := rows.Scan(&productID, &at); err != nil {
			return nil, err
		}
		out[productID] = at.UTC()
	}
	return out, rows.Err()
}

func (s *Store) GetCashTransaction(ctx context.Context, id string) (*domain.CashTransaction, error) {
	var entry domain.CashTransaction
	err := s.db.GetContext(ctx, &entry, `SELECT `+cashColumns+` FROM cash_transactions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListCashTransactions(ctx context.Context, filter domain.CashFilter) ([]domain.CashTransaction, error) {
	w := newWhere()
	w.add("store_id = ?", filter.StoreID)
	if filter.Type != "" {
		w.add("type = ?", filter.Type)
	}
	if filter.PaymentMethod != "" {
		w.add("payment_method = ?", filter.PaymentMethod)
	}
	w.window("created_at", filter.From, filter.To)
	query := `SELECT ` + cashColumns + ` FROM cash_transactions` + w.sql() + ` ORDER BY created_at DESC, id DESC`
	query += w.limitOffset(domain.Page{Limit: filter.Limit, Offset: filter.Offset})

	entries := make([]domain.CashTransaction, 0)
	if err := s.db.SelectContext(ctx, &entries, query, w.args...); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) SumCash(ctx context.Context, storeID string, from time.Time, to time.Time) ([]store.CashSum, error) {
	w := newWhere()
	w.add("store_id = ?", storeID)
	w.window("created_at", from, to)

	sums := make([]store.CashSum, 0)
	err := s.db.SelectContext(ctx, &sums, `
		SELECT type, payment_method, category_id, SUM(amount_cents) AS total_cents, COUNT(*) AS entries
		FROM cash_transactions`+w.sql()+`
		GROUP BY type, payment_method, category_id
		ORDER BY type, payment_method, category_id
	`, w.args...)
	return sums, err
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.SaleTransaction, error) {
	var sale domain.SaleTransaction
	err := s.db.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sale_transactions WHERE id = $1`, saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
		}
		return nil, err
	}
	items, err := loadSaleItems(ctx, s.db, []string{saleID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[saleID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, q store.SaleQuery) ([]domain.SaleTransaction, error) {
	w := newWhere()
	w.add("store_id = ?", q.StoreID)
	if q.CashierID != "" {
		w.add("cashier_id = ?", q.CashierID)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, 0, len(q.Statuses))
		for _, status := range q.Statuses {
			statuses = append(statuses, string(status))
		}
		w.add("status = ANY(?)", statuses)
	}
	w.window("created_at", q.From, q.To)
	query := `SELECT ` + saleColumns + ` FROM sale_transactions` + w.sql() + ` ORDER BY created_at DESC, id DESC`
	query += w.limitOffset(domain.Page{Limit: q.Limit, Offset: q.Offset})

	sales := make([]domain.SaleTransaction, 0)
	if err := s.db.SelectContext(ctx, &sales, query, w.args...); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	items, err := loadSaleItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) GetReturn(ctx context.Context, returnID string) (*domain.Return, error) {
	var ret domain.Return
	err := s.db.GetContext(ctx, &ret, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, returnID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: return %s", domain.ErrNotFound, returnID)
		}
		return nil, err
	}
	items, err := s.loadReturnItems(ctx, []string{returnID})
	if err != nil {
		return nil, err
	}
	ret.Items = items[returnID]
	return &ret, nil
}

func (s *Store) ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error) {
	returns := make([]domain.Return, 0)
	if err := s.db.SelectContext(ctx, &returns, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE sale_transaction_id = $1
		ORDER BY created_at, id
	`, saleID); err != nil {
		return nil, err
	}
	if len(returns) == 0 {
		return returns, nil
	}

	ids := make([]string, 0, len(returns))
	for _, ret := range returns {
		ids = append(ids, ret.ID)
	}
	items, err := s.loadReturnItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range returns {
		returns[i].Items = items[returns[i].ID]
	}
	return returns, nil
}

func (s *Store) ReturnedQtyBySaleItems(ctx context.Context, saleIDs []string) (map[string]map[string]int, error) {
	return returnedQty(ctx, s.db, saleIDs)
}

func (s *Store) GetDrawer(ctx context.Context, drawerID string) (*domain.CashDrawer, error) {
	var drawer domain.CashDrawer
	err := s.db.GetContext(ctx, &drawer, `SELECT `+drawerColumns+` FROM cash_drawers WHERE id = $1`, drawerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDrawerNotFound, drawerID)
		}
		return nil, err
	}
	return &drawer, nil
}

func (s *Store) GetOpenDrawer(ctx context.Context, storeID string, cashierID string) (*domain.CashDrawer, error) {
	var drawer domain.CashDrawer
	err := s.db.GetContext(ctx, &drawer, `
		SELECT `+drawerColumns+`
		FROM cash_drawers
		WHERE store_id = $1 AND cashier_id = $2 AND status = $3
	`, storeID, cashierID, domain.DrawerOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no open drawer for cashier %s", domain.ErrDrawerNotFound, cashierID)
		}
		return nil, err
	}
	return &drawer, nil
}

func (s *Store) ListDrawers(ctx context.Context, storeID string, cashierID string, page domain.Page) ([]domain.CashDrawer, error) {
	w := newWhere()
	w.add("store_id = ?", storeID)
	if cashierID != "" {
		w.add("lower(cashier_id) = ?", strings.ToLower(cashierID))
	}
	query := `SELECT ` + drawerColumns + ` FROM cash_drawers` + w.sql() + ` ORDER BY opened_at DESC, id DESC`
	query += w.limitOffset(page)

	drawers := make([]domain.CashDrawer, 0)
	if err := s.db.SelectContext(ctx, &drawers, query, w.args...); err != nil {
		return nil, err
	}
	return drawers, nil
}

func loadSaleItems(ctx context.Context, q sqlx.QueryerContext, saleIDs []string) (map[string][]domain.SaleItem, error) {
	rows := make([]saleItemRow, 0)
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT sale_id, id, product_id, sku, name, qty, unit_price_cents, subtotal_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs); err != nil {
		return nil, err
	}
	out := make(map[string][]domain.SaleItem, len(saleIDs))
	for _, row := range rows {
		out[row.SaleID] = append(out[row.SaleID], row.SaleItem)
	}
	return out, nil
}

func (s *Store) loadReturnItems(ctx context.Context, returnIDs []string) (map[string][]domain.ReturnItem, error) {
	rows := make([]returnItemRow, 0)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT return_id, id, sale_item_id, product_id, sku, qty, unit_price_cents, subtotal_cents
		FROM return_items
		WHERE return_id = ANY($1)
		ORDER BY return_id, position
	`, returnIDs); err != nil {
		return nil, err
	}
	out := make(map[string][]domain.ReturnItem, len(returnIDs))
	for _, row := range rows {
		out[row.ReturnID] = append(out[row.ReturnID], row.ReturnItem)
	}
	return out, nil
}

// returnedQty maps sale id to sale item id to the quantity already returned.
// Every requested sale gets an entry, empty when nothing was returned.
func returnedQty(ctx context.Context, q sqlx.QueryerContext, saleIDs []string) (map[string]map[string]int, error) {
	out := make(map[string]map[string]int, len(saleIDs))
	for _, id := range saleIDs {
		out[id] = make(map[string]int)
	}
	if len(saleIDs) == 0 {
		return out, nil
	}

	rows, err := q.QueryxContext(ctx, `
		SELECT r.sale_transaction_id, ri.sale_item_id, SUM(ri.qty)
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		WHERE r.sale_transaction_id = ANY($1)
		GROUP BY r.sale_transaction_id, ri.sale_item_id
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID, saleItemID string
		var qty int
		if err := rows.Scan(&saleID, &saleItemID, &qty); err != nil {
			return nil, err
		}
		out[saleID][saleItemID] = qty
	}
	return out, rows.Err()
}
