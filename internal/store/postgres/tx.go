package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
)

type pgTx struct {
	tx *sqlx.Tx
}

// LockProducts takes the row locks in ascending id order so that two units
// touching the same products never wait on each other in a cycle.
func (t *pgTx) LockProducts(ctx context.Context, storeID string, productIDs []string) (map[string]domain.Product, error) {
	ids := slices.Clone(productIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	products := make([]domain.Product, 0, len(ids))
	if err := t.tx.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1 AND id = ANY($2)
		ORDER BY id
		FOR UPDATE
	`, storeID, ids); err != nil {
		return nil, err
	}

	out := make(map[string]domain.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
		}
	}
	return out, nil
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return insertProduct(ctx, t.tx, product)
}

func (t *pgTx) ApplyStockMovement(ctx context.Context, movement domain.StockMovement, costCents int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET qty = $3, cost_cents = $4, updated_at = $5
		WHERE id = $1 AND store_id = $2 AND qty = $6
	`, movement.ProductID, movement.StoreID, movement.AfterQty, costCents, movement.CreatedAt, movement.BeforeQty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: product %s qty moved from %d", domain.ErrConcurrencyConflict, movement.ProductID, movement.BeforeQty)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, movement.ID, movement.StoreID, movement.ProductID, movement.Type, movement.QtyDelta, movement.ReferenceType,
		movement.ReferenceID, movement.BeforeQty, movement.AfterQty, movement.CostCents, movement.Notes,
		movement.CreatedBy, movement.CreatedAt)
	return err
}

// InsertCashTransaction relies on the partial unique index over
// sale_transaction_id; a conflicting insert returns no row.
func (t *pgTx) InsertCashTransaction(ctx context.Context, entry domain.CashTransaction) error {
	var id string
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO cash_transactions (`+cashColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (sale_transaction_id) WHERE sale_transaction_id <> '' DO NOTHING
		RETURNING id
	`, entry.ID, entry.StoreID, entry.Type, entry.AmountCents, entry.PaymentMethod, entry.CategoryID,
		entry.SaleTransactionID, entry.ReferenceType, entry.ReferenceID, entry.Notes, entry.IsVerified,
		entry.VerifiedBy, entry.VerifiedAt, entry.CreatedBy, entry.CreatedAt, entry.UpdatedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: sale %s", domain.ErrDuplicateSync, entry.SaleTransactionID)
		}
		if isUniqueViolation(err) {
			return domain.Invalidf("cash transaction %s already exists", entry.ID)
		}
		return err
	}
	return nil
}

func (t *pgTx) CashTransactionBySale(ctx context.Context, saleID string) (*domain.CashTransaction, error) {
	var entry domain.CashTransaction
	err := t.tx.GetContext(ctx, &entry, `
		SELECT `+cashColumns+`
		FROM cash_transactions
		WHERE sale_transaction_id = $1
	`, saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cash entry for sale %s", domain.ErrNotFound, saleID)
		}
		return nil, err
	}
	return &entry, nil
}

func (t *pgTx) LockCashTransaction(ctx context.Context, id string) (*domain.CashTransaction, error) {
	var entry domain.CashTransaction
	err := t.tx.GetContext(ctx, &entry, `
		SELECT `+cashColumns+`
		FROM cash_transactions
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return &entry, nil
}

func (t *pgTx) UpdateCashTransaction(ctx context.Context, entry domain.CashTransaction) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cash_transactions
		SET amount_cents = $2, payment_method = $3, category_id = $4, notes = $5,
			is_verified = $6, verified_by = $7, verified_at = $8, updated_at = $9
		WHERE id = $1
	`, entry.ID, entry.AmountCents, entry.PaymentMethod, entry.CategoryID, entry.Notes,
		entry.IsVerified, entry.VerifiedBy, entry.VerifiedAt, entry.UpdatedAt)
	return expectOne(res, err, fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, entry.ID))
}

func (t *pgTx) DeleteCashTransaction(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM cash_transactions WHERE id = $1`, id)
	return expectOne(res, err, fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, id))
}

func (t *pgTx) NextSaleSequence(ctx context.Context, storeID string, businessDate string) (int, error) {
	var next int
	err := t.tx.QueryRowxContext(ctx, `
		INSERT INTO sale_sequences (store_id, business_date, last_seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (store_id, business_date)
		DO UPDATE SET last_seq = sale_sequences.last_seq + 1
		RETURNING last_seq
	`, storeID, businessDate).Scan(&next)
	return next, err
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.SaleTransaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_transactions (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, sale.StoreID, sale.SequenceNo, sale.BusinessDate, sale.CashierID, sale.TotalCents, sale.Status,
		sale.PaymentCents, sale.PaymentMethod, sale.ChangeCents, sale.CreatedAt, sale.UpdatedAt,
		sale.CompletedAt, sale.LockedAt, sale.DeletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Invalidf("sale %s already exists", sale.ID)
		}
		return err
	}
	return t.upsertSaleItems(ctx, sale)
}

func (t *pgTx) LockSale(ctx context.Context, saleID string) (*domain.SaleTransaction, error) {
	var sale domain.SaleTransaction
	err := t.tx.GetContext(ctx, &sale, `
		SELECT `+saleColumns+`
		FROM sale_transactions
		WHERE id = $1
		FOR UPDATE
	`, saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
		}
		return nil, err
	}
	items, err := loadSaleItems(ctx, t.tx, []string{saleID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[saleID]
	return &sale, nil
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.SaleTransaction) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sale_transactions
		SET total_cents = $2, status = $3, payment_cents = $4, payment_method = $5, change_cents = $6,
			updated_at = $7, completed_at = $8, locked_at = $9, deleted_at = $10
		WHERE id = $1
	`, sale.ID, sale.TotalCents, sale.Status, sale.PaymentCents, sale.PaymentMethod, sale.ChangeCents,
		sale.UpdatedAt, sale.CompletedAt, sale.LockedAt, sale.DeletedAt)
	if err := expectOne(res, err, fmt.Errorf("%w: sale %s", domain.ErrNotFound, sale.ID)); err != nil {
		return err
	}
	return t.upsertSaleItems(ctx, sale)
}

// upsertSaleItems makes the stored lines match sale.Items. Lines referenced
// by a return are never removed because returned sales no longer change.
func (t *pgTx) upsertSaleItems(ctx context.Context, sale domain.SaleTransaction) error {
	keep := make([]string, 0, len(sale.Items))
	for i, item := range sale.Items {
		keep = append(keep, item.ID)
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, position, product_id, sku, name, qty, unit_price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id) DO UPDATE
			SET position = EXCLUDED.position, qty = EXCLUDED.qty,
				unit_price_cents = EXCLUDED.unit_price_cents, subtotal_cents = EXCLUDED.subtotal_cents
		`, item.ID, sale.ID, i, item.ProductID, item.SKU, item.Name, item.Qty, item.UnitPriceCents, item.SubtotalCents); err != nil {
			return err
		}
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1 AND NOT (id = ANY($2))`, sale.ID, keep)
	return err
}

func (t *pgTx) CompletedSaleIDsBefore(ctx context.Context, storeID string, until time.Time) ([]string, error) {
	ids := make([]string, 0)
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT id
		FROM sale_transactions
		WHERE store_id = $1 AND status = $2 AND completed_at < $3
		ORDER BY created_at, id
		FOR UPDATE
	`, storeID, domain.SaleCompleted, until)
	return ids, err
}

func (t *pgTx) ReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]int, error) {
	out, err := returnedQty(ctx, t.tx, []string{saleID})
	if err != nil {
		return nil, err
	}
	return out[saleID], nil
}

func (t *pgTx) InsertReturn(ctx context.Context, ret domain.Return) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO returns (`+returnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ret.ID, ret.StoreID, ret.SaleTransactionID, ret.RefundTotalCents, ret.RefundMethod,
		ret.CashTransactionID, ret.CashierID, ret.Notes, ret.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Invalidf("return %s already exists", ret.ID)
		}
		return err
	}
	for i, item := range ret.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO return_items (id, return_id, position, sale_item_id, product_id, sku, qty, unit_price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, item.ID, ret.ID, i, item.SaleItemID, item.ProductID, item.SKU, item.Qty, item.UnitPriceCents, item.SubtotalCents); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) InsertDrawer(ctx context.Context, drawer domain.CashDrawer) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cash_drawers (`+drawerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, drawer.ID, drawer.StoreID, drawer.CashierID, drawer.OpenedAt, drawer.ClosedAt, drawer.OpeningBalanceCents,
		drawer.CountedBalanceCents, drawer.ExpectedBalanceCents, drawer.CashInCents, drawer.CashOutCents,
		drawer.DifferenceCents, drawer.Status, drawer.Notes)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_cash_drawers_open" {
			return fmt.Errorf("%w: cashier %s", domain.ErrDrawerAlreadyOpen, drawer.CashierID)
		}
		return err
	}
	return nil
}

func (t *pgTx) LockDrawer(ctx context.Context, drawerID string) (*domain.CashDrawer, error) {
	var drawer domain.CashDrawer
	err := t.tx.GetContext(ctx, &drawer, `
		SELECT `+drawerColumns+`
		FROM cash_drawers
		WHERE id = $1
		FOR UPDATE
	`, drawerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDrawerNotFound, drawerID)
		}
		return nil, err
	}
	return &drawer, nil
}

func (t *pgTx) UpdateDrawer(ctx context.Context, drawer domain.CashDrawer) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE cash_drawers
		SET closed_at = $2, counted_balance_cents = $3, expected_balance_cents = $4,
			cash_in_cents = $5, cash_out_cents = $6, difference_cents = $7, status = $8, notes = $9
		WHERE id = $1
	`, drawer.ID, drawer.ClosedAt, drawer.CountedBalanceCents, drawer.ExpectedBalanceCents,
		drawer.CashInCents, drawer.CashOutCents, drawer.DifferenceCents, drawer.Status, drawer.Notes)
	return expectOne(res, err, fmt.Errorf("%w: %s", domain.ErrDrawerNotFound, drawer.ID))
}

func (t *pgTx) DrawerCashTotals(ctx context.Context, storeID string, cashierID string, from time.Time, to time.Time) (domain.DrawerCashTotals, error) {
	var totals domain.DrawerCashTotals
	err := t.tx.QueryRowxContext(ctx, `
		SELECT
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'INCOME' AND sale_transaction_id <> ''), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'EXPENSE' AND reference_type IN ('RETURN', 'SALE_REVERSAL')), 0)
		FROM cash_transactions
		WHERE store_id = $1 AND created_by = $2 AND payment_method = 'CASH'
			AND created_at >= $3 AND created_at <= $4
	`, storeID, cashierID, from, to).Scan(&totals.CashInCents, &totals.CashOutCents)
	return totals, err
}

func expectOne(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
