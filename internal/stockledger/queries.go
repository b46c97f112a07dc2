package stockledger

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
)

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 200
	defaultDeadStockDays = 30
)

func (l *Ledger) Receive(ctx context.Context, storeID string, actor string, req domain.StockReceiveRequest) (*domain.StockMovement, error) {
	if req.Qty <= 0 {
		return nil, domain.Invalidf("received quantity must be positive")
	}
	if req.CostCents < 0 {
		return nil, domain.Invalidf("cost must not be negative")
	}
	cost := req.CostCents
	return l.Record(ctx, MovementInput{
		StoreID:       storeID,
		ProductID:     strings.TrimSpace(req.ProductID),
		Type:          domain.MovementIn,
		Quantity:      req.Qty,
		ReferenceType: domain.RefPurchase,
		ReferenceID:   strings.TrimSpace(req.ReferenceID),
		CostCents:     &cost,
		Notes:         req.Notes,
		CreatedBy:     actor,
	})
}

func (l *Ledger) Adjust(ctx context.Context, storeID string, actor string, req domain.StockAdjustRequest) (*domain.StockMovement, error) {
	if strings.TrimSpace(req.Notes) == "" {
		return nil, domain.Invalidf("adjustment requires a note")
	}
	return l.Record(ctx, MovementInput{
		StoreID:       storeID,
		ProductID:     strings.TrimSpace(req.ProductID),
		Type:          domain.MovementAdjustment,
		Quantity:      req.QtyDelta,
		ReferenceType: domain.RefManual,
		CostCents:     req.CostCents,
		Notes:         req.Notes,
		CreatedBy:     actor,
	})
}

func (l *Ledger) MovementsByProduct(ctx context.Context, storeID string, productID string, page domain.Page) (*domain.MovementPage, error) {
	if _, err := l.repo.GetProduct(ctx, storeID, productID); err != nil {
		return nil, err
	}
	page = normalizePage(page)
	movements, total, err := l.repo.ListStockMovements(ctx, storeID, productID, page)
	if err != nil {
		return nil, err
	}
	return &domain.MovementPage{Movements: movements, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Valuation sums qty*cost and qty*price over active products, served from
// the cache when a fresh summary exists. The cache generation is read before
// the products so a stock write that commits in between keeps this summary
// out of the cache.
func (l *Ledger) Valuation(ctx context.Context, storeID string) (*domain.InventoryValuation, error) {
	if cached, hit, err := l.valuations.Get(ctx, storeID); err != nil {
		l.log.Warn("valuation cache read failed", zap.String("store_id", storeID), zap.Error(err))
	} else if hit {
		return cached, nil
	}

	generation, genErr := l.valuations.Generation(ctx, storeID)
	if genErr != nil {
		l.log.Warn("valuation cache generation read failed", zap.String("store_id", storeID), zap.Error(genErr))
	}

	products, err := l.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	valuation := &domain.InventoryValuation{StoreID: storeID, ComputedAt: l.now()}
	for _, p := range products {
		if !p.Active {
			continue
		}
		valuation.ProductCount++
		valuation.TotalUnits += int64(p.Qty)
		valuation.CostValueCents += int64(p.Qty) * p.CostCents
		valuation.RetailValueCents += int64(p.Qty) * p.PriceCents
	}
	valuation.PotentialMarginCents = valuation.RetailValueCents - valuation.CostValueCents

	if genErr == nil {
		if err := l.valuations.Set(ctx, storeID, generation, valuation, l.opts.ValuationTTL); err != nil {
			l.log.Warn("valuation cache write failed", zap.String("store_id", storeID), zap.Error(err))
		}
	}
	return valuation, nil
}

func (l *Ledger) LowStock(ctx context.Context, storeID string) ([]domain.Product, error) {
	products, err := l.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0)
	for _, p := range products {
		if p.Active && p.Qty <= p.MinStock {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Product) int { return a.Qty - b.Qty })
	return out, nil
}

// DeadStock lists products still on hand with no OUT movement in the last
// days. A product that never sold counts once it is older than the window.
func (l *Ledger) DeadStock(ctx context.Context, storeID string, days int) ([]domain.DeadStockItem, error) {
	if days < 0 {
		return nil, domain.Invalidf("days must not be negative")
	}
	if days == 0 {
		days = defaultDeadStockDays
	}
	cutoff := l.now().Add(-time.Duration(days) * 24 * time.Hour)

	products, err := l.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	lastOut, err := l.repo.LastMovementAt(ctx, storeID, domain.MovementOut)
	if err != nil {
		return nil, err
	}

	out := make([]domain.DeadStockItem, 0)
	for _, p := range products {
		if !p.Active || p.Qty <= 0 {
			continue
		}
		last, sold := lastOut[p.ID]
		switch {
		case sold && last.Before(cutoff):
			lastSold := last
			out = append(out, domain.DeadStockItem{Product: p, LastSoldAt: &lastSold})
		case !sold && p.CreatedAt.Before(cutoff):
			out = append(out, domain.DeadStockItem{Product: p})
		}
	}
	return out, nil
}

// Replay walks a product's history oldest first and checks that every
// movement continues from the previous after_qty and that the final value
// matches the stored quantity.
func (l *Ledger) Replay(ctx context.Context, storeID string, productID string) (*domain.ReplayResult, error) {
	product, err := l.repo.GetProduct(ctx, storeID, productID)
	if err != nil {
		return nil, err
	}
	movements, err := l.repo.StockMovementsAscending(ctx, storeID, productID)
	if err != nil {
		return nil, err
	}

	result := &domain.ReplayResult{ProductID: productID, Movements: len(movements), CurrentQty: product.Qty, Consistent: true}
	qty := 0
	for _, m := range movements {
		if m.BeforeQty != qty || m.AfterQty != m.BeforeQty+m.QtyDelta {
			if result.FirstBreakAt == "" {
				result.FirstBreakAt = m.ID
			}
			result.Consistent = false
		}
		qty += m.QtyDelta
		if qty < 0 {
			result.NegativeFound = true
		}
	}
	result.ReplayedQty = qty
	if qty != product.Qty {
		result.Consistent = false
	}
	if !result.Consistent {
		l.log.Error("stock ledger replay mismatch",
			zap.String("product_id", productID),
			zap.Int("replayed_qty", qty),
			zap.Int("current_qty", product.Qty),
			zap.String("first_break_at", result.FirstBreakAt))
	}
	return result, nil
}

func normalizePage(page domain.Page) domain.Page {
	if page.Limit <= 0 {
		page.Limit = defaultMovementLimit
	}
	if page.Limit > maxMovementLimit {
		page.Limit = maxMovementLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}

