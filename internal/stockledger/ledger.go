// Package stockledger owns the append-only stock movement history and is the
// only component that changes a product's on-hand quantity or unit cost.
package stockledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/cache"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/xid"
)

type Options struct {
	// AllowBackorder lets OUT movements drive quantity below zero.
	AllowBackorder bool
	ValuationTTL   time.Duration
}

type Ledger struct {
	repo       store.Repository
	valuations cache.ValuationCache
	opts       Options
	log        *zap.Logger
	now        func() time.Time
}

func New(repo store.Repository, valuations cache.ValuationCache, opts Options, log *zap.Logger) *Ledger {
	if valuations == nil {
		valuations = cache.NoopValuationCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ValuationTTL <= 0 {
		opts.ValuationTTL = 30 * time.Second
	}
	return &Ledger{
		repo:       repo,
		valuations: valuations,
		opts:       opts,
		log:        log.Named("stockledger"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the ledger clock. Used by tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

type MovementInput struct {
	StoreID       string
	ProductID     string
	Type          domain.MovementType
	Quantity      int
	ReferenceType domain.ReferenceType
	ReferenceID   string
	CostCents     *int64
	Notes         string
	CreatedBy     string
}

func (in MovementInput) validate() error {
	if strings.TrimSpace(in.StoreID) == "" || strings.TrimSpace(in.ProductID) == "" {
		return domain.Invalidf("movement requires store and product")
	}
	if !in.Type.Valid() {
		return domain.Invalidf("unknown movement type %q", in.Type)
	}
	if !in.ReferenceType.Valid() {
		return domain.Invalidf("unknown reference type %q", in.ReferenceType)
	}
	if in.Quantity == 0 {
		return domain.Invalidf("movement quantity must not be zero")
	}
	if in.Type != domain.MovementAdjustment && in.Quantity < 0 {
		return domain.Invalidf("%s quantity must be positive", in.Type)
	}
	if in.CostCents != nil && *in.CostCents < 0 {
		return domain.Invalidf("cost must not be negative")
	}
	return nil
}

// RecordMovement appends one movement inside the caller's unit of work. The
// product row is locked, the new quantity computed from the locked value and
// written together with the movement.
func (l *Ledger) RecordMovement(ctx context.Context, tx store.Tx, in MovementInput) (*domain.StockMovement, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	locked, err := tx.LockProducts(ctx, in.StoreID, []string{in.ProductID})
	if err != nil {
		return nil, err
	}
	product := locked[in.ProductID]

	delta := in.Type.SignedDelta(in.Quantity)
	after := product.Qty + delta
	if after < 0 && !(in.Type == domain.MovementOut && l.opts.AllowBackorder) {
		return nil, fmt.Errorf("%w: %s has %d, requested %d", domain.ErrInsufficientStock, product.SKU, product.Qty, -delta)
	}

	newCost := product.CostCents
	movementCost := product.CostCents
	if in.CostCents != nil {
		movementCost = *in.CostCents
		if revaluesCost(in.Type, delta) {
			newCost = WeightedAverageCost(product.CostCents, product.Qty, *in.CostCents, delta)
		}
	}

	movement := domain.StockMovement{
		ID:            xid.New("mv"),
		StoreID:       in.StoreID,
		ProductID:     product.ID,
		Type:          in.Type,
		QtyDelta:      delta,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		BeforeQty:     product.Qty,
		AfterQty:      after,
		CostCents:     movementCost,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedBy:     in.CreatedBy,
		CreatedAt:     l.now(),
	}
	if err := tx.ApplyStockMovement(ctx, movement, newCost); err != nil {
		return nil, err
	}
	return &movement, nil
}

// RecordMovements locks every product involved in ascending id order before
// writing, so concurrent multi-line units cannot deadlock each other.
func (l *Ledger) RecordMovements(ctx context.Context, tx store.Tx, inputs []MovementInput) ([]domain.StockMovement, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	storeID := inputs[0].StoreID
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in.StoreID != storeID {
			return nil, domain.Invalidf("movements span more than one store")
		}
		ids = append(ids, in.ProductID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if _, err := tx.LockProducts(ctx, storeID, ids); err != nil {
		return nil, err
	}

	out := make([]domain.StockMovement, 0, len(inputs))
	for _, in := range inputs {
		movement, err := l.RecordMovement(ctx, tx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, *movement)
	}
	return out, nil
}

// Record runs a single movement in its own unit of work.
func (l *Ledger) Record(ctx context.Context, in MovementInput) (*domain.StockMovement, error) {
	var movement *domain.StockMovement
	err := l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		movement, err = l.RecordMovement(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.InvalidateValuation(ctx, in.StoreID)
	l.log.Info("stock movement recorded",
		zap.String("product_id", movement.ProductID),
		zap.String("type", string(movement.Type)),
		zap.Int("delta", movement.QtyDelta),
		zap.Int("after_qty", movement.AfterQty))
	return movement, nil
}

type OpnameLine struct {
	ProductID  string
	CountedQty int
}

// Opname books the difference between counted and on-hand quantity as one
// ADJUSTMENT per changed product, all in one unit of work.
func (l *Ledger) Opname(ctx context.Context, storeID string, actor string, lines []OpnameLine, notes string) (string, []domain.StockMovement, int, error) {
	if len(lines) == 0 {
		return "", nil, 0, domain.Invalidf("opname requires at least one line")
	}
	counted := make(map[string]int, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" || line.CountedQty < 0 {
			return "", nil, 0, domain.Invalidf("opname line requires product and non-negative count")
		}
		if _, dup := counted[id]; dup {
			return "", nil, 0, domain.Invalidf("product %s counted twice", id)
		}
		counted[id] = line.CountedQty
		ids = append(ids, id)
	}
	slices.Sort(ids)

	opnameID := xid.New("opn")
	var movements []domain.StockMovement
	unchanged := 0
	err := l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		movements = movements[:0]
		unchanged = 0
		locked, err := tx.LockProducts(ctx, storeID, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			delta := counted[id] - locked[id].Qty
			if delta == 0 {
				unchanged++
				continue
			}
			movement, err := l.RecordMovement(ctx, tx, MovementInput{
				StoreID:       storeID,
				ProductID:     id,
				Type:          domain.MovementAdjustment,
				Quantity:      delta,
				ReferenceType: domain.RefOpname,
				ReferenceID:   opnameID,
				Notes:         notes,
				CreatedBy:     actor,
			})
			if err != nil {
				return err
			}
			movements = append(movements, *movement)
		}
		return nil
	})
	if err != nil {
		return "", nil, 0, err
	}
	l.InvalidateValuation(ctx, storeID)
	return opnameID, movements, unchanged, nil
}

// InvalidateValuation drops the cached valuation after a committed unit that
// moved stock. Cache failures are logged, never returned.
func (l *Ledger) InvalidateValuation(ctx context.Context, storeID string) {
	if err := l.valuations.Invalidate(ctx, storeID); err != nil {
		l.log.Warn("valuation cache invalidate failed", zap.String("store_id", storeID), zap.Error(err))
	}
}

func revaluesCost(t domain.MovementType, delta int) bool {
	return t == domain.MovementIn || (t == domain.MovementAdjustment && delta > 0)
}

// WeightedAverageCost blends the incoming cost into the running average. A
// non-positive on-hand quantity carries no value, so the incoming cost wins.
func WeightedAverageCost(oldCost int64, oldQty int, incomingCost int64, incomingQty int) int64 {
	if incomingQty <= 0 {
		return oldCost
	}
	if oldQty <= 0 {
		return incomingCost
	}
	oldValue := decimal.NewFromInt(oldCost).Mul(decimal.NewFromInt(int64(oldQty)))
	incomingValue := decimal.NewFromInt(incomingCost).Mul(decimal.NewFromInt(int64(incomingQty)))
	totalQty := decimal.NewFromInt(int64(oldQty + incomingQty))
	return oldValue.Add(incomingValue).Div(totalQty).Round(0).IntPart()
}
