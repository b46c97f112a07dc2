// Package returns books customer returns against completed sales.
package returns

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
	defaultListLimit = 20
	maxListLimit     = 100

	// no sale line can carry more than this, so neither can a return line
	maxLineQty = 10000
)

type Processor struct {
	repo  store.Repository
	stock *stockledger.Ledger
	cash  *cashledger.Ledger
	log   *zap.Logger
	now   func() time.Time
}

func New(repo store.Repository, stock *stockledger.Ledger, cash *cashledger.Ledger, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		repo:  repo,
		stock: stock,
		cash:  cash,
		log:   log.Named("returns"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// CreateReturn checks every requested line against what is still returnable
// on the original sale and then restocks and refunds in one unit of work.
// Refunds use the price captured on the sale, never the current catalog price.
func (p *Processor) CreateReturn(ctx context.Context, storeID string, cashierID string, req domain.ReturnCreateRequest) (*domain.Return, error) {
	saleID := strings.TrimSpace(req.SaleTransactionID)
	if saleID == "" {
		return nil, domain.Invalidf("sale_transaction_id is required")
	}
	if strings.TrimSpace(cashierID) == "" {
		return nil, domain.Invalidf("cashier is required")
	}
	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}
	var refundMethod domain.PaymentMethod
	if req.RefundMethod != "" {
		if refundMethod, err = domain.ParsePaymentMethod(string(req.RefundMethod)); err != nil {
			return nil, err
		}
	}

	var ret domain.Return
	err = p.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.StoreID != storeID {
			return fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
		}
		if !sale.Status.Returnable() {
			return fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, saleID, sale.Status)
		}
		returned, err := tx.ReturnedQtyBySaleItem(ctx, saleID)
		if err != nil {
			return err
		}
		items, err := allocate(*sale, returned, lines)
		if err != nil {
			return err
		}

		ret = domain.Return{
			ID:                xid.New("ret"),
			StoreID:           storeID,
			SaleTransactionID: saleID,
			Items:             items,
			RefundMethod:      refundMethod,
			CashierID:         cashierID,
			Notes:             strings.TrimSpace(req.Notes),
			CreatedAt:         p.now(),
		}
		if ret.RefundMethod == "" {
			ret.RefundMethod = sale.PaymentMethod
		}
		for _, item := range items {
			ret.RefundTotalCents += item.SubtotalCents
		}

		inputs := make([]stockledger.MovementInput, 0, len(items))
		for _, item := range items {
			inputs = append(inputs, stockledger.MovementInput{
				StoreID:       storeID,
				ProductID:     item.ProductID,
				Type:          domain.MovementReturn,
				Quantity:      item.Qty,
				ReferenceType: domain.RefReturn,
				ReferenceID:   ret.ID,
				Notes:         ret.Notes,
				CreatedBy:     cashierID,
			})
		}
		if _, err := p.stock.RecordMovements(ctx, tx, inputs); err != nil {
			return err
		}

		refund, _, err := p.cash.RecordTx(ctx, tx, cashledger.Entry{
			StoreID:       storeID,
			Type:          domain.CashExpense,
			AmountCents:   ret.RefundTotalCents,
			PaymentMethod: ret.RefundMethod,
			CategoryID:    cashledger.CategoryRefund,
			ReferenceType: domain.RefReturn,
			ReferenceID:   ret.ID,
			Notes:         fmt.Sprintf("refund for sale #%d %s", sale.SequenceNo, sale.BusinessDate),
			CreatedBy:     cashierID,
		})
		if err != nil {
			return err
		}
		ret.CashTransactionID = refund.ID
		return tx.InsertReturn(ctx, ret)
	})
	if err != nil {
		return nil, err
	}
	p.stock.InvalidateValuation(ctx, storeID)
	p.log.Info("return recorded",
		zap.String("return_id", ret.ID),
		zap.String("sale_id", saleID),
		zap.Int64("refund_cents", ret.RefundTotalCents),
		zap.String("refund_method", string(ret.RefundMethod)))
	return &ret, nil
}

// ListReturnable pages through completed and locked sales, newest first, and
// keeps those with at least one line not yet fully returned.
func (p *Processor) ListReturnable(ctx context.Context, storeID string, cashierID string, page domain.Page) ([]domain.ReturnableSale, error) {
	if page.Limit <= 0 {
		page.Limit = defaultListLimit
	}
	if page.Limit > maxListLimit {
		page.Limit = maxListLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	sales, err := p.repo.ListSales(ctx, store.SaleQuery{
		StoreID:   storeID,
		CashierID: cashierID,
		Statuses:  []domain.SaleStatus{domain.SaleCompleted, domain.SaleLocked},
		Limit:     page.Limit,
		Offset:    page.Offset,
	})
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return []domain.ReturnableSale{}, nil
	}

	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	returned, err := p.repo.ReturnedQtyBySaleItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ReturnableSale, 0, len(sales))
	for _, sale := range sales {
		candidate := returnable(sale, returned[sale.ID])
		for _, line := range candidate.Lines {
			if line.RemainingQty > 0 {
				out = append(out, candidate)
				break
			}
		}
	}
	return out, nil
}

// Returnable reports the remaining returnable quantity of every line of one sale.
func (p *Processor) Returnable(ctx context.Context, storeID string, saleID string) (*domain.ReturnableSale, error) {
	sale, err := p.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.StoreID != storeID {
		return nil, fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
	}
	if !sale.Status.Returnable() {
		return nil, fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidState, saleID, sale.Status)
	}
	returned, err := p.repo.ReturnedQtyBySaleItems(ctx, []string{saleID})
	if err != nil {
		return nil, err
	}
	out := returnable(*sale, returned[saleID])
	return &out, nil
}

func (p *Processor) Get(ctx context.Context, storeID string, returnID string) (*domain.Return, error) {
	ret, err := p.repo.GetReturn(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if ret.StoreID != storeID {
		return nil, fmt.Errorf("%w: return %s", domain.ErrNotFound, returnID)
	}
	return ret, nil
}

func (p *Processor) ListBySale(ctx context.Context, storeID string, saleID string) ([]domain.Return, error) {
	sale, err := p.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.StoreID != storeID {
		return nil, fmt.Errorf("%w: sale %s", domain.ErrNotFound, saleID)
	}
	return p.repo.ListReturnsBySale(ctx, saleID)
}

func returnable(sale domain.SaleTransaction, returned map[string]int) domain.ReturnableSale {
	lines := make([]domain.ReturnableLine, 0, len(sale.Items))
	for _, item := range sale.Items {
		done := returned[item.ID]
		lines = append(lines, domain.ReturnableLine{
			SaleItemID:     item.ID,
			ProductID:      item.ProductID,
			SKU:            item.SKU,
			Name:           item.Name,
			SoldQty:        item.Qty,
			ReturnedQty:    done,
			RemainingQty:   max(item.Qty-done, 0),
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return domain.ReturnableSale{Sale: sale, Lines: lines}
}

// allocate spreads each requested product quantity over the sale lines that
// sold it, in sale order. Any shortfall rejects the whole return.
func allocate(sale domain.SaleTransaction, returned map[string]int, lines []domain.ReturnLineRequest) ([]domain.ReturnItem, error) {
	items := make([]domain.ReturnItem, 0, len(lines))
	for _, line := range lines {
		want := line.Qty
		sold := false
		for _, saleItem := range sale.Items {
			if saleItem.ProductID != line.ProductID {
				continue
			}
			sold = true
			remaining := saleItem.Qty - returned[saleItem.ID]
			if remaining <= 0 {
				continue
			}
			take := min(want, remaining)
			items = append(items, domain.ReturnItem{
				ID:             xid.New("ri"),
				SaleItemID:     saleItem.ID,
				ProductID:      saleItem.ProductID,
				SKU:            saleItem.SKU,
				Qty:            take,
				UnitPriceCents: saleItem.UnitPriceCents,
				SubtotalCents:  saleItem.UnitPriceCents * int64(take),
			})
			want -= take
			if want == 0 {
				break
			}
		}
		if !sold {
			return nil, domain.Invalidf("product %s is not on sale %s", line.ProductID, sale.ID)
		}
		if want > 0 {
			return nil, fmt.Errorf("%w: product %s short by %d", domain.ErrExcessiveReturnQuantity, line.ProductID, want)
		}
	}
	return items, nil
}

func mergeLines(lines []domain.ReturnLineRequest) ([]domain.ReturnLineRequest, error) {
	if len(lines) == 0 {
		return nil, domain.Invalidf("return requires at least one item")
	}
	out := make([]domain.ReturnLineRequest, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, domain.Invalidf("item product is required")
		}
		if line.Qty <= 0 {
			return nil, domain.Invalidf("item %s quantity must be positive", id)
		}
		if line.Qty > maxLineQty {
			return nil, fmt.Errorf("%w: item %s quantity exceeds %d", domain.ErrExcessiveReturnQuantity, id, maxLineQty)
		}
		if i, seen := index[id]; seen {
			if line.Qty > maxLineQty-out[i].Qty {
				return nil, fmt.Errorf("%w: item %s quantity exceeds %d", domain.ErrExcessiveReturnQuantity, id, maxLineQty)
			}
			out[i].Qty += line.Qty
			continue
		}
		index[id] = len(out)
		out = append(out, domain.ReturnLineRequest{ProductID: id, Qty: line.Qty})
	}
	return out, nil
}
