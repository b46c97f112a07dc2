// Package cashledger records money movements. Entries linked to a sale are
// unique per sale and immutable; manual entries may change until verified.
package cashledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/cache"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/xid"
)

const (
	CategoryRefund       = "refund"
	CategorySaleReversal = "sale_reversal"
)

type Ledger struct {
	repo     store.Repository
	guard    cache.SyncGuard
	guardTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func New(repo store.Repository, guard cache.SyncGuard, guardTTL time.Duration, log *zap.Logger) *Ledger {
	if guard == nil {
		guard = cache.NewLocalSyncGuard()
	}
	if guardTTL <= 0 {
		guardTTL = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		repo:     repo,
		guard:    guard,
		guardTTL: guardTTL,
		log:      log.Named("cashledger"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

type Entry struct {
	StoreID           string
	Type              domain.CashType
	AmountCents       int64
	PaymentMethod     domain.PaymentMethod
	CategoryID        string
	SaleTransactionID string
	ReferenceType     domain.ReferenceType
	ReferenceID       string
	Notes             string
	CreatedBy         string
}

func (e Entry) validate() error {
	if strings.TrimSpace(e.StoreID) == "" {
		return domain.Invalidf("cash entry requires store")
	}
	if !e.Type.Valid() {
		return domain.Invalidf("unknown cash type %q", e.Type)
	}
	if e.AmountCents <= 0 {
		return domain.Invalidf("amount must be positive")
	}
	if !e.PaymentMethod.Valid() {
		return domain.Invalidf("unsupported payment method %q", e.PaymentMethod)
	}
	if !e.ReferenceType.Valid() {
		return domain.Invalidf("unknown reference type %q", e.ReferenceType)
	}
	return nil
}

// RecordTx writes one entry inside the caller's unit of work. When the entry
// is tied to a sale that already has one, the existing entry is returned
// with duplicate set and nothing is written.
func (l *Ledger) RecordTx(ctx context.Context, tx store.Tx, in Entry) (*domain.CashTransaction, bool, error) {
	if in.ReferenceType == "" {
		in.ReferenceType = domain.RefManual
	}
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	now := l.now()
	entry := domain.CashTransaction{
		ID:                xid.New("cash"),
		StoreID:           in.StoreID,
		Type:              in.Type,
		AmountCents:       in.AmountCents,
		PaymentMethod:     in.PaymentMethod,
		CategoryID:        strings.TrimSpace(in.CategoryID),
		SaleTransactionID: in.SaleTransactionID,
		ReferenceType:     in.ReferenceType,
		ReferenceID:       in.ReferenceID,
		Notes:             strings.TrimSpace(in.Notes),
		CreatedBy:         in.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := tx.InsertCashTransaction(ctx, entry)
	if errors.Is(err, domain.ErrDuplicateSync) {
		existing, lookupErr := tx.CashTransactionBySale(ctx, in.SaleTransactionID)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &entry, false, nil
}

// Record books a manual income or expense entry.
func (l *Ledger) Record(ctx context.Context, storeID string, actor string, req domain.CashEntryRequest) (*domain.CashTransaction, error) {
	method, err := domain.ParsePaymentMethod(string(req.PaymentMethod))
	if err != nil {
		return nil, err
	}
	if err := l.checkManualCategory(ctx, req.Type, req.CategoryID); err != nil {
		return nil, err
	}

	var entry *domain.CashTransaction
	err = l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entry, _, err = l.RecordTx(ctx, tx, Entry{
			StoreID:       storeID,
			Type:          req.Type,
			AmountCents:   req.AmountCents,
			PaymentMethod: method,
			CategoryID:    req.CategoryID,
			ReferenceType: domain.RefManual,
			Notes:         req.Notes,
			CreatedBy:     actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("cash entry recorded",
		zap.String("id", entry.ID),
		zap.String("type", string(entry.Type)),
		zap.Int64("amount_cents", entry.AmountCents))
	return entry, nil
}

// SyncSale creates the INCOME entry of a completed sale if it is missing.
// Repeated calls return the existing entry flagged as a duplicate.
func (l *Ledger) SyncSale(ctx context.Context, storeID string, saleID string) (*domain.CashEntryResponse, error) {
	key := storeID + ":" + saleID
	token, acquired, err := l.guard.Acquire(ctx, key, l.guardTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("%w: sync of sale %s already in progress", domain.ErrConcurrencyConflict, saleID)
	}
	defer func() {
		if err := l.guard.Release(context.WithoutCancel(ctx), key, token); err != nil {
			l.log.Warn("sync guard release failed", zap.String("sale_id", saleID), zap.Error(err))
		}
	}()

	var resp domain.CashEntryResponse
	err = l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
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
		entry, duplicate, err := l.RecordTx(ctx, tx, SaleIncome(*sale))
		if err != nil {
			return err
		}
		resp = domain.CashEntryResponse{Entry: *entry, Duplicate: duplicate}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp.Duplicate {
		l.log.Debug("sale already synced", zap.String("sale_id", saleID))
	}
	return &resp, nil
}

// SaleIncome is the single INCOME entry owed by a completed sale.
func SaleIncome(sale domain.SaleTransaction) Entry {
	return Entry{
		StoreID:           sale.StoreID,
		Type:              domain.CashIncome,
		AmountCents:       sale.TotalCents,
		PaymentMethod:     sale.PaymentMethod,
		SaleTransactionID: sale.ID,
		ReferenceType:     domain.RefSale,
		ReferenceID:       sale.ID,
		Notes:             fmt.Sprintf("sale #%d %s", sale.SequenceNo, sale.BusinessDate),
		CreatedBy:         sale.CashierID,
	}
}

func (l *Ledger) Update(ctx context.Context, storeID string, id string, patch domain.CashEntryPatch) (*domain.CashTransaction, error) {
	if patch.CategoryID != nil {
		// An entry's type never changes, so the category can be checked
		// against the committed row before the unit starts.
		current, err := l.repo.GetCashTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := l.checkManualCategory(ctx, current.Type, *patch.CategoryID); err != nil {
			return nil, err
		}
	}

	var updated domain.CashTransaction
	err := l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entry, err := l.lockMutable(ctx, tx, storeID, id)
		if err != nil {
			return err
		}
		if patch.AmountCents != nil {
			if *patch.AmountCents <= 0 {
				return domain.Invalidf("amount must be positive")
			}
			entry.AmountCents = *patch.AmountCents
		}
		if patch.PaymentMethod != nil {
			method, err := domain.ParsePaymentMethod(string(*patch.PaymentMethod))
			if err != nil {
				return err
			}
			entry.PaymentMethod = method
		}
		if patch.CategoryID != nil {
			entry.CategoryID = strings.TrimSpace(*patch.CategoryID)
		}
		if patch.Notes != nil {
			entry.Notes = strings.TrimSpace(*patch.Notes)
		}
		entry.UpdatedAt = l.now()
		updated = *entry
		return tx.UpdateCashTransaction(ctx, updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (l *Ledger) Delete(ctx context.Context, storeID string, id string) error {
	return l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := l.lockMutable(ctx, tx, storeID, id); err != nil {
			return err
		}
		return tx.DeleteCashTransaction(ctx, id)
	})
}

func (l *Ledger) Verify(ctx context.Context, storeID string, actor string, id string) (*domain.CashTransaction, error) {
	var verified domain.CashTransaction
	err := l.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entry, err := tx.LockCashTransaction(ctx, id)
		if err != nil {
			return err
		}
		if entry.StoreID != storeID {
			return fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, id)
		}
		if entry.IsVerified {
			return fmt.Errorf("%w: cash transaction %s already verified", domain.ErrInvalidState, id)
		}
		now := l.now()
		entry.IsVerified = true
		entry.VerifiedBy = actor
		entry.VerifiedAt = &now
		entry.UpdatedAt = now
		verified = *entry
		return tx.UpdateCashTransaction(ctx, verified)
	})
	if err != nil {
		return nil, err
	}
	return &verified, nil
}

func (l *Ledger) lockMutable(ctx context.Context, tx store.Tx, storeID string, id string) (*domain.CashTransaction, error) {
	entry, err := tx.LockCashTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.StoreID != storeID {
		return nil, fmt.Errorf("%w: cash transaction %s", domain.ErrNotFound, id)
	}
	if entry.IsVerified {
		return nil, fmt.Errorf("%w: cash transaction %s is verified", domain.ErrInvalidState, id)
	}
	if entry.SaleTransactionID != "" || entry.ReferenceType.System() {
		return nil, fmt.Errorf("%w: cash transaction %s is system generated", domain.ErrInvalidState, id)
	}
	return entry, nil
}

// checkManualCategory rejects unknown categories and the system categories
// reserved for refunds and reversals. Income entries carry no category.
func (l *Ledger) checkManualCategory(ctx context.Context, cashType domain.CashType, categoryID string) error {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return nil
	}
	if cashType == domain.CashIncome {
		return domain.Invalidf("income entries do not take a category")
	}
	category, err := l.repo.GetExpenseCategory(ctx, categoryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Invalidf("unknown expense category %q", categoryID)
		}
		return err
	}
	if category.System {
		return domain.Invalidf("category %q is reserved", categoryID)
	}
	return nil
}
