// Package drawer reconciles a cashier's shift against the cash ledger.
package drawer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/xid"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type Reconciler struct {
	repo store.Repository
	log  *zap.Logger
	now  func() time.Time
}

func New(repo store.Repository, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		repo: repo,
		log:  log.Named("drawer"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Open starts a shift. A cashier holds at most one OPEN drawer per store.
func (r *Reconciler) Open(ctx context.Context, storeID string, cashierID string, req domain.DrawerOpenRequest) (*domain.CashDrawer, error) {
	if strings.TrimSpace(cashierID) == "" {
		return nil, domain.Invalidf("cashier is required")
	}
	if req.OpeningBalanceCents < 0 {
		return nil, domain.Invalidf("opening balance must not be negative")
	}

	drawer := domain.CashDrawer{
		ID:                  xid.New("drw"),
		StoreID:             storeID,
		CashierID:           cashierID,
		OpenedAt:            r.now(),
		OpeningBalanceCents: req.OpeningBalanceCents,
		Status:              domain.DrawerOpen,
	}
	err := r.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertDrawer(ctx, drawer)
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("drawer opened",
		zap.String("drawer_id", drawer.ID),
		zap.String("cashier_id", cashierID),
		zap.Int64("opening_balance_cents", drawer.OpeningBalanceCents))
	return &drawer, nil
}

// Close ends the shift. The expected balance is the opening float plus CASH
// sale income minus CASH refunds booked by the cashier inside the shift
// window. Without a counted amount the drawer closes as CLOSED with no
// variance.
func (r *Reconciler) Close(ctx context.Context, storeID string, drawerID string, req domain.DrawerCloseRequest) (*domain.CashDrawer, error) {
	if req.CountedBalanceCents != nil && *req.CountedBalanceCents < 0 {
		return nil, domain.Invalidf("counted balance must not be negative")
	}

	var closed domain.CashDrawer
	err := r.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		drawer, err := tx.LockDrawer(ctx, drawerID)
		if err != nil {
			return err
		}
		if drawer.StoreID != storeID {
			return fmt.Errorf("%w: %s", domain.ErrDrawerNotFound, drawerID)
		}

		closedAt := r.now()
		totals, err := tx.DrawerCashTotals(ctx, storeID, drawer.CashierID, drawer.OpenedAt, closedAt)
		if err != nil {
			return err
		}
		expected := drawer.OpeningBalanceCents + totals.CashInCents - totals.CashOutCents

		status := domain.DrawerClosed
		var difference *int64
		if req.CountedBalanceCents != nil {
			diff := *req.CountedBalanceCents - expected
			difference = &diff
			status = domain.DrawerStatusForDifference(diff)
		}
		if !drawer.Status.CanTransition(status) {
			return fmt.Errorf("%w: drawer %s is %s", domain.ErrInvalidState, drawerID, drawer.Status)
		}

		drawer.ClosedAt = &closedAt
		drawer.CashInCents = totals.CashInCents
		drawer.CashOutCents = totals.CashOutCents
		drawer.ExpectedBalanceCents = &expected
		drawer.CountedBalanceCents = req.CountedBalanceCents
		drawer.DifferenceCents = difference
		drawer.Status = status
		drawer.Notes = strings.TrimSpace(req.Notes)
		closed = *drawer
		return tx.UpdateDrawer(ctx, closed)
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("drawer_id", closed.ID),
		zap.String("cashier_id", closed.CashierID),
		zap.String("status", string(closed.Status)),
		zap.Int64("expected_cents", *closed.ExpectedBalanceCents),
	}
	if closed.DifferenceCents != nil {
		fields = append(fields, zap.Int64("difference_cents", *closed.DifferenceCents))
	}
	if closed.Status == domain.DrawerShort || closed.Status == domain.DrawerOver {
		r.log.Warn("drawer closed with variance", fields...)
	} else {
		r.log.Info("drawer closed", fields...)
	}
	return &closed, nil
}

func (r *Reconciler) Current(ctx context.Context, storeID string, cashierID string) (*domain.CashDrawer, error) {
	return r.repo.GetOpenDrawer(ctx, storeID, cashierID)
}

func (r *Reconciler) History(ctx context.Context, storeID string, cashierID string, page domain.Page) ([]domain.CashDrawer, error) {
	if page.Limit <= 0 {
		page.Limit = defaultHistoryLimit
	}
	if page.Limit > maxHistoryLimit {
		page.Limit = maxHistoryLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return r.repo.ListDrawers(ctx, storeID, cashierID, page)
}

func (r *Reconciler) Get(ctx context.Context, storeID string, drawerID string) (*domain.CashDrawer, error) {
	drawer, err := r.repo.GetDrawer(ctx, drawerID)
	if err != nil {
		return nil, err
	}
	if drawer.StoreID != storeID {
		return nil, fmt.Errorf("%w: %s", domain.ErrDrawerNotFound, drawerID)
	}
	return drawer, nil
}
