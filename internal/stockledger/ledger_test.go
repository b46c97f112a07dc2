package stockledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/cache"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store/memory"
)

const testStore = "main-store"

func newTestLedger(t *testing.T, opts Options) (*Ledger, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return New(repo, nil, opts, nil), repo
}

func seedProduct(t *testing.T, l *Ledger, repo *memory.Store, sku string, price int64, qty int, cost int64) domain.Product {
	t.Helper()
	ctx := context.Background()
	product, err := repo.CreateProduct(ctx, domain.Product{StoreID: testStore, SKU: sku, Name: sku, Category: "food", PriceCents: price, MinStock: 2})
	require.NoError(t, err)
	if qty > 0 {
		_, err = l.Receive(ctx, testStore, "admin", domain.StockReceiveRequest{ProductID: product.ID, Qty: qty, CostCents: cost})
		require.NoError(t, err)
	}
	got, err := repo.GetProduct(ctx, testStore, product.ID)
	require.NoError(t, err)
	return *got
}

func TestRecordOutRejectsNegativeStockWithoutWrites(t *testing.T) {
	l, repo := newTestLedger(t, Options{})
	product := seedProduct(t, l, repo, "SKU-A", 5000, 3, 3000)

	_, err := l.Record(context.Background(), MovementInput{
		StoreID: testStore, ProductID: product.ID, Type: domain.MovementOut, Quantity: 5,
		ReferenceType: domain.RefSale, ReferenceID: "sale-1", CreatedBy: "cashier",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))

	after, err := repo.GetProduct(context.Background(), testStore, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.Qty)

	page, err := l.MovementsByProduct(context.Background(), testStore, product.ID, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total, "only the opening IN is recorded")
}

func TestRecordOutAllowsBackorderWhenConfigured(t *testing.T) {
	l, repo := newTestLedger(t, Options{AllowBackorder: true})
	product := seedProduct(t, l, repo, "SKU-A", 5000, 1, 3000)

	movement, err := l.Record(context.Background(), MovementInput{
		StoreID: testStore, ProductID: product.ID, Type: domain.MovementOut, Quantity: 3,
		ReferenceType: domain.RefSale, ReferenceID: "sale-1",
	})
	require.NoError(t, err)
	assert.Equal(t, -2, movement.AfterQty)

	_, err = l.Record(context.Background(), MovementInput{
		StoreID: testStore, ProductID: product.ID, Type: domain.MovementAdjustment, Quantity: -1,
		ReferenceType: domain.RefManual,
	})
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock), "backorder only applies to OUT")
}

func TestSignedDeltaFollowsMovementType(t *testing.T) {
	l, repo := newTestLedger(t, Options{})
	product := seedProduct(t, l, repo, "SKU-A", 5000, 10, 3000)
	ctx := context.Background()

	out, err := l.Record(ctx, MovementInput{StoreID: testStore, ProductID: product.ID, Type: domain.MovementOut, Quantity: 4, ReferenceType: domain.RefSale})
	require.NoError(t, err)
	assert.Equal(t, -4, out.QtyDelta)
	assert.Equal(t, 10, out.BeforeQty)
	assert.Equal(t, 6, out.AfterQty)

	ret, err := l.Record(ctx, MovementInput{StoreID: testStore, ProductID: product.ID, Type: domain.MovementReturn, Quantity: 1, ReferenceType: domain.RefReturn})
	require.NoError(t, err)
	assert.Equal(t, 1, ret.QtyDelta)
	assert.Equal(t, 7, ret.AfterQty)

	_, err = l.Record(ctx, MovementInput{StoreID: testStore, ProductID: product.ID, Type: domain.MovementOut, Quantity: -1, ReferenceType: domain.RefSale})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestWeightedAverageCost(t *testing.T) {
	cases := []struct {
		name         string
		oldCost      int64
		oldQty       int
		incomingCost int64
		incomingQty  int
		want         int64
	}{
		{"blend", 3000, 10, 4000, 10, 3500},
		{"rounds to nearest cent", 1000, 2, 1001, 1, 1000},
		{"empty stock takes incoming", 3000, 0, 4200, 5, 4200},
		{"negative stock takes incoming", 3000, -2, 4200, 5, 4200},
		{"no incoming keeps old", 3000, 10, 9999, 0, 3000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, WeightedAverageCost(tc.oldCost, tc.oldQty, tc.incomingCost, tc.incomingQty))
		})
	}
}

func TestOutAndReturnKeepCost(t *testing.T) {
	l, repo := newTestLedger(t, Options{})
	ctx := context.Background()
	product := seedProduct(t, l, repo, "SKU-A", 5000, 10, 3000)

	_, err := l.Receive(ctx, testStore, "admin", domain.StockReceiveRequest{ProductID: product.ID, Qty: 10, CostCents: 4000})
	require.NoError(t, err)
	got, _ := repo.GetProduct(ctx, testStore, product.ID)
	assert.Equal(t, int64(3500), got.CostCents)

	_, err = l.Record(ctx, MovementInput{StoreID: testStore, ProductID: product.ID, Type: domain.MovementOut, Quantity: 5, ReferenceType: domain.RefSale})
	require.NoError(t, err)
	_, err = l.Record(ctx, MovementInput{StoreID: testStore, ProductID: product.ID, Type: domain.MovementReturn, Quantity: 1, ReferenceType: domain.RefReturn})
	require.NoError(t, err)

	got, _ = repo.GetProduct(ctx, testStore, product.ID)
	assert.Equal(t, int64(3500), got.CostCents)
	assert.Equal(t, 16, got.Qty)
}

func TestOpnameBooksOnlyDifferences(t *testing.T) {
	l, repo := newTestLedger(t, Options{})
	ctx := context.Background()
	a := seedProduct(t, l, repo, "SKU-A", 5000, 10, 3000)
	b := seedProduct(t, l, repo, "SKU-B", 2000, 4, 1000)

	opnameID, movements, unchanged, err := l.Opname(ctx, testStore, "admin", []OpnameLine{
		{ProductID: a.ID, CountedQty: 8},
		{ProductID: b.ID, CountedQty: 4},
	}, "monthly count")
	require.NoError(t, err)
	assert.NotEmpty(t, opnameID)
	assert.Equal(t, 1, unchanged)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementAdjustment, movements[0].Type)
	assert.Equal(t, domain.RefOpname, movements[0].ReferenceType)
	assert.Equal(t, opnameID, movements[0].ReferenceID)
	assert.Equal(t, -2, movements[0].QtyDelta)
}

func TestOpnameRollsBackOnUnknownProduct(t *testing.T) {
	l, repo := newTestLedger(t, Options{})
	ctx := context.Background()
	a := seedProduct(t, l, repo, "SKU-A", 5000, 10, 3000)

	_, _, _, err := l.Opname(ctx, testStore, "admin", []OpnameLine{
		{ProductID: a.ID, CountedQty: 1},
		{ProductID: "prd-missing", CountedQty: 1},
	}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	got, _ := repo.GetProduct(ctx, testStore, a.ID)
	assert.Equal(t, 10, got.Qty)
}

func TestRecordMovementsRollBackTogether(t *testing.T) {
	l, repo := newTestLedger(t, Options{})
	ctx := context.Background()
	a := seedProduct(t, l, repo, "SKU-A", 5000, 10, 3000)
	b := seedProduct(t, l, repo, "SKU-B", 2000, 1, 1000)

	err := repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := l.RecordMovements(ctx, tx, []MovementInput{
			{StoreID: testStore, ProductID: a.ID, Type: domain.MovementOut, Quantity: 2, ReferenceType: domain.RefSale, ReferenceID: "sale-x"},
			{StoreID: testStore, ProductID: b.ID, Type: domain.MovementOut, Quantity: 2, ReferenceType: domain.RefSale, ReferenceID: "sale-x"},
		})
		return err
	})
	require.True(t, errors.Is(err, domain.ErrInsufficientStock))

	gotA, _ := repo.GetProduct(ctx, testStore, a.ID)
	assert.Equal(t, 10, gotA.Qty, "first line must roll back with the second")
	replay, err := l.Replay(ctx, testStore, a.ID)
	require.NoError(t, err)
	assert.True(t, replay.Consistent)
	assert.Equal(t, 1, replay.Movements)
}

func TestConcurrentOutNeverOversells(t *testing.T) {
	l, repo := newTestLedger(t, Options{})
	ctx := context.Background()
	product := seedProduct(t, l, repo, "SKU-A", 5000, 20, 3000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Record(ctx, MovementInput{StoreID: testStore, ProductID: product.ID, Type: domain.MovementOut, Quantity: 1, ReferenceType: domain.RefSale})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, succeeded)
	replay, err := l.Replay(ctx, testStore, product.ID)
	require.NoError(t, err)
	assert.True(t, replay.Consistent)
	assert.False(t, replay.NegativeFound)
	assert.Equal(t, 0, replay.CurrentQty)
}

func TestValuationLowStockAndDeadStock(t *testing.T) {
	l, repo := newTestLedger(t, Options{})
	ctx := context.Background()
	a := seedProduct(t, l, repo, "SKU-A", 5000, 10, 3000)
	b := seedProduct(t, l, repo, "SKU-B", 2000, 1, 1000)
	seedProduct(t, l, repo, "SKU-C", 1500, 0, 0)

	valuation, err := l.Valuation(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, 3, valuation.ProductCount)
	assert.Equal(t, int64(11), valuation.TotalUnits)
	assert.Equal(t, int64(10*3000+1*1000), valuation.CostValueCents)
	assert.Equal(t, int64(10*5000+1*2000), valuation.RetailValueCents)
	assert.Equal(t, valuation.RetailValueCents-valuation.CostValueCents, valuation.PotentialMarginCents)

	low, err := l.LowStock(ctx, testStore)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, 0, low[0].Qty)
	assert.Equal(t, b.ID, low[1].ID)

	_, err = l.Record(ctx, MovementInput{StoreID: testStore, ProductID: a.ID, Type: domain.MovementOut, Quantity: 1, ReferenceType: domain.RefSale})
	require.NoError(t, err)

	dead, err := l.DeadStock(ctx, testStore, 30)
	require.NoError(t, err)
	assert.Empty(t, dead, "everything is newer than the window")

	l.WithClock(func() time.Time { return time.Now().UTC().Add(45 * 24 * time.Hour) })
	dead, err = l.DeadStock(ctx, testStore, 30)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	for _, item := range dead {
		if item.Product.ID == a.ID {
			assert.NotNil(t, item.LastSoldAt)
		} else {
			assert.Equal(t, b.ID, item.Product.ID)
			assert.Nil(t, item.LastSoldAt)
		}
	}
}

func TestMovementsByProductNewestFirst(t *testing.T) {
	l, repo := newTestLedger(t, Options{})
	ctx := context.Background()
	product := seedProduct(t, l, repo, "SKU-A", 5000, 10, 3000)
	for i := 0; i < 3; i++ {
		_, err := l.Record(ctx, MovementInput{StoreID: testStore, ProductID: product.ID, Type: domain.MovementOut, Quantity: 1, ReferenceType: domain.RefSale})
		require.NoError(t, err)
	}

	page, err := l.MovementsByProduct(ctx, testStore, product.ID, domain.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Movements, 2)
	assert.Equal(t, 7, page.Movements[0].AfterQty)
	assert.Equal(t, 8, page.Movements[1].AfterQty)

	page, err = l.MovementsByProduct(ctx, testStore, product.ID, domain.Page{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, maxMovementLimit, page.Limit)

	_, err = l.MovementsByProduct(ctx, testStore, "prd-missing", domain.Page{})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// pausingRepo holds the first ListProducts call after it has read, until
// resume is closed.
type pausingRepo struct {
	*memory.Store
	once   sync.Once
	read   chan struct{}
	resume chan struct{}
}

func (r *pausingRepo) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	products, err := r.Store.ListProducts(ctx, storeID)
	r.once.Do(func() {
		close(r.read)
		<-r.resume
	})
	return products, err
}

func TestValuationRacingReceiveIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo := &pausingRepo{Store: memory.New(), read: make(chan struct{}), resume: make(chan struct{})}
	l := New(repo, cache.NewLocalValuationCache(), Options{ValuationTTL: time.Hour}, nil)
	product := seedProduct(t, l, repo.Store, "SKU-A", 5000, 10, 3000)

	type result struct {
		valuation *domain.InventoryValuation
		err       error
	}
	done := make(chan result, 1)
	go func() {
		v, err := l.Valuation(ctx, testStore)
		done <- result{v, err}
	}()

	<-repo.read
	_, err := l.Receive(ctx, testStore, "admin", domain.StockReceiveRequest{ProductID: product.ID, Qty: 90, CostCents: 3000})
	require.NoError(t, err)
	close(repo.resume)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, int64(10), first.valuation.TotalUnits, "summary computed before the receive")

	next, err := l.Valuation(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, int64(100), next.TotalUnits)

	// a summary computed without a racing write is cached as usual
	cached, err := l.Valuation(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, next.ComputedAt, cached.ComputedAt)
}
