package store

import (
	"context"
	"time"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
)

type Repository interface {
	UnitOfWork
	Catalog
	LedgerReader
	AuditStore
	UserStore
}

// UnitOfWork runs fn as one atomic unit. Every write made through tx is
// committed together when fn returns nil and discarded otherwise, including
// when ctx is cancelled before commit.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface available inside a unit of work. Row accessors
// named Lock* hold the row until the unit ends.
type Tx interface {
	// LockProducts locks the rows in ascending id order and fails with
	// domain.ErrNotFound if any id is unknown.
	LockProducts(ctx context.Context, storeID string, productIDs []string) (map[string]domain.Product, error)
	// ApplyStockMovement appends the movement and sets the product's qty to
	// movement.AfterQty and its cost to costCents. It is the only write path
	// for product quantity.
	ApplyStockMovement(ctx context.Context, movement domain.StockMovement, costCents int64) error
	// InsertProduct registers a product at zero stock, so its opening
	// quantity can be booked in the same unit.
	InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// InsertCashTransaction fails with domain.ErrDuplicateSync when an entry
	// already exists for entry.SaleTransactionID.
	InsertCashTransaction(ctx context.Context, entry domain.CashTransaction) error
	CashTransactionBySale(ctx context.Context, saleID string) (*domain.CashTransaction, error)
	LockCashTransaction(ctx context.Context, id string) (*domain.CashTransaction, error)
	UpdateCashTransaction(ctx context.Context, entry domain.CashTransaction) error
	DeleteCashTransaction(ctx context.Context, id string) error

	NextSaleSequence(ctx context.Context, storeID string, businessDate string) (int, error)
	InsertSale(ctx context.Context, sale domain.SaleTransaction) error
	LockSale(ctx context.Context, saleID string) (*domain.SaleTransaction, error)
	UpdateSale(ctx context.Context, sale domain.SaleTransaction) error
	CompletedSaleIDsBefore(ctx context.Context, storeID string, until time.Time) ([]string, error)

	// ReturnedQtyBySaleItem maps sale item id to the quantity already returned.
	ReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]int, error)
	InsertReturn(ctx context.Context, ret domain.Return) error

	// InsertDrawer fails with domain.ErrDrawerAlreadyOpen when the cashier
	// already holds an OPEN drawer in the store.
	InsertDrawer(ctx context.Context, drawer domain.CashDrawer) error
	LockDrawer(ctx context.Context, drawerID string) (*domain.CashDrawer, error)
	UpdateDrawer(ctx context.Context, drawer domain.CashDrawer) error
	DrawerCashTotals(ctx context.Context, storeID string, cashierID string, from time.Time, to time.Time) (domain.DrawerCashTotals, error)
}

type Catalog interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, storeID string, productID string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, storeID string, productIDs []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	ListExpenseCategories(ctx context.Context) ([]domain.ExpenseCategory, error)
	GetExpenseCategory(ctx context.Context, id string) (*domain.ExpenseCategory, error)
}

// CashSum is one aggregate row of the cash ledger grouped by type, payment
// method and category.
type CashSum struct {
	Type          domain.CashType      `db:"type"`
	PaymentMethod domain.PaymentMethod `db:"payment_method"`
	CategoryID    string               `db:"category_id"`
	TotalCents    int64                `db:"total_cents"`
	Entries       int                  `db:"entries"`
}

type LedgerReader interface {
	ListStockMovements(ctx context.Context, storeID string, productID string, page domain.Page) ([]domain.StockMovement, int, error)
	// StockMovementsAscending returns the full history of a product oldest first.
	StockMovementsAscending(ctx context.Context, storeID string, productID string) ([]domain.StockMovement, error)
	LastMovementAt(ctx context.Context, storeID string, movementType domain.MovementType) (map[string]time.Time, error)

	GetCashTransaction(ctx context.Context, id string) (*domain.CashTransaction, error)
	ListCashTransactions(ctx context.Context, filter domain.CashFilter) ([]domain.CashTransaction, error)
	// SumCash aggregates entries created in [from, to). Zero bounds are open.
	SumCash(ctx context.Context, storeID string, from time.Time, to time.Time) ([]CashSum, error)

	GetSale(ctx context.Context, saleID string) (*domain.SaleTransaction, error)
	ListSales(ctx context.Context, filter SaleQuery) ([]domain.SaleTransaction, error)

	GetReturn(ctx context.Context, returnID string) (*domain.Return, error)
	ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error)
	ReturnedQtyBySaleItems(ctx context.Context, saleIDs []string) (map[string]map[string]int, error)

	GetDrawer(ctx context.Context, drawerID string) (*domain.CashDrawer, error)
	GetOpenDrawer(ctx context.Context, storeID string, cashierID string) (*domain.CashDrawer, error)
	ListDrawers(ctx context.Context, storeID string, cashierID string, page domain.Page) ([]domain.CashDrawer, error)
}

type SaleQuery struct {
	StoreID   string
	CashierID string
	Statuses  []domain.SaleStatus
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
