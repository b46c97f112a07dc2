package domain

import "time"

type Product struct {
	ID         string    `json:"id" db:"id"`
	StoreID    string    `json:"store_id" db:"store_id"`
	SKU        string    `json:"sku" db:"sku"`
	Name       string    `json:"name" db:"name"`
	Category   string    `json:"category" db:"category"`
	Qty        int       `json:"qty" db:"qty"`
	MinStock   int       `json:"min_stock" db:"min_stock"`
	PriceCents int64     `json:"price_cents" db:"price_cents"`
	CostCents  int64     `json:"cost_cents" db:"cost_cents"`
	Active     bool      `json:"active" db:"active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

type ProductCreateRequest struct {
	SKU              string `json:"sku"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	PriceCents       int64  `json:"price_cents"`
	MinStock         int    `json:"min_stock"`
	InitialStock     int    `json:"initial_stock"`
	InitialCostCents int64  `json:"initial_cost_cents"`
}

type StockMovement struct {
	ID            string        `json:"id" db:"id"`
	StoreID       string        `json:"store_id" db:"store_id"`
	ProductID     string        `json:"product_id" db:"product_id"`
	Type          MovementType  `json:"type" db:"type"`
	QtyDelta      int           `json:"qty_delta" db:"qty_delta"`
	ReferenceType ReferenceType `json:"reference_type" db:"reference_type"`
	ReferenceID   string        `json:"reference_id" db:"reference_id"`
	BeforeQty     int           `json:"before_qty" db:"before_qty"`
	AfterQty      int           `json:"after_qty" db:"after_qty"`
	CostCents     int64         `json:"cost_cents" db:"cost_cents"`
	Notes         string        `json:"notes,omitempty" db:"notes"`
	CreatedBy     string        `json:"created_by" db:"created_by"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

type StockReceiveRequest struct {
	ProductID   string `json:"product_id"`
	Qty         int    `json:"qty"`
	CostCents   int64  `json:"cost_cents"`
	ReferenceID string `json:"reference_id"`
	Notes       string `json:"notes"`
}

type StockAdjustRequest struct {
	ProductID string `json:"product_id"`
	QtyDelta  int    `json:"qty_delta"`
	CostCents *int64 `json:"cost_cents,omitempty"`
	Notes     string `json:"notes"`
}

type StockOpnameLine struct {
	ProductID  string `json:"product_id"`
	CountedQty int    `json:"counted_qty"`
}

type StockOpnameRequest struct {
	Lines []StockOpnameLine `json:"lines"`
	Notes string            `json:"notes"`
}

type StockOpnameResponse struct {
	OpnameID  string          `json:"opname_id"`
	Movements []StockMovement `json:"movements"`
	Unchanged int             `json:"unchanged"`
}

type MovementPage struct {
	Movements []StockMovement `json:"movements"`
	Total     int             `json:"total"`
	Limit     int             `json:"limit"`
	Offset    int             `json:"offset"`
}

type InventoryValuation struct {
	StoreID              string    `json:"store_id"`
	ProductCount         int       `json:"product_count"`
	TotalUnits           int64     `json:"total_units"`
	CostValueCents       int64     `json:"cost_value_cents"`
	RetailValueCents     int64     `json:"retail_value_cents"`
	PotentialMarginCents int64     `json:"potential_margin_cents"`
	ComputedAt           time.Time `json:"computed_at"`
}

type DeadStockItem struct {
	Product    Product    `json:"product"`
	LastSoldAt *time.Time `json:"last_sold_at,omitempty"`
}

type ReplayResult struct {
	ProductID     string `json:"product_id"`
	Movements     int    `json:"movements"`
	ReplayedQty   int    `json:"replayed_qty"`
	CurrentQty    int    `json:"current_qty"`
	Consistent    bool   `json:"consistent"`
	FirstBreakAt  string `json:"first_break_at,omitempty"`
	NegativeFound bool   `json:"negative_found"`
}

type CashTransaction struct {
	ID                string        `json:"id" db:"id"`
	StoreID           string        `json:"store_id" db:"store_id"`
	Type              CashType      `json:"type" db:"type"`
	AmountCents       int64         `json:"amount_cents" db:"amount_cents"`
	PaymentMethod     PaymentMethod `json:"payment_method" db:"payment_method"`
	CategoryID        string        `json:"category_id,omitempty" db:"category_id"`
	SaleTransactionID string        `json:"sale_transaction_id,omitempty" db:"sale_transaction_id"`
	ReferenceType     ReferenceType `json:"reference_type" db:"reference_type"`
	ReferenceID       string        `json:"reference_id,omitempty" db:"reference_id"`
	Notes             string        `json:"notes,omitempty" db:"notes"`
	IsVerified        bool          `json:"is_verified" db:"is_verified"`
	VerifiedBy        string        `json:"verified_by,omitempty" db:"verified_by"`
	VerifiedAt        *time.Time    `json:"verified_at,omitempty" db:"verified_at"`
	CreatedBy         string        `json:"created_by" db:"created_by"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

type CashEntryRequest struct {
	Type          CashType      `json:"type"`
	AmountCents   int64         `json:"amount_cents"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	CategoryID    string        `json:"category_id"`
	Notes         string        `json:"notes"`
}

type CashEntryPatch struct {
	AmountCents   *int64         `json:"amount_cents,omitempty"`
	PaymentMethod *PaymentMethod `json:"payment_method,omitempty"`
	CategoryID    *string        `json:"category_id,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
}

type CashEntryResponse struct {
	Entry     CashTransaction `json:"entry"`
	Duplicate bool            `json:"duplicate"`
}

type CashFilter struct {
	StoreID       string
	Type          CashType
	PaymentMethod PaymentMethod
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

type CashBalance struct {
	StoreID       string        `json:"store_id"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	IncomeCents   int64         `json:"income_cents"`
	ExpenseCents  int64         `json:"expense_cents"`
	BalanceCents  int64         `json:"balance_cents"`
}

type MethodFlow struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
	IncomeCents   int64         `json:"income_cents"`
	ExpenseCents  int64         `json:"expense_cents"`
	NetCents      int64         `json:"net_cents"`
	Entries       int           `json:"entries"`
}

type CashFlowSummary struct {
	StoreID      string       `json:"store_id"`
	From         time.Time    `json:"from"`
	To           time.Time    `json:"to"`
	ByMethod     []MethodFlow `json:"by_method"`
	IncomeCents  int64        `json:"income_cents"`
	ExpenseCents int64        `json:"expense_cents"`
	NetCents     int64        `json:"net_cents"`
}

type ExpenseCategory struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	System bool   `json:"system" db:"system"`
}

type CategoryExpense struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	TotalCents   int64  `json:"total_cents"`
	Entries      int    `json:"entries"`
	SharePercent string `json:"share_percent"`
}

type ExpenseBreakdown struct {
	StoreID    string            `json:"store_id"`
	From       time.Time         `json:"from"`
	To         time.Time         `json:"to"`
	TotalCents int64             `json:"total_cents"`
	Categories []CategoryExpense `json:"categories"`
}

type SaleItem struct {
	ID             string `json:"id" db:"id"`
	ProductID      string `json:"product_id" db:"product_id"`
	SKU            string `json:"sku" db:"sku"`
	Name           string `json:"name" db:"name"`
	Qty            int    `json:"qty" db:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents" db:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents" db:"subtotal_cents"`
}

type SaleTransaction struct {
	ID            string        `json:"id" db:"id"`
	StoreID       string        `json:"store_id" db:"store_id"`
	SequenceNo    int           `json:"sequence_no" db:"sequence_no"`
	BusinessDate  string        `json:"business_date" db:"business_date"`
	CashierID     string        `json:"cashier_id" db:"cashier_id"`
	Items         []SaleItem    `json:"items"`
	TotalCents    int64         `json:"total_cents" db:"total_cents"`
	Status        SaleStatus    `json:"status" db:"status"`
	PaymentCents  int64         `json:"payment_cents" db:"payment_cents"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty" db:"payment_method"`
	ChangeCents   int64         `json:"change_cents" db:"change_cents"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	LockedAt      *time.Time    `json:"locked_at,omitempty" db:"locked_at"`
	DeletedAt     *time.Time    `json:"deleted_at,omitempty" db:"deleted_at"`
}

type SaleLineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type SaleCreateRequest struct {
	Items []SaleLineRequest `json:"items"`
}

type SaleCompleteRequest struct {
	PaymentCents  int64         `json:"payment_cents"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

type SaleLockPeriodRequest struct {
	Until time.Time `json:"until"`
}

type SaleLockPeriodResponse struct {
	Locked int `json:"locked"`
}

type SaleCompletion struct {
	Sale      SaleTransaction `json:"sale"`
	Movements []StockMovement `json:"movements"`
	CashEntry CashTransaction `json:"cash_entry"`
}

type ReturnItem struct {
	ID             string `json:"id" db:"id"`
	SaleItemID     string `json:"sale_item_id" db:"sale_item_id"`
	ProductID      string `json:"product_id" db:"product_id"`
	SKU            string `json:"sku" db:"sku"`
	Qty            int    `json:"qty" db:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents" db:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents" db:"subtotal_cents"`
}

type Return struct {
	ID                string        `json:"id" db:"id"`
	StoreID           string        `json:"store_id" db:"store_id"`
	SaleTransactionID string        `json:"sale_transaction_id" db:"sale_transaction_id"`
	Items             []ReturnItem  `json:"items"`
	RefundTotalCents  int64         `json:"refund_total_cents" db:"refund_total_cents"`
	RefundMethod      PaymentMethod `json:"refund_method" db:"refund_method"`
	CashTransactionID string        `json:"cash_transaction_id" db:"cash_transaction_id"`
	CashierID         string        `json:"cashier_id" db:"cashier_id"`
	Notes             string        `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}

type ReturnLineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type ReturnCreateRequest struct {
	SaleTransactionID string              `json:"sale_transaction_id"`
	Items             []ReturnLineRequest `json:"items"`
	RefundMethod      PaymentMethod       `json:"refund_method,omitempty"`
	Notes             string              `json:"notes"`
}

type ReturnableLine struct {
	SaleItemID     string `json:"sale_item_id"`
	ProductID      string `json:"product_id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	SoldQty        int    `json:"sold_qty"`
	ReturnedQty    int    `json:"returned_qty"`
	RemainingQty   int    `json:"remaining_qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type ReturnableSale struct {
	Sale  SaleTransaction  `json:"sale"`
	Lines []ReturnableLine `json:"lines"`
}

type CashDrawer struct {
	ID                   string       `json:"id" db:"id"`
	StoreID              string       `json:"store_id" db:"store_id"`
	CashierID            string       `json:"cashier_id" db:"cashier_id"`
	OpenedAt             time.Time    `json:"opened_at" db:"opened_at"`
	ClosedAt             *time.Time   `json:"closed_at,omitempty" db:"closed_at"`
	OpeningBalanceCents  int64        `json:"opening_balance_cents" db:"opening_balance_cents"`
	CountedBalanceCents  *int64       `json:"counted_balance_cents,omitempty" db:"counted_balance_cents"`
	ExpectedBalanceCents *int64       `json:"expected_balance_cents,omitempty" db:"expected_balance_cents"`
	CashInCents          int64        `json:"cash_in_cents" db:"cash_in_cents"`
	CashOutCents         int64        `json:"cash_out_cents" db:"cash_out_cents"`
	DifferenceCents      *int64       `json:"difference_cents,omitempty" db:"difference_cents"`
	Status               DrawerStatus `json:"status" db:"status"`
	Notes                string       `json:"notes,omitempty" db:"notes"`
}

type DrawerOpenRequest struct {
	OpeningBalanceCents int64 `json:"opening_balance_cents"`
}

type DrawerCloseRequest struct {
	CountedBalanceCents *int64 `json:"counted_balance_cents"`
	Notes               string `json:"notes"`
}

type DrawerCashTotals struct {
	CashInCents  int64
	CashOutCents int64
}

type Page struct {
	Limit  int
	Offset int
}

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	StoreID       string    `json:"store_id" db:"store_id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	StoreID  string `json:"store_id"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `db:"username"`
	Password  string    `db:"password_hash"`
	Role      string    `db:"role"`
	StoreID   string    `db:"store_id"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	StoreID   string    `json:"store_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
