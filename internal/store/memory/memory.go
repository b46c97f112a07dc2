package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/xid"
)

// Store keeps the whole ledger in process memory. A unit of work holds the
// writer lock for its duration and journals undo steps, so every unit is
// serialized and rolled back in full on failure.
type Store struct {
	mu            sync.RWMutex
	products      map[string]domain.Product
	movements     []domain.StockMovement
	cashByID      map[string]domain.CashTransaction
	cashOrder     []string
	cashBySale    map[string]string
	categories    map[string]domain.ExpenseCategory
	salesByID     map[string]domain.SaleTransaction
	saleOrder     []string
	saleSequences map[string]int
	returnsByID   map[string]domain.Return
	returnsBySale map[string][]string
	drawersByID   map[string]domain.CashDrawer
	drawerOrder   []string
	openDrawers   map[string]string
	auditLogs     []domain.AuditLog
	users         map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		products:      make(map[string]domain.Product),
		movements:     make([]domain.StockMovement, 0, 256),
		cashByID:      make(map[string]domain.CashTransaction),
		cashBySale:    make(map[string]string),
		categories:    defaultCategories(),
		salesByID:     make(map[string]domain.SaleTransaction),
		saleSequences: make(map[string]int),
		returnsByID:   make(map[string]domain.Return),
		returnsBySale: make(map[string][]string),
		drawersByID:   make(map[string]domain.CashDrawer),
		openDrawers:   make(map[string]string),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		users:         make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users and an empty catalog. Products
// are seeded through the stock ledger by the caller so that their opening
// quantities are backed by IN movements.
func NewSeeded(log *zap.Logger) (*Store, error) {
	users, err := seedUsers(log)
	if err != nil {
		return nil, err
	}
	s := New()
	s.users = users
	return s, nil
}

func defaultCategories() map[string]domain.ExpenseCategory {
	categories := []domain.ExpenseCategory{
		{ID: "refund", Name: "Customer refund", System: true},
		{ID: "sale_reversal", Name: "Sale reversal", System: true},
		{ID: "operational", Name: "Operational"},
		{ID: "supplies", Name: "Supplies"},
		{ID: "utilities", Name: "Utilities"},
		{ID: "salary", Name: "Salary"},
		{ID: "other", Name: "Other"},
	}
	out := make(map[string]domain.ExpenseCategory, len(categories))
	for _, c := range categories {
		out[c.ID] = c
	}
	return out
}

// seedUsers reads SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, falling back
// to dev defaults with a warning.
func seedUsers(log *zap.Logger) (map[string]domain.UserAccount, error) {
	if log == nil {
		log = zap.NewNop()
	}
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   "main-store",
			Active:    true,
			CreatedAt: now,
		}
	}
	return users, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err = fn(ctx, tx); err == nil {
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertProduct(product)
}

func (s *Store) insertProduct(product domain.Product) (*domain.Product, error) {
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	if product.StoreID == "" || product.SKU == "" || strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 {
		return nil, domain.Invalidf("product requires store, sku, name and positive price")
	}
	for _, existing := range s.products {
		if existing.StoreID == product.StoreID && existing.SKU == product.SKU {
			return nil, domain.Invalidf("sku %s already exists", product.SKU)
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	product.Qty = 0
	product.CostCents = 0
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	saved := product
	return &saved, nil
}

func (s *Store) GetProduct(_ context.Context, storeID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok || product.StoreID != storeID {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, storeID string, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok && product.StoreID == storeID {
			out[id] = product
		}
	}
	return out, nil
}

func (s *Store) ListProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if product.StoreID == storeID {
			products = append(products, product)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) ListExpenseCategories(_ context.Context) ([]domain.ExpenseCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ExpenseCategory, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.ExpenseCategory) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetExpenseCategory(_ context.Context, id string) (*domain.ExpenseCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, ok := s.categories[id]
	if !ok {
		return nil, fmt.Errorf("%w: expense category %s", domain.ErrNotFound, id)
	}
	return &category, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.StoreID != storeID || !inWindow(entry.CreatedAt, from, to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.ErrInvalidInput
	}
	if _, exists := s.users[username]; exists {
		return domain.Invalidf("username %s already exists", username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.ErrInvalidInput
	}
	user, exists := s.users[username]
	if !exists {
		return domain.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func drawerKey(storeID string, cashierID string) string {
	return storeID + "::" + cashierID
}

func sequenceKey(storeID string, businessDate string) string {
	return storeID + "::" + businessDate
}

// inWindow reports whether at falls in [from, to); zero bounds are open.
func inWindow(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func paginate[T any](items []T, page domain.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return items[page.Offset:end]
}

func cloneSale(src domain.SaleTransaction) domain.SaleTransaction {
	dst := src
	dst.Items = append([]domain.SaleItem(nil), src.Items...)
	return dst
}

func cloneReturn(src domain.Return) domain.Return {
	dst := src
	dst.Items = append([]domain.ReturnItem(nil), src.Items...)
	return dst
}
