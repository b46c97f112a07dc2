package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/xid"
)

const (
	productColumns  = `id, store_id, sku, name, category, qty, min_stock, price_cents, cost_cents, active, created_at, updated_at`
	movementColumns = `id, store_id, product_id, type, qty_delta, reference_type, reference_id, before_qty, after_qty, cost_cents, notes, created_by, created_at`
	cashColumns     = `id, store_id, type, amount_cents, payment_method, category_id, sale_transaction_id, reference_type, reference_id, notes, is_verified, verified_by, verified_at, created_by, created_at, updated_at`
	saleColumns     = `id, store_id, sequence_no, business_date, cashier_id, total_cents, status, payment_cents, payment_method, change_cents, created_at, updated_at, completed_at, locked_at, deleted_at`
	returnColumns   = `id, store_id, sale_transaction_id, refund_total_cents, refund_method, cash_transaction_id, cashier_id, notes, created_at`
	drawerColumns   = `id, store_id, cashier_id, opened_at, closed_at, opening_balance_cents, counted_balance_cents, expected_balance_cents, cash_in_cents, cash_out_cents, difference_cents, status, notes`
)

type Store struct {
	db  *sqlx.DB
	log *zap.Logger
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db, log), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sqlx.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log.Named("postgres")}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a SERIALIZABLE transaction. Serialization failures,
// deadlocks and lock timeouts surface as domain.ErrConcurrencyConflict.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	return insertProduct(ctx, s.db, product)
}

func insertProduct(ctx context.Context, db sqlx.ExecerContext, product domain.Product) (*domain.Product, error) {
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	if product.StoreID == "" || product.SKU == "" || strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 {
		return nil, domain.Invalidf("product requires store, sku, name and positive price")
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

	_, err := db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, product.ID, product.StoreID, product.SKU, product.Name, product.Category, product.Qty, product.MinStock,
		product.PriceCents, product.CostCents, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Invalidf("sku %s already exists", product.SKU)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, storeID string, productID string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND store_id = $2
	`, productID, storeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, productID)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, storeID string, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	products := make([]domain.Product, 0, len(productIDs))
	if err := s.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1 AND id = ANY($2)
	`, storeID, productIDs); err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	if err := s.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+`
		FROM products
		WHERE store_id = $1
		ORDER BY category, name
	`, storeID); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListExpenseCategories(ctx context.Context) ([]domain.ExpenseCategory, error) {
	categories := make([]domain.ExpenseCategory, 0, 8)
	if err := s.db.SelectContext(ctx, &categories, `
		SELECT id, name, system FROM expense_categories ORDER BY id
	`); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) GetExpenseCategory(ctx context.Context, id string) (*domain.ExpenseCategory, error) {
	var category domain.ExpenseCategory
	err := s.db.GetContext(ctx, &category, `SELECT id, name, system FROM expense_categories WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: expense category %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return &category, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	w := newWhere()
	w.add("store_id = ?", storeID)
	w.window("created_at", from, to)

	logs := make([]domain.AuditLog, 0, limit)
	query := `SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs` + w.sql() + ` ORDER BY created_at DESC LIMIT ` + w.arg(limit)
	if err := s.db.SelectContext(ctx, &logs, query, w.args...); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, store_id, active, created_at)
		VALUES ($1,$2,$3,$4,true,$5)
	`, username, user.Password, user.Role, user.StoreID, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Invalidf("username %s already exists", username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	if err := s.db.SelectContext(ctx, &users, `
		SELECT username, password_hash, role, store_id, active, created_at
		FROM users
		ORDER BY username
	`); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// mapError translates postgres contention errors into the retryable domain
// error. Everything else passes through untouched.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// where accumulates AND-ed conditions written with ? placeholders and
// numbers them for postgres.
type where struct {
	conds []string
	args  []any
}

func newWhere() *where {
	return &where{}
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(cond string, v any) {
	w.conds = append(w.conds, strings.Replace(cond, "?", w.arg(v), 1))
}

// window adds [from, to) bounds on column; zero bounds are open.
func (w *where) window(column string, from time.Time, to time.Time) {
	if !from.IsZero() {
		w.add(column+" >= ?", from)
	}
	if !to.IsZero() {
		w.add(column+" < ?", to)
	}
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// limitOffset renders LIMIT/OFFSET; a zero limit means no limit.
func (w *where) limitOffset(page domain.Page) string {
	out := ""
	if page.Limit > 0 {
		out += " LIMIT " + w.arg(page.Limit)
	}
	if page.Offset > 0 {
		out += " OFFSET " + w.arg(page.Offset)
	}
	return out
}
