package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/logger"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/service"
)

const managerPINHeader = "X-Manager-PIN"

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
	log           *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		log.Warn("crypto/rand failed, using fallback csrf secret", zap.Error(err))
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		log:           log.Named("http"),
	}
}

// csrfTokenForHour computes the hex HMAC token for an hour bucket given as
// Unix seconds truncated to the hour.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens of the current and the previous hour.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	const admin = domain.RoleAdmin
	staff := []string{domain.RoleCashier, domain.RoleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, staff...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, admin))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, staff...))
	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, staff...))
	mux.HandleFunc("POST /api/v1/sales/lock-period", a.requireAuth(a.handleLockSalePeriod, admin))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, staff...))
	mux.HandleFunc("PUT /api/v1/sales/{id}", a.requireAuth(a.handleUpdateSale, staff...))
	mux.HandleFunc("DELETE /api/v1/sales/{id}", a.requireAuth(a.handleDeleteSale, staff...))
	mux.HandleFunc("POST /api/v1/sales/{id}/complete", a.requireAuth(a.handleCompleteSale, staff...))
	mux.HandleFunc("POST /api/v1/sales/{id}/lock", a.requireAuth(a.handleLockSale, admin))
	mux.HandleFunc("POST /api/v1/sales/{id}/sync-cash", a.requireAuth(a.handleSyncSaleCash, staff...))
	mux.HandleFunc("GET /api/v1/sales/{id}/returns", a.requireAuth(a.handleReturnsBySale, staff...))

	mux.HandleFunc("GET /api/v1/stock/movements", a.requireAuth(a.handleStockMovements, staff...))
	mux.HandleFunc("GET /api/v1/stock/low", a.requireAuth(a.handleLowStock, staff...))
	mux.HandleFunc("GET /api/v1/stock/valuation", a.requireAuth(a.handleStockValuation, admin))
	mux.HandleFunc("GET /api/v1/stock/dead", a.requireAuth(a.handleDeadStock, admin))
	mux.HandleFunc("GET /api/v1/stock/replay", a.requireAuth(a.handleStockReplay, admin))
	mux.HandleFunc("POST /api/v1/stock/receive", a.requireAuth(a.handleStockReceive, admin))
	mux.HandleFunc("POST /api/v1/stock/adjust", a.requireAuth(a.handleStockAdjust, admin))
	mux.HandleFunc("POST /api/v1/stock/opname", a.requireAuth(a.handleStockOpname, admin))

	mux.HandleFunc("GET /api/v1/cash/transactions", a.requireAuth(a.handleListCash, staff...))
	mux.HandleFunc("POST /api/v1/cash/transactions", a.requireAuth(a.handleRecordCash, staff...))
	mux.HandleFunc("PATCH /api/v1/cash/transactions/{id}", a.requireAuth(a.handleUpdateCash, admin))
	mux.HandleFunc("DELETE /api/v1/cash/transactions/{id}", a.requireAuth(a.handleDeleteCash, admin))
	mux.HandleFunc("POST /api/v1/cash/transactions/{id}/verify", a.requireAuth(a.handleVerifyCash, admin))
	mux.HandleFunc("GET /api/v1/cash/balance", a.requireAuth(a.handleCashBalance, admin))
	mux.HandleFunc("GET /api/v1/cash/flow", a.requireAuth(a.handleCashFlow, admin))
	mux.HandleFunc("GET /api/v1/cash/expenses", a.requireAuth(a.handleExpenseBreakdown, admin))
	mux.HandleFunc("GET /api/v1/cash/categories", a.requireAuth(a.handleCashCategories, staff...))

	mux.HandleFunc("GET /api/v1/returns/returnable", a.requireAuth(a.handleListReturnable, staff...))
	mux.HandleFunc("POST /api/v1/returns", a.requireAuth(a.handleCreateReturn, staff...))
	mux.HandleFunc("GET /api/v1/returns/{id}", a.requireAuth(a.handleGetReturn, staff...))

	mux.HandleFunc("POST /api/v1/drawers/open", a.requireAuth(a.handleOpenDrawer, staff...))
	mux.HandleFunc("GET /api/v1/drawers/current", a.requireAuth(a.handleCurrentDrawer, staff...))
	mux.HandleFunc("GET /api/v1/drawers", a.requireAuth(a.handleDrawerHistory, staff...))
	mux.HandleFunc("GET /api/v1/drawers/{id}", a.requireAuth(a.handleGetDrawer, staff...))
	mux.HandleFunc("POST /api/v1/drawers/{id}/close", a.requireAuth(a.handleCloseDrawer, staff...))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, admin))
	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, admin))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, admin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("actor", actor.Username)))
		next(w, r.WithContext(ctx))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// requireManagerPIN gates reversing operations. Every attempt counts against
// the per-client limiter, successful or not.
func (a *API) requireManagerPIN(w http.ResponseWriter, r *http.Request) bool {
	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(r.Header.Get(managerPINHeader)) {
		logger.FromContext(r.Context()).Warn("manager PIN rejected", zap.String("path", r.URL.Path))
		writeError(w, r, http.StatusForbidden, errors.New("valid manager PIN required"))
		return false
	}
	return true
}

// csrfExemptPaths are called before a client can fetch a token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, r, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, "+managerPINHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Body != nil && r.Method != http.MethodGet {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		reqLog := a.log.With(zap.String("request_id", requestID))
		r = r.WithContext(logger.WithContext(r.Context(), reqLog))

		if !a.checkCSRF(w, r) {
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		reqLog.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header of
// mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parsePage reads limit and offset. Bounds are applied by the ledgers.
func parsePage(r *http.Request) domain.Page {
	query := r.URL.Query()
	page := domain.Page{Limit: parsePositiveLimit(query.Get("limit"), 0, 0)}
	if offset, err := strconv.Atoi(strings.TrimSpace(query.Get("offset"))); err == nil && offset > 0 {
		page.Offset = offset
	}
	return page
}

// parseTimeParam accepts RFC3339 or a bare YYYY-MM-DD date (UTC midnight).
// An empty value yields the zero time, meaning unbounded.
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, domain.Invalidf("time %q must be RFC3339 or YYYY-MM-DD", raw)
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

// statusFor maps the ledger error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrDrawerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrDrawerAlreadyOpen),
		errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientPayment),
		errors.Is(err, domain.ErrExcessiveReturnQuantity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFor(err), err)
}

// writeError hides the cause of 5xx responses from clients and logs it.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := map[string]any{"error": err.Error()}
	if code := domain.CodeOf(err); code != "" {
		body["code"] = code
	}
	if domain.IsRetryable(err) {
		body["retryable"] = true
	}
	if status >= 500 {
		logger.FromContext(r.Context()).Error("internal error", zap.Int("status", status), zap.Error(err))
		body = map[string]any{"error": "internal server error"}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
