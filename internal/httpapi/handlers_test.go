package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/service"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store/memory"
)

const testManagerPIN = "482913"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo, err := memory.NewSeeded(nil)
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	svc := service.New(repo, nil, nil, service.Options{DefaultStoreID: "main-store", Location: time.UTC}, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, repo)

	return New(svc, auth, "*", nil)
}

type testClient struct {
	t     *testing.T
	api   *API
	token string
	csrf  string
}

func newClient(t *testing.T, api *API, username string, password string) *testClient {
	t.Helper()
	return &testClient{t: t, api: api, token: login(t, api, username, password), csrf: fetchCSRFToken(t, api)}
}

func (c *testClient) do(method string, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	c.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

func createProduct(t *testing.T, admin *testClient, sku string, qty int) domain.Product {
	t.Helper()
	rec := admin.do(http.MethodPost, "/api/v1/products", domain.ProductCreateRequest{
		SKU: sku, Name: "Produk " + sku, PriceCents: 10000, InitialStock: qty, InitialCostCents: 6000,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[struct {
		Product domain.Product `json:"product"`
	}](t, rec).Product
}

func createSale(t *testing.T, client *testClient, productID string, qty int) domain.SaleTransaction {
	t.Helper()
	rec := client.do(http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		Items: []domain.SaleLineRequest{{ProductID: productID, Qty: qty}},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[struct {
		Sale domain.SaleTransaction `json:"sale"`
	}](t, rec).Sale
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestHandleLoginSuccess(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[domain.LoginResponse](t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, domain.RoleCashier, resp.Role)
	assert.Equal(t, "main-store", resp.StoreID)
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCashierCannotReachAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/stock/receive", domain.StockReceiveRequest{ProductID: "x", Qty: 1}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = cashier.do(http.MethodGet, "/api/v1/stock/valuation", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSaleCompletionRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")

	product := createProduct(t, admin, "SKU-KOPI", 10)
	sale := createSale(t, cashier, product.ID, 3)
	assert.Equal(t, int64(30000), sale.TotalCents)
	assert.Equal(t, "cashier", sale.CashierID)

	rec := cashier.do(http.MethodPost, "/api/v1/sales/"+sale.ID+"/complete", domain.SaleCompleteRequest{
		PaymentCents: 50000, PaymentMethod: domain.PaymentCash,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completion := decodeBody[domain.SaleCompletion](t, rec)
	assert.Equal(t, int64(20000), completion.Sale.ChangeCents)
	assert.Equal(t, sale.ID, completion.CashEntry.SaleTransactionID)
	require.Len(t, completion.Movements, 1)
	assert.Equal(t, 7, completion.Movements[0].AfterQty)

	rec = cashier.do(http.MethodPost, "/api/v1/sales/"+sale.ID+"/sync-cash", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	synced := decodeBody[domain.CashEntryResponse](t, rec)
	assert.True(t, synced.Duplicate)
	assert.Equal(t, completion.CashEntry.ID, synced.Entry.ID)

	rec = admin.do(http.MethodGet, "/api/v1/stock/movements?product_id="+product.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[domain.MovementPage](t, rec)
	assert.Equal(t, 2, page.Total)

	rec = admin.do(http.MethodGet, "/api/v1/stock/replay?product_id="+product.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[domain.ReplayResult](t, rec).Consistent)
}

func TestDomainErrorsMapToStatusAndCode(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")
	product := createProduct(t, admin, "SKU-TEH", 2)

	sale := createSale(t, cashier, product.ID, 1)
	rec := cashier.do(http.MethodPost, "/api/v1/sales/"+sale.ID+"/complete", domain.SaleCompleteRequest{
		PaymentCents: 100, PaymentMethod: domain.PaymentCash,
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "INSUFFICIENT_PAYMENT", body["code"])

	big := createSale(t, cashier, product.ID, 5)
	rec = cashier.do(http.MethodPost, "/api/v1/sales/"+big.ID+"/complete", domain.SaleCompleteRequest{
		PaymentCents: 50000, PaymentMethod: domain.PaymentQRIS,
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", decodeBody[map[string]any](t, rec)["code"])

	rec = cashier.do(http.MethodGet, "/api/v1/sales/sale-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = cashier.do(http.MethodPost, "/api/v1/sales/"+sale.ID+"/complete", domain.SaleCompleteRequest{
		PaymentCents: 10000, PaymentMethod: "BITCOIN",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusForCoversTaxonomy(t *testing.T) {
	cases := map[error]int{
		domain.ErrInvalidState:            http.StatusConflict,
		domain.ErrDrawerAlreadyOpen:       http.StatusConflict,
		domain.ErrConcurrencyConflict:     http.StatusConflict,
		domain.ErrInsufficientStock:       http.StatusUnprocessableEntity,
		domain.ErrInsufficientPayment:     http.StatusUnprocessableEntity,
		domain.ErrExcessiveReturnQuantity: http.StatusUnprocessableEntity,
		domain.ErrDrawerNotFound:          http.StatusNotFound,
		domain.ErrNotFound:                http.StatusNotFound,
		domain.ErrInvalidInput:            http.StatusBadRequest,
		domain.ErrForbidden:               http.StatusForbidden,
		fmt.Errorf("driver exploded"):     http.StatusInternalServerError,
	}
	for err, want := range cases {
		wrapped := fmt.Errorf("%w: context", err)
		assert.Equal(t, want, statusFor(wrapped), err.Error())
	}
}

func TestConflictResponseIsRetryable(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	writeServiceError(rec, req, fmt.Errorf("%w: product row changed", domain.ErrConcurrencyConflict))

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "CONCURRENCY_CONFLICT", body["code"])
	assert.Equal(t, true, body["retryable"])
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	writeServiceError(rec, req, fmt.Errorf("pq: relation sale_items does not exist"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeBody[map[string]any](t, rec)["error"])
}

func TestDeleteCompletedSaleRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")
	product := createProduct(t, admin, "SKU-ROTI", 5)

	draft := createSale(t, cashier, product.ID, 1)
	rec := cashier.do(http.MethodDelete, "/api/v1/sales/"+draft.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, "drafts are discarded without a PIN: %s", rec.Body.String())

	sale := createSale(t, cashier, product.ID, 2)
	rec = cashier.do(http.MethodPost, "/api/v1/sales/"+sale.ID+"/complete", domain.SaleCompleteRequest{
		PaymentCents: 20000, PaymentMethod: domain.PaymentCash,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodDelete, "/api/v1/sales/"+sale.ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = cashier.do(http.MethodDelete, "/api/v1/sales/"+sale.ID, nil, map[string]string{managerPINHeader: testManagerPIN})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	deleted := decodeBody[struct {
		Sale domain.SaleTransaction `json:"sale"`
	}](t, rec).Sale
	assert.Equal(t, domain.SaleDeleted, deleted.Status)

	restored, err := api.service.ListProducts(service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin, StoreID: "main-store"}))
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, 5, restored[0].Qty)
}

func TestReturnFlowWithManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")
	product := createProduct(t, admin, "SKU-SUSU", 10)

	sale := createSale(t, cashier, product.ID, 4)
	rec := cashier.do(http.MethodPost, "/api/v1/sales/"+sale.ID+"/complete", domain.SaleCompleteRequest{
		PaymentCents: 40000, PaymentMethod: domain.PaymentDebit,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = cashier.do(http.MethodGet, "/api/v1/returns/returnable", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	returnable := decodeBody[struct {
		Sales []domain.ReturnableSale `json:"sales"`
	}](t, rec).Sales
	require.Len(t, returnable, 1)
	assert.Equal(t, 4, returnable[0].Lines[0].RemainingQty)

	req := domain.ReturnCreateRequest{
		SaleTransactionID: sale.ID,
		Items:             []domain.ReturnLineRequest{{ProductID: product.ID, Qty: 3}},
	}
	rec = cashier.do(http.MethodPost, "/api/v1/returns", req, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	pin := map[string]string{managerPINHeader: testManagerPIN}
	rec = cashier.do(http.MethodPost, "/api/v1/returns", req, pin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ret := decodeBody[struct {
		Return domain.Return `json:"return"`
	}](t, rec).Return
	assert.Equal(t, int64(30000), ret.RefundTotalCents)
	assert.Equal(t, domain.PaymentDebit, ret.RefundMethod)

	rec = cashier.do(http.MethodPost, "/api/v1/returns", req, pin)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "EXCESSIVE_RETURN_QUANTITY", decodeBody[map[string]any](t, rec)["code"])

	rec = cashier.do(http.MethodGet, "/api/v1/sales/"+sale.ID+"/returns", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[struct {
		Returns []domain.Return `json:"returns"`
	}](t, rec).Returns, 1)
}

func TestDrawerLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")
	cashier := newClient(t, api, "cashier", "cashier123")
	product := createProduct(t, admin, "SKU-AIR", 10)

	rec := cashier.do(http.MethodPost, "/api/v1/drawers/open", domain.DrawerOpenRequest{OpeningBalanceCents: 100000}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decodeBody[struct {
		Drawer domain.CashDrawer `json:"drawer"`
	}](t, rec).Drawer

	rec = cashier.do(http.MethodPost, "/api/v1/drawers/open", domain.DrawerOpenRequest{OpeningBalanceCents: 5000}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DRAWER_ALREADY_OPEN", decodeBody[map[string]any](t, rec)["code"])

	sale := createSale(t, cashier, product.ID, 2)
	rec = cashier.do(http.MethodPost, "/api/v1/sales/"+sale.ID+"/complete", domain.SaleCompleteRequest{
		PaymentCents: 20000, PaymentMethod: domain.PaymentCash,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	counted := int64(119000)
	rec = cashier.do(http.MethodPost, "/api/v1/drawers/"+opened.ID+"/close", domain.DrawerCloseRequest{CountedBalanceCents: &counted}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[struct {
		Drawer domain.CashDrawer `json:"drawer"`
	}](t, rec).Drawer
	assert.Equal(t, domain.DrawerShort, closed.Status)
	require.NotNil(t, closed.DifferenceCents)
	assert.Equal(t, int64(-1000), *closed.DifferenceCents)

	rec = cashier.do(http.MethodGet, "/api/v1/drawers/current", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCashierAccountsAreScopedToAdminStore(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	rec := admin.do(http.MethodPost, "/api/v1/users/cashiers", domain.CashierCreateRequest{Username: "kasir2", Password: "rahasia1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodGet, "/api/v1/users/cashiers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cashiers := decodeBody[struct {
		Cashiers []domain.CashierUser `json:"cashiers"`
	}](t, rec).Cashiers
	require.Len(t, cashiers, 2)
	for _, c := range cashiers {
		assert.Equal(t, "main-store", c.StoreID)
	}

	newcomer := newClient(t, api, "kasir2", "rahasia1")
	rec = newcomer.do(http.MethodGet, "/api/v1/products", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin", "admin123")

	rec := admin.do(http.MethodGet, "/api/v1/nothing-here", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = admin.do(http.MethodPatch, "/api/v1/products", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
