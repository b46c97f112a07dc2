package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/logger"
	"github.com/VoinzzZ/POS-Mobile-sub002/internal/store"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, to, err := parseRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	page := parsePage(r)
	q := store.SaleQuery{
		CashierID: strings.TrimSpace(query.Get("cashier_id")),
		From:      from,
		To:        to,
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
	for _, raw := range strings.Split(query.Get("status"), ",") {
		if status := strings.ToUpper(strings.TrimSpace(raw)); status != "" {
			q.Statuses = append(q.Statuses, domain.SaleStatus(status))
		}
	}

	sales, err := a.service.ListSales(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleUpdateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.UpdateSale(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

// handleDeleteSale discards drafts freely. Anything past draft is a
// reversal and needs the manager PIN.
func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	saleID := r.PathValue("id")
	existing, err := a.service.GetSale(r.Context(), saleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if existing.Status != domain.SaleDraft && !a.requireManagerPIN(w, r) {
		return
	}

	deleted, err := a.service.DeleteSale(r.Context(), saleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": deleted})
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	completion, err := a.service.CompleteSale(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

func (a *API) handleLockSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.LockSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleLockSalePeriod(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleLockPeriodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.LockSalePeriod(r.Context(), req.Until)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSyncSaleCash(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.SyncSaleCash(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleReturnsBySale(w http.ResponseWriter, r *http.Request) {
	returns, err := a.service.ReturnsBySale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	cashiers := a.auth.ListCashiers(r.Context(), a.service.StoreID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateCashier(r.Context(), a.service.StoreID(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("cashier created", zap.String("username", user.Username), zap.String("store_id", user.StoreID))
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": user})
}
