package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/VoinzzZ/POS-Mobile-sub002/internal/domain"
)

func (a *API) handleStockMovements(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	if productID == "" {
		writeServiceError(w, r, domain.Invalidf("product_id is required"))
		return
	}
	page, err := a.service.StockMovements(r.Context(), productID, parsePage(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.LowStock(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleStockValuation(w http.ResponseWriter, r *http.Request) {
	valuation, err := a.service.StockValuation(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, valuation)
}

func (a *API) handleDeadStock(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeServiceError(w, r, domain.Invalidf("days must be a positive integer"))
			return
		}
		days = parsed
	}
	items, err := a.service.DeadStock(r.Context(), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleStockReplay(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	if productID == "" {
		writeServiceError(w, r, domain.Invalidf("product_id is required"))
		return
	}
	result, err := a.service.ReplayStock(r.Context(), productID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleStockReceive(w http.ResponseWriter, r *http.Request) {
	var req domain.StockReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	movement, err := a.service.ReceiveStock(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (a *API) handleStockAdjust(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	movement, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (a *API) handleStockOpname(w http.ResponseWriter, r *http.Request) {
	var req domain.StockOpnameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.StockOpname(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListCash(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, to, err := parseRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	page := parsePage(r)
	entries, err := a.service.ListCash(r.Context(), domain.CashFilter{
		Type:          domain.CashType(strings.ToUpper(strings.TrimSpace(query.Get("type")))),
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(query.Get("payment_method")))),
		From:          from,
		To:            to,
		Limit:         page.Limit,
		Offset:        page.Offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}

func (a *API) handleRecordCash(w http.ResponseWriter, r *http.Request) {
	var req domain.CashEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	entry, err := a.service.RecordCash(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": entry})
}

func (a *API) handleUpdateCash(w http.ResponseWriter, r *http.Request) {
	var patch domain.CashEntryPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	entry, err := a.service.UpdateCash(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": entry})
}

func (a *API) handleDeleteCash(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCash(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleVerifyCash(w http.ResponseWriter, r *http.Request) {
	entry, err := a.service.VerifyCash(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": entry})
}

func (a *API) handleCashBalance(w http.ResponseWriter, r *http.Request) {
	var method *domain.PaymentMethod
	if raw := strings.TrimSpace(r.URL.Query().Get("payment_method")); raw != "" {
		parsed, err := domain.ParsePaymentMethod(raw)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		method = &parsed
	}
	balance, err := a.service.CashBalance(r.Context(), method)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (a *API) handleCashFlow(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	summary, err := a.service.CashFlow(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleExpenseBreakdown(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	breakdown, err := a.service.ExpenseBreakdown(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (a *API) handleCashCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.service.CashCategories(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (a *API) handleListReturnable(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListReturnable(r.Context(), parsePage(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	if !a.requireManagerPIN(w, r) {
		return
	}
	var req domain.ReturnCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	ret, err := a.service.CreateReturn(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"return": ret})
}

func (a *API) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := a.service.GetReturn(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"return": ret})
}

func (a *API) handleOpenDrawer(w http.ResponseWriter, r *http.Request) {
	var req domain.DrawerOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	drawer, err := a.service.OpenDrawer(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"drawer": drawer})
}

func (a *API) handleCurrentDrawer(w http.ResponseWriter, r *http.Request) {
	drawer, err := a.service.CurrentDrawer(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drawer": drawer})
}

func (a *API) handleCloseDrawer(w http.ResponseWriter, r *http.Request) {
	var req domain.DrawerCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	drawer, err := a.service.CloseDrawer(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drawer": drawer})
}

func (a *API) handleDrawerHistory(w http.ResponseWriter, r *http.Request) {
	drawers, err := a.service.DrawerHistory(r.Context(), r.URL.Query().Get("cashier_id"), parsePage(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drawers": drawers})
}

func (a *API) handleGetDrawer(w http.ResponseWriter, r *http.Request) {
	drawer, err := a.service.GetDrawer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drawer": drawer})
}
