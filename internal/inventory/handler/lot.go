package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/internal/inventory/service"
	"github.com/cultivar/cultivar-backend/pkg/httputil"
	"github.com/cultivar/cultivar-backend/pkg/logger"
)

// LotHandler handles lot endpoints
type LotHandler struct {
	service *service.InventoryService
	ledger  *service.LedgerService
	logger  *logger.Logger
}

// NewLotHandler creates a new lot handler
func NewLotHandler(svc *service.InventoryService, ledger *service.LedgerService, log *logger.Logger) *LotHandler {
	return &LotHandler{
		service: svc,
		ledger:  ledger,
		logger:  log,
	}
}

// ListByItem lists lots for an item. Depleted and deactivated lots are
// included only when include_inactive=true.
func (h *LotHandler) ListByItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	lots, err := h.service.ListLots(r.Context(), itemID, includeInactive)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Get gets a lot by ID
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lot, err := h.service.GetLot(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Movements lists the movement history of a lot in ledger order
func (h *LotHandler) Movements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	movements, err := h.service.ListLotMovements(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, movements)
}

// Dispose destroys stock from a lot
func (h *LotHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Quantity decimal.Decimal `json:"quantity"`
		Reason   string          `json:"reason" validate:"required"`
		Notes    *string         `json:"notes"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.GetLot(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.ledger.ApplyDisposal(r.Context(), lot.ItemID, lot.ID, req.Quantity, req.Reason, req.Notes, metadataFrom(r, nil))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, movement)
}
