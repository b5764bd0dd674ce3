package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/internal/inventory/service"
	"github.com/cultivar/cultivar-backend/pkg/actor"
	"github.com/cultivar/cultivar-backend/pkg/errors"
	"github.com/cultivar/cultivar-backend/pkg/httputil"
	"github.com/cultivar/cultivar-backend/pkg/logger"
)

// StockHandler handles stock operations: planning, consumption, receipt,
// adjustment and balance reads.
type StockHandler struct {
	allocation *service.AllocationService
	ledger     *service.LedgerService
	adjustment *service.AdjustmentService
	stock      *service.StockService
	inventory  *service.InventoryService
	logger     *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(
	allocation *service.AllocationService,
	ledger *service.LedgerService,
	adjustment *service.AdjustmentService,
	stock *service.StockService,
	inventory *service.InventoryService,
	log *logger.Logger,
) *StockHandler {
	return &StockHandler{
		allocation: allocation,
		ledger:     ledger,
		adjustment: adjustment,
		stock:      stock,
		inventory:  inventory,
		logger:     log,
	}
}

type planRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Strategy string          `json:"strategy"`
	LotID    *string         `json:"lot_id"`
	Location *string         `json:"location"`
}

type planLineRequest struct {
	LotID    string          `json:"lot_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type consumeRequest struct {
	planRequest
	Lines      []planLineRequest `json:"lines"`
	BatchID    *string           `json:"batch_id"`
	TaskID     *string           `json:"task_id"`
	ToLocation *string           `json:"to_location"`
	Notes      *string           `json:"notes"`
}

// Plan builds a consumption plan without moving stock
func (h *StockHandler) Plan(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	var req planRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	plan, err := h.buildPlan(r, itemID, req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, plan)
}

// Consume commits a consumption against current stock. The caller either
// sends back the lines of a plan it was given, or sends quantity and
// strategy to plan and commit in one call.
func (h *StockHandler) Consume(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	var req consumeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	var plan *service.ConsumptionPlan
	var err error
	if len(req.Lines) > 0 {
		plan = planFromLines(itemID, service.Strategy(req.Strategy), req.Lines)
	} else {
		plan, err = h.buildPlan(r, itemID, req.planRequest)
		if err != nil {
			httputil.Error(w, err)
			return
		}
	}

	dest := service.Destination{
		BatchID:    req.BatchID,
		TaskID:     req.TaskID,
		ToLocation: req.ToLocation,
	}

	movements, err := h.ledger.ApplyConsumption(r.Context(), plan, dest, metadataFrom(r, req.Notes))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, movements)
}

type receiveRequest struct {
	Quantity decimal.Decimal   `json:"quantity"`
	Lot      *service.LotInput `json:"lot"`
	Notes    *string           `json:"notes"`
}

type receiveResponse struct {
	Movement *repository.InventoryMovement `json:"movement"`
	Lot      *repository.Lot               `json:"lot,omitempty"`
}

// Receive records an incoming delivery, creating a lot when details are given
func (h *StockHandler) Receive(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	var req receiveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, lot, err := h.ledger.ApplyReceipt(r.Context(), itemID, req.Quantity, req.Lot, metadataFrom(r, req.Notes))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, receiveResponse{Movement: movement, Lot: lot})
}

type adjustRequest struct {
	Direction string          `json:"direction" validate:"required,oneof=increase decrease"`
	Quantity  decimal.Decimal `json:"quantity"`
	LotID     *string         `json:"lot_id"`
	Reason    string          `json:"reason" validate:"required"`
	Notes     *string         `json:"notes"`
}

func (req adjustRequest) input() service.AdjustmentInput {
	return service.AdjustmentInput{
		Direction: req.Direction,
		Quantity:  req.Quantity,
		LotID:     req.LotID,
		Reason:    req.Reason,
		Notes:     req.Notes,
	}
}

// Adjust commits a manual stock correction
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	var req adjustRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	movement, err := h.adjustment.CommitAdjustment(r.Context(), itemID, req.input(), metadataFrom(r, nil))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, movement)
}

// PreviewAdjust shows what an adjustment would do without committing it
func (h *StockHandler) PreviewAdjust(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	var req adjustRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	preview, err := h.adjustment.PreviewAdjustment(r.Context(), itemID, req.input())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, preview)
}

// Balance returns the current stock balance for an item
func (h *StockHandler) Balance(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	balance, err := h.stock.GetStockBalance(r.Context(), itemID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, balance)
}

// Expiry returns per-lot expiry classification for an item
func (h *StockHandler) Expiry(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	lots, err := h.stock.GetExpiryStatus(r.Context(), itemID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Movements lists movement history for an item
func (h *StockHandler) Movements(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	filter := repository.MovementFilter{
		MovementType: r.URL.Query().Get("movement_type"),
		LotID:        r.URL.Query().Get("lot_id"),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			httputil.Error(w, errors.BadRequest("from must be an RFC3339 timestamp"))
			return
		}
		filter.From = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			httputil.Error(w, errors.BadRequest("to must be an RFC3339 timestamp"))
			return
		}
		filter.To = &t
	}

	movements, total, err := h.inventory.ListMovements(r.Context(), itemID, filter, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	httputil.JSONWithMeta(w, http.StatusOK, movements, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// ExpiringReport lists lots expiring within the configured horizon
func (h *StockHandler) ExpiringReport(w http.ResponseWriter, r *http.Request) {
	lots, err := h.stock.GetExpiringReport(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// Overview returns facility-wide stock statistics
func (h *StockHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.stock.GetStockOverview(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, overview)
}

func (h *StockHandler) buildPlan(r *http.Request, itemID string, req planRequest) (*service.ConsumptionPlan, error) {
	strategy := service.Strategy(req.Strategy)
	if strategy == service.StrategyManual {
		if req.LotID == nil || *req.LotID == "" {
			return nil, errors.Validation(map[string]string{
				"lot_id": "lot_id is required for the manual strategy",
			})
		}
		return h.allocation.PlanManual(r.Context(), itemID, *req.LotID, req.Quantity)
	}
	return h.allocation.PlanConsumption(r.Context(), itemID, req.Quantity, strategy, req.Location)
}

// planFromLines rebuilds a plan the caller got from the plan endpoint.
// The ledger re-validates every line under row locks, so stale or
// hand-built lines fail the commit rather than corrupt stock.
func planFromLines(itemID string, strategy service.Strategy, lines []planLineRequest) *service.ConsumptionPlan {
	plan := &service.ConsumptionPlan{
		ItemID:   itemID,
		Strategy: strategy,
		Lines:    make([]service.PlanLine, len(lines)),
	}
	for i, line := range lines {
		plan.Lines[i] = service.PlanLine{LotID: line.LotID, Quantity: line.Quantity}
		plan.RequestedQuantity = plan.RequestedQuantity.Add(line.Quantity)
	}
	return plan
}

func metadataFrom(r *http.Request, notes *string) service.Metadata {
	meta := service.Metadata{Notes: notes}
	if a := actor.FromContext(r.Context()); a != nil {
		meta.PerformedBy = a.ID
	}
	return meta
}
