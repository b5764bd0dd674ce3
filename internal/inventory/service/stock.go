package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/pkg/logger"
)

// Stock statuses, strongest signal first
const (
	StockStatusOutOfStock = "out_of_stock"
	StockStatusReorder    = "reorder"
	StockStatusBelowPar   = "below_par"
	StockStatusOK         = "ok"
)

// Expiry statuses
const (
	ExpiryStatusExpired      = "expired"
	ExpiryStatusExpiringSoon = "expiring_soon"
	ExpiryStatusOK           = "ok"
)

// StockBalance is an item's derived stock position. It is recomputed from
// the item row on every read and never stored.
type StockBalance struct {
	ItemID          string           `json:"item_id"`
	OnHand          decimal.Decimal  `json:"on_hand"`
	Reserved        decimal.Decimal  `json:"reserved"`
	Available       decimal.Decimal  `json:"available"`
	Status          string           `json:"status"`
	MinimumQuantity *decimal.Decimal `json:"minimum_quantity,omitempty"`
	ReorderPoint    *decimal.Decimal `json:"reorder_point,omitempty"`
}

// LotExpiry describes one lot's expiry position
type LotExpiry struct {
	ItemID            string          `json:"item_id"`
	LotID             string          `json:"lot_id"`
	LotCode           string          `json:"lot_code"`
	QuantityRemaining decimal.Decimal `json:"quantity_remaining"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	DaysUntilExpiry   *int            `json:"days_until_expiry,omitempty"`
	Status            string          `json:"status"`
}

// StockOverview aggregates stock health across all active items
type StockOverview struct {
	TotalItems        int64            `json:"total_items"`
	OutOfStockCount   int64            `json:"out_of_stock_count"`
	ReorderCount      int64            `json:"reorder_count"`
	BelowParCount     int64            `json:"below_par_count"`
	ExpiringSoonCount int64            `json:"expiring_soon_count"`
	ExpiredCount      int64            `json:"expired_count"`
	CategoryBreakdown map[string]int64 `json:"category_breakdown"`
}

// StockService answers read-only stock questions
type StockService struct {
	itemRepo    *repository.ItemRepository
	lotRepo     *repository.LotRepository
	horizonDays int
	logger      *logger.Logger
}

// NewStockService creates a new stock service. horizonDays is how far
// ahead a lot counts as expiring soon.
func NewStockService(itemRepo *repository.ItemRepository, lotRepo *repository.LotRepository, horizonDays int, log *logger.Logger) *StockService {
	return &StockService{
		itemRepo:    itemRepo,
		lotRepo:     lotRepo,
		horizonDays: horizonDays,
		logger:      log,
	}
}

// GetStockBalance computes the current balance for an item
func (s *StockService) GetStockBalance(ctx context.Context, itemID string) (*StockBalance, error) {
	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return ProjectBalance(item), nil
}

// ProjectBalance derives the stock position from an item row. Available
// never goes below zero even when reservations exceed on-hand stock. The
// status picks the strongest applicable signal: out of stock beats
// reorder, reorder beats below par.
func ProjectBalance(item *repository.Item) *StockBalance {
	available := item.CurrentQuantity.Sub(item.ReservedQuantity)
	if available.IsNegative() {
		available = decimal.Zero
	}

	status := StockStatusOK
	switch {
	case item.CurrentQuantity.LessThanOrEqual(decimal.Zero):
		status = StockStatusOutOfStock
	case item.ReorderPoint != nil && available.GreaterThan(decimal.Zero) && available.LessThan(*item.ReorderPoint):
		status = StockStatusReorder
	case item.MinimumQuantity != nil && available.LessThan(*item.MinimumQuantity):
		status = StockStatusBelowPar
	}

	return &StockBalance{
		ItemID:          item.ID,
		OnHand:          item.CurrentQuantity,
		Reserved:        item.ReservedQuantity,
		Available:       available,
		Status:          status,
		MinimumQuantity: item.MinimumQuantity,
		ReorderPoint:    item.ReorderPoint,
	}
}

// GetExpiryStatus classifies every active lot of an item
func (s *StockService) GetExpiryStatus(ctx context.Context, itemID string) ([]*LotExpiry, error) {
	if _, err := s.itemRepo.GetByID(ctx, itemID); err != nil {
		return nil, err
	}

	lots, err := s.lotRepo.ListByItem(ctx, itemID, false)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result := make([]*LotExpiry, len(lots))
	for i, lot := range lots {
		result[i] = s.classifyLot(lot, now)
	}
	return result, nil
}

// GetExpiringReport lists all lots across items that are expired or
// expire within the configured horizon
func (s *StockService) GetExpiringReport(ctx context.Context) ([]*LotExpiry, error) {
	lots, err := s.lotRepo.ListExpiring(ctx, s.horizonDays)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result := make([]*LotExpiry, len(lots))
	for i, lot := range lots {
		result[i] = s.classifyLot(lot, now)
	}
	return result, nil
}

// GetStockOverview aggregates balance and expiry health across all
// active items
func (s *StockService) GetStockOverview(ctx context.Context) (*StockOverview, error) {
	items, err := s.itemRepo.GetAllActive(ctx)
	if err != nil {
		return nil, err
	}

	overview := &StockOverview{
		TotalItems:        int64(len(items)),
		CategoryBreakdown: make(map[string]int64),
	}

	for _, item := range items {
		if item.Category != nil {
			overview.CategoryBreakdown[*item.Category]++
		}

		switch ProjectBalance(item).Status {
		case StockStatusOutOfStock:
			overview.OutOfStockCount++
		case StockStatusReorder:
			overview.ReorderCount++
		case StockStatusBelowPar:
			overview.BelowParCount++
		}
	}

	lots, err := s.lotRepo.ListExpiring(ctx, s.horizonDays)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, lot := range lots {
		switch classifyExpiry(lot.ExpiryDate, now, s.horizonDays) {
		case ExpiryStatusExpired:
			overview.ExpiredCount++
		case ExpiryStatusExpiringSoon:
			overview.ExpiringSoonCount++
		}
	}

	return overview, nil
}

func (s *StockService) classifyLot(lot *repository.Lot, now time.Time) *LotExpiry {
	entry := &LotExpiry{
		ItemID:            lot.ItemID,
		LotID:             lot.ID,
		LotCode:           lot.LotCode,
		QuantityRemaining: lot.QuantityRemaining,
		ExpiryDate:        lot.ExpiryDate,
		Status:            classifyExpiry(lot.ExpiryDate, now, s.horizonDays),
	}

	if lot.ExpiryDate != nil {
		days := daysUntil(*lot.ExpiryDate, now)
		entry.DaysUntilExpiry = &days
	}

	return entry
}

// classifyExpiry buckets an expiry date relative to now. Lots without an
// expiry date are never flagged; they always read as ok.
func classifyExpiry(expiry *time.Time, now time.Time, horizonDays int) string {
	if expiry == nil {
		return ExpiryStatusOK
	}

	days := daysUntil(*expiry, now)
	switch {
	case days < 0:
		return ExpiryStatusExpired
	case days <= horizonDays:
		return ExpiryStatusExpiringSoon
	}
	return ExpiryStatusOK
}

// daysUntil counts whole calendar days from now's date to the expiry
// date. Expiry columns are dates, so compare at day granularity.
func daysUntil(expiry time.Time, now time.Time) int {
	nowDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	expiryDate := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
	return int(expiryDate.Sub(nowDate).Hours() / 24)
}
