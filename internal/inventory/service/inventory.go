package service

import (
	"context"
	"time"

	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/pkg/logger"
)

// InventoryService handles the item catalog and its read views
type InventoryService struct {
	itemRepo *repository.ItemRepository
	lotRepo  *repository.LotRepository
	moveRepo *repository.MovementRepository
	logger   *logger.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(
	itemRepo *repository.ItemRepository,
	lotRepo *repository.LotRepository,
	moveRepo *repository.MovementRepository,
	log *logger.Logger,
) *InventoryService {
	return &InventoryService{
		itemRepo: itemRepo,
		lotRepo:  lotRepo,
		moveRepo: moveRepo,
		logger:   log,
	}
}

// ItemWithStock is an item together with its derived stock position
type ItemWithStock struct {
	*repository.Item
	Balance       *StockBalance `json:"balance"`
	ActiveLots    int           `json:"active_lots"`
	NearestExpiry *time.Time    `json:"nearest_expiry,omitempty"`
}

// Item operations

// CreateItem creates a new inventory item
func (s *InventoryService) CreateItem(ctx context.Context, item *repository.Item) error {
	return s.itemRepo.Create(ctx, item)
}

// GetItem gets an item with its stock position
func (s *InventoryService) GetItem(ctx context.Context, id string) (*ItemWithStock, error) {
	item, err := s.itemRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	lots, err := s.lotRepo.ListByItem(ctx, id, false)
	if err != nil {
		return nil, err
	}

	return s.enrichItem(item, lots), nil
}

// ListItems lists items with stock positions
func (s *InventoryService) ListItems(ctx context.Context, page, perPage int, category, itemType string) ([]*ItemWithStock, int64, error) {
	items, total, err := s.itemRepo.List(ctx, page, perPage, category, itemType)
	if err != nil {
		return nil, 0, err
	}

	result := make([]*ItemWithStock, len(items))
	for i, item := range items {
		lots, _ := s.lotRepo.ListByItem(ctx, item.ID, false)
		result[i] = s.enrichItem(item, lots)
	}

	return result, total, nil
}

// UpdateItem updates an inventory item
func (s *InventoryService) UpdateItem(ctx context.Context, item *repository.Item) error {
	return s.itemRepo.Update(ctx, item)
}

// DeleteItem soft deletes an inventory item
func (s *InventoryService) DeleteItem(ctx context.Context, id string) error {
	return s.itemRepo.SoftDelete(ctx, id)
}

// Lot operations

// GetLot gets a lot by ID
func (s *InventoryService) GetLot(ctx context.Context, id string) (*repository.Lot, error) {
	return s.lotRepo.GetByID(ctx, id)
}

// ListLots lists lots for an item
func (s *InventoryService) ListLots(ctx context.Context, itemID string, includeInactive bool) ([]*repository.Lot, error) {
	if _, err := s.itemRepo.GetByID(ctx, itemID); err != nil {
		return nil, err
	}
	return s.lotRepo.ListByItem(ctx, itemID, includeInactive)
}

// Movement history

// ListMovements lists the movement history for an item
func (s *InventoryService) ListMovements(ctx context.Context, itemID string, filter repository.MovementFilter, page, perPage int) ([]*repository.InventoryMovement, int64, error) {
	if _, err := s.itemRepo.GetByID(ctx, itemID); err != nil {
		return nil, 0, err
	}
	return s.moveRepo.ListByItem(ctx, itemID, filter, page, perPage)
}

// ListLotMovements lists all movements that touched a lot, oldest first
func (s *InventoryService) ListLotMovements(ctx context.Context, lotID string) ([]*repository.InventoryMovement, error) {
	if _, err := s.lotRepo.GetByID(ctx, lotID); err != nil {
		return nil, err
	}
	return s.moveRepo.ListByLot(ctx, lotID)
}

// Helpers

func (s *InventoryService) enrichItem(item *repository.Item, lots []*repository.Lot) *ItemWithStock {
	result := &ItemWithStock{
		Item:    item,
		Balance: ProjectBalance(item),
	}

	var nearest *time.Time
	for _, lot := range lots {
		if !lot.IsActive || lot.QuantityRemaining.IsZero() {
			continue
		}
		result.ActiveLots++

		if lot.ExpiryDate != nil {
			if nearest == nil || lot.ExpiryDate.Before(*nearest) {
				nearest = lot.ExpiryDate
			}
		}
	}
	result.NearestExpiry = nearest

	return result
}
