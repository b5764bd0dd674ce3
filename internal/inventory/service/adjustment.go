package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/pkg/errors"
	"github.com/cultivar/cultivar-backend/pkg/logger"
)

// Adjustment directions
const (
	AdjustmentIncrease = "increase"
	AdjustmentDecrease = "decrease"
)

// AdjustmentInput is a stock correction expressed the way operators think
// about it: a direction and a positive magnitude.
type AdjustmentInput struct {
	Direction string          `json:"direction"`
	Quantity  decimal.Decimal `json:"quantity"`
	LotID     *string         `json:"lot_id,omitempty"`
	Reason    string          `json:"reason"`
	Notes     *string         `json:"notes,omitempty"`
}

// SignedDelta converts the direction and magnitude into the signed delta
// the ledger records
func (in AdjustmentInput) SignedDelta() (decimal.Decimal, error) {
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.Validation(map[string]string{
			"quantity": "must be greater than zero",
		})
	}

	switch in.Direction {
	case AdjustmentIncrease:
		return in.Quantity, nil
	case AdjustmentDecrease:
		return in.Quantity.Neg(), nil
	}

	return decimal.Zero, errors.Validation(map[string]string{
		"direction": "must be increase or decrease",
	})
}

// AdjustmentPreview shows what an adjustment would do without applying
// it. Like a consumption plan it is advisory; stock can move between
// preview and commit.
type AdjustmentPreview struct {
	ItemID             string           `json:"item_id"`
	LotID              *string          `json:"lot_id,omitempty"`
	Delta              decimal.Decimal  `json:"delta"`
	OnHandBefore       decimal.Decimal  `json:"on_hand_before"`
	OnHandAfter        decimal.Decimal  `json:"on_hand_after"`
	LotRemainingBefore *decimal.Decimal `json:"lot_remaining_before,omitempty"`
	LotRemainingAfter  *decimal.Decimal `json:"lot_remaining_after,omitempty"`
	WouldDepleteLot    bool             `json:"would_deplete_lot"`
}

// AdjustmentService translates operator adjustments into ledger writes
type AdjustmentService struct {
	itemRepo *repository.ItemRepository
	lotRepo  *repository.LotRepository
	ledger   *LedgerService
	logger   *logger.Logger
}

// NewAdjustmentService creates a new adjustment service
func NewAdjustmentService(itemRepo *repository.ItemRepository, lotRepo *repository.LotRepository, ledger *LedgerService, log *logger.Logger) *AdjustmentService {
	return &AdjustmentService{
		itemRepo: itemRepo,
		lotRepo:  lotRepo,
		ledger:   ledger,
		logger:   log,
	}
}

// PreviewAdjustment computes the outcome of an adjustment against current
// stock. It fails with the same invalid-adjustment error a commit would,
// so operators see the problem before anything moves.
func (s *AdjustmentService) PreviewAdjustment(ctx context.Context, itemID string, input AdjustmentInput) (*AdjustmentPreview, error) {
	delta, err := input.SignedDelta()
	if err != nil {
		return nil, err
	}

	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	preview := &AdjustmentPreview{
		ItemID:       itemID,
		LotID:        input.LotID,
		Delta:        delta,
		OnHandBefore: item.CurrentQuantity,
		OnHandAfter:  item.CurrentQuantity.Add(delta),
	}

	if preview.OnHandAfter.IsNegative() {
		return nil, errors.InvalidAdjustment("adjustment would take on-hand stock below zero")
	}

	if input.LotID != nil {
		lot, err := s.lotRepo.GetByID(ctx, *input.LotID)
		if err != nil {
			return nil, err
		}
		if lot.ItemID != itemID {
			return nil, errors.Validation(map[string]string{
				"lot_id": "lot does not belong to this item",
			})
		}

		after := lot.QuantityRemaining.Add(delta)
		if after.IsNegative() {
			return nil, errors.InvalidAdjustment("adjustment would take the lot below zero")
		}

		preview.LotRemainingBefore = &lot.QuantityRemaining
		preview.LotRemainingAfter = &after
		preview.WouldDepleteLot = after.IsZero()
	}

	return preview, nil
}

// CommitAdjustment applies an adjustment through the ledger
func (s *AdjustmentService) CommitAdjustment(ctx context.Context, itemID string, input AdjustmentInput, meta Metadata) (*repository.InventoryMovement, error) {
	delta, err := input.SignedDelta()
	if err != nil {
		return nil, err
	}

	return s.ledger.ApplyAdjustment(ctx, itemID, input.LotID, delta, input.Reason, input.Notes, meta)
}
