package events

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/pkg/logger"
	"github.com/cultivar/cultivar-backend/pkg/messaging"
)

// Publisher is the transport used to emit events.
// *messaging.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// InventoryEventPublisher publishes inventory-related events.
// All methods are nil-safe: a nil publisher drops events, so the service
// runs without a broker in development and in tests.
type InventoryEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher creates a publisher bound to the inventory
// events exchange.
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "inventory-service", log)
	if err != nil {
		return nil, err
	}

	return &InventoryEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// NewWithPublisher wraps an existing transport. Tests use this to capture
// events without a broker.
func NewWithPublisher(publisher Publisher, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishStockReceived publishes a stock received event
func (p *InventoryEventPublisher) PublishStockReceived(ctx context.Context, itemID string, lot *repository.Lot, quantity, newOnHand decimal.Decimal, performedBy string) {
	if p == nil {
		return
	}

	data := messaging.StockReceivedEvent{
		ItemID:      itemID,
		Quantity:    quantity,
		NewOnHand:   newOnHand,
		PerformedBy: performedBy,
	}
	if lot != nil {
		data.LotID = &lot.ID
		data.LotCode = &lot.LotCode
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReceived, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to publish stock received event")
	}
}

// PublishStockConsumed publishes a stock consumed event
func (p *InventoryEventPublisher) PublishStockConsumed(ctx context.Context, itemID string, quantity decimal.Decimal, lots []messaging.LotQuantity, batchID, taskID *string, performedBy string) {
	if p == nil {
		return
	}

	data := messaging.StockConsumedEvent{
		ItemID:      itemID,
		Quantity:    quantity,
		Lots:        lots,
		BatchID:     batchID,
		TaskID:      taskID,
		PerformedBy: performedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockConsumed, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to publish stock consumed event")
	}
}

// PublishStockTransferred publishes a stock transferred event
func (p *InventoryEventPublisher) PublishStockTransferred(ctx context.Context, itemID string, quantity decimal.Decimal, lots []messaging.LotQuantity, toLocation, performedBy string) {
	if p == nil {
		return
	}

	data := messaging.StockTransferredEvent{
		ItemID:      itemID,
		Quantity:    quantity,
		Lots:        lots,
		ToLocation:  toLocation,
		PerformedBy: performedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockTransferred, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to publish stock transferred event")
	}
}

// PublishStockAdjusted publishes a stock adjusted event
func (p *InventoryEventPublisher) PublishStockAdjusted(ctx context.Context, itemID string, lotID *string, delta, newOnHand decimal.Decimal, reason, performedBy string) {
	if p == nil {
		return
	}

	data := messaging.StockAdjustedEvent{
		ItemID:      itemID,
		LotID:       lotID,
		Delta:       delta,
		NewOnHand:   newOnHand,
		Reason:      reason,
		PerformedBy: performedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to publish stock adjusted event")
	}
}

// PublishStockDisposed publishes a stock disposed event
func (p *InventoryEventPublisher) PublishStockDisposed(ctx context.Context, itemID, lotID string, quantity decimal.Decimal, reason, performedBy string) {
	if p == nil {
		return
	}

	data := messaging.StockDisposedEvent{
		ItemID:      itemID,
		LotID:       lotID,
		Quantity:    quantity,
		Reason:      reason,
		PerformedBy: performedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockDisposed, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to publish stock disposed event")
	}
}

// PublishStockBelowMinimum publishes a below-minimum stock event
func (p *InventoryEventPublisher) PublishStockBelowMinimum(ctx context.Context, item *repository.Item, available decimal.Decimal) {
	if p == nil {
		return
	}

	if item.MinimumQuantity == nil {
		return
	}

	data := messaging.StockBelowMinimumEvent{
		ItemID:          item.ID,
		ItemName:        item.Name,
		Available:       available,
		MinimumQuantity: *item.MinimumQuantity,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockBelowMinimum, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to publish below minimum event")
	}
}

// PublishLotDepleted publishes a lot depleted event
func (p *InventoryEventPublisher) PublishLotDepleted(ctx context.Context, lot *repository.Lot) {
	if p == nil {
		return
	}

	data := messaging.LotDepletedEvent{
		ItemID:  lot.ItemID,
		LotID:   lot.ID,
		LotCode: lot.LotCode,
	}

	if err := p.publisher.Publish(ctx, messaging.EventLotDepleted, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish lot depleted event")
	}
}
