package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	// User events (consumed for the local user cache)
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"

	// Stock events
	EventStockReceived     = "stock.received"
	EventStockConsumed     = "stock.consumed"
	EventStockTransferred  = "stock.transferred"
	EventStockAdjusted     = "stock.adjusted"
	EventStockDisposed     = "stock.disposed"
	EventStockBelowMinimum = "stock.below_minimum"

	// Lot events
	EventLotDepleted = "lot.depleted"
)

// Exchange names
const (
	ExchangeUserEvents      = "user.events"
	ExchangeInventoryEvents = "inventory.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// User Events

// UserCreatedEvent is published by the user service when a user is created
type UserCreatedEvent struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RoleName  string `json:"role_name"`
}

// UserUpdatedEvent is published by the user service when a user is updated.
// It carries the full current state so consumers can upsert their caches.
type UserUpdatedEvent struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RoleName  string `json:"role_name"`
}

// UserDeletedEvent is published by the user service when a user is deleted
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
}

// Stock Events

// LotQuantity is one lot's share of a stock movement
type LotQuantity struct {
	LotID    string          `json:"lot_id"`
	LotCode  string          `json:"lot_code"`
	Quantity decimal.Decimal `json:"quantity"`
}

// StockReceivedEvent is published when stock is received into inventory
type StockReceivedEvent struct {
	ItemID      string          `json:"item_id"`
	LotID       *string         `json:"lot_id,omitempty"`
	LotCode     *string         `json:"lot_code,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	NewOnHand   decimal.Decimal `json:"new_on_hand"`
	PerformedBy string          `json:"performed_by"`
}

// StockConsumedEvent is published when stock is consumed from one or more lots
type StockConsumedEvent struct {
	ItemID      string          `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Lots        []LotQuantity   `json:"lots"`
	BatchID     *string         `json:"batch_id,omitempty"`
	TaskID      *string         `json:"task_id,omitempty"`
	PerformedBy string          `json:"performed_by"`
}

// StockTransferredEvent is published when stock moves between locations
type StockTransferredEvent struct {
	ItemID      string          `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Lots        []LotQuantity   `json:"lots"`
	ToLocation  string          `json:"to_location"`
	PerformedBy string          `json:"performed_by"`
}

// StockAdjustedEvent is published when stock is adjusted up or down
type StockAdjustedEvent struct {
	ItemID      string          `json:"item_id"`
	LotID       *string         `json:"lot_id,omitempty"`
	Delta       decimal.Decimal `json:"delta"`
	NewOnHand   decimal.Decimal `json:"new_on_hand"`
	Reason      string          `json:"reason"`
	PerformedBy string          `json:"performed_by"`
}

// StockDisposedEvent is published when stock is destroyed or discarded
type StockDisposedEvent struct {
	ItemID      string          `json:"item_id"`
	LotID       string          `json:"lot_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason"`
	PerformedBy string          `json:"performed_by"`
}

// StockBelowMinimumEvent is published when available stock drops below the
// item's par level after a movement
type StockBelowMinimumEvent struct {
	ItemID          string          `json:"item_id"`
	ItemName        string          `json:"item_name"`
	Available       decimal.Decimal `json:"available"`
	MinimumQuantity decimal.Decimal `json:"minimum_quantity"`
}

// Lot Events

// LotDepletedEvent is published when a lot's remaining quantity reaches zero
type LotDepletedEvent struct {
	ItemID  string `json:"item_id"`
	LotID   string `json:"lot_id"`
	LotCode string `json:"lot_code"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
