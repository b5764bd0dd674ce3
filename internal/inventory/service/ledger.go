package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/internal/inventory/events"
	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/pkg/database"
	"github.com/cultivar/cultivar-backend/pkg/errors"
	"github.com/cultivar/cultivar-backend/pkg/logger"
	"github.com/cultivar/cultivar-backend/pkg/messaging"
)

// Destination routes a consumption to exactly one target: a cultivation
// batch, a task, or another storage location. A location destination is
// recorded as a transfer and leaves the item's on-hand total unchanged.
type Destination struct {
	BatchID    *string `json:"batch_id,omitempty"`
	TaskID     *string `json:"task_id,omitempty"`
	ToLocation *string `json:"to_location,omitempty"`
}

// Validate checks that exactly one destination is set
func (d Destination) Validate() error {
	count := 0
	if d.BatchID != nil && *d.BatchID != "" {
		count++
	}
	if d.TaskID != nil && *d.TaskID != "" {
		count++
	}
	if d.ToLocation != nil && *d.ToLocation != "" {
		count++
	}

	if count != 1 {
		return errors.Validation(map[string]string{
			"destination": "exactly one of batch_id, task_id or to_location is required",
		})
	}
	return nil
}

// MovementType returns the ledger movement type for this destination
func (d Destination) MovementType() string {
	if d.ToLocation != nil && *d.ToLocation != "" {
		return repository.MovementTransfer
	}
	return repository.MovementConsume
}

// Metadata carries actor attribution and notes for ledger writes
type Metadata struct {
	PerformedBy     string
	PerformedByName *string
	Notes           *string
}

// LotInput describes the lot a receipt creates
type LotInput struct {
	LotCode         string           `json:"lot_code"`
	ReceivedDate    *time.Time       `json:"received_date,omitempty"`
	ExpiryDate      *time.Time       `json:"expiry_date,omitempty"`
	ManufactureDate *time.Time       `json:"manufacture_date,omitempty"`
	StorageLocation *string          `json:"storage_location,omitempty"`
	CostPerUnit     *decimal.Decimal `json:"cost_per_unit,omitempty"`
}

// LedgerService writes stock movements. Every apply method runs as one
// transaction: all lot deductions, the item cache update and the movement
// rows commit together or not at all. Events go out only after commit.
type LedgerService struct {
	db        *database.DB
	itemRepo  *repository.ItemRepository
	lotRepo   *repository.LotRepository
	moveRepo  *repository.MovementRepository
	userCache *repository.UserCacheRepository
	publisher *events.InventoryEventPublisher
	logger    *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	db *database.DB,
	itemRepo *repository.ItemRepository,
	lotRepo *repository.LotRepository,
	moveRepo *repository.MovementRepository,
	userCache *repository.UserCacheRepository,
	publisher *events.InventoryEventPublisher,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		db:        db,
		itemRepo:  itemRepo,
		lotRepo:   lotRepo,
		moveRepo:  moveRepo,
		userCache: userCache,
		publisher: publisher,
		logger:    log,
	}
}

// ApplyConsumption commits a consumption plan against current stock.
// Every planned lot is re-read under a row lock; if any lot no longer
// covers its planned quantity the whole commit fails with a stale
// allocation error and no stock moves.
func (s *LedgerService) ApplyConsumption(ctx context.Context, plan *ConsumptionPlan, dest Destination, meta Metadata) ([]*repository.InventoryMovement, error) {
	if plan == nil || len(plan.Lines) == 0 {
		return nil, errors.BadRequest("consumption plan has no lines")
	}
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	if meta.PerformedBy == "" {
		return nil, errors.Unauthorized("an authenticated user is required to move stock")
	}
	seen := make(map[string]struct{}, len(plan.Lines))
	for _, line := range plan.Lines {
		if line.LotID == "" {
			return nil, errors.Validation(map[string]string{
				"lot_id": "every plan line needs a lot_id",
			})
		}
		if line.Quantity.LessThanOrEqual(decimal.Zero) {
			return nil, errors.Validation(map[string]string{
				"quantity": "plan line quantities must be greater than zero",
			})
		}
		if _, dup := seen[line.LotID]; dup {
			return nil, errors.Validation(map[string]string{
				"lot_id": fmt.Sprintf("lot %s appears more than once in the plan", line.LotID),
			})
		}
		seen[line.LotID] = struct{}{}
	}
	s.resolveActorName(ctx, &meta)

	movementType := dest.MovementType()
	total := plan.Total()

	var movements []*repository.InventoryMovement
	var depleted []*repository.Lot
	var locked map[string]*repository.Lot

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		movements = nil
		depleted = nil
		locked = make(map[string]*repository.Lot, len(plan.Lines))

		// Lock in lot-id order so concurrent commits over overlapping
		// lots queue instead of deadlocking.
		lockOrder := make([]PlanLine, len(plan.Lines))
		copy(lockOrder, plan.Lines)
		sort.Slice(lockOrder, func(i, j int) bool { return lockOrder[i].LotID < lockOrder[j].LotID })

		for _, line := range lockOrder {
			lot, err := s.lotRepo.GetForUpdateTx(ctx, tx, line.LotID)
			if err != nil {
				return err
			}
			if lot.ItemID != plan.ItemID {
				return errors.Validation(map[string]string{
					"lot_id": "lot does not belong to this item",
				})
			}
			if !lot.IsActive || lot.QuantityRemaining.LessThan(line.Quantity) {
				return errors.StaleAllocation(lot.ID)
			}
			locked[line.LotID] = lot
		}

		// Apply in plan order so the ledger reads like the plan.
		for _, line := range plan.Lines {
			lot := locked[line.LotID]

			remaining, active, err := s.lotRepo.DeductTx(ctx, tx, line.LotID, line.Quantity)
			if err != nil {
				return err
			}
			if !active && remaining.IsZero() {
				depleted = append(depleted, lot)
			}

			movement := &repository.InventoryMovement{
				ItemID:          plan.ItemID,
				LotID:           &lot.ID,
				MovementType:    movementType,
				Quantity:        line.Quantity,
				FromLocation:    lot.StorageLocation,
				ToLocation:      dest.ToLocation,
				BatchID:         dest.BatchID,
				TaskID:          dest.TaskID,
				Notes:           meta.Notes,
				PerformedBy:     meta.PerformedBy,
				PerformedByName: meta.PerformedByName,
			}
			if err := s.moveRepo.InsertTx(ctx, tx, movement); err != nil {
				return err
			}
			movements = append(movements, movement)
		}

		// Transfers move stock between locations; only genuine
		// consumption lowers the item's on-hand total.
		if movementType == repository.MovementConsume {
			if err := s.itemRepo.DeductQuantityTx(ctx, tx, plan.ItemID, total); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	lotQuantities := make([]messaging.LotQuantity, len(plan.Lines))
	for i, line := range plan.Lines {
		lotQuantities[i] = messaging.LotQuantity{
			LotID:    line.LotID,
			LotCode:  locked[line.LotID].LotCode,
			Quantity: line.Quantity,
		}
	}

	if movementType == repository.MovementTransfer {
		s.publisher.PublishStockTransferred(ctx, plan.ItemID, total, lotQuantities, *dest.ToLocation, meta.PerformedBy)
	} else {
		s.publisher.PublishStockConsumed(ctx, plan.ItemID, total, lotQuantities, dest.BatchID, dest.TaskID, meta.PerformedBy)
	}
	for _, lot := range depleted {
		s.publisher.PublishLotDepleted(ctx, lot)
	}
	if movementType == repository.MovementConsume {
		s.checkBelowMinimum(ctx, plan.ItemID)
	}

	return movements, nil
}

// ApplyReceipt records an incoming delivery. When lot details are given
// the lot is created with received and remaining quantity equal to the
// delivery, one receive movement references it, and the item's on-hand
// total grows by the same amount.
func (s *LedgerService) ApplyReceipt(ctx context.Context, itemID string, quantity decimal.Decimal, lotInput *LotInput, meta Metadata) (*repository.InventoryMovement, *repository.Lot, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, nil, errors.Validation(map[string]string{
			"quantity": "must be greater than zero",
		})
	}
	if lotInput != nil && strings.TrimSpace(lotInput.LotCode) == "" {
		return nil, nil, errors.Validation(map[string]string{
			"lot_code": "required when receiving into a lot",
		})
	}
	if meta.PerformedBy == "" {
		return nil, nil, errors.Unauthorized("an authenticated user is required to move stock")
	}
	s.resolveActorName(ctx, &meta)

	var movement *repository.InventoryMovement
	var lot *repository.Lot
	var newOnHand decimal.Decimal

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		movement = nil
		lot = nil

		item, err := s.itemRepo.GetForUpdateTx(ctx, tx, itemID)
		if err != nil {
			return err
		}

		var lotID *string
		var toLocation *string

		switch {
		case lotInput != nil:
			receivedDate := time.Now()
			if lotInput.ReceivedDate != nil {
				receivedDate = *lotInput.ReceivedDate
			}
			location := lotInput.StorageLocation
			if location == nil {
				location = item.DefaultLocation
			}

			lot = &repository.Lot{
				ItemID:            itemID,
				LotCode:           lotInput.LotCode,
				QuantityReceived:  quantity,
				QuantityRemaining: quantity,
				Unit:              item.Unit,
				ReceivedDate:      receivedDate,
				ExpiryDate:        lotInput.ExpiryDate,
				ManufactureDate:   lotInput.ManufactureDate,
				StorageLocation:   location,
				CostPerUnit:       lotInput.CostPerUnit,
				IsActive:          true,
				CreatedBy:         &meta.PerformedBy,
			}
			if err := s.lotRepo.CreateTx(ctx, tx, lot); err != nil {
				return err
			}
			lotID = &lot.ID
			toLocation = location

		case item.LotTracked:
			return errors.Validation(map[string]string{
				"lot": "item is lot tracked; receipts must include lot details",
			})

		default:
			toLocation = item.DefaultLocation
		}

		movement = &repository.InventoryMovement{
			ItemID:          itemID,
			LotID:           lotID,
			MovementType:    repository.MovementReceive,
			Quantity:        quantity,
			ToLocation:      toLocation,
			Notes:           meta.Notes,
			PerformedBy:     meta.PerformedBy,
			PerformedByName: meta.PerformedByName,
		}
		if err := s.moveRepo.InsertTx(ctx, tx, movement); err != nil {
			return err
		}

		newOnHand = item.CurrentQuantity.Add(quantity)
		return s.itemRepo.AddQuantityTx(ctx, tx, itemID, quantity)
	})
	if err != nil {
		return nil, nil, err
	}

	s.publisher.PublishStockReceived(ctx, itemID, lot, quantity, newOnHand, meta.PerformedBy)

	return movement, lot, nil
}

// ApplyAdjustment corrects stock by a signed delta. With a lot the delta
// moves both the lot and the item cache; without one only the item cache
// changes. Decreases must carry notes explaining the correction, checked
// before anything is touched.
func (s *LedgerService) ApplyAdjustment(ctx context.Context, itemID string, lotID *string, delta decimal.Decimal, reason string, notes *string, meta Metadata) (*repository.InventoryMovement, error) {
	if delta.IsZero() {
		return nil, errors.Validation(map[string]string{
			"quantity": "adjustment must not be zero",
		})
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errors.Validation(map[string]string{
			"reason": "a reason code is required",
		})
	}
	if delta.IsNegative() && (notes == nil || strings.TrimSpace(*notes) == "") {
		return nil, errors.Validation(map[string]string{
			"notes": "notes are required when decreasing stock",
		})
	}
	if meta.PerformedBy == "" {
		return nil, errors.Unauthorized("an authenticated user is required to move stock")
	}
	s.resolveActorName(ctx, &meta)

	var movement *repository.InventoryMovement
	var depletedLot *repository.Lot
	var newOnHand decimal.Decimal

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		movement = nil
		depletedLot = nil

		if lotID != nil {
			lot, err := s.lotRepo.GetForUpdateTx(ctx, tx, *lotID)
			if err != nil {
				return err
			}
			if lot.ItemID != itemID {
				return errors.Validation(map[string]string{
					"lot_id": "lot does not belong to this item",
				})
			}

			newRemaining := lot.QuantityRemaining.Add(delta)
			if newRemaining.IsNegative() {
				return errors.InvalidAdjustment(fmt.Sprintf(
					"adjustment would take lot %s to %s", lot.LotCode, newRemaining,
				))
			}

			if delta.IsNegative() {
				remaining, active, err := s.lotRepo.DeductTx(ctx, tx, lot.ID, delta.Neg())
				if err != nil {
					return err
				}
				if !active && remaining.IsZero() {
					depletedLot = lot
				}
			} else {
				if _, err := s.lotRepo.AddTx(ctx, tx, lot.ID, delta); err != nil {
					return err
				}
			}
		}

		item, err := s.itemRepo.GetForUpdateTx(ctx, tx, itemID)
		if err != nil {
			return err
		}

		newOnHand = item.CurrentQuantity.Add(delta)
		if newOnHand.IsNegative() {
			return errors.InvalidAdjustment("adjustment would take on-hand stock below zero")
		}

		if delta.IsNegative() {
			if err := s.itemRepo.DeductQuantityTx(ctx, tx, itemID, delta.Neg()); err != nil {
				return err
			}
		} else {
			if err := s.itemRepo.AddQuantityTx(ctx, tx, itemID, delta); err != nil {
				return err
			}
		}

		movement = &repository.InventoryMovement{
			ItemID:          itemID,
			LotID:           lotID,
			MovementType:    repository.MovementAdjust,
			Quantity:        delta,
			Reason:          &reason,
			Notes:           notes,
			PerformedBy:     meta.PerformedBy,
			PerformedByName: meta.PerformedByName,
		}
		return s.moveRepo.InsertTx(ctx, tx, movement)
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishStockAdjusted(ctx, itemID, lotID, delta, newOnHand, reason, meta.PerformedBy)
	if depletedLot != nil {
		s.publisher.PublishLotDepleted(ctx, depletedLot)
	}
	if delta.IsNegative() {
		s.checkBelowMinimum(ctx, itemID)
	}

	return movement, nil
}

// ApplyDisposal destroys stock from a single lot. Disposals always need a
// reason and notes; regulated destruction leaves a paper trail.
func (s *LedgerService) ApplyDisposal(ctx context.Context, itemID, lotID string, quantity decimal.Decimal, reason string, notes *string, meta Metadata) (*repository.InventoryMovement, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Validation(map[string]string{
			"quantity": "must be greater than zero",
		})
	}
	if strings.TrimSpace(reason) == "" {
		return nil, errors.Validation(map[string]string{
			"reason": "a reason code is required",
		})
	}
	if notes == nil || strings.TrimSpace(*notes) == "" {
		return nil, errors.Validation(map[string]string{
			"notes": "notes are required when disposing stock",
		})
	}
	if meta.PerformedBy == "" {
		return nil, errors.Unauthorized("an authenticated user is required to move stock")
	}
	s.resolveActorName(ctx, &meta)

	var movement *repository.InventoryMovement
	var depletedLot *repository.Lot

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		movement = nil
		depletedLot = nil

		lot, err := s.lotRepo.GetForUpdateTx(ctx, tx, lotID)
		if err != nil {
			return err
		}
		if lot.ItemID != itemID {
			return errors.Validation(map[string]string{
				"lot_id": "lot does not belong to this item",
			})
		}

		available := lot.QuantityRemaining
		if !lot.IsActive {
			available = decimal.Zero
		}
		if available.LessThan(quantity) {
			return errors.InsufficientStock(quantity, available)
		}

		remaining, active, err := s.lotRepo.DeductTx(ctx, tx, lotID, quantity)
		if err != nil {
			return err
		}
		if !active && remaining.IsZero() {
			depletedLot = lot
		}

		movement = &repository.InventoryMovement{
			ItemID:          itemID,
			LotID:           &lot.ID,
			MovementType:    repository.MovementDispose,
			Quantity:        quantity,
			FromLocation:    lot.StorageLocation,
			Reason:          &reason,
			Notes:           notes,
			PerformedBy:     meta.PerformedBy,
			PerformedByName: meta.PerformedByName,
		}
		if err := s.moveRepo.InsertTx(ctx, tx, movement); err != nil {
			return err
		}

		return s.itemRepo.DeductQuantityTx(ctx, tx, itemID, quantity)
	})
	if err != nil {
		return nil, err
	}

	s.publisher.PublishStockDisposed(ctx, itemID, lotID, quantity, reason, meta.PerformedBy)
	if depletedLot != nil {
		s.publisher.PublishLotDepleted(ctx, depletedLot)
	}
	s.checkBelowMinimum(ctx, itemID)

	return movement, nil
}

// resolveActorName fills the display name from the user cache when the
// caller didn't supply one. A cache miss is not an error; the movement
// just records the bare user id.
func (s *LedgerService) resolveActorName(ctx context.Context, meta *Metadata) {
	if meta.PerformedByName != nil || meta.PerformedBy == "" {
		return
	}

	user, err := s.userCache.Get(ctx, meta.PerformedBy)
	if err != nil {
		return
	}

	name := user.FullName()
	meta.PerformedByName = &name
}

func (s *LedgerService) checkBelowMinimum(ctx context.Context, itemID string) {
	item, err := s.itemRepo.GetByID(ctx, itemID)
	if err != nil || item.MinimumQuantity == nil {
		return
	}

	available := item.CurrentQuantity.Sub(item.ReservedQuantity)
	if available.IsNegative() {
		available = decimal.Zero
	}

	if available.LessThan(*item.MinimumQuantity) {
		s.publisher.PublishStockBelowMinimum(ctx, item, available)
	}
}
