package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivar/cultivar-backend/internal/inventory/events"
	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/internal/inventory/service"
	"github.com/cultivar/cultivar-backend/pkg/errors"
	"github.com/cultivar/cultivar-backend/pkg/logger"
	"github.com/cultivar/cultivar-backend/pkg/messaging"
	"github.com/cultivar/cultivar-backend/pkg/testutil"
)

func newLedgerTest(t *testing.T) (*service.LedgerService, *testutil.MockDB, *testutil.MockPublisher) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { _ = mockDB.Close() })

	log := logger.New("test", "test")
	pub := testutil.NewMockPublisher()

	ledger := service.NewLedgerService(
		mockDB.DB,
		repository.NewItemRepository(mockDB.DB),
		repository.NewLotRepository(mockDB.DB),
		repository.NewMovementRepository(mockDB.DB),
		repository.NewUserCacheRepository(mockDB.DB),
		events.NewWithPublisher(pub, log),
		log,
	)
	return ledger, mockDB, pub
}

func actorMeta() service.Metadata {
	return service.Metadata{
		PerformedBy:     "user-1",
		PerformedByName: testutil.PtrString("Maria Santos"),
	}
}

func lockedLotRows(id, itemID, code, remaining string, active bool) *sqlmock.Rows {
	now := time.Now()
	return testutil.MockRows(
		"id", "item_id", "lot_code", "quantity_received", "quantity_remaining",
		"unit", "received_date", "storage_location", "is_active", "created_at", "updated_at",
	).AddRow(id, itemID, code, remaining, remaining, "g", day(1), "veg-room-1", active, now, now)
}

func lockedItemRows(id, onHand string, min interface{}, lotTracked bool) *sqlmock.Rows {
	now := time.Now()
	return testutil.MockRows(
		"id", "name", "unit", "current_quantity", "reserved_quantity",
		"minimum_quantity", "default_location", "lot_tracked", "is_active",
		"created_at", "updated_at",
	).AddRow(id, "Calcium Nitrate", "g", onHand, "0", min, "veg-room-1", lotTracked, true, now, now)
}

func deductReturns(remaining string, active bool) *sqlmock.Rows {
	return testutil.MockRows("quantity_remaining", "is_active").AddRow(remaining, active)
}

func movementCreated() *sqlmock.Rows {
	return testutil.MockRows("created_at").AddRow(time.Now())
}

func twoLinePlan(itemID string) *service.ConsumptionPlan {
	return &service.ConsumptionPlan{
		ItemID:            itemID,
		Strategy:          service.StrategyFIFO,
		RequestedQuantity: qty(120),
		Lines: []service.PlanLine{
			{LotID: "lot-a", LotCode: "L-A", Quantity: qty(100), Available: qty(100)},
			{LotID: "lot-b", LotCode: "L-B", Quantity: qty(20), Available: qty(50)},
		},
	}
}

// ===== APPLY CONSUMPTION =====

func TestApplyConsumption_CommitsPlanAtomically(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"
	plan := twoLinePlan(itemID)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs("lot-a").
		WillReturnRows(lockedLotRows("lot-a", itemID, "L-A", "100", true))
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs("lot-b").
		WillReturnRows(lockedLotRows("lot-b", itemID, "L-B", "50", true))

	mockDB.ExpectQuery("SET quantity_remaining = quantity_remaining - $2,").
		WithArgs("lot-a", qty(100)).
		WillReturnRows(deductReturns("0", false))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WithArgs(testutil.AnyUUID{}, itemID, "lot-a", repository.MovementConsume, qty(100),
			"veg-room-1", nil, "batch-7", nil, nil, "weekly veg feed", "user-1", "Maria Santos").
		WillReturnRows(movementCreated())

	mockDB.ExpectQuery("SET quantity_remaining = quantity_remaining - $2,").
		WithArgs("lot-b", qty(20)).
		WillReturnRows(deductReturns("30", true))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WithArgs(testutil.AnyUUID{}, itemID, "lot-b", repository.MovementConsume, qty(20),
			"veg-room-1", nil, "batch-7", nil, nil, "weekly veg feed", "user-1", "Maria Santos").
		WillReturnRows(movementCreated())

	mockDB.ExpectExec("SET current_quantity = current_quantity - $2, updated_at = NOW()").
		WithArgs(itemID, qty(120)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	// Post-commit threshold check; plenty of stock left, no alert.
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "380", "10", true))

	dest := service.Destination{BatchID: testutil.PtrString("batch-7")}
	meta := actorMeta()
	meta.Notes = testutil.PtrString("weekly veg feed")

	movements, err := ledger.ApplyConsumption(context.Background(), plan, dest, meta)
	require.NoError(t, err)
	require.Len(t, movements, 2)

	assert.Equal(t, "lot-a", *movements[0].LotID)
	assert.True(t, movements[0].Quantity.Equal(qty(100)))
	assert.Equal(t, repository.MovementConsume, movements[0].MovementType)
	assert.Equal(t, "batch-7", *movements[0].BatchID)
	assert.Equal(t, "lot-b", *movements[1].LotID)
	assert.True(t, movements[1].Quantity.Equal(qty(20)))

	pub.AssertEventPublished(t, messaging.EventStockConsumed)
	pub.AssertEventPublished(t, messaging.EventLotDepleted)

	for _, e := range pub.PublishedEvents {
		if e.Type != messaging.EventStockConsumed {
			continue
		}
		payload := e.Payload.(messaging.StockConsumedEvent)
		require.Len(t, payload.Lots, 2)
		assert.Equal(t, "L-A", payload.Lots[0].LotCode)
		assert.True(t, payload.Quantity.Equal(qty(120)))
	}

	mockDB.ExpectationsWereMet(t)
}

func TestApplyConsumption_LocksInLotIDOrder(t *testing.T) {
	// The plan walks lot-b first, but locks must still be taken in lot id
	// order so two overlapping commits queue instead of deadlocking.
	ledger, mockDB, _ := newLedgerTest(t)
	const itemID = "item-1"

	plan := &service.ConsumptionPlan{
		ItemID:            itemID,
		Strategy:          service.StrategyLIFO,
		RequestedQuantity: qty(60),
		Lines: []service.PlanLine{
			{LotID: "lot-b", LotCode: "L-B", Quantity: qty(50), Available: qty(50)},
			{LotID: "lot-a", LotCode: "L-A", Quantity: qty(10), Available: qty(100)},
		},
	}

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs("lot-a").
		WillReturnRows(lockedLotRows("lot-a", itemID, "L-A", "100", true))
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs("lot-b").
		WillReturnRows(lockedLotRows("lot-b", itemID, "L-B", "50", true))

	// Deductions then run in plan order: lot-b before lot-a.
	mockDB.ExpectQuery("SET quantity_remaining = quantity_remaining - $2,").
		WithArgs("lot-b", qty(50)).
		WillReturnRows(deductReturns("0", false))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WillReturnRows(movementCreated())
	mockDB.ExpectQuery("SET quantity_remaining = quantity_remaining - $2,").
		WithArgs("lot-a", qty(10)).
		WillReturnRows(deductReturns("90", true))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WillReturnRows(movementCreated())

	mockDB.ExpectExec("SET current_quantity = current_quantity - $2, updated_at = NOW()").
		WithArgs(itemID, qty(60)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "40", nil, true))

	movements, err := ledger.ApplyConsumption(context.Background(),
		plan, service.Destination{TaskID: testutil.PtrString("task-3")}, actorMeta())
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, "lot-b", *movements[0].LotID)
	assert.Equal(t, "lot-a", *movements[1].LotID)

	mockDB.ExpectationsWereMet(t)
}

func TestApplyConsumption_StaleLotFailsWholeCommit(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"
	plan := twoLinePlan(itemID)

	// lot-a no longer covers its planned 100; nothing may move.
	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs("lot-a").
		WillReturnRows(lockedLotRows("lot-a", itemID, "L-A", "40", true))
	mockDB.ExpectRollback()

	movements, err := ledger.ApplyConsumption(context.Background(),
		plan, service.Destination{BatchID: testutil.PtrString("batch-7")}, actorMeta())
	require.Error(t, err)
	assert.Nil(t, movements)
	assert.True(t, errors.Is(err, errors.ErrStaleAllocation))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "lot-a", appErr.Details["lot_id"])

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyConsumption_DeactivatedLotIsStale(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"
	plan := twoLinePlan(itemID)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs("lot-a").
		WillReturnRows(lockedLotRows("lot-a", itemID, "L-A", "100", false))
	mockDB.ExpectRollback()

	_, err := ledger.ApplyConsumption(context.Background(),
		plan, service.Destination{BatchID: testutil.PtrString("batch-7")}, actorMeta())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStaleAllocation))

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyConsumption_LotFromAnotherItemFails(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	plan := twoLinePlan("item-1")

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs("lot-a").
		WillReturnRows(lockedLotRows("lot-a", "other-item", "L-A", "100", true))
	mockDB.ExpectRollback()

	_, err := ledger.ApplyConsumption(context.Background(),
		plan, service.Destination{BatchID: testutil.PtrString("batch-7")}, actorMeta())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyConsumption_TransferLeavesItemTotalAlone(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"

	plan := &service.ConsumptionPlan{
		ItemID:            itemID,
		Strategy:          service.StrategyFIFO,
		RequestedQuantity: qty(30),
		Lines: []service.PlanLine{
			{LotID: "lot-a", LotCode: "L-A", Quantity: qty(30), Available: qty(100)},
		},
	}

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs("lot-a").
		WillReturnRows(lockedLotRows("lot-a", itemID, "L-A", "100", true))
	mockDB.ExpectQuery("SET quantity_remaining = quantity_remaining - $2,").
		WithArgs("lot-a", qty(30)).
		WillReturnRows(deductReturns("70", true))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WithArgs(testutil.AnyUUID{}, itemID, "lot-a", repository.MovementTransfer, qty(30),
			"veg-room-1", "dry-room-1", nil, nil, nil, nil, "user-1", "Maria Santos").
		WillReturnRows(movementCreated())
	// No item quantity update: the stock only changed rooms.
	mockDB.ExpectCommit()

	movements, err := ledger.ApplyConsumption(context.Background(),
		plan, service.Destination{ToLocation: testutil.PtrString("dry-room-1")}, actorMeta())
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, repository.MovementTransfer, movements[0].MovementType)
	assert.Equal(t, "dry-room-1", *movements[0].ToLocation)

	pub.AssertEventPublished(t, messaging.EventStockTransferred)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyConsumption_RejectsBadPlans(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	dest := service.Destination{BatchID: testutil.PtrString("batch-7")}
	ctx := context.Background()

	t.Run("nil plan", func(t *testing.T) {
		_, err := ledger.ApplyConsumption(ctx, nil, dest, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	})

	t.Run("empty plan", func(t *testing.T) {
		plan := &service.ConsumptionPlan{ItemID: "item-1", Strategy: service.StrategyFIFO}
		_, err := ledger.ApplyConsumption(ctx, plan, dest, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	})

	t.Run("line without lot id", func(t *testing.T) {
		plan := &service.ConsumptionPlan{
			ItemID: "item-1",
			Lines:  []service.PlanLine{{Quantity: qty(10)}},
		}
		_, err := ledger.ApplyConsumption(ctx, plan, dest, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("line with non-positive quantity", func(t *testing.T) {
		plan := &service.ConsumptionPlan{
			ItemID: "item-1",
			Lines:  []service.PlanLine{{LotID: "lot-a", Quantity: qty(-10)}},
		}
		_, err := ledger.ApplyConsumption(ctx, plan, dest, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("duplicate lot lines", func(t *testing.T) {
		plan := &service.ConsumptionPlan{
			ItemID: "item-1",
			Lines: []service.PlanLine{
				{LotID: "lot-a", Quantity: qty(10)},
				{LotID: "lot-a", Quantity: qty(10)},
			},
		}
		_, err := ledger.ApplyConsumption(ctx, plan, dest, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyConsumption_DestinationValidation(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	plan := twoLinePlan("item-1")
	ctx := context.Background()

	tests := []struct {
		name string
		dest service.Destination
	}{
		{"no destination", service.Destination{}},
		{"two destinations", service.Destination{
			BatchID: testutil.PtrString("batch-7"),
			TaskID:  testutil.PtrString("task-3"),
		}},
		{"all three destinations", service.Destination{
			BatchID:    testutil.PtrString("batch-7"),
			TaskID:     testutil.PtrString("task-3"),
			ToLocation: testutil.PtrString("dry-room-1"),
		}},
		{"empty string does not count as set", service.Destination{
			BatchID: testutil.PtrString(""),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.ApplyConsumption(ctx, plan, tt.dest, actorMeta())
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation))
		})
	}

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyConsumption_RequiresActor(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)

	_, err := ledger.ApplyConsumption(context.Background(), twoLinePlan("item-1"),
		service.Destination{BatchID: testutil.PtrString("batch-7")}, service.Metadata{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyConsumption_ResolvesActorNameFromCache(t *testing.T) {
	ledger, mockDB, _ := newLedgerTest(t)
	const itemID = "item-1"

	plan := &service.ConsumptionPlan{
		ItemID:            itemID,
		Strategy:          service.StrategyFIFO,
		RequestedQuantity: qty(10),
		Lines: []service.PlanLine{
			{LotID: "lot-a", LotCode: "L-A", Quantity: qty(10), Available: qty(100)},
		},
	}

	mockDB.ExpectQuery("FROM user_cache WHERE user_id = $1").
		WithArgs("user-1").
		WillReturnRows(testutil.MockRows("user_id", "first_name", "last_name", "email", "role_name").
			AddRow("user-1", "Maria", "Santos", "maria@greenleaf-farms.io", "cultivation_lead"))

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs("lot-a").
		WillReturnRows(lockedLotRows("lot-a", itemID, "L-A", "100", true))
	mockDB.ExpectQuery("SET quantity_remaining = quantity_remaining - $2,").
		WillReturnRows(deductReturns("90", true))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WillReturnRows(movementCreated())
	mockDB.ExpectExec("SET current_quantity = current_quantity - $2, updated_at = NOW()").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "90", nil, true))

	movements, err := ledger.ApplyConsumption(context.Background(), plan,
		service.Destination{BatchID: testutil.PtrString("batch-7")},
		service.Metadata{PerformedBy: "user-1"})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.NotNil(t, movements[0].PerformedByName)
	assert.Equal(t, "Maria Santos", *movements[0].PerformedByName)

	mockDB.ExpectationsWereMet(t)
}

// ===== APPLY RECEIPT =====

func TestApplyReceipt_CreatesLotAndGrowsItem(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"
	expiry := time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "100", nil, true))
	mockDB.ExpectQuery("INSERT INTO inventory_lots").
		WithArgs(testutil.AnyUUID{}, itemID, "LOT-2026-117", qty(200), qty(200), "g",
			testutil.AnyTime{}, expiry, nil, "veg-room-1", nil, true, "user-1").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WithArgs(testutil.AnyUUID{}, itemID, testutil.AnyUUID{}, repository.MovementReceive, qty(200),
			nil, "veg-room-1", nil, nil, nil, "po 4312", "user-1", "Maria Santos").
		WillReturnRows(movementCreated())
	mockDB.ExpectExec("SET current_quantity = current_quantity + $2, updated_at = NOW()").
		WithArgs(itemID, qty(200)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	meta := actorMeta()
	meta.Notes = testutil.PtrString("po 4312")

	movement, lot, err := ledger.ApplyReceipt(context.Background(), itemID, qty(200), &service.LotInput{
		LotCode:    "LOT-2026-117",
		ExpiryDate: &expiry,
	}, meta)
	require.NoError(t, err)

	require.NotNil(t, lot)
	assert.NotEmpty(t, lot.ID)
	assert.True(t, lot.QuantityReceived.Equal(qty(200)))
	assert.True(t, lot.QuantityRemaining.Equal(qty(200)))
	assert.True(t, lot.IsActive)

	require.NotNil(t, movement)
	assert.Equal(t, repository.MovementReceive, movement.MovementType)
	require.NotNil(t, movement.LotID)
	assert.Equal(t, lot.ID, *movement.LotID)

	pub.AssertEventPublished(t, messaging.EventStockReceived)
	for _, e := range pub.PublishedEvents {
		payload := e.Payload.(messaging.StockReceivedEvent)
		require.NotNil(t, payload.LotCode)
		assert.Equal(t, "LOT-2026-117", *payload.LotCode)
		assert.True(t, payload.NewOnHand.Equal(qty(300)))
	}

	mockDB.ExpectationsWereMet(t)
}

func TestApplyReceipt_UntrackedItemNeedsNoLot(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "100", nil, false))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WithArgs(testutil.AnyUUID{}, itemID, nil, repository.MovementReceive, qty(50),
			nil, "veg-room-1", nil, nil, nil, nil, "user-1", "Maria Santos").
		WillReturnRows(movementCreated())
	mockDB.ExpectExec("SET current_quantity = current_quantity + $2, updated_at = NOW()").
		WithArgs(itemID, qty(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	movement, lot, err := ledger.ApplyReceipt(context.Background(), itemID, qty(50), nil, actorMeta())
	require.NoError(t, err)
	assert.Nil(t, lot)
	require.NotNil(t, movement)
	assert.Nil(t, movement.LotID)

	pub.AssertEventPublished(t, messaging.EventStockReceived)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyReceipt_LotTrackedItemRequiresLotDetails(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "100", nil, true))
	mockDB.ExpectRollback()

	_, _, err := ledger.ApplyReceipt(context.Background(), itemID, qty(50), nil, actorMeta())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyReceipt_InputValidation(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	ctx := context.Background()

	t.Run("zero quantity", func(t *testing.T) {
		_, _, err := ledger.ApplyReceipt(ctx, "item-1", qty(0), nil, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("blank lot code", func(t *testing.T) {
		_, _, err := ledger.ApplyReceipt(ctx, "item-1", qty(10), &service.LotInput{LotCode: "   "}, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("missing actor", func(t *testing.T) {
		_, _, err := ledger.ApplyReceipt(ctx, "item-1", qty(10), nil, service.Metadata{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	})

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

// ===== APPLY ADJUSTMENT =====

func TestApplyAdjustment_DecreaseWithoutNotesFailsBeforeAnyWrite(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	ctx := context.Background()

	t.Run("nil notes", func(t *testing.T) {
		_, err := ledger.ApplyAdjustment(ctx, "item-1", nil, qty(-5), "cycle_count", nil, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("whitespace notes", func(t *testing.T) {
		_, err := ledger.ApplyAdjustment(ctx, "item-1", nil, qty(-5), "cycle_count",
			testutil.PtrString("   "), actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	// The validation fired before any transaction was opened.
	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyAdjustment_IncreaseWithoutNotesSucceeds(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "100", nil, false))
	mockDB.ExpectExec("SET current_quantity = current_quantity + $2, updated_at = NOW()").
		WithArgs(itemID, qty(25)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WithArgs(testutil.AnyUUID{}, itemID, nil, repository.MovementAdjust, qty(25),
			nil, nil, nil, nil, "cycle_count", nil, "user-1", "Maria Santos").
		WillReturnRows(movementCreated())
	mockDB.ExpectCommit()

	movement, err := ledger.ApplyAdjustment(context.Background(), itemID, nil, qty(25),
		"cycle_count", nil, actorMeta())
	require.NoError(t, err)
	require.NotNil(t, movement)
	assert.Equal(t, repository.MovementAdjust, movement.MovementType)
	assert.True(t, movement.Quantity.Equal(qty(25)))

	pub.AssertEventPublished(t, messaging.EventStockAdjusted)
	for _, e := range pub.PublishedEvents {
		payload := e.Payload.(messaging.StockAdjustedEvent)
		assert.True(t, payload.Delta.Equal(qty(25)))
		assert.True(t, payload.NewOnHand.Equal(qty(125)))
	}

	mockDB.ExpectationsWereMet(t)
}

func TestApplyAdjustment_LotDecreaseDepletesLot(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"
	lotID := "lot-a"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs(lotID).
		WillReturnRows(lockedLotRows(lotID, itemID, "L-A", "10", true))
	mockDB.ExpectQuery("SET quantity_remaining = quantity_remaining - $2,").
		WithArgs(lotID, qty(10)).
		WillReturnRows(deductReturns("0", false))
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "100", nil, true))
	mockDB.ExpectExec("SET current_quantity = current_quantity - $2, updated_at = NOW()").
		WithArgs(itemID, qty(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WithArgs(testutil.AnyUUID{}, itemID, lotID, repository.MovementAdjust, qty(-10),
			nil, nil, nil, nil, "damaged", "crushed during rack move", "user-1", "Maria Santos").
		WillReturnRows(movementCreated())
	mockDB.ExpectCommit()

	// Negative delta triggers the threshold check after commit.
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "90", nil, true))

	movement, err := ledger.ApplyAdjustment(context.Background(), itemID, &lotID, qty(-10),
		"damaged", testutil.PtrString("crushed during rack move"), actorMeta())
	require.NoError(t, err)
	assert.True(t, movement.Quantity.Equal(qty(-10)))

	pub.AssertEventPublished(t, messaging.EventStockAdjusted)
	pub.AssertEventPublished(t, messaging.EventLotDepleted)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyAdjustment_LotCannotGoNegative(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"
	lotID := "lot-a"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs(lotID).
		WillReturnRows(lockedLotRows(lotID, itemID, "L-A", "5", true))
	mockDB.ExpectRollback()

	_, err := ledger.ApplyAdjustment(context.Background(), itemID, &lotID, qty(-10),
		"damaged", testutil.PtrString("dropped pallet"), actorMeta())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidAdjustment))

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyAdjustment_ItemCannotGoNegative(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "30", nil, false))
	mockDB.ExpectRollback()

	_, err := ledger.ApplyAdjustment(context.Background(), itemID, nil, qty(-50),
		"cycle_count", testutil.PtrString("annual stocktake"), actorMeta())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidAdjustment))

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyAdjustment_BelowMinimumAlert(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "60", "100", false))
	mockDB.ExpectExec("SET current_quantity = current_quantity - $2, updated_at = NOW()").
		WithArgs(itemID, qty(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WillReturnRows(movementCreated())
	mockDB.ExpectCommit()

	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "50", "100", false))

	_, err := ledger.ApplyAdjustment(context.Background(), itemID, nil, qty(-10),
		"cycle_count", testutil.PtrString("stocktake variance"), actorMeta())
	require.NoError(t, err)

	pub.AssertEventPublished(t, messaging.EventStockAdjusted)
	pub.AssertEventPublished(t, messaging.EventStockBelowMinimum)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyAdjustment_InputValidation(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	ctx := context.Background()

	t.Run("zero delta", func(t *testing.T) {
		_, err := ledger.ApplyAdjustment(ctx, "item-1", nil, qty(0), "cycle_count", nil, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("blank reason", func(t *testing.T) {
		_, err := ledger.ApplyAdjustment(ctx, "item-1", nil, qty(5), "  ", nil, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("missing actor", func(t *testing.T) {
		_, err := ledger.ApplyAdjustment(ctx, "item-1", nil, qty(5), "cycle_count", nil, service.Metadata{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	})

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

// ===== APPLY DISPOSAL =====

func TestApplyDisposal_WritesDisposeMovement(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"
	const lotID = "lot-a"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs(lotID).
		WillReturnRows(lockedLotRows(lotID, itemID, "L-A", "20", true))
	mockDB.ExpectQuery("SET quantity_remaining = quantity_remaining - $2,").
		WithArgs(lotID, qty(5)).
		WillReturnRows(deductReturns("15", true))
	mockDB.ExpectQuery("INSERT INTO inventory_movements").
		WithArgs(testutil.AnyUUID{}, itemID, lotID, repository.MovementDispose, qty(5),
			"veg-room-1", nil, nil, nil, "contamination", "mold on cap layer", "user-1", "Maria Santos").
		WillReturnRows(movementCreated())
	mockDB.ExpectExec("SET current_quantity = current_quantity - $2, updated_at = NOW()").
		WithArgs(itemID, qty(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectCommit()

	mockDB.ExpectQuery("FROM inventory_items WHERE id = $1").
		WithArgs(itemID).
		WillReturnRows(lockedItemRows(itemID, "95", nil, true))

	movement, err := ledger.ApplyDisposal(context.Background(), itemID, lotID, qty(5),
		"contamination", testutil.PtrString("mold on cap layer"), actorMeta())
	require.NoError(t, err)
	assert.Equal(t, repository.MovementDispose, movement.MovementType)
	assert.Equal(t, "contamination", *movement.Reason)

	pub.AssertEventPublished(t, messaging.EventStockDisposed)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyDisposal_RequiresReasonAndNotes(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	ctx := context.Background()

	t.Run("missing notes", func(t *testing.T) {
		_, err := ledger.ApplyDisposal(ctx, "item-1", "lot-a", qty(5), "contamination", nil, actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("missing reason", func(t *testing.T) {
		_, err := ledger.ApplyDisposal(ctx, "item-1", "lot-a", qty(5), "",
			testutil.PtrString("mold"), actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("zero quantity", func(t *testing.T) {
		_, err := ledger.ApplyDisposal(ctx, "item-1", "lot-a", qty(0), "contamination",
			testutil.PtrString("mold"), actorMeta())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestApplyDisposal_InsufficientLot(t *testing.T) {
	ledger, mockDB, pub := newLedgerTest(t)
	const itemID = "item-1"
	const lotID = "lot-a"

	mockDB.ExpectBegin()
	mockDB.ExpectQuery("SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE").
		WithArgs(lotID).
		WillReturnRows(lockedLotRows(lotID, itemID, "L-A", "3", true))
	mockDB.ExpectRollback()

	_, err := ledger.ApplyDisposal(context.Background(), itemID, lotID, qty(5),
		"contamination", testutil.PtrString("mold on cap layer"), actorMeta())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "2", appErr.Details["shortfall"])

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}
