package service_test

import (
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/internal/inventory/service"
	pkgerrors "github.com/cultivar/cultivar-backend/pkg/errors"
	"github.com/cultivar/cultivar-backend/pkg/testutil"
)

var (
	suite              *testutil.IntegrationSuite
	integrationActorID = uuid.New().String()
)

func TestMain(m *testing.M) {
	flag.Parse()

	ctx := context.Background()
	if !testing.Short() {
		var err error
		suite, err = testutil.NewIntegrationSuite(ctx)
		if err != nil {
			log.Fatalf("failed to start integration suite: %v", err)
		}
	}

	code := m.Run()
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

// integrationEnv wires the ledger and its collaborators against the suite
// database. No events are published.
type integrationEnv struct {
	ledger    *service.LedgerService
	allocator *service.AllocationService
	items     *repository.ItemRepository
	lots      *repository.LotRepository
	movements *repository.MovementRepository
}

func newIntegrationEnv() integrationEnv {
	items := repository.NewItemRepository(suite.DB)
	lots := repository.NewLotRepository(suite.DB)
	movements := repository.NewMovementRepository(suite.DB)
	users := repository.NewUserCacheRepository(suite.DB)

	return integrationEnv{
		ledger:    service.NewLedgerService(suite.DB, items, lots, movements, users, nil, suite.Logger),
		allocator: service.NewAllocationService(lots, suite.Logger),
		items:     items,
		lots:      lots,
		movements: movements,
	}
}

func (e integrationEnv) seedItem(t *testing.T, ctx context.Context, opts ...func(*testutil.ItemFixture)) *repository.Item {
	t.Helper()

	f := suite.Fixtures.Item(opts...)
	item := &repository.Item{
		ID:               f.ID,
		Name:             f.Name,
		SKU:              &f.SKU,
		Category:         &f.Category,
		Unit:             f.Unit,
		CurrentQuantity:  f.CurrentQuantity,
		ReservedQuantity: f.ReservedQuantity,
		MinimumQuantity:  &f.MinimumQuantity,
		ReorderPoint:     &f.ReorderPoint,
		DefaultLocation:  f.DefaultLocation,
		LotTracked:       f.LotTracked,
		IsActive:         f.IsActive,
	}
	require.NoError(t, e.items.Create(ctx, item))
	return item
}

func (e integrationEnv) receive(t *testing.T, ctx context.Context, itemID string, quantity decimal.Decimal, input *service.LotInput) *repository.Lot {
	t.Helper()

	_, lot, err := e.ledger.ApplyReceipt(ctx, itemID, quantity, input, integrationMeta())
	require.NoError(t, err)
	require.NotNil(t, lot)
	return lot
}

func integrationMeta() service.Metadata {
	return service.Metadata{PerformedBy: integrationActorID}
}

func integrationDest() service.Destination {
	return service.Destination{TaskID: testutil.PtrString(uuid.New().String())}
}

// replayRemaining folds a lot's ledger entries back into a remaining
// quantity: receipts and signed adjustments add, everything else subtracts.
func replayRemaining(movements []*repository.InventoryMovement) decimal.Decimal {
	remaining := decimal.Zero
	for _, m := range movements {
		switch m.MovementType {
		case repository.MovementReceive, repository.MovementAdjust:
			remaining = remaining.Add(m.Quantity)
		case repository.MovementConsume, repository.MovementTransfer, repository.MovementDispose:
			remaining = remaining.Sub(m.Quantity)
		}
	}
	return remaining
}

func TestLedgerIntegration_FIFOWorkedExample(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	env := newIntegrationEnv()

	item := env.seedItem(t, ctx)
	lotA := env.receive(t, ctx, item.ID, qty(100), &service.LotInput{
		LotCode:      "LOT-A",
		ReceivedDate: testutil.PtrTime(day(1)),
	})
	lotB := env.receive(t, ctx, item.ID, qty(50), &service.LotInput{
		LotCode:      "LOT-B",
		ReceivedDate: testutil.PtrTime(day(5)),
	})
	assert.True(t, lotA.QuantityReceived.Equal(lotA.QuantityRemaining))

	plan, err := env.allocator.PlanConsumption(ctx, item.ID, qty(120), service.StrategyFIFO, nil)
	require.NoError(t, err)
	require.Len(t, plan.Lines, 2)
	assert.Equal(t, lotA.ID, plan.Lines[0].LotID)
	assert.True(t, plan.Lines[0].Quantity.Equal(qty(100)))
	assert.Equal(t, lotB.ID, plan.Lines[1].LotID)
	assert.True(t, plan.Lines[1].Quantity.Equal(qty(20)))

	movements, err := env.ledger.ApplyConsumption(ctx, plan, integrationDest(), integrationMeta())
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, repository.MovementConsume, movements[0].MovementType)
	require.NotNil(t, movements[0].LotID)
	assert.Equal(t, lotA.ID, *movements[0].LotID)
	assert.True(t, movements[0].Quantity.Equal(qty(100)))
	require.NotNil(t, movements[1].LotID)
	assert.Equal(t, lotB.ID, *movements[1].LotID)
	assert.True(t, movements[1].Quantity.Equal(qty(20)))

	gotA, err := env.lots.GetByID(ctx, lotA.ID)
	require.NoError(t, err)
	assert.True(t, gotA.QuantityRemaining.IsZero(), "got %s", gotA.QuantityRemaining)
	assert.False(t, gotA.IsActive)

	gotB, err := env.lots.GetByID(ctx, lotB.ID)
	require.NoError(t, err)
	assert.True(t, gotB.QuantityRemaining.Equal(qty(30)), "got %s", gotB.QuantityRemaining)
	assert.True(t, gotB.IsActive)

	gotItem, err := env.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, gotItem.CurrentQuantity.Equal(qty(30)), "got %s", gotItem.CurrentQuantity)
}

// Two workers commit the same full-lot plan at once. Row locks serialize
// them: the first drains the lot, the second finds it changed and fails,
// and the lot never goes negative.
func TestLedgerIntegration_ConcurrentFullLotConsumption(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	env := newIntegrationEnv()

	item := env.seedItem(t, ctx)
	lot := env.receive(t, ctx, item.ID, qty(40), &service.LotInput{LotCode: "LOT-RACE"})

	plan := &service.ConsumptionPlan{
		ItemID:            item.ID,
		Strategy:          service.StrategyFIFO,
		RequestedQuantity: qty(40),
		Lines:             []service.PlanLine{{LotID: lot.ID, Quantity: qty(40)}},
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.ApplyConsumption(ctx, plan, integrationDest(), integrationMeta())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, stale int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case pkgerrors.Is(err, pkgerrors.ErrStaleAllocation):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one commit must win")
	assert.Equal(t, 1, stale, "the loser must fail as stale")

	got, err := env.lots.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityRemaining.IsZero(), "got %s", got.QuantityRemaining)
	assert.False(t, got.IsActive)

	gotItem, err := env.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, gotItem.CurrentQuantity.IsZero(), "got %s", gotItem.CurrentQuantity)

	history, err := env.movements.ListByLot(ctx, lot.ID)
	require.NoError(t, err)
	var consumes int
	for _, m := range history {
		if m.MovementType == repository.MovementConsume {
			consumes++
		}
	}
	assert.Equal(t, 1, consumes, "only the winning commit may write a movement")
}

// The movement ledger is the source of truth: folding a lot's entries
// back together reproduces its remaining quantity exactly.
func TestLedgerIntegration_ReplayReproducesRemaining(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	env := newIntegrationEnv()

	item := env.seedItem(t, ctx)
	lot := env.receive(t, ctx, item.ID, qty(100), &service.LotInput{LotCode: "LOT-REPLAY"})

	plan := &service.ConsumptionPlan{
		ItemID:            item.ID,
		Strategy:          service.StrategyFIFO,
		RequestedQuantity: qty(30),
		Lines:             []service.PlanLine{{LotID: lot.ID, Quantity: qty(30)}},
	}
	_, err := env.ledger.ApplyConsumption(ctx, plan, integrationDest(), integrationMeta())
	require.NoError(t, err)

	_, err = env.ledger.ApplyAdjustment(ctx, item.ID, &lot.ID, qty(10), "cycle_count", nil, integrationMeta())
	require.NoError(t, err)

	_, err = env.ledger.ApplyAdjustment(ctx, item.ID, &lot.ID, qty(5).Neg(), "damaged", testutil.PtrString("crushed in transit"), integrationMeta())
	require.NoError(t, err)

	_, err = env.ledger.ApplyDisposal(ctx, item.ID, lot.ID, qty(25), "contamination", testutil.PtrString("mold on cap layer"), integrationMeta())
	require.NoError(t, err)

	got, err := env.lots.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityRemaining.Equal(qty(50)), "got %s", got.QuantityRemaining)

	history, err := env.movements.ListByLot(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)

	replayed := replayRemaining(history)
	assert.True(t, replayed.Equal(got.QuantityRemaining),
		"replay yields %s but the lot holds %s", replayed, got.QuantityRemaining)

	// The item cache agrees with the lot ledger
	gotItem, err := env.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, gotItem.CurrentQuantity.Equal(qty(50)), "got %s", gotItem.CurrentQuantity)
}

func TestLedgerIntegration_InsufficiencyLeavesNoTrace(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	env := newIntegrationEnv()

	item := env.seedItem(t, ctx)
	lot := env.receive(t, ctx, item.ID, qty(50), &service.LotInput{LotCode: "LOT-SHORTFALL"})

	_, err := env.allocator.PlanConsumption(ctx, item.ID, qty(200), service.StrategyFIFO, nil)
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.ErrInsufficientStock))

	var appErr *pkgerrors.AppError
	require.True(t, pkgerrors.As(err, &appErr))
	assert.Equal(t, "200", appErr.Details["requested"])
	assert.Equal(t, "150", appErr.Details["shortfall"])

	// Forcing a hand-built over-draw through the ledger fails under the
	// row lock instead.
	overdraw := &service.ConsumptionPlan{
		ItemID:            item.ID,
		Strategy:          service.StrategyFIFO,
		RequestedQuantity: qty(200),
		Lines:             []service.PlanLine{{LotID: lot.ID, Quantity: qty(200)}},
	}
	_, err = env.ledger.ApplyConsumption(ctx, overdraw, integrationDest(), integrationMeta())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrStaleAllocation))

	got, err := env.lots.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityRemaining.Equal(qty(50)), "got %s", got.QuantityRemaining)

	history, err := env.movements.ListByLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "only the receipt may be on the ledger")
}

func TestLedgerIntegration_StaleLineRollsBackWholePlan(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	env := newIntegrationEnv()

	item := env.seedItem(t, ctx)
	lotA := env.receive(t, ctx, item.ID, qty(40), &service.LotInput{
		LotCode:      "LOT-STALE-A",
		ReceivedDate: testutil.PtrTime(day(1)),
	})
	lotB := env.receive(t, ctx, item.ID, qty(40), &service.LotInput{
		LotCode:      "LOT-STALE-B",
		ReceivedDate: testutil.PtrTime(day(2)),
	})

	stalePlan := &service.ConsumptionPlan{
		ItemID:            item.ID,
		Strategy:          service.StrategyFIFO,
		RequestedQuantity: qty(50),
		Lines: []service.PlanLine{
			{LotID: lotA.ID, Quantity: qty(40)},
			{LotID: lotB.ID, Quantity: qty(10)},
		},
	}

	// Drain lot A between planning and commit
	drain := &service.ConsumptionPlan{
		ItemID:            item.ID,
		Strategy:          service.StrategyFIFO,
		RequestedQuantity: qty(40),
		Lines:             []service.PlanLine{{LotID: lotA.ID, Quantity: qty(40)}},
	}
	_, err := env.ledger.ApplyConsumption(ctx, drain, integrationDest(), integrationMeta())
	require.NoError(t, err)

	_, err = env.ledger.ApplyConsumption(ctx, stalePlan, integrationDest(), integrationMeta())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrStaleAllocation))

	// Lot B was in the failed plan but must be untouched
	gotB, err := env.lots.GetByID(ctx, lotB.ID)
	require.NoError(t, err)
	assert.True(t, gotB.QuantityRemaining.Equal(qty(40)), "got %s", gotB.QuantityRemaining)

	history, err := env.movements.ListByLot(ctx, lotB.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "the failed plan must not touch lot B's ledger")

	gotItem, err := env.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, gotItem.CurrentQuantity.Equal(qty(40)), "got %s", gotItem.CurrentQuantity)
}

func TestLedgerIntegration_DecreaseWithoutNotesWritesNothing(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	env := newIntegrationEnv()

	item := env.seedItem(t, ctx)
	lot := env.receive(t, ctx, item.ID, qty(60), &service.LotInput{LotCode: "LOT-NOTES"})

	_, err := env.ledger.ApplyAdjustment(ctx, item.ID, &lot.ID, qty(10).Neg(), "cycle_count", nil, integrationMeta())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrValidation))

	history, err := env.movements.ListByLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "rejected decrease must not reach the ledger")

	got, err := env.lots.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityRemaining.Equal(qty(60)), "got %s", got.QuantityRemaining)

	// An increase carries no such requirement
	movement, err := env.ledger.ApplyAdjustment(ctx, item.ID, &lot.ID, qty(10), "cycle_count", nil, integrationMeta())
	require.NoError(t, err)
	assert.True(t, movement.Quantity.Equal(qty(10)))

	got, err = env.lots.GetByID(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityRemaining.Equal(qty(70)), "got %s", got.QuantityRemaining)
}

func TestLedgerIntegration_UntrackedItemReceiptSkipsLot(t *testing.T) {
	testutil.SkipIfShort(t)
	ctx := context.Background()
	env := newIntegrationEnv()

	item := env.seedItem(t, ctx, testutil.WithoutLotTracking())

	movement, lot, err := env.ledger.ApplyReceipt(ctx, item.ID, qty(200), nil, integrationMeta())
	require.NoError(t, err)
	assert.Nil(t, lot)
	assert.Nil(t, movement.LotID)
	assert.Equal(t, repository.MovementReceive, movement.MovementType)

	gotItem, err := env.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, gotItem.CurrentQuantity.Equal(qty(200)), "got %s", gotItem.CurrentQuantity)
}
