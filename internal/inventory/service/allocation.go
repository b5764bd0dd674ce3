package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/pkg/errors"
	"github.com/cultivar/cultivar-backend/pkg/logger"
)

// Strategy selects the order in which lots are drawn down
type Strategy string

const (
	// StrategyFIFO consumes the oldest received lots first
	StrategyFIFO Strategy = "fifo"
	// StrategyLIFO consumes the newest received lots first
	StrategyLIFO Strategy = "lifo"
	// StrategyFEFO consumes the lots closest to expiry first; lots without
	// an expiry date are used only after every dated lot
	StrategyFEFO Strategy = "fefo"
	// StrategyManual consumes a single caller-chosen lot
	StrategyManual Strategy = "manual"
)

// IsValid reports whether the strategy is one of the supported values
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFIFO, StrategyLIFO, StrategyFEFO, StrategyManual:
		return true
	}
	return false
}

// PlanLine allocates a quantity from one lot. Available is the lot's
// remaining quantity at planning time, kept for display and for spotting
// how stale a plan has become.
type PlanLine struct {
	LotID     string          `json:"lot_id"`
	LotCode   string          `json:"lot_code"`
	Quantity  decimal.Decimal `json:"quantity"`
	Available decimal.Decimal `json:"available"`
}

// ConsumptionPlan is an advisory snapshot of how a consumption would be
// filled. Nothing is reserved by planning; the ledger re-validates every
// line against current stock at commit time.
type ConsumptionPlan struct {
	ItemID            string          `json:"item_id"`
	Strategy          Strategy        `json:"strategy"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"`
	Lines             []PlanLine      `json:"lines"`
}

// Total returns the sum of all line quantities
func (p *ConsumptionPlan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range p.Lines {
		total = total.Add(line.Quantity)
	}
	return total
}

// AllocationService builds consumption plans against current lot stock
type AllocationService struct {
	lotRepo *repository.LotRepository
	logger  *logger.Logger
}

// NewAllocationService creates a new allocation service
func NewAllocationService(lotRepo *repository.LotRepository, log *logger.Logger) *AllocationService {
	return &AllocationService{
		lotRepo: lotRepo,
		logger:  log,
	}
}

// PlanConsumption plans a consumption of the given quantity across the
// item's eligible lots. An empty strategy defaults to FIFO. The manual
// strategy requires an explicit lot and goes through PlanManual instead.
func (s *AllocationService) PlanConsumption(ctx context.Context, itemID string, quantity decimal.Decimal, strategy Strategy, location *string) (*ConsumptionPlan, error) {
	if strategy == "" {
		strategy = StrategyFIFO
	}

	if !strategy.IsValid() {
		return nil, errors.Validation(map[string]string{
			"strategy": "must be one of: fifo, lifo, fefo, manual",
		})
	}
	if strategy == StrategyManual {
		return nil, errors.Validation(map[string]string{
			"strategy": "manual strategy requires a lot_id; use the manual plan endpoint",
		})
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Validation(map[string]string{
			"quantity": "must be greater than zero",
		})
	}

	lots, err := s.lotRepo.ListCandidates(ctx, itemID, location)
	if err != nil {
		return nil, err
	}

	return buildPlan(itemID, quantity, strategy, lots)
}

// PlanManual plans a consumption drawn entirely from one lot
func (s *AllocationService) PlanManual(ctx context.Context, itemID, lotID string, quantity decimal.Decimal) (*ConsumptionPlan, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Validation(map[string]string{
			"quantity": "must be greater than zero",
		})
	}

	lot, err := s.lotRepo.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}

	if lot.ItemID != itemID {
		return nil, errors.Validation(map[string]string{
			"lot_id": "lot does not belong to this item",
		})
	}

	available := lot.QuantityRemaining
	if !lot.IsActive {
		available = decimal.Zero
	}

	if available.LessThan(quantity) {
		return nil, errors.InsufficientStock(quantity, available)
	}

	return &ConsumptionPlan{
		ItemID:            itemID,
		Strategy:          StrategyManual,
		RequestedQuantity: quantity,
		Lines: []PlanLine{{
			LotID:     lot.ID,
			LotCode:   lot.LotCode,
			Quantity:  quantity,
			Available: lot.QuantityRemaining,
		}},
	}, nil
}

// buildPlan walks the ordered lots greedily, taking from each until the
// requested quantity is covered. It never mutates its inputs.
func buildPlan(itemID string, quantity decimal.Decimal, strategy Strategy, lots []*repository.Lot) (*ConsumptionPlan, error) {
	ordered := orderLots(lots, strategy)

	plan := &ConsumptionPlan{
		ItemID:            itemID,
		Strategy:          strategy,
		RequestedQuantity: quantity,
	}

	remaining := quantity
	for _, lot := range ordered {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}

		take := remaining
		if lot.QuantityRemaining.LessThan(take) {
			take = lot.QuantityRemaining
		}

		plan.Lines = append(plan.Lines, PlanLine{
			LotID:     lot.ID,
			LotCode:   lot.LotCode,
			Quantity:  take,
			Available: lot.QuantityRemaining,
		})
		remaining = remaining.Sub(take)
	}

	if remaining.GreaterThan(decimal.Zero) {
		available := decimal.Zero
		for _, lot := range lots {
			available = available.Add(lot.QuantityRemaining)
		}
		return nil, errors.InsufficientStock(quantity, available)
	}

	return plan, nil
}

// orderLots returns the lots sorted for the given strategy. The sort is
// stable and fully tie-broken (received date, creation time, then id) so
// the same stock always yields the same plan.
func orderLots(lots []*repository.Lot, strategy Strategy) []*repository.Lot {
	ordered := make([]*repository.Lot, len(lots))
	copy(ordered, lots)

	switch strategy {
	case StrategyLIFO:
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := ordered[i], ordered[j]
			if !a.ReceivedDate.Equal(b.ReceivedDate) {
				return a.ReceivedDate.After(b.ReceivedDate)
			}
			return lessFIFOTie(a, b)
		})

	case StrategyFEFO:
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := ordered[i], ordered[j]
			switch {
			case a.ExpiryDate == nil && b.ExpiryDate == nil:
				return lessFIFO(a, b)
			case a.ExpiryDate == nil:
				return false
			case b.ExpiryDate == nil:
				return true
			case !a.ExpiryDate.Equal(*b.ExpiryDate):
				return a.ExpiryDate.Before(*b.ExpiryDate)
			}
			return lessFIFO(a, b)
		})

	default:
		sort.SliceStable(ordered, func(i, j int) bool {
			return lessFIFO(ordered[i], ordered[j])
		})
	}

	return ordered
}

func lessFIFO(a, b *repository.Lot) bool {
	if !a.ReceivedDate.Equal(b.ReceivedDate) {
		return a.ReceivedDate.Before(b.ReceivedDate)
	}
	return lessFIFOTie(a, b)
}

func lessFIFOTie(a, b *repository.Lot) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
