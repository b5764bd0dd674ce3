package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemFixture represents test inventory item data
type ItemFixture struct {
	ID               string
	Name             string
	SKU              string
	Category         string
	Description      string
	Unit             string
	CurrentQuantity  decimal.Decimal
	ReservedQuantity decimal.Decimal
	MinimumQuantity  decimal.Decimal
	ReorderPoint     decimal.Decimal
	DefaultLocation  *string
	LotTracked       bool
	IsActive         bool
	CreatedAt        time.Time
}

// LotFixture represents test lot data
type LotFixture struct {
	ID                string
	ItemID            string
	LotCode           string
	QuantityReceived  decimal.Decimal
	QuantityRemaining decimal.Decimal
	Unit              string
	ReceivedDate      time.Time
	ExpiryDate        *time.Time
	ManufactureDate   *time.Time
	StorageLocation   *string
	CostPerUnit       *decimal.Decimal
	IsActive          bool
	CreatedAt         time.Time
}

// CachedUserFixture represents test user cache data
type CachedUserFixture struct {
	UserID    string
	FirstName string
	LastName  string
	Email     string
	RoleName  string
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Item creates an inventory item fixture with defaults
func (f *FixtureFactory) Item(opts ...func(*ItemFixture)) ItemFixture {
	seq := f.nextSeq()

	item := ItemFixture{
		ID:               uuid.New().String(),
		Name:             fmt.Sprintf("Test Item %d", seq),
		SKU:              fmt.Sprintf("SKU-%04d", seq),
		Category:         "nutrients",
		Description:      "Test inventory item",
		Unit:             "g",
		CurrentQuantity:  decimal.Zero,
		ReservedQuantity: decimal.Zero,
		MinimumQuantity:  decimal.NewFromInt(10),
		ReorderPoint:     decimal.NewFromInt(20),
		LotTracked:       true,
		IsActive:         true,
		CreatedAt:        time.Now(),
	}

	for _, opt := range opts {
		opt(&item)
	}

	return item
}

// WithItemName sets the item name
func WithItemName(name string) func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.Name = name
	}
}

// WithSKU sets the item SKU
func WithSKU(sku string) func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.SKU = sku
	}
}

// WithCategory sets the item category
func WithCategory(category string) func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.Category = category
	}
}

// WithUnit sets the item unit of measure
func WithUnit(unit string) func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.Unit = unit
	}
}

// WithCurrentQuantity sets the item's cached on-hand quantity
func WithCurrentQuantity(qty decimal.Decimal) func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.CurrentQuantity = qty
	}
}

// WithReservedQuantity sets the item's reserved quantity
func WithReservedQuantity(qty decimal.Decimal) func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.ReservedQuantity = qty
	}
}

// WithMinimumQuantity sets the item's par level
func WithMinimumQuantity(qty decimal.Decimal) func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.MinimumQuantity = qty
	}
}

// WithReorderPoint sets the item's reorder point
func WithReorderPoint(qty decimal.Decimal) func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.ReorderPoint = qty
	}
}

// WithDefaultLocation sets the item's default storage location
func WithDefaultLocation(location string) func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.DefaultLocation = &location
	}
}

// WithoutLotTracking disables lot tracking for the item
func WithoutLotTracking() func(*ItemFixture) {
	return func(i *ItemFixture) {
		i.LotTracked = false
	}
}

// Lot creates a lot fixture for the given item with defaults
func (f *FixtureFactory) Lot(itemID string, opts ...func(*LotFixture)) LotFixture {
	seq := f.nextSeq()

	lot := LotFixture{
		ID:                uuid.New().String(),
		ItemID:            itemID,
		LotCode:           fmt.Sprintf("LOT-%04d", seq),
		QuantityReceived:  decimal.NewFromInt(100),
		QuantityRemaining: decimal.NewFromInt(100),
		Unit:              "g",
		ReceivedDate:      time.Now().AddDate(0, 0, -7),
		IsActive:          true,
		CreatedAt:         time.Now(),
	}

	for _, opt := range opts {
		opt(&lot)
	}

	return lot
}

// WithLotCode sets the lot code
func WithLotCode(code string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.LotCode = code
	}
}

// WithLotQuantity sets both received and remaining quantity
func WithLotQuantity(qty decimal.Decimal) func(*LotFixture) {
	return func(l *LotFixture) {
		l.QuantityReceived = qty
		l.QuantityRemaining = qty
	}
}

// WithRemaining sets only the remaining quantity
func WithRemaining(qty decimal.Decimal) func(*LotFixture) {
	return func(l *LotFixture) {
		l.QuantityRemaining = qty
	}
}

// WithReceivedDate sets the lot's received date
func WithReceivedDate(date time.Time) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ReceivedDate = date
	}
}

// WithExpiryDate sets the lot's expiry date
func WithExpiryDate(date time.Time) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ExpiryDate = &date
	}
}

// WithStorageLocation sets the lot's storage location
func WithStorageLocation(location string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.StorageLocation = &location
	}
}

// WithCostPerUnit sets the lot's unit cost
func WithCostPerUnit(cost decimal.Decimal) func(*LotFixture) {
	return func(l *LotFixture) {
		l.CostPerUnit = &cost
	}
}

// WithDepleted marks the lot as fully consumed
func WithDepleted() func(*LotFixture) {
	return func(l *LotFixture) {
		l.QuantityRemaining = decimal.Zero
		l.IsActive = false
	}
}

// CachedUser creates a user cache fixture with defaults
func (f *FixtureFactory) CachedUser(opts ...func(*CachedUserFixture)) CachedUserFixture {
	seq := f.nextSeq()

	user := CachedUserFixture{
		UserID:    uuid.New().String(),
		FirstName: fmt.Sprintf("Test%d", seq),
		LastName:  "User",
		Email:     fmt.Sprintf("user%d@test.cultivar.io", seq),
		RoleName:  "cultivator",
	}

	for _, opt := range opts {
		opt(&user)
	}

	return user
}

// WithUserName sets the cached user's first and last name
func WithUserName(first, last string) func(*CachedUserFixture) {
	return func(u *CachedUserFixture) {
		u.FirstName = first
		u.LastName = last
	}
}

// WithUserEmail sets the cached user's email
func WithUserEmail(email string) func(*CachedUserFixture) {
	return func(u *CachedUserFixture) {
		u.Email = email
	}
}

// WithRoleName sets the cached user's role name
func WithRoleName(role string) func(*CachedUserFixture) {
	return func(u *CachedUserFixture) {
		u.RoleName = role
	}
}

// DefaultCachedUsers returns a set of standard cached users
func DefaultCachedUsers(factory *FixtureFactory) []CachedUserFixture {
	return []CachedUserFixture{
		factory.CachedUser(WithUserEmail("manager@greenleaf-farms.io"), WithUserName("Maria", "Santos"), WithRoleName("facility_manager")),
		factory.CachedUser(WithUserEmail("lead@greenleaf-farms.io"), WithUserName("James", "Okafor"), WithRoleName("cultivation_lead")),
		factory.CachedUser(WithUserEmail("tech@greenleaf-farms.io"), WithUserName("Priya", "Patel"), WithRoleName("cultivator")),
	}
}
