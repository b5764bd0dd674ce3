package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/pkg/database"
	"github.com/cultivar/cultivar-backend/pkg/errors"
)

// Lot represents a discrete received batch of an item.
// QuantityReceived never changes after creation; QuantityRemaining only
// moves through the ledger writer and never goes below zero.
type Lot struct {
	ID                string           `db:"id" json:"id"`
	ItemID            string           `db:"item_id" json:"item_id"`
	LotCode           string           `db:"lot_code" json:"lot_code"`
	QuantityReceived  decimal.Decimal  `db:"quantity_received" json:"quantity_received"`
	QuantityRemaining decimal.Decimal  `db:"quantity_remaining" json:"quantity_remaining"`
	Unit              string           `db:"unit" json:"unit"`
	ReceivedDate      time.Time        `db:"received_date" json:"received_date"`
	ExpiryDate        *time.Time       `db:"expiry_date" json:"expiry_date,omitempty"`
	ManufactureDate   *time.Time       `db:"manufacture_date" json:"manufacture_date,omitempty"`
	StorageLocation   *string          `db:"storage_location" json:"storage_location,omitempty"`
	CostPerUnit       *decimal.Decimal `db:"cost_per_unit" json:"cost_per_unit,omitempty"`
	IsActive          bool             `db:"is_active" json:"is_active"`
	CreatedBy         *string          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// LotRepository handles lot persistence
type LotRepository struct {
	db *database.DB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{db: db}
}

// Create creates a new lot
func (r *LotRepository) Create(ctx context.Context, lot *Lot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_lots (
			id, item_id, lot_code, quantity_received, quantity_remaining, unit,
			received_date, expiry_date, manufacture_date, storage_location,
			cost_per_unit, is_active, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		lot.ID, lot.ItemID, lot.LotCode, lot.QuantityReceived, lot.QuantityRemaining,
		lot.Unit, lot.ReceivedDate, lot.ExpiryDate, lot.ManufactureDate,
		lot.StorageLocation, lot.CostPerUnit, lot.IsActive, lot.CreatedBy,
	).Scan(&lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		return database.MapPQError(err)
	}

	return nil
}

// CreateTx creates a new lot inside a transaction
func (r *LotRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, lot *Lot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_lots (
			id, item_id, lot_code, quantity_received, quantity_remaining, unit,
			received_date, expiry_date, manufacture_date, storage_location,
			cost_per_unit, is_active, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRowxContext(ctx, query,
		lot.ID, lot.ItemID, lot.LotCode, lot.QuantityReceived, lot.QuantityRemaining,
		lot.Unit, lot.ReceivedDate, lot.ExpiryDate, lot.ManufactureDate,
		lot.StorageLocation, lot.CostPerUnit, lot.IsActive, lot.CreatedBy,
	).Scan(&lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		return database.MapPQError(err)
	}

	return nil
}

// GetByID gets a lot by ID
func (r *LotRepository) GetByID(ctx context.Context, id string) (*Lot, error) {
	var lot Lot
	query := `SELECT * FROM inventory_lots WHERE id = $1`
	if err := r.db.GetContext(ctx, &lot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// ListByItem lists all lots for an item, most recently received first
func (r *LotRepository) ListByItem(ctx context.Context, itemID string, includeInactive bool) ([]*Lot, error) {
	var lots []*Lot
	query := `SELECT * FROM inventory_lots WHERE item_id = $1`
	if !includeInactive {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY received_date DESC, created_at DESC`

	if err := r.db.SelectContext(ctx, &lots, query, itemID); err != nil {
		return nil, err
	}
	return lots, nil
}

// ListCandidates lists lots eligible for consumption: active with stock
// remaining, optionally restricted to one storage location. The order is
// deterministic so repeated reads of an unchanged table produce the same
// sequence; the planner reorders per strategy in memory.
func (r *LotRepository) ListCandidates(ctx context.Context, itemID string, location *string) ([]*Lot, error) {
	var lots []*Lot

	query := `
		SELECT * FROM inventory_lots
		WHERE item_id = $1 AND is_active = true AND quantity_remaining > 0
	`
	args := []interface{}{itemID}

	if location != nil {
		query += ` AND storage_location = $2`
		args = append(args, *location)
	}

	query += ` ORDER BY received_date ASC, created_at ASC, id ASC`

	if err := r.db.SelectContext(ctx, &lots, query, args...); err != nil {
		return nil, err
	}
	return lots, nil
}

// GetForUpdateTx reads a lot inside a transaction with a row lock.
// Commits re-read every planned lot through this before deducting.
func (r *LotRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*Lot, error) {
	var lot Lot
	query := `SELECT * FROM inventory_lots WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &lot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// DeductTx decreases a lot's remaining quantity inside a transaction and
// deactivates the lot when it reaches zero. Returns the new remaining
// quantity and whether the lot is still active.
func (r *LotRepository) DeductTx(ctx context.Context, tx *sqlx.Tx, id string, qty decimal.Decimal) (decimal.Decimal, bool, error) {
	query := `
		UPDATE inventory_lots
		SET quantity_remaining = quantity_remaining - $2,
		    is_active = (quantity_remaining - $2) > 0,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING quantity_remaining, is_active
	`

	var remaining decimal.Decimal
	var active bool
	err := tx.QueryRowxContext(ctx, query, id, qty).Scan(&remaining, &active)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, false, errors.NotFound("lot")
		}
		return decimal.Zero, false, database.MapPQError(err)
	}

	return remaining, active, nil
}

// AddTx increases a lot's remaining quantity inside a transaction,
// reactivating the lot if it was depleted. Returns the new remaining
// quantity.
func (r *LotRepository) AddTx(ctx context.Context, tx *sqlx.Tx, id string, qty decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE inventory_lots
		SET quantity_remaining = quantity_remaining + $2,
		    is_active = true,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING quantity_remaining
	`

	var remaining decimal.Decimal
	err := tx.QueryRowxContext(ctx, query, id, qty).Scan(&remaining)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, errors.NotFound("lot")
		}
		return decimal.Zero, database.MapPQError(err)
	}

	return remaining, nil
}

// ListExpiring lists active lots with stock whose expiry falls within the
// given number of days. Lots without an expiry date are never returned.
func (r *LotRepository) ListExpiring(ctx context.Context, withinDays int) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM inventory_lots
		WHERE is_active = true AND quantity_remaining > 0
		AND expiry_date IS NOT NULL
		AND expiry_date <= CURRENT_DATE + $1
		ORDER BY expiry_date ASC, received_date ASC
	`
	if err := r.db.SelectContext(ctx, &lots, query, withinDays); err != nil {
		return nil, err
	}
	return lots, nil
}

// ListExpired lists active lots with stock whose expiry date has passed
func (r *LotRepository) ListExpired(ctx context.Context) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT * FROM inventory_lots
		WHERE is_active = true AND quantity_remaining > 0
		AND expiry_date IS NOT NULL
		AND expiry_date < CURRENT_DATE
		ORDER BY expiry_date ASC
	`
	if err := r.db.SelectContext(ctx, &lots, query); err != nil {
		return nil, err
	}
	return lots, nil
}
