package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/pkg/database"
	"github.com/cultivar/cultivar-backend/pkg/errors"
)

// Item represents a stock-tracked inventory item.
// CurrentQuantity is a denormalized cache of on-hand stock; the movement
// ledger is the source of truth and the cache follows it.
type Item struct {
	ID               string           `db:"id" json:"id"`
	Name             string           `db:"name" json:"name"`
	SKU              *string          `db:"sku" json:"sku,omitempty"`
	Category         *string          `db:"category" json:"category,omitempty"`
	Description      *string          `db:"description" json:"description,omitempty"`
	Unit             string           `db:"unit" json:"unit"`
	ItemType         *string          `db:"item_type" json:"item_type,omitempty"`
	CurrentQuantity  decimal.Decimal  `db:"current_quantity" json:"current_quantity"`
	ReservedQuantity decimal.Decimal  `db:"reserved_quantity" json:"reserved_quantity"`
	MinimumQuantity  *decimal.Decimal `db:"minimum_quantity" json:"minimum_quantity,omitempty"`
	ReorderPoint     *decimal.Decimal `db:"reorder_point" json:"reorder_point,omitempty"`
	DefaultLocation  *string          `db:"default_location" json:"default_location,omitempty"`
	LotTracked       bool             `db:"lot_tracked" json:"lot_tracked"`
	IsActive         bool             `db:"is_active" json:"is_active"`
	CreatedBy        *string          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time       `db:"deleted_at" json:"-"`
}

// ItemRepository handles inventory item persistence
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create creates a new inventory item
func (r *ItemRepository) Create(ctx context.Context, item *Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_items (
			id, name, sku, category, description, unit, item_type,
			current_quantity, reserved_quantity, minimum_quantity, reorder_point,
			default_location, lot_tracked, is_active, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		item.ID, item.Name, item.SKU, item.Category, item.Description, item.Unit,
		item.ItemType, item.CurrentQuantity, item.ReservedQuantity,
		item.MinimumQuantity, item.ReorderPoint, item.DefaultLocation,
		item.LotTracked, item.IsActive, item.CreatedBy,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return database.MapPQError(err)
	}

	return nil
}

// GetByID gets an item by ID
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*Item, error) {
	var item Item
	query := `
		SELECT id, name, sku, category, description, unit, item_type,
		       current_quantity, reserved_quantity, minimum_quantity, reorder_point,
		       default_location, lot_tracked, is_active, created_by,
		       created_at, updated_at, deleted_at
		FROM inventory_items WHERE id = $1 AND deleted_at IS NULL
	`
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("item")
		}
		return nil, err
	}
	return &item, nil
}

// GetBySKU gets an item by SKU
func (r *ItemRepository) GetBySKU(ctx context.Context, sku string) (*Item, error) {
	var item Item
	query := `
		SELECT id, name, sku, category, description, unit, item_type,
		       current_quantity, reserved_quantity, minimum_quantity, reorder_point,
		       default_location, lot_tracked, is_active, created_by,
		       created_at, updated_at, deleted_at
		FROM inventory_items WHERE sku = $1 AND deleted_at IS NULL
	`
	if err := r.db.GetContext(ctx, &item, query, sku); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("item")
		}
		return nil, err
	}
	return &item, nil
}

// List lists items with optional category and type filters, paginated
func (r *ItemRepository) List(ctx context.Context, page, perPage int, category, itemType string) ([]*Item, int64, error) {
	args := []interface{}{}
	argIdx := 1

	countQuery := `SELECT COUNT(*) FROM inventory_items WHERE deleted_at IS NULL`
	query := `
		SELECT id, name, sku, category, description, unit, item_type,
		       current_quantity, reserved_quantity, minimum_quantity, reorder_point,
		       default_location, lot_tracked, is_active, created_by,
		       created_at, updated_at, deleted_at
		FROM inventory_items WHERE deleted_at IS NULL
	`

	if category != "" {
		countQuery += fmt.Sprintf(` AND category = $%d`, argIdx)
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, category)
		argIdx++
	}

	if itemType != "" {
		countQuery += fmt.Sprintf(` AND item_type = $%d`, argIdx)
		query += fmt.Sprintf(` AND item_type = $%d`, argIdx)
		args = append(args, itemType)
		argIdx++
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name`

	offset := (page - 1) * perPage
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, perPage, offset)

	var items []*Item
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// GetAllActive gets all active items
func (r *ItemRepository) GetAllActive(ctx context.Context) ([]*Item, error) {
	var items []*Item
	query := `
		SELECT id, name, sku, category, description, unit, item_type,
		       current_quantity, reserved_quantity, minimum_quantity, reorder_point,
		       default_location, lot_tracked, is_active, created_by,
		       created_at, updated_at, deleted_at
		FROM inventory_items
		WHERE deleted_at IS NULL AND is_active = true
		ORDER BY name
	`
	if err := r.db.SelectContext(ctx, &items, query); err != nil {
		return nil, err
	}
	return items, nil
}

// Update updates an inventory item's descriptive fields.
// Quantity columns are never touched here; those move only through
// the ledger writer.
func (r *ItemRepository) Update(ctx context.Context, item *Item) error {
	query := `
		UPDATE inventory_items SET
			name = $2, sku = $3, category = $4, description = $5, unit = $6,
			item_type = $7, minimum_quantity = $8, reorder_point = $9,
			default_location = $10, lot_tracked = $11, is_active = $12,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		item.ID, item.Name, item.SKU, item.Category, item.Description, item.Unit,
		item.ItemType, item.MinimumQuantity, item.ReorderPoint,
		item.DefaultLocation, item.LotTracked, item.IsActive,
	)
	if err != nil {
		return database.MapPQError(err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("item")
	}

	return nil
}

// SoftDelete soft deletes an item
func (r *ItemRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE inventory_items SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("item")
	}

	return nil
}

// GetForUpdateTx reads an item inside a transaction with a row lock
func (r *ItemRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id string) (*Item, error) {
	var item Item
	query := `
		SELECT id, name, sku, category, description, unit, item_type,
		       current_quantity, reserved_quantity, minimum_quantity, reorder_point,
		       default_location, lot_tracked, is_active, created_by,
		       created_at, updated_at, deleted_at
		FROM inventory_items WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`
	if err := tx.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("item")
		}
		return nil, err
	}
	return &item, nil
}

// AddQuantityTx increases the item's cached on-hand quantity inside a transaction
func (r *ItemRepository) AddQuantityTx(ctx context.Context, tx *sqlx.Tx, id string, qty decimal.Decimal) error {
	query := `
		UPDATE inventory_items
		SET current_quantity = current_quantity + $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := tx.ExecContext(ctx, query, id, qty)
	if err != nil {
		return database.MapPQError(err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("item")
	}

	return nil
}

// DeductQuantityTx decreases the item's cached on-hand quantity inside a
// transaction. The non-negative check constraint backstops drift between
// the cache and the lot ledger.
func (r *ItemRepository) DeductQuantityTx(ctx context.Context, tx *sqlx.Tx, id string, qty decimal.Decimal) error {
	query := `
		UPDATE inventory_items
		SET current_quantity = current_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := tx.ExecContext(ctx, query, id, qty)
	if err != nil {
		return database.MapPQError(err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("item")
	}

	return nil
}
