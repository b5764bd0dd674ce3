package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cultivar/cultivar-backend/pkg/database"
)

// Movement types recorded in the ledger
const (
	MovementReceive  = "receive"
	MovementConsume  = "consume"
	MovementAdjust   = "adjust"
	MovementTransfer = "transfer"
	MovementDispose  = "dispose"
)

// InventoryMovement is one ledger entry. Movements are append-only; they
// are never updated or deleted. Quantity is positive for every movement
// type except adjust, where it carries the signed delta.
type InventoryMovement struct {
	ID              string          `db:"id" json:"id"`
	ItemID          string          `db:"item_id" json:"item_id"`
	LotID           *string         `db:"lot_id" json:"lot_id,omitempty"`
	MovementType    string          `db:"movement_type" json:"movement_type"`
	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	FromLocation    *string         `db:"from_location" json:"from_location,omitempty"`
	ToLocation      *string         `db:"to_location" json:"to_location,omitempty"`
	BatchID         *string         `db:"batch_id" json:"batch_id,omitempty"`
	TaskID          *string         `db:"task_id" json:"task_id,omitempty"`
	Reason          *string         `db:"reason" json:"reason,omitempty"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	PerformedBy     string          `db:"performed_by" json:"performed_by"`
	PerformedByName *string         `db:"performed_by_name" json:"performed_by_name,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// MovementFilter narrows movement history queries
type MovementFilter struct {
	MovementType string
	LotID        string
	From         *time.Time
	To           *time.Time
}

// MovementRepository handles movement ledger persistence.
// All writes happen inside ledger transactions; there is no update or
// delete path.
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// InsertTx appends a movement inside a transaction
func (r *MovementRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, m *InventoryMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_movements (
			id, item_id, lot_id, movement_type, quantity, from_location,
			to_location, batch_id, task_id, reason, notes, performed_by,
			performed_by_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`

	err := tx.QueryRowxContext(ctx, query,
		m.ID, m.ItemID, m.LotID, m.MovementType, m.Quantity, m.FromLocation,
		m.ToLocation, m.BatchID, m.TaskID, m.Reason, m.Notes, m.PerformedBy,
		m.PerformedByName,
	).Scan(&m.CreatedAt)
	if err != nil {
		return database.MapPQError(err)
	}

	return nil
}

// ListByItem lists movements for an item with optional filters, newest first
func (r *MovementRepository) ListByItem(ctx context.Context, itemID string, filter MovementFilter, page, perPage int) ([]*InventoryMovement, int64, error) {
	args := []interface{}{itemID}
	argIdx := 2

	countQuery := `SELECT COUNT(*) FROM inventory_movements WHERE item_id = $1`
	query := `
		SELECT id, item_id, lot_id, movement_type, quantity, from_location,
		       to_location, batch_id, task_id, reason, notes, performed_by,
		       performed_by_name, created_at
		FROM inventory_movements WHERE item_id = $1
	`

	if filter.MovementType != "" {
		countQuery += fmt.Sprintf(` AND movement_type = $%d`, argIdx)
		query += fmt.Sprintf(` AND movement_type = $%d`, argIdx)
		args = append(args, filter.MovementType)
		argIdx++
	}

	if filter.LotID != "" {
		countQuery += fmt.Sprintf(` AND lot_id = $%d`, argIdx)
		query += fmt.Sprintf(` AND lot_id = $%d`, argIdx)
		args = append(args, filter.LotID)
		argIdx++
	}

	if filter.From != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, *filter.From)
		argIdx++
	}

	if filter.To != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		query += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		args = append(args, *filter.To)
		argIdx++
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY created_at DESC, id DESC`

	offset := (page - 1) * perPage
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, perPage, offset)

	var movements []*InventoryMovement
	if err := r.db.SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, 0, err
	}

	return movements, total, nil
}

// ListByLot lists all movements that touched a lot, oldest first.
// Replaying these in order reproduces the lot's remaining quantity.
func (r *MovementRepository) ListByLot(ctx context.Context, lotID string) ([]*InventoryMovement, error) {
	var movements []*InventoryMovement
	query := `
		SELECT id, item_id, lot_id, movement_type, quantity, from_location,
		       to_location, batch_id, task_id, reason, notes, performed_by,
		       performed_by_name, created_at
		FROM inventory_movements
		WHERE lot_id = $1
		ORDER BY created_at ASC, id ASC
	`
	if err := r.db.SelectContext(ctx, &movements, query, lotID); err != nil {
		return nil, err
	}
	return movements, nil
}
