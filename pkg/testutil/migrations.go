package testutil

// InventoryMigrations returns the inventory service schema for tests.
// Constraint names matter: pkg/database.MapPQError maps them to domain errors.
func InventoryMigrations() []string {
	return []string{
		// Inventory items
		`CREATE TABLE IF NOT EXISTS inventory_items (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			sku VARCHAR(100) UNIQUE,
			category VARCHAR(100),
			description TEXT,
			unit VARCHAR(50) NOT NULL,
			item_type VARCHAR(50),
			current_quantity NUMERIC(14,3) NOT NULL DEFAULT 0
				CONSTRAINT items_current_quantity_non_negative CHECK (current_quantity >= 0),
			reserved_quantity NUMERIC(14,3) NOT NULL DEFAULT 0,
			minimum_quantity NUMERIC(14,3),
			reorder_point NUMERIC(14,3),
			default_location VARCHAR(255),
			lot_tracked BOOLEAN NOT NULL DEFAULT TRUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_by UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		)`,

		// Inventory lots
		`CREATE TABLE IF NOT EXISTS inventory_lots (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			item_id UUID NOT NULL REFERENCES inventory_items(id) ON DELETE CASCADE,
			lot_code VARCHAR(100) NOT NULL,
			quantity_received NUMERIC(14,3) NOT NULL,
			quantity_remaining NUMERIC(14,3) NOT NULL
				CONSTRAINT lots_quantity_remaining_non_negative CHECK (quantity_remaining >= 0),
			unit VARCHAR(50) NOT NULL,
			received_date DATE NOT NULL,
			expiry_date DATE,
			manufacture_date DATE,
			storage_location VARCHAR(255),
			cost_per_unit NUMERIC(12,4),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_by UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT lots_item_lot_code_unique UNIQUE (item_id, lot_code)
		)`,

		// Inventory movements (append-only)
		`CREATE TABLE IF NOT EXISTS inventory_movements (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			item_id UUID NOT NULL REFERENCES inventory_items(id),
			lot_id UUID REFERENCES inventory_lots(id),
			movement_type VARCHAR(20) NOT NULL
				CONSTRAINT movements_movement_type_valid CHECK (movement_type IN ('receive', 'consume', 'adjust', 'transfer', 'dispose')),
			quantity NUMERIC(14,3) NOT NULL,
			from_location VARCHAR(255),
			to_location VARCHAR(255),
			batch_id UUID,
			task_id UUID,
			reason VARCHAR(100),
			notes TEXT,
			performed_by UUID NOT NULL,
			performed_by_name VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT movements_quantity_positive CHECK (movement_type = 'adjust' OR quantity > 0)
		)`,

		// User cache (populated by the user-event consumer)
		`CREATE TABLE IF NOT EXISTS user_cache (
			user_id UUID PRIMARY KEY,
			first_name VARCHAR(100) NOT NULL DEFAULT '',
			last_name VARCHAR(100) NOT NULL DEFAULT '',
			email VARCHAR(255),
			role_name VARCHAR(100),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_lots_item_candidates ON inventory_lots(item_id, received_date, created_at) WHERE is_active = TRUE AND quantity_remaining > 0`,
		`CREATE INDEX IF NOT EXISTS idx_lots_expiry ON inventory_lots(expiry_date) WHERE expiry_date IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_movements_item_created ON inventory_movements(item_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_movements_lot ON inventory_movements(lot_id) WHERE lot_id IS NOT NULL`,
	}
}
