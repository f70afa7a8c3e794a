package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/inventory-scan/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) CreateRecord(ctx context.Context, rec domain.InventoryRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory_records
			(id, category, product_id, inventory_id, name, quantity, notes,
			 scan_code, verification_code, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Category, rec.ProductIdentifier, rec.InventoryIdentifier, rec.Name,
		rec.Quantity, rec.Notes, rec.ScanCode, rec.VerificationCode, rec.Version,
		rec.CreatedAt, rec.UpdatedAt,
	)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("insert record: %w", domain.ErrDuplicateRecord)
	}
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	return nil
}

func (m *MySQLAdapter) GetRecord(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := m.db.QueryRowContext(ctx, `
		SELECT id, category, product_id, inventory_id, name, quantity, notes,
		       scan_code, verification_code, version, created_at, updated_at
		FROM inventory_records WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Category, &rec.ProductIdentifier, &rec.InventoryIdentifier, &rec.Name,
		&rec.Quantity, &rec.Notes, &rec.ScanCode, &rec.VerificationCode, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	return &rec, nil
}

// UpdateRecord writes the mutable fields of rec if rec.Version is newer than
// the stored row. A row already at rec.Version or later yields
// ErrOptimisticLock; a missing row yields ErrRecordNotFound.
func (m *MySQLAdapter) UpdateRecord(ctx context.Context, rec domain.InventoryRecord) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE inventory_records
		SET name = ?, quantity = ?, notes = ?, version = ?, updated_at = ?
		WHERE id = ? AND version < ?`,
		rec.Name, rec.Quantity, rec.Notes, rec.Version, rec.UpdatedAt,
		rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	var exists bool
	err = m.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM inventory_records WHERE id = ?)`, rec.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if !exists {
		return domain.ErrRecordNotFound
	}
	return domain.ErrOptimisticLock
}

func (m *MySQLAdapter) DeleteRecord(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM inventory_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrRecordNotFound
	}

	return nil
}
