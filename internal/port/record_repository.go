package port

import (
	"context"

	"github.com/rl1809/inventory-scan/internal/core/domain"
)

type RecordRepository interface {
	// CreateRecord persists a newly registered record
	CreateRecord(ctx context.Context, record domain.InventoryRecord) error

	// GetRecord retrieves a record by id
	GetRecord(ctx context.Context, id string) (*domain.InventoryRecord, error)

	// UpdateRecord updates mutable fields with version check for optimistic locking
	UpdateRecord(ctx context.Context, record domain.InventoryRecord) error

	DeleteRecord(ctx context.Context, id string) error
}
