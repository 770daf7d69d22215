package ports

import (
	"context"

	"cryptoAutoPilot/internal/domain"
)

// PositionRepository is the audit store for positions. Writes are best-effort
// from the engine's point of view: a failed audit write is logged and recorded
// as a failure but never blocks trading.
type PositionRepository interface {
	// Create saves a newly opened position.
	Create(ctx context.Context, pos *domain.Position) error
	// Update persists close fields for a position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpen retrieves all positions still marked open (used to detect
	// positions orphaned by a crash).
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindByID retrieves a position by ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id string) (*domain.Position, error)
}

// ErrorRecordRepository persists the recovery manager's error records.
type ErrorRecordRepository interface {
	CreateErrorRecord(ctx context.Context, rec *domain.ErrorRecord) error
	RecentErrorRecords(ctx context.Context, limit int) ([]*domain.ErrorRecord, error)
}
