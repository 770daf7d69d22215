package ports

import (
	"context"

	"cryptoAutoPilot/internal/domain"
)

// SignalSource is a strategy collaborator producing trade signals for a
// symbol. Implementations must honor the caller-provided deadline; the engine
// drops any source that exceeds it for that collection round only.
type SignalSource interface {
	// Name identifies the source in logs and error records.
	Name() string
	// Collect returns the source's current signals for the symbol.
	Collect(ctx context.Context, symbol string) ([]domain.Signal, error)
}
