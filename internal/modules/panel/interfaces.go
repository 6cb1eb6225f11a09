package panel

import (
	"context"

	"github.com/aristath/quantcore/internal/domain"
)

// Loader supplies universes and panels to the core.
// Implementations must return a panel aligned to the universe order.
type Loader interface {
	Universe(ctx context.Context, universeID string) (*domain.Universe, error)
	Load(ctx context.Context, req Request) (*Panel, error)
}
