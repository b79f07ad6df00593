// Package ledger exposes the persisted order fills the valuation engine
// reads: positions, their multi-leg orders, legs, and instruments.
package ledger

import (
	"context"
	"errors"

	"github.com/looptrader/riskengine/internal/models"
)

// ErrPositionNotFound is returned when a position id has no row.
var ErrPositionNotFound = errors.New("position not found")

// Interface defines the contract for order-ledger access.
//
// Implementations must be safe for concurrent use - callers can assume
// all methods are goroutine-safe and may be called from multiple
// request-scoped valuation passes at once.
type Interface interface {
	// GetActivePositions returns open positions with their filled and
	// pending orders, legs, and instruments attached.
	GetActivePositions(ctx context.Context) ([]models.Position, error)
	// GetAllPositions returns every position, open and closed.
	GetAllPositions(ctx context.Context) ([]models.Position, error)
	// GetPositionByID returns one position or ErrPositionNotFound.
	GetPositionByID(ctx context.Context, id int64) (*models.Position, error)
	// SavePosition upserts a position with its order tree. Used by
	// ingestion tooling and tests; the engine itself only reads.
	SavePosition(ctx context.Context, p *models.Position) error
	// Close releases the underlying store.
	Close() error
}

// Ensure implementations satisfy Interface at compile time.
var (
	_ Interface = (*SQLiteLedger)(nil)
	_ Interface = (*MockLedger)(nil)
)
