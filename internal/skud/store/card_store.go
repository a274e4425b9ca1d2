package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// CardStore owns card rows. Update applies fn to the current row and
// persists the result atomically; an error from fn leaves the row untouched.
// Ledger entries passed to Create and Update are appended in the same write.
type CardStore interface {
	Create(ctx context.Context, c types.Card, job *types.SyncJob) (types.Card, error)
	Get(ctx context.Context, id string) (types.Card, error)
	GetByNumber(ctx context.Context, externalSystem, normalized string) (types.Card, error)
	// job, when non-nil, builds the ledger entry from the row before and
	// after fn.
	Update(ctx context.Context, id string, fn func(c *types.Card) error, job func(before, after types.Card) types.SyncJob) (types.Card, error)
	ListByPerson(ctx context.Context, externalSystem string, personID int64) ([]types.Card, error)
	List(ctx context.Context, f ListFilter) ([]types.Card, int, error)
	// ResolveActiveNumbers returns normalized number -> personID for active,
	// bound cards in one lookup.
	ResolveActiveNumbers(ctx context.Context, externalSystem string, normalized []string) (map[string]int64, error)
	TouchLastSeen(ctx context.Context, externalSystem string, normalized []string, at time.Time) error
}
