package store

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// AccessEventStore persists the append-only access audit trail.
type AccessEventStore interface {
	// Append stores ev unless gate declines at commit time, in which case it
	// returns ErrAbandoned.
	Append(ctx context.Context, ev types.AccessEvent, gate CommitGate) error
	// AppendBatch inserts events, silently skipping any whose (source, logId)
	// already exists. Returns the number of rows actually inserted.
	AppendBatch(ctx context.Context, evs []types.AccessEvent) (int, error)
	List(ctx context.Context, f ListFilter) ([]types.AccessEvent, int, error)
}
