package store

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// SyncJobStore reads the ledger. Jobs are appended only as part of the
// write they describe; status transitions belong to the external worker.
type SyncJobStore interface {
	List(ctx context.Context, f ListFilter) ([]types.SyncJob, int, error)
}
