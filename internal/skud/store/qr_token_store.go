package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type QRTokenStore interface {
	// Create inserts the token and, when job is non-nil, its ledger entry.
	Create(ctx context.Context, t types.QRToken, job *types.SyncJob) error
	GetByHash(ctx context.Context, tokenHash string) (types.QRToken, error)
	Get(ctx context.Context, jti string) (types.QRToken, error)
	// Consume stamps used_at only if the token is neither used nor revoked,
	// and records ev in the same write. It reports whether this call won; a
	// losing call stores nothing.
	Consume(ctx context.Context, jti string, at time.Time, ev types.AccessEvent, gate CommitGate) (bool, error)
	// Revoke stamps revoked_at if unset and returns the row. job builds the
	// ledger entry from the row and is appended in the same write.
	Revoke(ctx context.Context, jti string, at time.Time, job func(t types.QRToken) types.SyncJob) (types.QRToken, error)
	List(ctx context.Context, f ListFilter) ([]types.QRToken, int, error)
}
