package store

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// PersonStore is the read side of the employee directory.
type PersonStore interface {
	Get(ctx context.Context, personID int64) (types.Person, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]types.Person, error)
}
