package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// PersonBindingStore maps local persons to external employee ids. Bindings
// are deactivated, never deleted.
type PersonBindingStore interface {
	// Upsert makes externalEmpID the single active binding for the person.
	// ErrDuplicate is returned if another person actively holds the id.
	Upsert(ctx context.Context, personID int64, externalSystem, externalEmpID string, at time.Time) (types.PersonBinding, error)
	Deactivate(ctx context.Context, personID int64, externalSystem string, at time.Time) (int64, error)
	GetActive(ctx context.Context, personID int64, externalSystem string) (types.PersonBinding, error)
	// ResolveExternalIDs returns externalEmpID -> personID for active bindings
	// in one lookup.
	ResolveExternalIDs(ctx context.Context, externalSystem string, ids []string) (map[string]int64, error)
}
