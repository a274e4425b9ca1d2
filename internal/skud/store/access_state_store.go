package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// AccessStateMutation describes a write to the (person, system) access row.
// Guard runs against the current row (nil when absent) inside the same
// atomic unit as the write; a non-nil error aborts the write.
//
// BindEmpID and Unbind change the person's active binding, and Job builds
// the ledger entry. Both land in the same unit as the row, so a failure in
// either leaves nothing behind.
type AccessStateMutation struct {
	PersonID       int64
	ExternalSystem string
	Status         types.AccessStatus
	StatusReason   string
	ReasonCode     string
	Source         string
	ChangedBy      string
	Metadata       map[string]any
	At             time.Time
	Guard          func(current *types.AccessState) error

	BindEmpID string
	Unbind    bool
	Job       func(previous *types.AccessState, current types.AccessState) types.SyncJob
}

type AccessStateChange struct {
	Previous *types.AccessState
	Current  types.AccessState
}

// AccessStateStore holds the authoritative per-person access row.
type AccessStateStore interface {
	Get(ctx context.Context, personID int64, externalSystem string) (types.AccessState, error)
	// Apply returns ErrDuplicate when BindEmpID is actively held by another
	// person.
	Apply(ctx context.Context, m AccessStateMutation) (AccessStateChange, error)
	List(ctx context.Context, f ListFilter) ([]types.AccessState, int, error)
}
