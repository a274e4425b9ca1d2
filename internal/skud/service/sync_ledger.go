package service

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// SyncLedger records the intent to propagate a change to the external
// controller. Claiming and executing jobs is left to a separate worker.
type SyncLedger struct {
	store  store.SyncJobStore
	system string
	clock  Clock
}

func NewSyncLedger(s store.SyncJobStore, externalSystem string, clock Clock) *SyncLedger {
	if externalSystem == "" {
		externalSystem = DefaultExternalSystem
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &SyncLedger{store: s, system: externalSystem, clock: clock}
}

// Job builds a pending ledger entry. Stores append it in the same write as
// the change it describes.
func (l *SyncLedger) Job(personID *int64, operation string, payload map[string]any, createdBy string) types.SyncJob {
	return types.SyncJob{
		ExternalSystem: l.system,
		PersonID:       personID,
		Operation:      operation,
		Status:         types.SyncPending,
		Payload:        payload,
		CreatedBy:      createdBy,
		CreatedAt:      l.clock.Now(),
	}
}

func (l *SyncLedger) List(ctx context.Context, f store.ListFilter) ([]types.SyncJob, int, error) {
	return l.store.List(ctx, f)
}
