package service

import (
	"context"
	"log"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// StateNotifier receives every successful access state transition. It must
// not block; slow consumers should queue internally.
type StateNotifier interface {
	Notify(ctx context.Context, change types.StateChange)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, types.StateChange) {}

type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, c types.StateChange) {
	from := "none"
	if c.From != nil {
		from = string(*c.From)
	}
	n.Logger.Printf("access state changed person=%d system=%s from=%s to=%s reason_code=%q by=%q",
		c.PersonID, c.ExternalSystem, from, c.To, c.ReasonCode, c.ChangedBy)
}
