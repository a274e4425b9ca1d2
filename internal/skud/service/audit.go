package service

import (
	"context"
	"io"
	"log"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// Auditor writes one admin_audit row per mutating admin action. A failed
// audit write is logged and does not undo the action.
type Auditor struct {
	store  store.AuditStore
	clock  Clock
	logger *log.Logger
}

func NewAuditor(s store.AuditStore, clock Clock, logger *log.Logger) *Auditor {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Auditor{store: s, clock: clock, logger: logger}
}

func (a *Auditor) Record(ctx context.Context, actor, action, targetType, targetID string, opErr error, detail map[string]any) {
	if a == nil || a.store == nil {
		return
	}
	outcome := "ok"
	if opErr != nil {
		outcome = "error"
		if detail == nil {
			detail = map[string]any{}
		}
		detail["error"] = ErrorCode(opErr)
	}
	e := types.AuditEntry{
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Outcome:    outcome,
		Detail:     detail,
		CreatedAt:  a.clock.Now(),
	}
	// the action already happened; a cancelled request must not drop its record
	if err := a.store.Record(context.WithoutCancel(ctx), e); err != nil {
		a.logger.Printf("audit write failed action=%s target=%s/%s err=%v", action, targetType, targetID, err)
	}
}
