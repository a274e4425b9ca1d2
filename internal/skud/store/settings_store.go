package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// SettingsStore persists runtime setting overrides as key/value pairs.
type SettingsStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string, by string, at time.Time) error
}

// AuditStore is the sink for admin action records.
type AuditStore interface {
	Record(ctx context.Context, e types.AuditEntry) error
}
