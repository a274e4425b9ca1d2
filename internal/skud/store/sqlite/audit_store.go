package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/skud/internal/db"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type AuditStore struct {
	writer *dbpkg.Worker
}

func NewAuditStore(writer *dbpkg.Worker) *AuditStore {
	return &AuditStore{writer: writer}
}

func (s *AuditStore) Record(ctx context.Context, e types.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO skud_admin_audit(actor, action, target_type, target_id, outcome, detail, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, e.Actor, e.Action, e.TargetType, e.TargetID, e.Outcome, encodeJSON(e.Detail), store.Millis(e.CreatedAt)); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
}
