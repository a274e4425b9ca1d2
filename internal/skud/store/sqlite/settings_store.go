package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/skud/internal/db"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
)

type SettingsStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewSettingsStore(db *sql.DB, writer *dbpkg.Worker) *SettingsStore {
	return &SettingsStore{db: db, writer: writer}
}

func (s *SettingsStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM skud_settings;`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SettingsStore) Save(ctx context.Context, values map[string]string, by string, at time.Time) error {
	if len(values) == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	atMs := store.Millis(at)
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO skud_settings(key, value, updated_by, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value         = excluded.value,
  updated_by    = excluded.updated_by,
  updated_at_ms = excluded.updated_at_ms;
`, k, v, by, atMs); err != nil {
				return fmt.Errorf("save setting %s: %w", k, err)
			}
		}
		return nil
	})
}
