package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/skud/internal/db"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type AccessStateStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessStateStore(db *sql.DB, writer *dbpkg.Worker) *AccessStateStore {
	return &AccessStateStore{db: db, writer: writer}
}

const accessStateColumns = `
  id, person_id, external_system, status, status_reason, reason_code, source,
  effective_from_ms, effective_to_ms, changed_by, metadata, created_at_ms, updated_at_ms`

func scanAccessState(row rowScanner) (types.AccessState, error) {
	var (
		st        types.AccessState
		status    string
		effFrom   sql.NullInt64
		effTo     sql.NullInt64
		metadata  string
		createdMs int64
		updatedMs int64
	)
	if err := row.Scan(
		&st.ID, &st.PersonID, &st.ExternalSystem, &status, &st.StatusReason, &st.ReasonCode, &st.Source,
		&effFrom, &effTo, &st.ChangedBy, &metadata, &createdMs, &updatedMs,
	); err != nil {
		return types.AccessState{}, err
	}
	st.Status = types.AccessStatus(status)
	st.EffectiveFrom = timeFromNull(effFrom)
	st.EffectiveTo = timeFromNull(effTo)
	st.Metadata = decodeJSON(metadata)
	st.CreatedAt = store.FromMillis(createdMs)
	st.UpdatedAt = store.FromMillis(updatedMs)
	return st, nil
}

func getAccessState(ctx context.Context, q queryer, personID int64, system string) (types.AccessState, error) {
	st, err := scanAccessState(q.QueryRowContext(ctx, `
SELECT`+accessStateColumns+`
FROM skud_access_states
WHERE person_id = ? AND external_system = ?;
`, personID, system))
	if errors.Is(err, sql.ErrNoRows) {
		return types.AccessState{}, store.ErrNotFound
	}
	if err != nil {
		return types.AccessState{}, fmt.Errorf("get access state: %w", err)
	}
	return st, nil
}

func (s *AccessStateStore) Get(ctx context.Context, personID int64, externalSystem string) (types.AccessState, error) {
	return getAccessState(ctx, s.db, personID, externalSystem)
}

// Apply reads the current row, runs the guard and upserts, all inside one
// writer transaction together with the binding change and the ledger entry.
// The row write is a single INSERT ... ON CONFLICT so the (person, system)
// pair can never gain a second row.
func (s *AccessStateStore) Apply(ctx context.Context, m store.AccessStateMutation) (store.AccessStateChange, error) {
	if m.At.IsZero() {
		m.At = time.Now().UTC()
	}
	if m.Source == "" {
		m.Source = types.SourceManual
	}
	atMs := store.Millis(m.At)

	var change store.AccessStateChange
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		prev, err := getAccessState(ctx, tx, m.PersonID, m.ExternalSystem)
		switch {
		case errors.Is(err, store.ErrNotFound):
			change.Previous = nil
		case err != nil:
			return err
		default:
			change.Previous = &prev
		}

		if m.Guard != nil {
			if err := m.Guard(change.Previous); err != nil {
				return err
			}
		}

		if m.BindEmpID != "" {
			if _, err := upsertBinding(ctx, tx, m.PersonID, m.ExternalSystem, m.BindEmpID, m.At); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO skud_access_states(
  person_id, external_system, status, status_reason, reason_code, source,
  effective_from_ms, effective_to_ms, changed_by, metadata, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)
ON CONFLICT(person_id, external_system) DO UPDATE SET
  status            = excluded.status,
  status_reason     = excluded.status_reason,
  reason_code       = excluded.reason_code,
  source            = excluded.source,
  effective_from_ms = excluded.effective_from_ms,
  effective_to_ms   = NULL,
  changed_by        = excluded.changed_by,
  metadata          = excluded.metadata,
  updated_at_ms     = excluded.updated_at_ms;
`,
			m.PersonID, m.ExternalSystem, string(m.Status), m.StatusReason, m.ReasonCode, m.Source,
			atMs, m.ChangedBy, encodeJSON(m.Metadata), atMs, atMs,
		); err != nil {
			return fmt.Errorf("upsert access state: %w", err)
		}

		if m.Unbind {
			if _, err := deactivateBinding(ctx, tx, m.PersonID, m.ExternalSystem, m.At); err != nil {
				return err
			}
		}

		cur, err := getAccessState(ctx, tx, m.PersonID, m.ExternalSystem)
		if err != nil {
			return err
		}
		change.Current = cur

		if m.Job != nil {
			return insertSyncJob(ctx, tx, m.Job(change.Previous, cur))
		}
		return nil
	})
	if err != nil {
		return store.AccessStateChange{}, err
	}
	return change, nil
}

func (s *AccessStateStore) List(ctx context.Context, f store.ListFilter) ([]types.AccessState, int, error) {
	var w whereClause
	if f.ExternalSystem != "" {
		w.add("external_system = ?", f.ExternalSystem)
	}
	if f.PersonID != nil {
		w.add("person_id = ?", *f.PersonID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	page := f.Page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skud_access_states`+w.String(), w.args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count access states: %w", err)
	}

	args := append(append([]any(nil), w.args...), page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+accessStateColumns+` FROM skud_access_states`+w.String()+
			` ORDER BY updated_at_ms DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list access states: %w", err)
	}
	defer rows.Close()

	out := make([]types.AccessState, 0, page.Limit)
	for rows.Next() {
		st, err := scanAccessState(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan access state: %w", err)
		}
		out = append(out, st)
	}
	return out, total, rows.Err()
}
