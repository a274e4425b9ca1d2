package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/skud/internal/db"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type PersonBindingStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewPersonBindingStore(db *sql.DB, writer *dbpkg.Worker) *PersonBindingStore {
	return &PersonBindingStore{db: db, writer: writer}
}

func scanBinding(row rowScanner) (types.PersonBinding, error) {
	var (
		b         types.PersonBinding
		active    int
		createdMs int64
		updatedMs int64
	)
	if err := row.Scan(&b.ID, &b.PersonID, &b.ExternalSystem, &b.ExternalEmpID, &active, &createdMs, &updatedMs); err != nil {
		return types.PersonBinding{}, err
	}
	b.IsActive = active == 1
	b.CreatedAt = store.FromMillis(createdMs)
	b.UpdatedAt = store.FromMillis(updatedMs)
	return b, nil
}

func getActiveBinding(ctx context.Context, q queryer, personID int64, system string) (types.PersonBinding, error) {
	b, err := scanBinding(q.QueryRowContext(ctx, `
SELECT id, person_id, external_system, external_emp_id, is_active, created_at_ms, updated_at_ms
FROM skud_person_bindings
WHERE person_id = ? AND external_system = ? AND is_active = 1;
`, personID, system))
	if errors.Is(err, sql.ErrNoRows) {
		return types.PersonBinding{}, store.ErrNotFound
	}
	if err != nil {
		return types.PersonBinding{}, fmt.Errorf("get binding: %w", err)
	}
	return b, nil
}

func (s *PersonBindingStore) GetActive(ctx context.Context, personID int64, externalSystem string) (types.PersonBinding, error) {
	return getActiveBinding(ctx, s.db, personID, externalSystem)
}

func (s *PersonBindingStore) Upsert(ctx context.Context, personID int64, externalSystem, externalEmpID string, at time.Time) (types.PersonBinding, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var out types.PersonBinding
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = upsertBinding(ctx, tx, personID, externalSystem, externalEmpID, at)
		return err
	})
	if err != nil {
		return types.PersonBinding{}, err
	}
	return out, nil
}

// upsertBinding makes externalEmpID the person's single active binding
// inside the caller's transaction.
func upsertBinding(ctx context.Context, tx *sql.Tx, personID int64, externalSystem, externalEmpID string, at time.Time) (types.PersonBinding, error) {
	externalEmpID = strings.TrimSpace(externalEmpID)
	atMs := store.Millis(at)

	var holder int64
	err := tx.QueryRowContext(ctx, `
SELECT person_id FROM skud_person_bindings
WHERE external_system = ? AND external_emp_id = ? AND is_active = 1;
`, externalSystem, externalEmpID).Scan(&holder)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return types.PersonBinding{}, fmt.Errorf("binding holder: %w", err)
	case holder != personID:
		return types.PersonBinding{}, fmt.Errorf("external id %q bound to person %d: %w", externalEmpID, holder, store.ErrDuplicate)
	}

	cur, err := getActiveBinding(ctx, tx, personID, externalSystem)
	switch {
	case err == nil && cur.ExternalEmpID == externalEmpID:
		if _, err := tx.ExecContext(ctx,
			`UPDATE skud_person_bindings SET updated_at_ms = ? WHERE id = ?;`, atMs, cur.ID,
		); err != nil {
			return types.PersonBinding{}, fmt.Errorf("touch binding: %w", err)
		}
		cur.UpdatedAt = at
		return cur, nil
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE skud_person_bindings SET is_active = 0, updated_at_ms = ? WHERE id = ?;`, atMs, cur.ID,
		); err != nil {
			return types.PersonBinding{}, fmt.Errorf("deactivate previous binding: %w", err)
		}
	case !errors.Is(err, store.ErrNotFound):
		return types.PersonBinding{}, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO skud_person_bindings(person_id, external_system, external_emp_id, is_active, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, 1, ?, ?);
`, personID, externalSystem, externalEmpID, atMs, atMs); err != nil {
		if isUniqueViolation(err) {
			return types.PersonBinding{}, fmt.Errorf("insert binding: %w", store.ErrDuplicate)
		}
		return types.PersonBinding{}, fmt.Errorf("insert binding: %w", err)
	}
	return getActiveBinding(ctx, tx, personID, externalSystem)
}

func (s *PersonBindingStore) Deactivate(ctx context.Context, personID int64, externalSystem string, at time.Time) (int64, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		n, err = deactivateBinding(ctx, tx, personID, externalSystem, at)
		return err
	})
	return n, err
}

func deactivateBinding(ctx context.Context, tx *sql.Tx, personID int64, externalSystem string, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
UPDATE skud_person_bindings
SET is_active = 0, updated_at_ms = ?
WHERE person_id = ? AND external_system = ? AND is_active = 1;
`, store.Millis(at), personID, externalSystem)
	if err != nil {
		return 0, fmt.Errorf("deactivate binding: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *PersonBindingStore) ResolveExternalIDs(ctx context.Context, externalSystem string, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := append([]any{externalSystem}, stringArgs(ids)...)
	rows, err := s.db.QueryContext(ctx, `
SELECT external_emp_id, person_id
FROM skud_person_bindings
WHERE external_system = ? AND is_active = 1 AND external_emp_id IN (`+placeholders(len(ids))+`);
`, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve external ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var emp string
		var pid int64
		if err := rows.Scan(&emp, &pid); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out[emp] = pid
	}
	return out, rows.Err()
}
