package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// PersonStore reads the employee directory. Rows are owned by the HR side
// and seeded by db.SeedDev in development.
type PersonStore struct {
	db *sql.DB
}

func NewPersonStore(db *sql.DB) *PersonStore {
	return &PersonStore{db: db}
}

func (s *PersonStore) Get(ctx context.Context, personID int64) (types.Person, error) {
	var (
		p      types.Person
		active int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT person_id, full_name, is_active FROM employees WHERE person_id = ?;`, personID,
	).Scan(&p.ID, &p.FullName, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Person{}, store.ErrNotFound
	}
	if err != nil {
		return types.Person{}, fmt.Errorf("get person: %w", err)
	}
	p.IsActive = active == 1
	return p, nil
}

func (s *PersonStore) GetMany(ctx context.Context, ids []int64) (map[int64]types.Person, error) {
	out := make(map[int64]types.Person, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT person_id, full_name, is_active FROM employees WHERE person_id IN (`+placeholders(len(ids))+`);`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("get persons: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p      types.Person
			active int
		)
		if err := rows.Scan(&p.ID, &p.FullName, &active); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		p.IsActive = active == 1
		out[p.ID] = p
	}
	return out, rows.Err()
}
