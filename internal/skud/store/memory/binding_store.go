package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type PersonBindingStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []types.PersonBinding
}

func NewPersonBindingStore() *PersonBindingStore {
	return &PersonBindingStore{}
}

func (s *PersonBindingStore) activeIndex(personID int64, system string) int {
	for i, b := range s.rows {
		if b.IsActive && b.PersonID == personID && b.ExternalSystem == system {
			return i
		}
	}
	return -1
}

func (s *PersonBindingStore) GetActive(_ context.Context, personID int64, externalSystem string) (types.PersonBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.activeIndex(personID, externalSystem); i >= 0 {
		return s.rows[i], nil
	}
	return types.PersonBinding{}, store.ErrNotFound
}

func (s *PersonBindingStore) Upsert(_ context.Context, personID int64, externalSystem, externalEmpID string, at time.Time) (types.PersonBinding, error) {
	externalEmpID = strings.TrimSpace(externalEmpID)
	at = nowOr(at)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conflictLocked(personID, externalSystem, externalEmpID); err != nil {
		return types.PersonBinding{}, err
	}
	return s.upsertLocked(personID, externalSystem, externalEmpID, at), nil
}

func (s *PersonBindingStore) conflictLocked(personID int64, externalSystem, externalEmpID string) error {
	for _, b := range s.rows {
		if b.IsActive && b.ExternalSystem == externalSystem && b.ExternalEmpID == externalEmpID && b.PersonID != personID {
			return fmt.Errorf("external id %q bound to person %d: %w", externalEmpID, b.PersonID, store.ErrDuplicate)
		}
	}
	return nil
}

func (s *PersonBindingStore) upsertLocked(personID int64, externalSystem, externalEmpID string, at time.Time) types.PersonBinding {
	if i := s.activeIndex(personID, externalSystem); i >= 0 {
		if s.rows[i].ExternalEmpID == externalEmpID {
			s.rows[i].UpdatedAt = at
			return s.rows[i]
		}
		s.rows[i].IsActive = false
		s.rows[i].UpdatedAt = at
	}

	s.nextID++
	b := types.PersonBinding{
		ID: s.nextID, PersonID: personID, ExternalSystem: externalSystem, ExternalEmpID: externalEmpID,
		IsActive: true, CreatedAt: at, UpdatedAt: at,
	}
	s.rows = append(s.rows, b)
	return b
}

func (s *PersonBindingStore) Deactivate(_ context.Context, personID int64, externalSystem string, at time.Time) (int64, error) {
	at = nowOr(at)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateLocked(personID, externalSystem, at), nil
}

func (s *PersonBindingStore) deactivateLocked(personID int64, externalSystem string, at time.Time) int64 {
	if i := s.activeIndex(personID, externalSystem); i >= 0 {
		s.rows[i].IsActive = false
		s.rows[i].UpdatedAt = at
		return 1
	}
	return 0
}

func (s *PersonBindingStore) ResolveExternalIDs(_ context.Context, externalSystem string, ids []string) (map[string]int64, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(ids))
	for _, b := range s.rows {
		if !b.IsActive || b.ExternalSystem != externalSystem {
			continue
		}
		if _, ok := want[b.ExternalEmpID]; ok {
			out[b.ExternalEmpID] = b.PersonID
		}
	}
	return out, nil
}
