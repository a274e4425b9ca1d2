package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type PersonStore struct {
	mu      sync.RWMutex
	persons map[int64]types.Person
}

func NewPersonStore(persons ...types.Person) *PersonStore {
	s := &PersonStore{persons: make(map[int64]types.Person, len(persons))}
	for _, p := range persons {
		s.persons[p.ID] = p
	}
	return s
}

// Put adds or replaces a person.
func (s *PersonStore) Put(p types.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons[p.ID] = p
}

func (s *PersonStore) Get(_ context.Context, personID int64) (types.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[personID]
	if !ok {
		return types.Person{}, store.ErrNotFound
	}
	return p, nil
}

func (s *PersonStore) GetMany(_ context.Context, ids []int64) (map[int64]types.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]types.Person, len(ids))
	for _, id := range ids {
		if p, ok := s.persons[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
