package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type cardKey struct {
	system     string
	normalized string
}

type CardStore struct {
	mu       sync.Mutex
	byID     map[string]types.Card
	byNumber map[cardKey]string
	jobs     *SyncJobStore
}

func NewCardStore(jobs *SyncJobStore) *CardStore {
	return &CardStore{
		byID:     make(map[string]types.Card),
		byNumber: make(map[cardKey]string),
		jobs:     jobs,
	}
}

func (s *CardStore) Create(_ context.Context, c types.Card, job *types.SyncJob) (types.Card, error) {
	c.CreatedAt = nowOr(c.CreatedAt)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = c.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := cardKey{c.ExternalSystem, c.CardNumberNormalized}
	if _, ok := s.byNumber[key]; ok {
		return types.Card{}, fmt.Errorf("card %s: %w", c.CardNumberNormalized, store.ErrDuplicate)
	}
	if _, ok := s.byID[c.ID]; ok {
		return types.Card{}, fmt.Errorf("card %s: %w", c.ID, store.ErrDuplicate)
	}
	c.Metadata = cloneMap(c.Metadata)
	if job != nil {
		if err := s.jobs.add(*job); err != nil {
			return types.Card{}, err
		}
	}
	s.byID[c.ID] = c
	s.byNumber[key] = c.ID
	return c, nil
}

func (s *CardStore) Get(_ context.Context, id string) (types.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return types.Card{}, store.ErrNotFound
	}
	return c, nil
}

func (s *CardStore) GetByNumber(_ context.Context, externalSystem, normalized string) (types.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNumber[cardKey{externalSystem, normalized}]
	if !ok {
		return types.Card{}, store.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *CardStore) Update(_ context.Context, id string, fn func(c *types.Card) error, job func(before, after types.Card) types.SyncJob) (types.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.byID[id]
	if !ok {
		return types.Card{}, store.ErrNotFound
	}
	c := before
	if err := fn(&c); err != nil {
		return types.Card{}, err
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	if job != nil {
		if err := s.jobs.add(job(before, c)); err != nil {
			return types.Card{}, err
		}
	}
	s.byID[id] = c
	return c, nil
}

func (s *CardStore) sorted(keep func(types.Card) bool) []types.Card {
	var out []types.Card
	for _, c := range s.byID {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *CardStore) ListByPerson(_ context.Context, externalSystem string, personID int64) ([]types.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(c types.Card) bool {
		return c.ExternalSystem == externalSystem && c.PersonID != nil && *c.PersonID == personID
	})
	if out == nil {
		out = []types.Card{}
	}
	return out, nil
}

func (s *CardStore) List(_ context.Context, f store.ListFilter) ([]types.Card, int, error) {
	s.mu.Lock()
	out := s.sorted(func(c types.Card) bool {
		if f.ExternalSystem != "" && c.ExternalSystem != f.ExternalSystem {
			return false
		}
		if f.PersonID != nil && (c.PersonID == nil || *c.PersonID != *f.PersonID) {
			return false
		}
		return f.Status == "" || string(c.Status) == f.Status
	})
	s.mu.Unlock()
	// newest first, matching the SQL listing
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return paginate(out, f.Page), len(out), nil
}

func (s *CardStore) ResolveActiveNumbers(_ context.Context, externalSystem string, normalized []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(normalized))
	for _, n := range normalized {
		id, ok := s.byNumber[cardKey{externalSystem, n}]
		if !ok {
			continue
		}
		c := s.byID[id]
		if c.Status == types.CardActive && c.PersonID != nil {
			out[n] = *c.PersonID
		}
	}
	return out, nil
}

func (s *CardStore) TouchLastSeen(_ context.Context, externalSystem string, normalized []string, at time.Time) error {
	at = at.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range normalized {
		id, ok := s.byNumber[cardKey{externalSystem, n}]
		if !ok {
			continue
		}
		c := s.byID[id]
		if c.LastSeenAt == nil || at.After(*c.LastSeenAt) {
			c.LastSeenAt = types.TimePtr(at)
			s.byID[id] = c
		}
	}
	return nil
}
