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

type QRTokenStore struct {
	mu     sync.Mutex
	byJTI  map[string]types.QRToken
	byHash map[string]string

	events *AccessEventStore
	jobs   *SyncJobStore
}

// NewQRTokenStore links the event store Consume records into and the ledger
// Create and Revoke append to.
func NewQRTokenStore(events *AccessEventStore, jobs *SyncJobStore) *QRTokenStore {
	return &QRTokenStore{
		byJTI:  make(map[string]types.QRToken),
		byHash: make(map[string]string),
		events: events,
		jobs:   jobs,
	}
}

func (s *QRTokenStore) Create(_ context.Context, t types.QRToken, job *types.SyncJob) error {
	t.CreatedAt = nowOr(t.CreatedAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byJTI[t.JTI]; ok {
		return fmt.Errorf("qr token %s: %w", t.JTI, store.ErrDuplicate)
	}
	if _, ok := s.byHash[t.TokenHash]; ok {
		return fmt.Errorf("qr token %s: %w", t.JTI, store.ErrDuplicate)
	}
	t.Metadata = cloneMap(t.Metadata)
	if job != nil {
		if err := s.jobs.add(*job); err != nil {
			return err
		}
	}
	s.byJTI[t.JTI] = t
	s.byHash[t.TokenHash] = t.JTI
	return nil
}

func (s *QRTokenStore) GetByHash(_ context.Context, tokenHash string) (types.QRToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jti, ok := s.byHash[tokenHash]
	if !ok {
		return types.QRToken{}, store.ErrNotFound
	}
	return s.byJTI[jti], nil
}

func (s *QRTokenStore) Get(_ context.Context, jti string) (types.QRToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byJTI[jti]
	if !ok {
		return types.QRToken{}, store.ErrNotFound
	}
	return t, nil
}

func (s *QRTokenStore) Consume(_ context.Context, jti string, at time.Time, ev types.AccessEvent, gate store.CommitGate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byJTI[jti]
	if !ok || t.UsedAt != nil || t.RevokedAt != nil {
		return false, nil
	}

	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	if s.events.fail != nil {
		return false, s.events.fail
	}
	if !gate.Open() {
		return false, store.ErrAbandoned
	}
	s.events.insertLocked(ev)
	t.UsedAt = types.TimePtr(at.UTC())
	s.byJTI[jti] = t
	return true, nil
}

func (s *QRTokenStore) Revoke(_ context.Context, jti string, at time.Time, job func(t types.QRToken) types.SyncJob) (types.QRToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byJTI[jti]
	if !ok {
		return types.QRToken{}, store.ErrNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = types.TimePtr(at.UTC())
	}
	if job != nil {
		if err := s.jobs.add(job(t)); err != nil {
			return types.QRToken{}, err
		}
	}
	s.byJTI[jti] = t
	return t, nil
}

func (s *QRTokenStore) List(_ context.Context, f store.ListFilter) ([]types.QRToken, int, error) {
	now := time.Now()
	s.mu.Lock()
	var out []types.QRToken
	for _, t := range s.byJTI {
		if f.PersonID != nil && t.PersonID != *f.PersonID {
			continue
		}
		if f.Source != "" && string(t.TokenType) != f.Source {
			continue
		}
		switch f.Status {
		case "used":
			if t.UsedAt == nil {
				continue
			}
		case "revoked":
			if t.RevokedAt == nil {
				continue
			}
		case "active":
			if t.UsedAt != nil || t.RevokedAt != nil || !t.ExpiresAt.After(now) {
				continue
			}
		}
		out = append(out, t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].JTI < out[j].JTI
	})
	return paginate(out, f.Page), len(out), nil
}
