package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type SettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{values: make(map[string]string)}
}

func (s *SettingsStore) Load(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values), nil
}

func (s *SettingsStore) Save(_ context.Context, values map[string]string, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.values, values)
	return nil
}

type AuditStore struct {
	mu      sync.Mutex
	entries []types.AuditEntry
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Record(_ context.Context, e types.AuditEntry) error {
	e.CreatedAt = nowOr(e.CreatedAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of the recorded audit trail. Test-only helper.
func (s *AuditStore) Entries() []types.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
