package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type stateKey struct {
	personID int64
	system   string
}

type AccessStateStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[stateKey]types.AccessState

	bindings *PersonBindingStore
	jobs     *SyncJobStore
}

// NewAccessStateStore links the binding store and ledger that Apply writes
// alongside the row.
func NewAccessStateStore(bindings *PersonBindingStore, jobs *SyncJobStore) *AccessStateStore {
	return &AccessStateStore{rows: make(map[stateKey]types.AccessState), bindings: bindings, jobs: jobs}
}

func (s *AccessStateStore) Get(_ context.Context, personID int64, externalSystem string) (types.AccessState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rows[stateKey{personID, externalSystem}]
	if !ok {
		return types.AccessState{}, store.ErrNotFound
	}
	return st, nil
}

func (s *AccessStateStore) Apply(_ context.Context, m store.AccessStateMutation) (store.AccessStateChange, error) {
	at := nowOr(m.At)
	if m.Source == "" {
		m.Source = types.SourceManual
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{m.PersonID, m.ExternalSystem}
	var change store.AccessStateChange
	prev, ok := s.rows[key]
	if ok {
		p := prev
		change.Previous = &p
	}
	if m.Guard != nil {
		if err := m.Guard(change.Previous); err != nil {
			return store.AccessStateChange{}, err
		}
	}

	// Every fallible step runs before anything is written.
	bindEmp := strings.TrimSpace(m.BindEmpID)
	if bindEmp != "" || m.Unbind {
		s.bindings.mu.Lock()
		defer s.bindings.mu.Unlock()
	}
	if bindEmp != "" {
		if err := s.bindings.conflictLocked(m.PersonID, m.ExternalSystem, bindEmp); err != nil {
			return store.AccessStateChange{}, err
		}
	}

	cur := prev
	if !ok {
		cur = types.AccessState{ID: s.nextID + 1, PersonID: m.PersonID, ExternalSystem: m.ExternalSystem, CreatedAt: at}
	}
	cur.Status = m.Status
	cur.StatusReason = m.StatusReason
	cur.ReasonCode = m.ReasonCode
	cur.Source = m.Source
	cur.EffectiveFrom = types.TimePtr(at)
	cur.EffectiveTo = nil
	cur.ChangedBy = m.ChangedBy
	cur.Metadata = cloneMap(m.Metadata)
	cur.UpdatedAt = at

	if m.Job != nil {
		if err := s.jobs.add(m.Job(change.Previous, cur)); err != nil {
			return store.AccessStateChange{}, err
		}
	}
	if !ok {
		s.nextID++
	}
	if bindEmp != "" {
		s.bindings.upsertLocked(m.PersonID, m.ExternalSystem, bindEmp, at)
	}
	if m.Unbind {
		s.bindings.deactivateLocked(m.PersonID, m.ExternalSystem, at)
	}
	s.rows[key] = cur

	change.Current = cur
	return change, nil
}

func (s *AccessStateStore) List(_ context.Context, f store.ListFilter) ([]types.AccessState, int, error) {
	s.mu.Lock()
	var out []types.AccessState
	for _, st := range s.rows {
		if f.ExternalSystem != "" && st.ExternalSystem != f.ExternalSystem {
			continue
		}
		if f.PersonID != nil && st.PersonID != *f.PersonID {
			continue
		}
		if f.Status != "" && string(st.Status) != f.Status {
			continue
		}
		out = append(out, st)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), len(out), nil
}
