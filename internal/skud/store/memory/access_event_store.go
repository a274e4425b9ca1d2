package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type logKey struct {
	source string
	logID  int64
}

// AccessEventStore is an in-memory append-only log of access events.
type AccessEventStore struct {
	mu     sync.Mutex
	nextID int64
	events []types.AccessEvent
	seen   map[logKey]struct{}
	fail   error
}

func NewAccessEventStore() *AccessEventStore {
	return &AccessEventStore{seen: make(map[logKey]struct{})}
}

func (s *AccessEventStore) Append(_ context.Context, ev types.AccessEvent, gate store.CommitGate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if !gate.Open() {
		return store.ErrAbandoned
	}
	s.insertLocked(ev)
	return nil
}

func (s *AccessEventStore) AppendBatch(_ context.Context, evs []types.AccessEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	inserted := 0
	for _, ev := range evs {
		if s.insertLocked(ev) {
			inserted++
		}
	}
	return inserted, nil
}

// insertLocked reports false for a replayed (source, logId).
func (s *AccessEventStore) insertLocked(ev types.AccessEvent) bool {
	if ev.LogID != nil {
		k := logKey{ev.Source, *ev.LogID}
		if _, dup := s.seen[k]; dup {
			return false
		}
		s.seen[k] = struct{}{}
	}
	ev.ReceivedAt = nowOr(ev.ReceivedAt)
	if ev.EventTime.IsZero() {
		ev.EventTime = ev.ReceivedAt
	}
	s.nextID++
	ev.ID = s.nextID
	s.events = append(s.events, ev)
	return true
}

func (s *AccessEventStore) List(_ context.Context, f store.ListFilter) ([]types.AccessEvent, int, error) {
	s.mu.Lock()
	var out []types.AccessEvent
	for _, ev := range s.events {
		if f.PersonID != nil && (ev.PersonID == nil || *ev.PersonID != *f.PersonID) {
			continue
		}
		if f.Source != "" && ev.Source != f.Source {
			continue
		}
		if (f.Status == "allow" && !ev.Allow) || (f.Status == "deny" && ev.Allow) {
			continue
		}
		out = append(out, ev)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventTime.Equal(out[j].EventTime) {
			return out[i].EventTime.After(out[j].EventTime)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), len(out), nil
}

// Events returns a copy of all recorded events. Test-only helper.
func (s *AccessEventStore) Events() []types.AccessEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AccessEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Fail makes every later write return err; nil restores normal behaviour.
// Test-only helper.
func (s *AccessEventStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}
