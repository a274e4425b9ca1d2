package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// SyncJobStore is the in-memory ledger. The other memory stores append to
// it while holding their own lock, which stands in for the shared SQL
// transaction.
type SyncJobStore struct {
	mu   sync.Mutex
	jobs []types.SyncJob
	fail error
}

func NewSyncJobStore() *SyncJobStore {
	return &SyncJobStore{}
}

// add appends job, or returns the injected failure without storing it.
func (s *SyncJobStore) add(job types.SyncJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = types.SyncPending
	}
	job.CreatedAt = nowOr(job.CreatedAt)
	job.UpdatedAt = job.CreatedAt
	job.Attempts = 0
	job.Payload = cloneMap(job.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Fail makes every later append return err; nil restores normal behaviour.
// Test-only helper.
func (s *SyncJobStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *SyncJobStore) List(_ context.Context, f store.ListFilter) ([]types.SyncJob, int, error) {
	s.mu.Lock()
	var out []types.SyncJob
	for i := len(s.jobs) - 1; i >= 0; i-- {
		j := s.jobs[i]
		if f.ExternalSystem != "" && j.ExternalSystem != f.ExternalSystem {
			continue
		}
		if f.PersonID != nil && (j.PersonID == nil || *j.PersonID != *f.PersonID) {
			continue
		}
		if f.Status != "" && string(j.Status) != f.Status {
			continue
		}
		if f.Source != "" && j.Operation != f.Source {
			continue
		}
		out = append(out, j)
	}
	s.mu.Unlock()
	return paginate(out, f.Page), len(out), nil
}

// Jobs returns a copy of every enqueued job in insertion order. Test-only helper.
func (s *SyncJobStore) Jobs() []types.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SyncJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}
