package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// SyncJobStore reads the ledger. Rows are written by the stores whose
// changes they describe.
type SyncJobStore struct {
	db *sql.DB
}

func NewSyncJobStore(db *sql.DB) *SyncJobStore {
	return &SyncJobStore{db: db}
}

const syncJobColumns = `
  id, external_system, person_id, operation, status, payload, response_payload,
  error_message, attempts, created_by, created_at_ms, updated_at_ms`

func scanSyncJob(row rowScanner) (types.SyncJob, error) {
	var (
		j         types.SyncJob
		personID  sql.NullInt64
		status    string
		payload   string
		createdMs int64
		updatedMs int64
	)
	if err := row.Scan(
		&j.ID, &j.ExternalSystem, &personID, &j.Operation, &status, &payload, &j.ResponsePayload,
		&j.ErrorMessage, &j.Attempts, &j.CreatedBy, &createdMs, &updatedMs,
	); err != nil {
		return types.SyncJob{}, err
	}
	j.PersonID = int64FromNull(personID)
	j.Status = types.SyncJobStatus(status)
	j.Payload = decodeJSON(payload)
	j.CreatedAt = store.FromMillis(createdMs)
	j.UpdatedAt = store.FromMillis(updatedMs)
	return j, nil
}

// insertSyncJob appends a pending job inside the caller's transaction, so
// the entry commits or rolls back with the change it describes.
func insertSyncJob(ctx context.Context, tx *sql.Tx, job types.SyncJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = types.SyncPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt

	if _, err := tx.ExecContext(ctx, `
INSERT INTO skud_sync_jobs(
  id, external_system, person_id, operation, status, payload, response_payload,
  error_message, attempts, created_by, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, '', '', 0, ?, ?, ?);
`,
		job.ID, job.ExternalSystem, nullInt64(job.PersonID), job.Operation, string(job.Status),
		encodeJSON(job.Payload), job.CreatedBy, store.Millis(job.CreatedAt), store.Millis(job.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert sync job: %w", err)
	}
	return nil
}

func (s *SyncJobStore) List(ctx context.Context, f store.ListFilter) ([]types.SyncJob, int, error) {
	var w whereClause
	if f.ExternalSystem != "" {
		w.add("external_system = ?", f.ExternalSystem)
	}
	if f.PersonID != nil {
		w.add("person_id = ?", *f.PersonID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Source != "" {
		w.add("operation = ?", f.Source)
	}
	page := f.Page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skud_sync_jobs`+w.String(), w.args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sync jobs: %w", err)
	}

	args := append(append([]any(nil), w.args...), page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+syncJobColumns+` FROM skud_sync_jobs`+w.String()+
			` ORDER BY created_at_ms DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sync jobs: %w", err)
	}
	defer rows.Close()

	out := make([]types.SyncJob, 0, page.Limit)
	for rows.Next() {
		j, err := scanSyncJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan sync job: %w", err)
		}
		out = append(out, j)
	}
	return out, total, rows.Err()
}
