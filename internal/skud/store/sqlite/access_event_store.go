package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/skud/internal/db"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

const accessEventColumns = `
  id, source, event_type, log_id, person_id, external_emp_id, access_point, direction,
  key_hex, token_hash, allow, reason_code, decision_message, event_time_ms, received_at_ms, raw_payload`

// The partial unique index on (source, log_id) makes a replayed hardware log
// a silent no-op.
const insertAccessEventSQL = `
INSERT OR IGNORE INTO skud_access_events(
  source, event_type, log_id, person_id, external_emp_id, access_point, direction,
  key_hex, token_hash, allow, reason_code, decision_message, event_time_ms, received_at_ms, raw_payload
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

func scanAccessEvent(row rowScanner) (types.AccessEvent, error) {
	var (
		ev         types.AccessEvent
		logID      sql.NullInt64
		personID   sql.NullInt64
		allow      int
		eventMs    int64
		receivedMs int64
		raw        string
	)
	if err := row.Scan(
		&ev.ID, &ev.Source, &ev.EventType, &logID, &personID, &ev.ExternalEmpID, &ev.AccessPoint, &ev.Direction,
		&ev.KeyHex, &ev.TokenHash, &allow, &ev.ReasonCode, &ev.DecisionMessage, &eventMs, &receivedMs, &raw,
	); err != nil {
		return types.AccessEvent{}, err
	}
	ev.LogID = int64FromNull(logID)
	ev.PersonID = int64FromNull(personID)
	ev.Allow = allow == 1
	ev.EventTime = store.FromMillis(eventMs)
	ev.ReceivedAt = store.FromMillis(receivedMs)
	if raw != "" && raw != "{}" {
		ev.RawPayload = []byte(raw)
	}
	return ev, nil
}

func eventArgs(ev types.AccessEvent) []any {
	now := time.Now().UTC()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = now
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = ev.ReceivedAt
	}
	raw := "{}"
	if len(ev.RawPayload) > 0 {
		raw = string(ev.RawPayload)
	}
	return []any{
		ev.Source, ev.EventType, nullInt64(ev.LogID), nullInt64(ev.PersonID), ev.ExternalEmpID, ev.AccessPoint, ev.Direction,
		ev.KeyHex, ev.TokenHash, boolInt(ev.Allow), ev.ReasonCode, ev.DecisionMessage,
		store.Millis(ev.EventTime), store.Millis(ev.ReceivedAt), raw,
	}
}

func (s *AccessEventStore) Append(ctx context.Context, ev types.AccessEvent, gate store.CommitGate) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertAccessEvent(ctx, tx, ev); err != nil {
			return err
		}
		if !gate.Open() {
			return store.ErrAbandoned
		}
		return nil
	})
}

func insertAccessEvent(ctx context.Context, tx *sql.Tx, ev types.AccessEvent) error {
	if _, err := tx.ExecContext(ctx, insertAccessEventSQL, eventArgs(ev)...); err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}
	return nil
}

func (s *AccessEventStore) AppendBatch(ctx context.Context, evs []types.AccessEvent) (int, error) {
	if len(evs) == 0 {
		return 0, nil
	}
	var inserted int
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertAccessEventSQL)
		if err != nil {
			return fmt.Errorf("prepare access event insert: %w", err)
		}
		defer stmt.Close()

		inserted = 0
		for _, ev := range evs {
			res, err := stmt.ExecContext(ctx, eventArgs(ev)...)
			if err != nil {
				return fmt.Errorf("insert access event: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert access event: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *AccessEventStore) List(ctx context.Context, f store.ListFilter) ([]types.AccessEvent, int, error) {
	var w whereClause
	if f.PersonID != nil {
		w.add("person_id = ?", *f.PersonID)
	}
	if f.Source != "" {
		w.add("source = ?", f.Source)
	}
	switch f.Status {
	case "allow":
		w.add("allow = 1")
	case "deny":
		w.add("allow = 0")
	}
	page := f.Page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skud_access_events`+w.String(), w.args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count access events: %w", err)
	}

	args := append(append([]any(nil), w.args...), page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+accessEventColumns+` FROM skud_access_events`+w.String()+
			` ORDER BY event_time_ms DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list access events: %w", err)
	}
	defer rows.Close()

	out := make([]types.AccessEvent, 0, page.Limit)
	for rows.Next() {
		ev, err := scanAccessEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan access event: %w", err)
		}
		out = append(out, ev)
	}
	return out, total, rows.Err()
}
