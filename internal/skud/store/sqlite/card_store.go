package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/skud/internal/db"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

type CardStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCardStore(db *sql.DB, writer *dbpkg.Worker) *CardStore {
	return &CardStore{db: db, writer: writer}
}

const cardColumns = `
  card_id, external_system, card_number, card_number_normalized, external_card_id,
  card_type, status, person_id, issued_at_ms, blocked_at_ms, last_seen_at_ms,
  notes, metadata, created_at_ms, updated_at_ms`

func scanCard(row rowScanner) (types.Card, error) {
	var (
		c         types.Card
		status    string
		personID  sql.NullInt64
		issuedMs  int64
		blockedMs sql.NullInt64
		seenMs    sql.NullInt64
		metadata  string
		createdMs int64
		updatedMs int64
	)
	if err := row.Scan(
		&c.ID, &c.ExternalSystem, &c.CardNumber, &c.CardNumberNormalized, &c.ExternalCardID,
		&c.CardType, &status, &personID, &issuedMs, &blockedMs, &seenMs,
		&c.Notes, &metadata, &createdMs, &updatedMs,
	); err != nil {
		return types.Card{}, err
	}
	c.Status = types.CardStatus(status)
	c.PersonID = int64FromNull(personID)
	c.IssuedAt = store.FromMillis(issuedMs)
	c.BlockedAt = timeFromNull(blockedMs)
	c.LastSeenAt = timeFromNull(seenMs)
	c.Metadata = decodeJSON(metadata)
	c.CreatedAt = store.FromMillis(createdMs)
	c.UpdatedAt = store.FromMillis(updatedMs)
	return c, nil
}

func getCard(ctx context.Context, q queryer, id string) (types.Card, error) {
	c, err := scanCard(q.QueryRowContext(ctx,
		`SELECT`+cardColumns+` FROM skud_cards WHERE card_id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Card{}, store.ErrNotFound
	}
	if err != nil {
		return types.Card{}, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

func (s *CardStore) Create(ctx context.Context, c types.Card, job *types.SyncJob) (types.Card, error) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.IssuedAt.IsZero() {
		c.IssuedAt = c.CreatedAt
	}

	var out types.Card
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO skud_cards(
  card_id, external_system, card_number, card_number_normalized, external_card_id,
  card_type, status, person_id, issued_at_ms, blocked_at_ms, last_seen_at_ms,
  notes, metadata, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			c.ID, c.ExternalSystem, c.CardNumber, c.CardNumberNormalized, c.ExternalCardID,
			c.CardType, string(c.Status), nullInt64(c.PersonID), store.Millis(c.IssuedAt),
			nullMs(c.BlockedAt), nullMs(c.LastSeenAt),
			c.Notes, encodeJSON(c.Metadata), store.Millis(c.CreatedAt), store.Millis(c.UpdatedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("card %s: %w", c.CardNumberNormalized, store.ErrDuplicate)
			}
			return fmt.Errorf("insert card: %w", err)
		}
		var err error
		if out, err = getCard(ctx, tx, c.ID); err != nil {
			return err
		}
		if job != nil {
			return insertSyncJob(ctx, tx, *job)
		}
		return nil
	})
	if err != nil {
		return types.Card{}, err
	}
	return out, nil
}

func (s *CardStore) Get(ctx context.Context, id string) (types.Card, error) {
	return getCard(ctx, s.db, id)
}

func (s *CardStore) GetByNumber(ctx context.Context, externalSystem, normalized string) (types.Card, error) {
	c, err := scanCard(s.db.QueryRowContext(ctx,
		`SELECT`+cardColumns+` FROM skud_cards WHERE external_system = ? AND card_number_normalized = ?;`,
		externalSystem, normalized))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Card{}, store.ErrNotFound
	}
	if err != nil {
		return types.Card{}, fmt.Errorf("get card by number: %w", err)
	}
	return c, nil
}

// Update runs fn against the current row inside the writer transaction, so
// status guards in fn see exactly the row that will be overwritten.
func (s *CardStore) Update(ctx context.Context, id string, fn func(c *types.Card) error, job func(before, after types.Card) types.SyncJob) (types.Card, error) {
	var out types.Card
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		c, err := getCard(ctx, tx, id)
		if err != nil {
			return err
		}
		before := c
		if err := fn(&c); err != nil {
			return err
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE skud_cards
SET status = ?, person_id = ?, blocked_at_ms = ?, last_seen_at_ms = ?,
    notes = ?, metadata = ?, external_card_id = ?, card_type = ?, updated_at_ms = ?
WHERE card_id = ?;
`,
			string(c.Status), nullInt64(c.PersonID), nullMs(c.BlockedAt), nullMs(c.LastSeenAt),
			c.Notes, encodeJSON(c.Metadata), c.ExternalCardID, c.CardType, store.Millis(c.UpdatedAt),
			id,
		); err != nil {
			return fmt.Errorf("update card: %w", err)
		}
		if out, err = getCard(ctx, tx, id); err != nil {
			return err
		}
		if job != nil {
			return insertSyncJob(ctx, tx, job(before, out))
		}
		return nil
	})
	if err != nil {
		return types.Card{}, err
	}
	return out, nil
}

func (s *CardStore) ListByPerson(ctx context.Context, externalSystem string, personID int64) ([]types.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+cardColumns+` FROM skud_cards WHERE external_system = ? AND person_id = ? ORDER BY created_at_ms, card_id;`,
		externalSystem, personID)
	if err != nil {
		return nil, fmt.Errorf("list person cards: %w", err)
	}
	defer rows.Close()
	out := []types.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CardStore) List(ctx context.Context, f store.ListFilter) ([]types.Card, int, error) {
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
	page := f.Page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skud_cards`+w.String(), w.args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cards: %w", err)
	}

	args := append(append([]any(nil), w.args...), page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+cardColumns+` FROM skud_cards`+w.String()+
			` ORDER BY created_at_ms DESC, card_id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	out := make([]types.Card, 0, page.Limit)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (s *CardStore) ResolveActiveNumbers(ctx context.Context, externalSystem string, normalized []string) (map[string]int64, error) {
	out := make(map[string]int64, len(normalized))
	if len(normalized) == 0 {
		return out, nil
	}
	args := append([]any{externalSystem}, stringArgs(normalized)...)
	rows, err := s.db.QueryContext(ctx, `
SELECT card_number_normalized, person_id
FROM skud_cards
WHERE external_system = ? AND status = 'active' AND person_id IS NOT NULL
  AND card_number_normalized IN (`+placeholders(len(normalized))+`);
`, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve card numbers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var num string
		var pid int64
		if err := rows.Scan(&num, &pid); err != nil {
			return nil, fmt.Errorf("scan card number: %w", err)
		}
		out[num] = pid
	}
	return out, rows.Err()
}

func (s *CardStore) TouchLastSeen(ctx context.Context, externalSystem string, normalized []string, at time.Time) error {
	if len(normalized) == 0 {
		return nil
	}
	atMs := store.Millis(at)
	args := append([]any{atMs, externalSystem}, stringArgs(normalized)...)
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE skud_cards
SET last_seen_at_ms = MAX(COALESCE(last_seen_at_ms, 0), ?)
WHERE external_system = ? AND card_number_normalized IN (`+placeholders(len(normalized))+`);
`, args...); err != nil {
			return fmt.Errorf("touch cards: %w", err)
		}
		return nil
	})
}
