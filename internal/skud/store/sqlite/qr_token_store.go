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

type QRTokenStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewQRTokenStore(db *sql.DB, writer *dbpkg.Worker) *QRTokenStore {
	return &QRTokenStore{db: db, writer: writer}
}

const qrColumns = `
  jti, person_id, token_hash, token_type, expires_at_ms, used_at_ms, revoked_at_ms,
  issued_by, metadata, created_at_ms`

func scanQRToken(row rowScanner) (types.QRToken, error) {
	var (
		t         types.QRToken
		tokenType string
		expiresMs int64
		usedMs    sql.NullInt64
		revokedMs sql.NullInt64
		metadata  string
		createdMs int64
	)
	if err := row.Scan(
		&t.JTI, &t.PersonID, &t.TokenHash, &tokenType, &expiresMs, &usedMs, &revokedMs,
		&t.IssuedBy, &metadata, &createdMs,
	); err != nil {
		return types.QRToken{}, err
	}
	t.TokenType = types.QRTokenType(tokenType)
	t.ExpiresAt = store.FromMillis(expiresMs)
	t.UsedAt = timeFromNull(usedMs)
	t.RevokedAt = timeFromNull(revokedMs)
	t.Metadata = decodeJSON(metadata)
	t.CreatedAt = store.FromMillis(createdMs)
	return t, nil
}

func getQRToken(ctx context.Context, q queryer, where string, arg any) (types.QRToken, error) {
	t, err := scanQRToken(q.QueryRowContext(ctx,
		`SELECT`+qrColumns+` FROM skud_qr_tokens WHERE `+where+` = ?;`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return types.QRToken{}, store.ErrNotFound
	}
	if err != nil {
		return types.QRToken{}, fmt.Errorf("get qr token: %w", err)
	}
	return t, nil
}

func (s *QRTokenStore) Create(ctx context.Context, t types.QRToken, job *types.SyncJob) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO skud_qr_tokens(
  jti, person_id, token_hash, token_type, expires_at_ms, used_at_ms, revoked_at_ms,
  issued_by, metadata, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			t.JTI, t.PersonID, t.TokenHash, string(t.TokenType), store.Millis(t.ExpiresAt),
			nullMs(t.UsedAt), nullMs(t.RevokedAt), t.IssuedBy, encodeJSON(t.Metadata), store.Millis(t.CreatedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("qr token %s: %w", t.JTI, store.ErrDuplicate)
			}
			return fmt.Errorf("insert qr token: %w", err)
		}
		if job != nil {
			return insertSyncJob(ctx, tx, *job)
		}
		return nil
	})
}

func (s *QRTokenStore) GetByHash(ctx context.Context, tokenHash string) (types.QRToken, error) {
	return getQRToken(ctx, s.db, "token_hash", tokenHash)
}

func (s *QRTokenStore) Get(ctx context.Context, jti string) (types.QRToken, error) {
	return getQRToken(ctx, s.db, "jti", jti)
}

// Consume is the compare-and-swap that makes one-time tokens single use:
// only the caller whose UPDATE finds used_at still NULL wins, and its event
// commits with the stamp.
func (s *QRTokenStore) Consume(ctx context.Context, jti string, at time.Time, ev types.AccessEvent, gate store.CommitGate) (bool, error) {
	var won bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		won = false
		res, err := tx.ExecContext(ctx, `
UPDATE skud_qr_tokens
SET used_at_ms = ?
WHERE jti = ? AND used_at_ms IS NULL AND revoked_at_ms IS NULL;
`, store.Millis(at), jti)
		if err != nil {
			return fmt.Errorf("consume qr token: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume qr token: %w", err)
		}
		if n != 1 {
			return nil
		}
		if err := insertAccessEvent(ctx, tx, ev); err != nil {
			return err
		}
		if !gate.Open() {
			return store.ErrAbandoned
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (s *QRTokenStore) Revoke(ctx context.Context, jti string, at time.Time, job func(t types.QRToken) types.SyncJob) (types.QRToken, error) {
	var out types.QRToken
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE skud_qr_tokens SET revoked_at_ms = ? WHERE jti = ? AND revoked_at_ms IS NULL;
`, store.Millis(at), jti); err != nil {
			return fmt.Errorf("revoke qr token: %w", err)
		}
		var err error
		if out, err = getQRToken(ctx, tx, "jti", jti); err != nil {
			return err
		}
		if job != nil {
			return insertSyncJob(ctx, tx, job(out))
		}
		return nil
	})
	if err != nil {
		return types.QRToken{}, err
	}
	return out, nil
}

func (s *QRTokenStore) List(ctx context.Context, f store.ListFilter) ([]types.QRToken, int, error) {
	var w whereClause
	if f.PersonID != nil {
		w.add("person_id = ?", *f.PersonID)
	}
	switch f.Status {
	case "used":
		w.add("used_at_ms IS NOT NULL")
	case "revoked":
		w.add("revoked_at_ms IS NOT NULL")
	case "active":
		w.add("used_at_ms IS NULL AND revoked_at_ms IS NULL AND expires_at_ms > ?", store.Millis(time.Now()))
	}
	if f.Source != "" {
		w.add("token_type = ?", f.Source)
	}
	page := f.Page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skud_qr_tokens`+w.String(), w.args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count qr tokens: %w", err)
	}

	args := append(append([]any(nil), w.args...), page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+qrColumns+` FROM skud_qr_tokens`+w.String()+
			` ORDER BY created_at_ms DESC, jti LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list qr tokens: %w", err)
	}
	defer rows.Close()

	out := make([]types.QRToken, 0, page.Limit)
	for rows.Next() {
		t, err := scanQRToken(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan qr token: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}
