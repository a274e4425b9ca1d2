package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

const (
	MaxQRTTL     = 24 * time.Hour
	DefaultQRTTL = 5 * time.Minute

	qrPurpose = "skud_qr"
	qrIssuer  = "skud"
)

// QR deny reasons.
const (
	ReasonQRInvalid        = "qr_invalid"
	ReasonQRExpired        = "qr_expired"
	ReasonQRRevoked        = "qr_revoked"
	ReasonQRUsed           = "qr_used"
	ReasonEmployeeNotFound = "employee_not_found"
	ReasonEmployeeInactive = "employee_inactive"
	ReasonStateMissing     = "state_missing"
	ReasonAuditUnavailable = "audit_unavailable"
	ReasonTimeout          = "timeout"
)

func stateReason(st types.AccessStatus) string { return "state_" + string(st) }

type qrClaims struct {
	Purpose   string `json:"purpose"`
	PersonID  int64  `json:"pid"`
	TokenType string `json:"tt"`
	jwt.RegisteredClaims
}

type QRConfig struct {
	// SigningKey is the HS256 secret. It is never logged.
	SigningKey []byte
	DefaultTTL time.Duration
}

// QRService issues and validates signed, time-boxed QR credentials. Only the
// SHA-256 of a signed token is ever persisted.
type QRService struct {
	d          Deps
	key        []byte
	defaultTTL time.Duration
}

func NewQRService(d Deps, cfg QRConfig) (*QRService, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, ErrMissingSecret
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultQRTTL
	}
	ttl = min(ttl, MaxQRTTL)
	return &QRService{d: d.withDefaults(), key: append([]byte(nil), cfg.SigningKey...), defaultTTL: ttl}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *QRService) enabled() error {
	if !s.d.Settings.Current().FeatureQR {
		return fmt.Errorf("%w: qr", ErrFeatureDisabled)
	}
	return nil
}

func (s *QRService) Issue(ctx context.Context, req types.QRIssueRequest, actor string) (resp types.QRIssueResponse, err error) {
	defer func() {
		s.d.Audit.Record(ctx, actor, "qr.issue", "person", strconv.FormatInt(req.PersonID, 10), err,
			map[string]any{"jti": resp.JTI, "tokenType": string(resp.TokenType)})
	}()

	if err := s.enabled(); err != nil {
		return types.QRIssueResponse{}, err
	}
	tokenType, ok := types.ParseQRTokenType(req.TokenType)
	if !ok {
		return types.QRIssueResponse{}, fmt.Errorf("%w: unsupported tokenType %q", ErrValidation, req.TokenType)
	}
	ttl := s.defaultTTL
	switch {
	case req.TTLSeconds < 0:
		return types.QRIssueResponse{}, fmt.Errorf("%w: ttlSeconds must not be negative", ErrValidation)
	case int64(req.TTLSeconds) > int64(MaxQRTTL/time.Second):
		// Compared in seconds; the Duration product can overflow.
		return types.QRIssueResponse{}, fmt.Errorf("%w: ttlSeconds exceeds %d", ErrValidation, int64(MaxQRTTL/time.Second))
	case req.TTLSeconds > 0:
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if req.PersonID <= 0 {
		return types.QRIssueResponse{}, fmt.Errorf("%w: personId must be positive", ErrValidation)
	}
	if _, err := s.d.Persons.Get(ctx, req.PersonID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.QRIssueResponse{}, fmt.Errorf("%w: %d", ErrPersonNotFound, req.PersonID)
		}
		return types.QRIssueResponse{}, err
	}

	now := s.d.Clock.Now()
	expires := now.Add(ttl)
	jti := uuid.NewString()
	claims := qrClaims{
		Purpose:   qrPurpose,
		PersonID:  req.PersonID,
		TokenType: string(tokenType),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    qrIssuer,
			Subject:   strconv.FormatInt(req.PersonID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return types.QRIssueResponse{}, fmt.Errorf("sign qr token: %w", err)
	}

	job := s.d.Ledger.Job(types.Int64Ptr(req.PersonID), types.OpQRIssue, map[string]any{
		"jti":       jti,
		"tokenType": string(tokenType),
		"expiresAt": expires.Format(time.RFC3339),
	}, actor)
	if err := s.d.QRTokens.Create(ctx, types.QRToken{
		JTI:       jti,
		PersonID:  req.PersonID,
		TokenHash: hashToken(signed),
		TokenType: tokenType,
		ExpiresAt: expires,
		IssuedBy:  actor,
		Metadata:  req.Metadata,
		CreatedAt: now,
	}, &job); err != nil {
		return types.QRIssueResponse{}, fmt.Errorf("store qr token: %w", err)
	}

	return types.QRIssueResponse{
		Token:     signed,
		JTI:       jti,
		PersonID:  req.PersonID,
		TokenType: tokenType,
		ExpiresAt: expires,
	}, nil
}

func (s *QRService) parse(token string) (*qrClaims, error) {
	claims := &qrClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.d.Clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(qrIssuer),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Validate decides whether a presented QR token admits its holder right now.
// A deny is a normal result. The returned error is non-nil only when the
// feature is off or the attempt could not be recorded; the result is then a
// deny.
func (s *QRService) Validate(ctx context.Context, req types.QRValidateRequest) (types.QRValidation, error) {
	return s.validate(ctx, req, nil)
}

// validate records the attempt through gate. A one-time token is used up
// only in the same write that records the admitting event, so a failed or
// abandoned write leaves the token usable.
func (s *QRService) validate(ctx context.Context, req types.QRValidateRequest, gate store.CommitGate) (types.QRValidation, error) {
	if err := s.enabled(); err != nil {
		return types.QRValidation{Reason: ReasonQRInvalid}, err
	}
	token := strings.TrimSpace(req.Token)
	tokenHash := hashToken(token)
	res, oneTime := s.decide(ctx, token, tokenHash)

	now := s.d.Clock.Now()
	ev := types.AccessEvent{
		Source:      types.EventSourceQR,
		EventType:   types.EventTypeQR,
		PersonID:    res.PersonID,
		AccessPoint: strings.TrimSpace(req.AccessPoint),
		Direction:   req.Direction,
		TokenHash:   tokenHash,
		Allow:       res.Allow,
		ReasonCode:  res.Reason,
		EventTime:   now,
		ReceivedAt:  now,
	}
	if len(req.Metadata) > 0 {
		if raw, err := json.Marshal(req.Metadata); err == nil {
			ev.RawPayload = raw
		}
	}

	wctx := context.WithoutCancel(ctx)
	if res.Allow && oneTime {
		won, err := s.d.QRTokens.Consume(wctx, res.JTI, now, ev, gate)
		if err != nil {
			return s.unrecorded(res, err)
		}
		if won {
			return res, nil
		}
		res.Allow = false
		res.Reason = ReasonQRUsed
		ev.Allow = false
		ev.ReasonCode = ReasonQRUsed
	}
	if err := s.d.Events.Append(wctx, ev, gate); err != nil {
		return s.unrecorded(res, err)
	}
	return res, nil
}

func (s *QRService) unrecorded(res types.QRValidation, err error) (types.QRValidation, error) {
	if !errors.Is(err, store.ErrAbandoned) {
		s.d.Logger.Printf("qr validation event write failed jti=%s err=%v", res.JTI, err)
	}
	return types.QRValidation{Allow: false, Reason: ReasonAuditUnavailable, JTI: res.JTI}, fmt.Errorf("record qr validation: %w", err)
}

// decide runs every check short of using the token up. oneTime reports
// whether an allow still has to win the consume.
func (s *QRService) decide(ctx context.Context, token, tokenHash string) (res types.QRValidation, oneTime bool) {
	deny := func(reason string) types.QRValidation { return types.QRValidation{Reason: reason} }
	if token == "" {
		return deny(ReasonQRInvalid), false
	}

	row, lookupErr := s.d.QRTokens.GetByHash(ctx, tokenHash)
	claims, sigErr := s.parse(token)

	switch {
	case sigErr != nil && errors.Is(sigErr, jwt.ErrTokenExpired):
		return deny(ReasonQRExpired), false
	case sigErr != nil, lookupErr != nil:
		if lookupErr != nil && !errors.Is(lookupErr, store.ErrNotFound) {
			s.d.Logger.Printf("qr token lookup failed err=%v", lookupErr)
		}
		return deny(ReasonQRInvalid), false
	case claims.Purpose != qrPurpose, claims.ID != row.JTI, claims.PersonID != row.PersonID:
		return deny(ReasonQRInvalid), false
	}

	res = types.QRValidation{JTI: row.JTI, TokenType: row.TokenType, PersonID: types.Int64Ptr(row.PersonID)}
	denyWith := func(reason string) types.QRValidation {
		res.Reason = reason
		return res
	}

	now := s.d.Clock.Now()
	switch {
	case row.RevokedAt != nil:
		return denyWith(ReasonQRRevoked), false
	case !now.Before(row.ExpiresAt):
		return denyWith(ReasonQRExpired), false
	case row.TokenType == types.QROneTime && row.UsedAt != nil:
		return denyWith(ReasonQRUsed), false
	}

	p, err := s.d.Persons.Get(ctx, row.PersonID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return denyWith(ReasonEmployeeNotFound), false
	case err != nil:
		s.d.Logger.Printf("qr person lookup failed person=%d err=%v", row.PersonID, err)
		return denyWith(ReasonEmployeeNotFound), false
	case !p.IsActive:
		return denyWith(ReasonEmployeeInactive), false
	}

	st, err := s.d.States.Get(ctx, row.PersonID, s.d.ExternalSystem)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return denyWith(ReasonStateMissing), false
	case err != nil:
		s.d.Logger.Printf("qr state lookup failed person=%d err=%v", row.PersonID, err)
		return denyWith(ReasonStateMissing), false
	case st.Status != types.AccessAllowed:
		return denyWith(stateReason(st.Status)), false
	}

	res.Allow = true
	return res, row.TokenType == types.QROneTime
}

// Revoke stamps revokedAt. Revoking twice keeps the first timestamp.
func (s *QRService) Revoke(ctx context.Context, jti, actor string) (tok types.QRToken, err error) {
	jti = strings.TrimSpace(jti)
	defer func() {
		s.d.Audit.Record(ctx, actor, "qr.revoke", "qr_token", jti, err, nil)
	}()

	if err := s.enabled(); err != nil {
		return types.QRToken{}, err
	}
	if jti == "" {
		return types.QRToken{}, fmt.Errorf("%w: jti is required", ErrValidation)
	}
	tok, err = s.d.QRTokens.Revoke(ctx, jti, s.d.Clock.Now(), func(t types.QRToken) types.SyncJob {
		return s.d.Ledger.Job(types.Int64Ptr(t.PersonID), types.OpQRRevoke, map[string]any{"jti": jti}, actor)
	})
	if errors.Is(err, store.ErrNotFound) {
		return types.QRToken{}, fmt.Errorf("%w: %s", ErrTokenNotFound, jti)
	}
	if err != nil {
		return types.QRToken{}, err
	}
	return tok, nil
}

func (s *QRService) List(ctx context.Context, f store.ListFilter) ([]types.QRToken, int, error) {
	return s.d.QRTokens.List(ctx, f)
}
