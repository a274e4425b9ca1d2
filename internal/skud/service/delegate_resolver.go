package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

const qrKeyPrefix = "qr:"

// DelegateResolver answers a turnstile's synchronous "may this key pass now"
// question. It never returns an error for a business deny.
type DelegateResolver struct {
	d  Deps
	qr *QRService
}

// NewDelegateResolver builds a resolver. qr may be nil, in which case keys
// carrying the "qr:" prefix are treated as card keys.
func NewDelegateResolver(d Deps, qr *QRService) *DelegateResolver {
	return &DelegateResolver{d: d.withDefaults(), qr: qr}
}

// Decide resolves req without a deadline.
func (r *DelegateResolver) Decide(ctx context.Context, req types.DelegateRequest) types.DelegateResponse {
	return r.resolve(ctx, req, nil)
}

// DecideWithin answers within timeout. Past it the turnstile is told
// "timeout" and that deny is what gets recorded: the resolver and the
// deadline race for a single claim, and the resolver only commits its event
// (or uses up a QR token) if it wins.
func (r *DelegateResolver) DecideWithin(ctx context.Context, req types.DelegateRequest, timeout time.Duration) types.DelegateResponse {
	if timeout <= 0 {
		return r.Decide(ctx, req)
	}
	var claimed atomic.Bool
	claim := func() bool { return claimed.CompareAndSwap(false, true) }

	result := make(chan types.DelegateResponse, 1)
	go func() { result <- r.resolve(context.WithoutCancel(ctx), req, claim) }()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case resp := <-result:
		return resp
	case <-t.C:
	case <-ctx.Done():
	}

	if !claim() {
		// The resolver is committing; its answer stands.
		return <-result
	}
	r.d.Logger.Printf("delegate timed out after=%s", timeout)
	go r.recordTimeout(context.WithoutCancel(ctx), req)
	return types.DelegateResponse{Allow: false, Message: ReasonTimeout}
}

// recordTimeout logs the deny the turnstile actually received.
func (r *DelegateResolver) recordTimeout(ctx context.Context, req types.DelegateRequest) {
	key := strings.TrimSpace(req.KeyHex.String())
	now := r.d.Clock.Now()
	ev := types.AccessEvent{
		Source:        types.EventSourceWebdel,
		EventType:     types.EventTypeDelegate,
		ExternalEmpID: strings.TrimSpace(req.EmpID.String()),
		AccessPoint:   strings.TrimSpace(req.AccessPoint.String()),
		KeyHex:        key,
		ReasonCode:    ReasonTimeout,
		EventTime:     now,
		ReceivedAt:    now,
		RawPayload:    req.Raw,
	}
	if token, ok := r.qrToken(key); ok {
		ev.Source = types.EventSourceQR
		ev.EventType = types.EventTypeQR
		ev.KeyHex = ""
		ev.TokenHash = hashToken(token)
		ev.RawPayload = nil
	}
	if req.Direction.Valid {
		ev.Direction = int(req.Direction.Value)
	}
	if err := r.d.Events.Append(ctx, ev, nil); err != nil {
		r.d.Logger.Printf("delegate timeout event write failed err=%v", err)
	}
}

// qrToken returns the token behind a "qr:" key when QR passthrough is on.
func (r *DelegateResolver) qrToken(key string) (string, bool) {
	if r.qr == nil || len(key) <= len(qrKeyPrefix) || !strings.EqualFold(key[:len(qrKeyPrefix)], qrKeyPrefix) {
		return "", false
	}
	if !r.d.Settings.Current().FeatureQR {
		return "", false
	}
	return key[len(qrKeyPrefix):], true
}

func (r *DelegateResolver) resolve(ctx context.Context, req types.DelegateRequest, gate store.CommitGate) types.DelegateResponse {
	key := strings.TrimSpace(req.KeyHex.String())

	if token, ok := r.qrToken(key); ok {
		return r.decideQR(ctx, token, req, gate)
	}

	empID := strings.TrimSpace(req.EmpID.String())
	normalized := types.NormalizeCardNumber(key)
	personID, reason, message := r.decide(ctx, empID, normalized)

	resp := types.DelegateResponse{Allow: reason == ""}
	if !resp.Allow {
		resp.Message = reason
	}

	now := r.d.Clock.Now()
	ev := types.AccessEvent{
		Source:          types.EventSourceWebdel,
		EventType:       types.EventTypeDelegate,
		PersonID:        personID,
		ExternalEmpID:   empID,
		AccessPoint:     strings.TrimSpace(req.AccessPoint.String()),
		KeyHex:          key,
		Allow:           resp.Allow,
		ReasonCode:      reason,
		DecisionMessage: message,
		EventTime:       now,
		ReceivedAt:      now,
		RawPayload:      req.Raw,
	}
	if req.Direction.Valid {
		ev.Direction = int(req.Direction.Value)
	}
	// The decision must be on record before the turnstile opens.
	if err := r.d.Events.Append(context.WithoutCancel(ctx), ev, gate); err != nil {
		if errors.Is(err, store.ErrAbandoned) {
			return types.DelegateResponse{Allow: false, Message: ReasonTimeout}
		}
		r.d.Logger.Printf("delegate event write failed emp=%q err=%v", empID, err)
		return types.DelegateResponse{Allow: false, Message: ReasonAuditUnavailable}
	}

	if normalized != "" && personID != nil {
		if err := r.d.Cards.TouchLastSeen(ctx, r.d.ExternalSystem, []string{normalized}, now); err != nil {
			r.d.Logger.Printf("card last seen update failed err=%v", err)
		}
	}
	return resp
}

// decide returns the resolved person and, for a deny, the reason code and
// the stored reason text.
func (r *DelegateResolver) decide(ctx context.Context, empID, normalized string) (*int64, string, string) {
	var personID *int64

	if empID != "" {
		ids, err := r.d.Bindings.ResolveExternalIDs(ctx, r.d.ExternalSystem, []string{empID})
		if err != nil {
			r.d.Logger.Printf("delegate binding lookup failed err=%v", err)
		} else if pid, ok := ids[empID]; ok {
			personID = types.Int64Ptr(pid)
		}
	}
	if personID == nil && normalized != "" {
		ids, err := r.d.Cards.ResolveActiveNumbers(ctx, r.d.ExternalSystem, []string{normalized})
		if err != nil {
			r.d.Logger.Printf("delegate card lookup failed err=%v", err)
		} else if pid, ok := ids[normalized]; ok {
			personID = types.Int64Ptr(pid)
		}
	}
	if personID == nil {
		return nil, ReasonEmployeeNotFound, ""
	}

	st, err := r.d.States.Get(ctx, *personID, r.d.ExternalSystem)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return personID, ReasonStateMissing, ""
	case err != nil:
		r.d.Logger.Printf("delegate state lookup failed person=%d err=%v", *personID, err)
		return personID, ReasonStateMissing, ""
	case st.Status != types.AccessAllowed:
		msg := st.StatusReason
		if msg == "" {
			msg = st.ReasonCode
		}
		return personID, stateReason(st.Status), msg
	}
	return personID, "", ""
}

// decideQR routes a QR code scanned at a turnstile through QR validation.
// The attempt is recorded once, by the QR service, with the token hash.
func (r *DelegateResolver) decideQR(ctx context.Context, token string, req types.DelegateRequest, gate store.CommitGate) types.DelegateResponse {
	vreq := types.QRValidateRequest{
		Token:       token,
		AccessPoint: strings.TrimSpace(req.AccessPoint.String()),
	}
	if req.Direction.Valid {
		vreq.Direction = int(req.Direction.Value)
	}
	res, err := r.qr.validate(ctx, vreq, gate)
	if errors.Is(err, store.ErrAbandoned) {
		return types.DelegateResponse{Allow: false, Message: ReasonTimeout}
	}
	if err != nil {
		r.d.Logger.Printf("delegate qr validation failed err=%v", err)
		return types.DelegateResponse{Allow: false, Message: res.Reason}
	}
	if res.Allow {
		return types.DelegateResponse{Allow: true}
	}
	return types.DelegateResponse{Allow: false, Message: res.Reason}
}
