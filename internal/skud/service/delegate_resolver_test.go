package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store/memory"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

func TestDelegate_EndToEndCardScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.cardSvc.Register(ctx, types.CardRegisterRequest{CardNumber: "AB-123"}, "alice")
	require.NoError(t, err)
	require.Equal(t, types.CardUnbound, v.Card.Status)

	_, err = h.cardSvc.Bind(ctx, v.Card.ID, types.CardBindRequest{PersonID: p1}, "alice")
	require.NoError(t, err)

	resp := h.delegate.Decide(ctx, delegateReq("", "AB123"))
	assert.False(t, resp.Allow)
	assert.Equal(t, service.ReasonStateMissing, resp.Message)

	_, err = h.access.Grant(ctx, p1, types.AccessMutationRequest{}, "alice")
	require.NoError(t, err)

	resp = h.delegate.Decide(ctx, delegateReq("", "AB123"))
	assert.True(t, resp.Allow)
	assert.Empty(t, resp.Message)

	events := h.events.Events()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, types.EventSourceWebdel, ev.Source)
		assert.Equal(t, types.EventTypeDelegate, ev.EventType)
		require.NotNil(t, ev.PersonID)
		assert.Equal(t, p1, *ev.PersonID)
		assert.Contains(t, string(ev.RawPayload), `"keyHex":"AB123"`)
	}
	assert.False(t, events[0].Allow)
	assert.True(t, events[1].Allow)

	c, err := h.cards.Get(ctx, v.Card.ID)
	require.NoError(t, err)
	assert.NotNil(t, c.LastSeenAt)
}

func TestDelegate_BindingWinsOverCard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.access.Grant(ctx, p1, types.AccessMutationRequest{ExternalEmpID: "E-1"}, "alice")
	require.NoError(t, err)
	_, err = h.access.Block(ctx, p2, types.AccessMutationRequest{Reason: "visitor expired"}, "alice")
	require.NoError(t, err)
	_, err = h.cardSvc.Register(ctx, types.CardRegisterRequest{CardNumber: "K-2", PersonID: types.Int64Ptr(p2)}, "alice")
	require.NoError(t, err)

	resp := h.delegate.Decide(ctx, delegateReq("E-1", "K2"))
	assert.True(t, resp.Allow)

	resp = h.delegate.Decide(ctx, delegateReq("", "K2"))
	assert.False(t, resp.Allow)
	assert.Equal(t, "state_blocked", resp.Message)

	events := h.events.Events()
	assert.Equal(t, "visitor expired", events[len(events)-1].DecisionMessage)
}

func TestDelegate_UnknownEmployee(t *testing.T) {
	h := newHarness(t)

	resp := h.delegate.Decide(context.Background(), delegateReq("ghost", "FFFF"))
	assert.False(t, resp.Allow)
	assert.Equal(t, service.ReasonEmployeeNotFound, resp.Message)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].PersonID)
	assert.Equal(t, "ghost", events[0].ExternalEmpID)
}

func TestDelegate_InactiveCardDoesNotResolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	grantP1(t, h)

	_, err := h.cardSvc.Register(ctx, types.CardRegisterRequest{CardNumber: "B-7", PersonID: types.Int64Ptr(p1)}, "alice")
	require.NoError(t, err)
	_, err = h.cardSvc.Block(ctx, "B7", "", "alice")
	require.NoError(t, err)

	resp := h.delegate.Decide(ctx, delegateReq("", "b7"))
	assert.False(t, resp.Allow)
	assert.Equal(t, service.ReasonEmployeeNotFound, resp.Message)
}

func TestDelegate_QRPassthrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	grantP1(t, h)

	issued, err := h.qr.Issue(ctx, types.QRIssueRequest{PersonID: p1}, "alice")
	require.NoError(t, err)

	resp := h.delegate.Decide(ctx, delegateReq("", "qr:"+issued.Token))
	assert.True(t, resp.Allow)
	resp = h.delegate.Decide(ctx, delegateReq("", "QR:"+issued.Token))
	assert.False(t, resp.Allow)
	assert.Equal(t, service.ReasonQRUsed, resp.Message)

	for _, ev := range h.events.Events() {
		assert.Equal(t, types.EventSourceQR, ev.Source)
		assert.NotContains(t, string(ev.RawPayload), issued.Token)
		assert.NotContains(t, ev.KeyHex, issued.Token)
	}
}

// slowEvents holds every append past the delegate deadline.
type slowEvents struct {
	*memory.AccessEventStore
	delay    time.Duration
	finished *atomic.Int32
}

func (s slowEvents) Append(ctx context.Context, ev types.AccessEvent, gate store.CommitGate) error {
	defer s.finished.Add(1)
	time.Sleep(s.delay)
	return s.AccessEventStore.Append(ctx, ev, gate)
}

// slowConsume holds one-time token consumption past the delegate deadline.
type slowConsume struct {
	*memory.QRTokenStore
	delay    time.Duration
	finished *atomic.Int32
}

func (s slowConsume) Consume(ctx context.Context, jti string, at time.Time, ev types.AccessEvent, gate store.CommitGate) (bool, error) {
	defer s.finished.Add(1)
	time.Sleep(s.delay)
	return s.QRTokenStore.Consume(ctx, jti, at, ev, gate)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}

func TestDelegateWithin_TimeoutRecordsOnlyTheTimeoutDeny(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.access.Grant(ctx, p1, types.AccessMutationRequest{ExternalEmpID: "E-1"}, "alice")
	require.NoError(t, err)

	slow := slowEvents{AccessEventStore: h.events, delay: 200 * time.Millisecond, finished: new(atomic.Int32)}
	deps := h.deps
	deps.Events = slow
	r := service.NewDelegateResolver(deps, nil)

	resp := r.DecideWithin(ctx, delegateReq("E-1", ""), 20*time.Millisecond)
	assert.Equal(t, types.DelegateResponse{Allow: false, Message: service.ReasonTimeout}, resp)

	waitFor(t, func() bool { return slow.finished.Load() == 2 })
	events := h.events.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Allow)
	assert.Equal(t, service.ReasonTimeout, events[0].ReasonCode)
	assert.Equal(t, "E-1", events[0].ExternalEmpID)
}

func TestDelegateWithin_FastAnswerStands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.access.Grant(ctx, p1, types.AccessMutationRequest{ExternalEmpID: "E-1"}, "alice")
	require.NoError(t, err)

	resp := h.delegate.DecideWithin(ctx, delegateReq("E-1", ""), time.Second)
	assert.True(t, resp.Allow)
	events := h.events.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Allow)
}

func TestDelegateWithin_TimeoutKeepsOneTimeQRToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	grantP1(t, h)

	issued, err := h.qr.Issue(ctx, types.QRIssueRequest{PersonID: p1, TokenType: "one_time"}, "alice")
	require.NoError(t, err)

	slow := slowConsume{QRTokenStore: h.qrTokens, delay: 200 * time.Millisecond, finished: new(atomic.Int32)}
	deps := h.deps
	deps.QRTokens = slow
	qr, err := service.NewQRService(deps, service.QRConfig{SigningKey: []byte("test-signing-key-0123456789abcdef")})
	require.NoError(t, err)
	r := service.NewDelegateResolver(deps, qr)

	resp := r.DecideWithin(ctx, delegateReq("", "qr:"+issued.Token), 20*time.Millisecond)
	assert.Equal(t, service.ReasonTimeout, resp.Message)
	assert.False(t, resp.Allow)

	waitFor(t, func() bool { return slow.finished.Load() == 1 && len(h.events.Events()) == 1 })
	tok, err := h.qrTokens.Get(ctx, issued.JTI)
	require.NoError(t, err)
	assert.Nil(t, tok.UsedAt, "a timed-out delegate must not use the token up")

	ev := h.events.Events()[0]
	assert.Equal(t, types.EventSourceQR, ev.Source)
	assert.Equal(t, service.ReasonTimeout, ev.ReasonCode)
	assert.Equal(t, tok.TokenHash, ev.TokenHash)
	assert.Empty(t, ev.KeyHex)
	assert.Empty(t, ev.RawPayload)

	again := h.delegate.Decide(ctx, delegateReq("", "qr:"+issued.Token))
	assert.True(t, again.Allow)
}
