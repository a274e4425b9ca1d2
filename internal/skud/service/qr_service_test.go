package service_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

func grantP1(t *testing.T, h *harness) {
	t.Helper()
	_, err := h.access.Grant(context.Background(), p1, types.AccessMutationRequest{}, "alice")
	require.NoError(t, err)
}

func TestQR_OneTimeTokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	grantP1(t, h)

	issued, err := h.qr.Issue(ctx, types.QRIssueRequest{PersonID: p1, TokenType: "one_time", TTLSeconds: 60}, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.QROneTime, issued.TokenType)

	first, err := h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
	require.NoError(t, err)
	assert.True(t, first.Allow)
	assert.Equal(t, issued.JTI, first.JTI)

	second, err := h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
	require.NoError(t, err)
	assert.False(t, second.Allow)
	assert.Equal(t, service.ReasonQRUsed, second.Reason)

	events := h.events.Events()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, types.EventSourceQR, ev.Source)
		assert.NotEmpty(t, ev.TokenHash)
		assert.NotContains(t, ev.TokenHash, issued.Token)
	}

	tok, err := h.qrTokens.Get(ctx, issued.JTI)
	require.NoError(t, err)
	assert.NotEqual(t, issued.Token, tok.TokenHash)
}

func TestQR_ConcurrentValidationHasOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	grantP1(t, h)

	issued, err := h.qr.Issue(ctx, types.QRIssueRequest{PersonID: p1}, "alice")
	require.NoError(t, err)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
			if err == nil && res.Allow {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), allowed.Load())
}

func TestQR_PersistentTokenReusable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	grantP1(t, h)

	issued, err := h.qr.Issue(ctx, types.QRIssueRequest{PersonID: p1, TokenType: "persistent"}, "alice")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		res, err := h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
		require.NoError(t, err)
		assert.True(t, res.Allow)
	}
}

func TestQR_Expiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	grantP1(t, h)

	issued, err := h.qr.Issue(ctx, types.QRIssueRequest{PersonID: p1, TTLSeconds: 1}, "alice")
	require.NoError(t, err)

	h.clock.Advance(2 * time.Second)
	res, err := h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
	require.NoError(t, err)
	assert.False(t, res.Allow)
	assert.Equal(t, service.ReasonQRExpired, res.Reason)
}

func TestQR_TTLCap(t *testing.T) {
	h := newHarness(t)

	_, err := h.qr.Issue(context.Background(), types.QRIssueRequest{PersonID: p1, TTLSeconds: 86401}, "alice")
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestQR_HugeTTLRejectedNotWrapped(t *testing.T) {
	h := newHarness(t)
	grantP1(t, h)

	for _, ttl := range []int{math.MaxInt, math.MaxInt / int(time.Second) * 2} {
		_, err := h.qr.Issue(context.Background(), types.QRIssueRequest{PersonID: p1, TTLSeconds: ttl}, "alice")
		require.ErrorIs(t, err, service.ErrValidation, "ttl %d", ttl)
	}
	_, total, err := h.qrTokens.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestQR_EventFailureLeavesOneTimeTokenUnused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	grantP1(t, h)

	issued, err := h.qr.Issue(ctx, types.QRIssueRequest{PersonID: p1, TokenType: "one_time"}, "alice")
	require.NoError(t, err)

	h.events.Fail(errors.New("disk full"))
	res, err := h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
	require.Error(t, err)
	assert.False(t, res.Allow)
	assert.Equal(t, service.ReasonAuditUnavailable, res.Reason)

	tok, err := h.qrTokens.Get(ctx, issued.JTI)
	require.NoError(t, err)
	assert.Nil(t, tok.UsedAt, "token must survive a failed audit write")

	h.events.Fail(nil)
	res, err = h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
	require.NoError(t, err)
	assert.True(t, res.Allow)
	require.Len(t, h.events.Events(), 1)
}

func TestQR_LedgerFailureIssuesNothing(t *testing.T) {
	h := newHarness(t)
	grantP1(t, h)
	jobsBefore := len(h.jobs.Jobs())

	h.jobs.Fail(errors.New("disk full"))
	_, err := h.qr.Issue(context.Background(), types.QRIssueRequest{PersonID: p1}, "alice")
	require.Error(t, err)
	_, total, err := h.qrTokens.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Len(t, h.jobs.Jobs(), jobsBefore)
}

func TestQR_DenyReasons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.qr.Validate(ctx, types.QRValidateRequest{Token: "not-a-token"})
	require.NoError(t, err)
	assert.Equal(t, service.ReasonQRInvalid, res.Reason)

	// signed with a different key
	other, err := service.NewQRService(h.deps, service.QRConfig{SigningKey: []byte("another-key")})
	require.NoError(t, err)
	forged, err := other.Issue(ctx, types.QRIssueRequest{PersonID: p1}, "mallory")
	require.NoError(t, err)
	res, err = h.qr.Validate(ctx, types.QRValidateRequest{Token: forged.Token})
	require.NoError(t, err)
	assert.Equal(t, service.ReasonQRInvalid, res.Reason)

	issued, err := h.qr.Issue(ctx, types.QRIssueRequest{PersonID: p1}, "alice")
	require.NoError(t, err)
	res, err = h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
	require.NoError(t, err)
	assert.Equal(t, service.ReasonStateMissing, res.Reason)

	_, err = h.access.Block(ctx, p1, types.AccessMutationRequest{}, "alice")
	require.NoError(t, err)
	res, err = h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
	require.NoError(t, err)
	assert.Equal(t, "state_blocked", res.Reason)

	inactive, err := h.qr.Issue(ctx, types.QRIssueRequest{PersonID: p3}, "alice")
	require.NoError(t, err)
	res, err = h.qr.Validate(ctx, types.QRValidateRequest{Token: inactive.Token})
	require.NoError(t, err)
	assert.Equal(t, service.ReasonEmployeeInactive, res.Reason)

	_, err = h.qr.Revoke(ctx, issued.JTI, "alice")
	require.NoError(t, err)
	res, err = h.qr.Validate(ctx, types.QRValidateRequest{Token: issued.Token})
	require.NoError(t, err)
	assert.Equal(t, service.ReasonQRRevoked, res.Reason)

	_, err = h.qr.Revoke(ctx, "missing", "alice")
	require.ErrorIs(t, err, service.ErrTokenNotFound)
}

func TestQR_RequiresSigningKey(t *testing.T) {
	_, err := service.NewQRService(service.Deps{}, service.QRConfig{})
	require.ErrorIs(t, err, service.ErrMissingSecret)
}
