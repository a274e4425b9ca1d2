package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

func TestGrant_TwiceKeepsOneAllowedRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.access.Grant(ctx, p1, types.AccessMutationRequest{Reason: "onboarding"}, "alice")
	require.NoError(t, err)
	st, err := h.access.Grant(ctx, p1, types.AccessMutationRequest{Reason: "onboarding"}, "alice")
	require.NoError(t, err)

	assert.Equal(t, types.AccessAllowed, st.Status)
	items, total, err := h.states.List(ctx, store.ListFilter{PersonID: types.Int64Ptr(p1)})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, types.AccessAllowed, items[0].Status)

	jobs := h.jobs.Jobs()
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, types.OpGrant, j.Operation)
		assert.Equal(t, types.SyncPending, j.Status)
		assert.Equal(t, p1, *j.PersonID)
	}
	assert.Len(t, h.notifier.Changes(), 2)
}

func TestGrant_SystemBlockConflictLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.access.Block(ctx, p1, types.AccessMutationRequest{
		Reason: "sanctions list", ReasonCode: "RKL", Source: types.SourceSystem,
	}, "compliance")
	require.NoError(t, err)

	_, err = h.access.Grant(ctx, p1, types.AccessMutationRequest{ExternalEmpID: "E-1"}, "alice")
	require.ErrorIs(t, err, service.ErrSystemBlockConflict)
	assert.Equal(t, "system_block_conflict", service.ErrorCode(err))

	st, err := h.states.Get(ctx, p1, "sigur")
	require.NoError(t, err)
	assert.Equal(t, types.AccessBlocked, st.Status)
	assert.Equal(t, types.ReasonCodeRKL, st.ReasonCode)

	_, err = h.bindings.GetActive(ctx, p1, "sigur")
	assert.ErrorIs(t, err, store.ErrNotFound, "rejected grant must not bind")
	assert.Len(t, h.jobs.Jobs(), 1)

	entries := h.audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "error", entries[1].Outcome)
}

func TestBlock_ManualBlockCanBeLifted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.access.Block(ctx, p1, types.AccessMutationRequest{ReasonCode: "late"}, "alice")
	require.NoError(t, err)
	st, err := h.access.Grant(ctx, p1, types.AccessMutationRequest{}, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.AccessAllowed, st.Status)
	assert.Empty(t, st.ReasonCode)
}

func TestRevoke_SystemBlockedPersonAllowed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.access.Block(ctx, p1, types.AccessMutationRequest{ReasonCode: types.ReasonCodeDocumentExpired}, "sys")
	require.NoError(t, err)
	st, err := h.access.Revoke(ctx, p1, types.AccessMutationRequest{Reason: "left"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.AccessRevoked, st.Status)
}

func TestGrant_UnknownPerson(t *testing.T) {
	h := newHarness(t)

	_, err := h.access.Grant(context.Background(), 404, types.AccessMutationRequest{}, "alice")
	require.ErrorIs(t, err, service.ErrPersonNotFound)
	assert.Empty(t, h.jobs.Jobs())
}

func TestGrant_BindsAndRemoveDeactivates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.access.Grant(ctx, p1, types.AccessMutationRequest{ExternalEmpID: "E-100"}, "alice")
	require.NoError(t, err)

	pa, err := h.access.Get(ctx, p1)
	require.NoError(t, err)
	require.NotNil(t, pa.Binding)
	assert.Equal(t, "E-100", pa.Binding.ExternalEmpID)

	_, err = h.access.Grant(ctx, p2, types.AccessMutationRequest{ExternalEmpID: "E-100"}, "alice")
	require.ErrorIs(t, err, service.ErrBindingConflict)

	st, err := h.access.Remove(ctx, p1, types.AccessMutationRequest{Reason: "offboarded"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.AccessDeleted, st.Status)

	pa, err = h.access.Get(ctx, p1)
	require.NoError(t, err)
	assert.Nil(t, pa.Binding)
	require.NotNil(t, pa.State)
	assert.Equal(t, types.AccessDeleted, pa.State.Status)
}

func TestGrant_LedgerFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.jobs.Fail(errors.New("disk full"))
	_, err := h.access.Grant(ctx, p1, types.AccessMutationRequest{ExternalEmpID: "E-7"}, "alice")
	require.Error(t, err)

	_, err = h.states.Get(ctx, p1, "sigur")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.bindings.GetActive(ctx, p1, "sigur")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.notifier.Changes())
	assert.Empty(t, h.jobs.Jobs())
}

func TestRemove_LedgerFailureKeepsBinding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.access.Grant(ctx, p1, types.AccessMutationRequest{ExternalEmpID: "E-8"}, "alice")
	require.NoError(t, err)

	h.jobs.Fail(errors.New("disk full"))
	_, err = h.access.Remove(ctx, p1, types.AccessMutationRequest{}, "alice")
	require.Error(t, err)

	st, err := h.states.Get(ctx, p1, "sigur")
	require.NoError(t, err)
	assert.Equal(t, types.AccessAllowed, st.Status)
	b, err := h.bindings.GetActive(ctx, p1, "sigur")
	require.NoError(t, err)
	assert.Equal(t, "E-8", b.ExternalEmpID)
	assert.Len(t, h.notifier.Changes(), 1)
}

func TestBatchMutate_PerItemResultsInRequestOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.access.Block(ctx, p2, types.AccessMutationRequest{ReasonCode: types.ReasonCodeRKL}, "sys")
	require.NoError(t, err)

	report, err := h.access.BatchMutate(ctx, types.BatchMutationRequest{
		PersonIDs: []int64{p1, 404, p2, p3},
		Action:    types.BatchGrant,
		Reason:    "bulk",
	}, "alice")
	require.NoError(t, err)

	require.Len(t, report.Items, 4)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.Failed)

	want := []struct {
		id   int64
		ok   bool
		code string
	}{
		{p1, true, ""},
		{404, false, "person_not_found"},
		{p2, false, "system_block_conflict"},
		{p3, true, ""},
	}
	for i, w := range want {
		assert.Equal(t, w.id, report.Items[i].PersonID)
		assert.Equal(t, w.ok, report.Items[i].OK)
		assert.Equal(t, w.code, report.Items[i].Code)
	}
}

func TestBatchMutate_RejectsUnknownAction(t *testing.T) {
	h := newHarness(t)

	_, err := h.access.BatchMutate(context.Background(), types.BatchMutationRequest{
		PersonIDs: []int64{p1}, Action: "promote",
	}, "alice")
	require.ErrorIs(t, err, service.ErrValidation)
}
