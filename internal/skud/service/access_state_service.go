package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

const defaultBatchConcurrency = 4

// AccessService owns the per-person access state machine.
type AccessService struct {
	d          Deps
	batchLimit int
}

func NewAccessService(d Deps, batchConcurrency int) *AccessService {
	if batchConcurrency <= 0 {
		batchConcurrency = defaultBatchConcurrency
	}
	return &AccessService{d: d.withDefaults(), batchLimit: batchConcurrency}
}

func (s *AccessService) Grant(ctx context.Context, personID int64, req types.AccessMutationRequest, actor string) (types.AccessState, error) {
	return s.mutate(ctx, personID, types.AccessAllowed, types.OpGrant, req, actor)
}

func (s *AccessService) Block(ctx context.Context, personID int64, req types.AccessMutationRequest, actor string) (types.AccessState, error) {
	return s.mutate(ctx, personID, types.AccessBlocked, types.OpBlock, req, actor)
}

func (s *AccessService) Revoke(ctx context.Context, personID int64, req types.AccessMutationRequest, actor string) (types.AccessState, error) {
	return s.mutate(ctx, personID, types.AccessRevoked, types.OpRevoke, req, actor)
}

// Remove marks the person logically deleted and deactivates their binding.
func (s *AccessService) Remove(ctx context.Context, personID int64, req types.AccessMutationRequest, actor string) (types.AccessState, error) {
	return s.mutate(ctx, personID, types.AccessDeleted, types.OpDelete, req, actor)
}

// systemBlockGuard rejects lifting a compliance block through a grant. Every
// other transition is allowed.
func systemBlockGuard(target types.AccessStatus) func(*types.AccessState) error {
	return func(cur *types.AccessState) error {
		if target == types.AccessAllowed && cur != nil && cur.SystemBlocked() {
			return fmt.Errorf("%w: reason code %q", ErrSystemBlockConflict, cur.ReasonCode)
		}
		return nil
	}
}

func (s *AccessService) mutate(
	ctx context.Context,
	personID int64,
	target types.AccessStatus,
	op string,
	req types.AccessMutationRequest,
	actor string,
) (st types.AccessState, err error) {
	target64 := strconv.FormatInt(personID, 10)
	defer func() {
		s.d.Audit.Record(ctx, actor, "access."+op, "person", target64, err, map[string]any{
			"status": string(target), "reasonCode": req.ReasonCode,
		})
	}()

	if personID <= 0 {
		return types.AccessState{}, fmt.Errorf("%w: personId must be positive", ErrValidation)
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = types.SourceManual
	}
	if source != types.SourceManual && source != types.SourceSystem {
		return types.AccessState{}, fmt.Errorf("%w: unsupported source %q", ErrValidation, source)
	}
	if err := s.requirePerson(ctx, personID); err != nil {
		return types.AccessState{}, err
	}

	empID := strings.TrimSpace(req.ExternalEmpID)
	now := s.d.Clock.Now()
	m := store.AccessStateMutation{
		PersonID:       personID,
		ExternalSystem: s.d.ExternalSystem,
		Status:         target,
		StatusReason:   strings.TrimSpace(req.Reason),
		ReasonCode:     strings.ToLower(strings.TrimSpace(req.ReasonCode)),
		Source:         source,
		ChangedBy:      actor,
		Metadata:       req.Metadata,
		At:             now,
		Guard:          systemBlockGuard(target),
		Unbind:         target == types.AccessDeleted,
		Job: func(prev *types.AccessState, cur types.AccessState) types.SyncJob {
			payload := map[string]any{
				"status":       string(target),
				"statusReason": cur.StatusReason,
				"reasonCode":   cur.ReasonCode,
				"source":       source,
			}
			if empID != "" {
				payload["externalEmpId"] = empID
			}
			if prev != nil {
				payload["previousStatus"] = string(prev.Status)
			}
			return s.d.Ledger.Job(types.Int64Ptr(personID), op, payload, actor)
		},
	}
	// The binding is written in the same unit as the row, so a rejected
	// grant leaves no trace besides the audit row.
	if target == types.AccessAllowed {
		m.BindEmpID = empID
	}

	change, err := s.d.States.Apply(ctx, m)
	if errors.Is(err, store.ErrDuplicate) {
		return types.AccessState{}, fmt.Errorf("%w: %v", ErrBindingConflict, err)
	}
	if err != nil {
		return types.AccessState{}, err
	}

	var from *types.AccessStatus
	if change.Previous != nil {
		prev := change.Previous.Status
		from = &prev
	}
	s.d.Notifier.Notify(ctx, types.StateChange{
		PersonID:       personID,
		ExternalSystem: s.d.ExternalSystem,
		From:           from,
		To:             target,
		ReasonCode:     change.Current.ReasonCode,
		ChangedBy:      actor,
		At:             now,
	})
	return change.Current, nil
}

func (s *AccessService) requirePerson(ctx context.Context, personID int64) error {
	if _, err := s.d.Persons.Get(ctx, personID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrPersonNotFound, personID)
		}
		return err
	}
	return nil
}

// Get returns everything SKUD knows about one person.
func (s *AccessService) Get(ctx context.Context, personID int64) (types.PersonAccess, error) {
	p, err := s.d.Persons.Get(ctx, personID)
	if errors.Is(err, store.ErrNotFound) {
		return types.PersonAccess{}, fmt.Errorf("%w: %d", ErrPersonNotFound, personID)
	}
	if err != nil {
		return types.PersonAccess{}, err
	}
	out := types.PersonAccess{Person: p}

	st, err := s.d.States.Get(ctx, personID, s.d.ExternalSystem)
	switch {
	case err == nil:
		out.State = &st
	case !errors.Is(err, store.ErrNotFound):
		return types.PersonAccess{}, err
	}

	b, err := s.d.Bindings.GetActive(ctx, personID, s.d.ExternalSystem)
	switch {
	case err == nil:
		out.Binding = &b
	case !errors.Is(err, store.ErrNotFound):
		return types.PersonAccess{}, err
	}

	cards, err := s.d.Cards.ListByPerson(ctx, s.d.ExternalSystem, personID)
	if err != nil {
		return types.PersonAccess{}, err
	}
	out.Cards = cards
	return out, nil
}

func (s *AccessService) List(ctx context.Context, f store.ListFilter) ([]types.AccessState, int, error) {
	if f.ExternalSystem == "" {
		f.ExternalSystem = s.d.ExternalSystem
	}
	return s.d.States.List(ctx, f)
}

// BatchMutate applies one action to many persons with bounded concurrency.
// Items fail independently; the report keeps the order of the request.
func (s *AccessService) BatchMutate(ctx context.Context, req types.BatchMutationRequest, actor string) (types.BatchReport, error) {
	var op func(context.Context, int64, types.AccessMutationRequest, string) (types.AccessState, error)
	switch req.Action {
	case types.BatchGrant:
		op = s.Grant
	case types.BatchBlock:
		op = s.Block
	case types.BatchRevoke:
		op = s.Revoke
	case types.BatchDelete:
		op = s.Remove
	default:
		return types.BatchReport{}, fmt.Errorf("%w: unsupported action %q", ErrValidation, req.Action)
	}
	if len(req.PersonIDs) == 0 {
		return types.BatchReport{}, fmt.Errorf("%w: personIds is empty", ErrValidation)
	}

	item := types.AccessMutationRequest{
		Reason:     req.Reason,
		ReasonCode: req.ReasonCode,
		Source:     req.Source,
		Metadata:   req.Metadata,
	}

	results := make([]types.BatchItemResult, len(req.PersonIDs))
	var g errgroup.Group
	g.SetLimit(s.batchLimit)
	for i, pid := range req.PersonIDs {
		g.Go(func() error {
			st, err := op(ctx, pid, item, actor)
			if err != nil {
				results[i] = types.BatchItemResult{PersonID: pid, Error: err.Error(), Code: ErrorCode(err)}
				return nil
			}
			results[i] = types.BatchItemResult{PersonID: pid, OK: true, State: &st}
			return nil
		})
	}
	_ = g.Wait()

	report := types.BatchReport{Action: req.Action, Items: results}
	for _, r := range results {
		if r.OK {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report, nil
}
