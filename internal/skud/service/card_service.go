package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// CardService owns card registration and the card status lifecycle.
type CardService struct {
	d Deps
}

func NewCardService(d Deps) *CardService {
	return &CardService{d: d.withDefaults()}
}

func (s *CardService) enabled() error {
	if !s.d.Settings.Current().FeatureCards {
		return fmt.Errorf("%w: cards", ErrFeatureDisabled)
	}
	return nil
}

func (s *CardService) Register(ctx context.Context, req types.CardRegisterRequest, actor string) (view types.CardView, err error) {
	normalized := types.NormalizeCardNumber(req.CardNumber)
	defer func() {
		s.d.Audit.Record(ctx, actor, "card.register", "card", normalized, err, nil)
	}()

	if err := s.enabled(); err != nil {
		return types.CardView{}, err
	}
	if normalized == "" {
		return types.CardView{}, fmt.Errorf("%w: cardNumber has no alphanumeric characters", ErrValidation)
	}
	if req.PersonID != nil {
		if _, err := s.person(ctx, *req.PersonID); err != nil {
			return types.CardView{}, err
		}
	}
	cardType := strings.TrimSpace(req.CardType)
	if cardType == "" {
		cardType = types.DefaultCardType
	}
	status := types.CardUnbound
	if req.PersonID != nil {
		status = types.CardActive
	}

	now := s.d.Clock.Now()
	card := types.Card{
		ID:                   uuid.NewString(),
		ExternalSystem:       s.d.ExternalSystem,
		CardNumber:           strings.TrimSpace(req.CardNumber),
		CardNumberNormalized: normalized,
		ExternalCardID:       strings.TrimSpace(req.ExternalCardID),
		CardType:             cardType,
		Status:               status,
		PersonID:             req.PersonID,
		IssuedAt:             now,
		Notes:                req.Notes,
		Metadata:             req.Metadata,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	job := s.job(card, types.OpCardRegister, nil, "", actor)
	c, err := s.d.Cards.Create(ctx, card, &job)
	if errors.Is(err, store.ErrDuplicate) {
		return types.CardView{}, fmt.Errorf("%w: %s", ErrDuplicateCard, normalized)
	}
	if err != nil {
		return types.CardView{}, err
	}
	return s.view(ctx, c), nil
}

func (s *CardService) Get(ctx context.Context, cardOrID string) (types.CardView, error) {
	c, err := s.resolve(ctx, cardOrID)
	if err != nil {
		return types.CardView{}, err
	}
	return s.view(ctx, c), nil
}

func (s *CardService) List(ctx context.Context, f store.ListFilter) ([]types.Card, int, error) {
	if f.ExternalSystem == "" {
		f.ExternalSystem = s.d.ExternalSystem
	}
	return s.d.Cards.List(ctx, f)
}

// Bind attaches the card to a person and activates it.
func (s *CardService) Bind(ctx context.Context, cardOrID string, req types.CardBindRequest, actor string) (types.CardView, error) {
	precheck := func() error {
		_, err := s.person(ctx, req.PersonID)
		return err
	}
	return s.transition(ctx, cardOrID, types.OpCardBind, "", actor, precheck, func(c *types.Card) error {
		if c.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrTerminalCardStatus, c.Status)
		}
		c.PersonID = types.Int64Ptr(req.PersonID)
		c.Status = types.CardActive
		c.BlockedAt = nil
		if n := strings.TrimSpace(req.Notes); n != "" {
			c.Notes = n
		}
		return nil
	})
}

// Unbind detaches the card. Terminal statuses are preserved.
func (s *CardService) Unbind(ctx context.Context, cardOrID, reason, actor string) (types.CardView, error) {
	return s.transition(ctx, cardOrID, types.OpCardUnbind, reason, actor, nil, func(c *types.Card) error {
		c.PersonID = nil
		if !c.Status.Terminal() {
			c.Status = types.CardUnbound
		}
		return nil
	})
}

func (s *CardService) Block(ctx context.Context, cardOrID, reason, actor string) (types.CardView, error) {
	return s.transition(ctx, cardOrID, types.OpCardBlock, reason, actor, nil, func(c *types.Card) error {
		if c.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrTerminalCardStatus, c.Status)
		}
		c.Status = types.CardBlocked
		c.BlockedAt = types.TimePtr(s.d.Clock.Now())
		return nil
	})
}

// Allow restores a card to active, or unbound when no person is attached.
func (s *CardService) Allow(ctx context.Context, cardOrID, reason, actor string) (types.CardView, error) {
	return s.transition(ctx, cardOrID, types.OpCardAllow, reason, actor, nil, func(c *types.Card) error {
		if c.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrTerminalCardStatus, c.Status)
		}
		if c.PersonID != nil {
			c.Status = types.CardActive
		} else {
			c.Status = types.CardUnbound
		}
		c.BlockedAt = nil
		return nil
	})
}

// MarkLost takes a card out of circulation for good. The person link is
// kept for the record but a lost card never resolves at a turnstile.
func (s *CardService) MarkLost(ctx context.Context, cardOrID, reason, actor string) (types.CardView, error) {
	return s.transition(ctx, cardOrID, types.OpCardLost, reason, actor, nil, func(c *types.Card) error {
		if c.Status.Terminal() {
			return fmt.Errorf("%w: %s", ErrTerminalCardStatus, c.Status)
		}
		c.Status = types.CardLost
		c.BlockedAt = types.TimePtr(s.d.Clock.Now())
		return nil
	})
}

// Revoke decommissions a card. A lost card may still be revoked once found
// or written off; a revoked card is final.
func (s *CardService) Revoke(ctx context.Context, cardOrID, reason, actor string) (types.CardView, error) {
	return s.transition(ctx, cardOrID, types.OpCardRevoke, reason, actor, nil, func(c *types.Card) error {
		if c.Status == types.CardRevoked {
			return fmt.Errorf("%w: %s", ErrTerminalCardStatus, c.Status)
		}
		c.Status = types.CardRevoked
		if c.BlockedAt == nil {
			c.BlockedAt = types.TimePtr(s.d.Clock.Now())
		}
		return nil
	})
}

func (s *CardService) transition(
	ctx context.Context,
	cardOrID, op, reason, actor string,
	precheck func() error,
	fn func(c *types.Card) error,
) (view types.CardView, err error) {
	target := strings.TrimSpace(cardOrID)
	defer func() {
		s.d.Audit.Record(ctx, actor, "card."+op, "card", target, err, map[string]any{"reason": reason})
	}()

	if err := s.enabled(); err != nil {
		return types.CardView{}, err
	}
	cur, err := s.resolve(ctx, cardOrID)
	if err != nil {
		return types.CardView{}, err
	}
	target = cur.ID
	if precheck != nil {
		if err := precheck(); err != nil {
			return types.CardView{}, err
		}
	}

	// fn runs inside the store's write transaction and must not touch
	// other stores.
	updated, err := s.d.Cards.Update(ctx, cur.ID, func(c *types.Card) error {
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = s.d.Clock.Now()
		return nil
	}, func(before, after types.Card) types.SyncJob {
		return s.job(after, op, before.PersonID, reason, actor)
	})
	if errors.Is(err, store.ErrNotFound) {
		return types.CardView{}, fmt.Errorf("%w: %s", ErrCardNotFound, cardOrID)
	}
	if err != nil {
		return types.CardView{}, err
	}
	return s.view(ctx, updated), nil
}

// job builds the ledger entry for a card change. It is keyed by the card's
// person, or the person it was just detached from.
func (s *CardService) job(c types.Card, op string, previous *int64, reason, actor string) types.SyncJob {
	personID := c.PersonID
	if personID == nil {
		personID = previous
	}
	payload := map[string]any{
		"cardId":               c.ID,
		"cardNumberNormalized": c.CardNumberNormalized,
		"status":               string(c.Status),
	}
	if c.ExternalCardID != "" {
		payload["externalCardId"] = c.ExternalCardID
	}
	if reason != "" {
		payload["reason"] = reason
	}
	return s.d.Ledger.Job(personID, op, payload, actor)
}

func (s *CardService) view(ctx context.Context, c types.Card) types.CardView {
	v := types.CardView{Card: c}
	if c.PersonID != nil {
		if p, err := s.d.Persons.Get(ctx, *c.PersonID); err == nil {
			v.Person = &p
		}
	}
	return v
}

// resolve accepts a card id or a card number in any formatting.
func (s *CardService) resolve(ctx context.Context, cardOrID string) (types.Card, error) {
	key := strings.TrimSpace(cardOrID)
	if key == "" {
		return types.Card{}, fmt.Errorf("%w: card id is required", ErrValidation)
	}
	c, err := s.d.Cards.Get(ctx, key)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.Card{}, err
	}
	if n := types.NormalizeCardNumber(key); n != "" {
		c, err = s.d.Cards.GetByNumber(ctx, s.d.ExternalSystem, n)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return types.Card{}, err
		}
	}
	return types.Card{}, fmt.Errorf("%w: %s", ErrCardNotFound, key)
}

func (s *CardService) person(ctx context.Context, personID int64) (types.Person, error) {
	if personID <= 0 {
		return types.Person{}, fmt.Errorf("%w: personId must be positive", ErrValidation)
	}
	p, err := s.d.Persons.Get(ctx, personID)
	if errors.Is(err, store.ErrNotFound) {
		return types.Person{}, fmt.Errorf("%w: %d", ErrPersonNotFound, personID)
	}
	return p, err
}
