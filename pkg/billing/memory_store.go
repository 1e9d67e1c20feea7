package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemSubscriptionStore is a mutex-guarded SubscriptionStore used in tests
// and local development. It enforces the same uniqueness rule as the SQL
// schema: at most one active locally managed row per user.
type InMemSubscriptionStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*Subscription
}

// NewInMemSubscriptionStore returns an empty in-memory store.
func NewInMemSubscriptionStore() *InMemSubscriptionStore {
	return &InMemSubscriptionStore{rows: make(map[uuid.UUID]*Subscription)}
}

func (s *InMemSubscriptionStore) ActiveByUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Subscription
	for _, row := range s.rows {
		if row.UserID != userID || row.Status != StatusActive {
			continue
		}
		if best == nil || moreAuthoritative(row, best) {
			best = row
		}
	}
	if best == nil {
		return nil, ErrSubscriptionNotFound
	}
	cp := *best
	return &cp, nil
}

// moreAuthoritative implements the deterministic duplicate pick: most
// recently updated wins, ties broken by the latest EndsAt with open-ended
// windows counting as latest.
func moreAuthoritative(a, b *Subscription) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	switch {
	case a.EndsAt == nil:
		return true
	case b.EndsAt == nil:
		return false
	default:
		return a.EndsAt.After(*b.EndsAt)
	}
}

func (s *InMemSubscriptionStore) ByPaddleID(_ context.Context, paddleID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.PaddleSubscriptionID == paddleID && paddleID != "" {
			cp := *row
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *InMemSubscriptionStore) Insert(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.IsLocallyManaged() && sub.Status == StatusActive {
		for _, row := range s.rows {
			if row.UserID == sub.UserID && row.Status == StatusActive && row.IsLocallyManaged() {
				return ErrSubscriptionExists
			}
		}
	}

	cp := *sub
	s.rows[sub.ID] = &cp
	return nil
}

func (s *InMemSubscriptionStore) Update(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	cp := *sub
	s.rows[sub.ID] = &cp
	return nil
}

func (s *InMemSubscriptionStore) UpsertByPaddleID(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, row := range s.rows {
		if row.PaddleSubscriptionID == sub.PaddleSubscriptionID && sub.PaddleSubscriptionID != "" {
			cp := *sub
			cp.ID = id
			s.rows[id] = &cp
			return nil
		}
	}

	cp := *sub
	s.rows[sub.ID] = &cp
	return nil
}

// Len reports the number of stored rows.
func (s *InMemSubscriptionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// InMemPlanStore is a mutex-guarded PlanStore for tests and local use.
type InMemPlanStore struct {
	mu    sync.RWMutex
	plans map[uuid.UUID]*Plan
}

// NewInMemPlanStore returns a store pre-populated with the given plans.
func NewInMemPlanStore(plans ...*Plan) *InMemPlanStore {
	s := &InMemPlanStore{plans: make(map[uuid.UUID]*Plan, len(plans))}
	for _, p := range plans {
		cp := *p
		s.plans[p.ID] = &cp
	}
	return s
}

func (s *InMemPlanStore) ByID(_ context.Context, id uuid.UUID) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPlanNotFound
}

func (s *InMemPlanStore) ByName(_ context.Context, name string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPlanNotFound
}

func (s *InMemPlanStore) ByPaddlePriceID(_ context.Context, priceID string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.PaddlePriceID == priceID && priceID != "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPlanNotFound
}

func (s *InMemPlanStore) Upsert(_ context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.plans {
		if p.Name == plan.Name {
			cp := *plan
			cp.ID = id
			s.plans[id] = &cp
			return nil
		}
	}

	cp := *plan
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	s.plans[cp.ID] = &cp
	return nil
}
