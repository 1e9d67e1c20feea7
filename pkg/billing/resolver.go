package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Resolver computes the single effective (subscription, plan) pair for a
// user on every entitlement check, reconciling the local row against the
// billing provider when the cached window has lapsed and provisioning the
// Free fallback when no entitlement exists at all.
//
// The overwhelming majority of calls take the fast path: one row read, no
// network.
type Resolver struct {
	subs    SubscriptionStore
	plans   PlanStore
	gateway Gateway
	log     *slog.Logger
	now     func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a Resolver. All dependencies are required; a nil
// dependency is a wiring bug and panics at startup rather than at request
// time.
func NewResolver(subs SubscriptionStore, plans PlanStore, gateway Gateway, log *slog.Logger, opts ...ResolverOption) *Resolver {
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if plans == nil {
		panic("billing: PlanStore is required")
	}
	if gateway == nil {
		panic("billing: Gateway is required")
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Resolver{
		subs:    subs,
		plans:   plans,
		gateway: gateway,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the user's effective subscription and plan, performing
// reconciliation or Free provisioning as needed. It never returns a "no
// entitlement" error: every user ends up on some plan unless the Free plan
// itself is missing, which surfaces as ErrFreePlanNotConfigured.
//
// Store errors propagate. Gateway errors propagate fail-closed, except the
// "remote subscription gone" case which demotes the row and falls through
// to Free provisioning.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (*Subscription, *Plan, error) {
	now := r.now()

	sub, err := r.subs.ActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return r.provisionFree(ctx, userID, now)
		}
		return nil, nil, err
	}

	plan, err := r.plans.ByID(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}

	// Fast path: the cached window still covers now.
	if sub.WindowContains(now) {
		return sub, plan, nil
	}

	// Free entitlement is self-renewing: roll the window forward without
	// touching the network.
	if plan.IsFree() || sub.IsLocallyManaged() {
		start, end := MonthWindow(now)
		sub.StartsAt = start
		sub.EndsAt = &end
		sub.AutoRenew = false
		sub.CancelAt = nil
		sub.UpdatedAt = now
		if err := r.subs.Update(ctx, sub); err != nil {
			return nil, nil, err
		}
		return sub, plan, nil
	}

	return r.reconcile(ctx, sub, plan, now)
}

// reconcile pulls the remote subscription for a lapsed paid row and adopts
// its state, or demotes the row and falls back to Free when the provider
// reports no remaining access.
func (r *Resolver) reconcile(ctx context.Context, sub *Subscription, plan *Plan, now time.Time) (*Subscription, *Plan, error) {
	remote, err := r.gateway.GetSubscription(ctx, sub.PaddleSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrRemoteSubscriptionNotFound) {
			return r.demote(ctx, sub, now)
		}
		// Fail closed: anything else is a reconciliation failure, not a
		// license to grant entitlement.
		return nil, nil, err
	}

	if !remote.HasAccess(now) {
		return r.demote(ctx, sub, now, remoteStatus(remote))
	}

	// Adopt the remote window, status and plan. An unknown remote price id
	// keeps the previous plan as a safe default; the webhook path corrects
	// it later.
	if remote.PriceID != "" {
		if remotePlan, err := r.plans.ByPaddlePriceID(ctx, remote.PriceID); err == nil {
			plan = remotePlan
			sub.PlanID = remotePlan.ID
		} else if !errors.Is(err, ErrPlanNotFound) {
			return nil, nil, err
		}
	}

	if remote.Status == "trialing" {
		sub.Status = StatusTrialing
	} else {
		sub.Status = StatusActive
	}
	if remote.CurrentPeriodStart != nil {
		sub.StartsAt = *remote.CurrentPeriodStart
	}
	sub.EndsAt = remote.CurrentPeriodEnd
	if sc := remote.ScheduledChange; sc != nil && sc.Action == "cancel" {
		effective := sc.EffectiveAt
		sub.CancelAt = &effective
		sub.AutoRenew = false
	} else {
		sub.CancelAt = nil
		sub.AutoRenew = true
	}
	sub.UpdatedAt = now

	if err := r.subs.Update(ctx, sub); err != nil {
		return nil, nil, err
	}

	r.log.InfoContext(ctx, "reconciled subscription from provider",
		"user_id", sub.UserID,
		"paddle_subscription_id", sub.PaddleSubscriptionID,
		"status", sub.Status)

	return sub, plan, nil
}

// demote freezes a paid row that no longer grants access and provisions the
// Free fallback. The optional status overrides the default canceled state
// (a remote pause is recorded as paused).
func (r *Resolver) demote(ctx context.Context, sub *Subscription, now time.Time, status ...Status) (*Subscription, *Plan, error) {
	st := StatusCanceled
	if len(status) > 0 {
		st = status[0]
	}

	sub.Status = st
	sub.AutoRenew = false
	if sub.EndsAt == nil {
		sub.EndsAt = &now
	}
	sub.CancelAt = sub.EndsAt
	sub.UpdatedAt = now

	if err := r.subs.Update(ctx, sub); err != nil {
		return nil, nil, err
	}

	r.log.InfoContext(ctx, "subscription lapsed, falling back to free plan",
		"user_id", sub.UserID,
		"paddle_subscription_id", sub.PaddleSubscriptionID,
		"status", st)

	return r.provisionFree(ctx, sub.UserID, now)
}

// provisionFree creates the default Free subscription for the user. Exactly
// one row survives concurrent first-use races: a uniqueness violation means
// another request already provisioned, so the existing row is returned.
func (r *Resolver) provisionFree(ctx context.Context, userID uuid.UUID, now time.Time) (*Subscription, *Plan, error) {
	plan, err := r.plans.ByName(ctx, FreePlanName)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, nil, ErrFreePlanNotConfigured
		}
		return nil, nil, err
	}

	start, end := MonthWindow(now)
	sub := &Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    StatusActive,
		StartsAt:  start,
		EndsAt:    &end,
		AutoRenew: false,
		UpdatedAt: now,
	}

	if err := r.subs.Insert(ctx, sub); err != nil {
		if errors.Is(err, ErrSubscriptionExists) {
			existing, err := r.subs.ActiveByUser(ctx, userID)
			if err != nil {
				return nil, nil, err
			}
			existingPlan, err := r.plans.ByID(ctx, existing.PlanID)
			if err != nil {
				return nil, nil, err
			}
			return existing, existingPlan, nil
		}
		return nil, nil, err
	}

	r.log.InfoContext(ctx, "provisioned free subscription", "user_id", userID)

	return sub, plan, nil
}

func remoteStatus(remote *RemoteSubscription) Status {
	if remote.Status == "paused" {
		return StatusPaused
	}
	return StatusCanceled
}
