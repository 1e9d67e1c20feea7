package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service drives user-initiated billing operations. Each operation follows
// the remote-then-local two-phase pattern: the provider's authoritative
// state is mutated first, then the local row is projected from the response
// so it stays usable between webhook deliveries.
//
// A gateway failure aborts the whole operation with no local write. A
// remote success followed by a local write failure is possible and is not
// rolled back remotely; the next webhook or resolver pass heals it.
type Service struct {
	resolver *Resolver
	subs     SubscriptionStore
	plans    PlanStore
	gateway  Gateway
	log      *slog.Logger
	now      func() time.Time

	// portalURL, when configured, short-circuits payment-method updates to
	// a static provider-hosted page.
	portalURL string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStaticPortalURL sets a pre-configured billing portal URL used as the
// first choice for payment-method updates.
func WithStaticPortalURL(url string) ServiceOption {
	return func(s *Service) { s.portalURL = url }
}

// WithServiceClock overrides the time source. Used in tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the billing operations service.
func NewService(resolver *Resolver, subs SubscriptionStore, plans PlanStore, gateway Gateway, log *slog.Logger, opts ...ServiceOption) *Service {
	if resolver == nil {
		panic("billing: Resolver is required")
	}
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

	s := &Service{
		resolver: resolver,
		subs:     subs,
		plans:    plans,
		gateway:  gateway,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// manageable resolves the user's subscription and rejects before any remote
// call when its status forbids billing operations or it has no remote
// counterpart to manage.
func (s *Service) manageable(ctx context.Context, userID uuid.UUID) (*Subscription, *Plan, error) {
	sub, plan, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if !sub.Status.IsManageable() || sub.IsLocallyManaged() {
		return nil, nil, ErrNotManageable
	}
	return sub, plan, nil
}

// SetAutoRenew toggles the renewal intent. Requesting the current state is a
// no-op that makes no gateway call. Enabling clears any scheduled
// cancellation remotely and locally; disabling schedules a cancellation
// effective at the end of the current billing period.
func (s *Service) SetAutoRenew(ctx context.Context, userID uuid.UUID, enabled bool) (*Subscription, error) {
	sub, _, err := s.manageable(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sub.AutoRenew == enabled {
		return sub, nil
	}

	now := s.now()

	if enabled {
		if _, err := s.gateway.ClearScheduledChange(ctx, sub.PaddleSubscriptionID); err != nil {
			return nil, err
		}
		sub.AutoRenew = true
		sub.CancelAt = nil
	} else {
		remote, err := s.gateway.CancelAtPeriodEnd(ctx, sub.PaddleSubscriptionID)
		if err != nil {
			return nil, err
		}
		sub.AutoRenew = false
		// Prefer the provider's scheduled-effective date; the current
		// window end is the fallback.
		switch {
		case remote != nil && remote.ScheduledChange != nil:
			effective := remote.ScheduledChange.EffectiveAt
			sub.CancelAt = &effective
		default:
			sub.CancelAt = sub.EndsAt
		}
	}

	sub.UpdatedAt = now
	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "auto-renew updated",
		"user_id", userID, "enabled", enabled)

	return sub, nil
}

// ChangePlan switches the subscription to another catalog plan. With
// ProrationImmediate the provider bills the prorated difference right away
// and the local plan id is updated optimistically from the response; with
// ProrationNextPeriod the switch is scheduled and the local row is left for
// the webhook to update at renewal.
func (s *Service) ChangePlan(ctx context.Context, userID, planID uuid.UUID, mode ProrationMode) (*Subscription, error) {
	sub, _, err := s.manageable(ctx, userID)
	if err != nil {
		return nil, err
	}

	target, err := s.plans.ByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if target.PaddlePriceID == "" {
		return nil, ErrPlanNotPurchasable
	}

	now := s.now()

	switch mode {
	case ProrationNextPeriod:
		if _, err := s.gateway.ScheduleItemChange(ctx, sub.PaddleSubscriptionID, target.PaddlePriceID); err != nil {
			return nil, err
		}
		// Plan id stays as-is until the renewal webhook lands.
		return sub, nil

	default:
		remote, err := s.gateway.ChangePlan(ctx, sub.PaddleSubscriptionID, target.PaddlePriceID)
		if err != nil {
			return nil, err
		}

		sub.PlanID = target.ID
		if remote != nil {
			if remote.CurrentPeriodStart != nil {
				sub.StartsAt = *remote.CurrentPeriodStart
			}
			if remote.CurrentPeriodEnd != nil {
				sub.EndsAt = remote.CurrentPeriodEnd
			}
		}
		sub.UpdatedAt = now
		if err := s.subs.Update(ctx, sub); err != nil {
			return nil, err
		}

		s.log.InfoContext(ctx, "plan changed",
			"user_id", userID, "plan", target.Name, "proration", mode)

		return sub, nil
	}
}

// PaymentMethodUpdateURL returns a provider-hosted URL where the user can
// update their payment method. Card data never touches local storage, so no
// local state is mutated. Ordered alternatives: a pre-configured static
// portal URL, then a billing-portal session, then a direct
// update-payment-method link.
func (s *Service) PaymentMethodUpdateURL(ctx context.Context, userID uuid.UUID) (string, error) {
	sub, _, err := s.manageable(ctx, userID)
	if err != nil {
		return "", err
	}

	if s.portalURL != "" {
		return s.portalURL, nil
	}

	url, err := s.gateway.PortalSessionURL(ctx, sub.UserID.String(), sub.PaddleSubscriptionID)
	if err == nil && url != "" {
		return url, nil
	}
	if err != nil {
		s.log.WarnContext(ctx, "portal session unavailable, falling back to direct link",
			"user_id", userID, "error", err)
	}

	return s.gateway.UpdatePaymentMethodURL(ctx, sub.PaddleSubscriptionID)
}
