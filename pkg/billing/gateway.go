package billing

import (
	"context"
	"time"
)

// Gateway is the authenticated client to the billing provider's REST API.
// Every call is a blocking network round-trip with a bounded timeout; no
// responses are cached.
//
// "Not found" is reported as ErrRemoteSubscriptionNotFound; every other
// failure wraps ErrProviderFailure and must propagate to the caller.
type Gateway interface {
	// GetSubscription fetches the remote subscription state.
	GetSubscription(ctx context.Context, paddleID string) (*RemoteSubscription, error)

	// ChangePlan patches the subscription to the new price with immediate
	// prorated billing.
	ChangePlan(ctx context.Context, paddleID, priceID string) (*RemoteSubscription, error)

	// ScheduleItemChange defers a price switch to the next billing period.
	ScheduleItemChange(ctx context.Context, paddleID, priceID string) (*RemoteSubscription, error)

	// CancelAtPeriodEnd schedules a cancellation effective at the end of
	// the current billing period. The remote subscription stays active
	// until then.
	CancelAtPeriodEnd(ctx context.Context, paddleID string) (*RemoteSubscription, error)

	// ClearScheduledChange undoes a pending scheduled cancellation or
	// downgrade on the remote side.
	ClearScheduledChange(ctx context.Context, paddleID string) (*RemoteSubscription, error)

	// UpdatePaymentMethodURL returns a provider-hosted link for updating
	// the payment method directly.
	UpdatePaymentMethodURL(ctx context.Context, paddleID string) (string, error)

	// PortalSessionURL creates a billing-portal session for the customer
	// and returns its URL.
	PortalSessionURL(ctx context.Context, customerID, paddleID string) (string, error)
}

// RemoteSubscription is the strongly-typed projection of the provider's
// subscription resource. Optional nested fields of the provider payload are
// modelled as nil pointers rather than accessed ad hoc.
type RemoteSubscription struct {
	ID                 string
	Status             string
	CustomerID         string
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	ScheduledChange    *RemoteScheduledChange
}

// RemoteScheduledChange is a provider-side pending mutation taking effect at
// a future renewal.
type RemoteScheduledChange struct {
	Action      string // "cancel", "pause", "resume"
	EffectiveAt time.Time
}

// HasAccess reports whether the remote state still grants entitlement at
// time t: either the current billing period covers t, or the provider
// reports a status that implies access regardless of the window we see.
func (r *RemoteSubscription) HasAccess(t time.Time) bool {
	if r.Status == "active" || r.Status == "trialing" {
		return true
	}
	if r.CurrentPeriodStart != nil && r.CurrentPeriodEnd != nil {
		return !t.Before(*r.CurrentPeriodStart) && !r.CurrentPeriodEnd.Before(t)
	}
	return false
}
