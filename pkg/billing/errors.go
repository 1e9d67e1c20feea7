package billing

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrPlanNotFound         = errors.New("subscription plan not found")

	// ErrFreePlanNotConfigured signals that the Free fallback plan is not
	// seeded in the catalog. This is a deployment error, not a per-request
	// condition; callers surface it instead of retrying.
	ErrFreePlanNotConfigured = errors.New("free plan is not configured in the plan catalog")

	// ErrNotManageable is returned when a billing operation is attempted on
	// a subscription whose status forbids it, or on a locally managed free
	// subscription with no remote counterpart.
	ErrNotManageable = errors.New("subscription is not in a manageable state")

	// ErrPlanNotPurchasable is returned when a plan change targets a plan
	// without an external price identifier.
	ErrPlanNotPurchasable = errors.New("plan has no billing price identifier")

	// ErrRemoteSubscriptionNotFound is the gateway's "subscription gone on
	// the provider side" outcome. Reconciliation treats it as a terminal
	// state, not a fault.
	ErrRemoteSubscriptionNotFound = errors.New("remote subscription not found")

	// ErrProviderFailure wraps any other gateway failure: timeouts, non-2xx
	// responses, malformed payloads. It propagates to the caller fail-closed.
	ErrProviderFailure = errors.New("billing provider request failed")

	// Webhook ingestion errors.
	ErrMissingEventMetadata = errors.New("webhook event is missing required metadata")
	ErrInvalidEventPayload  = errors.New("webhook event payload is malformed")
)
