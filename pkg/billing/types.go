package billing

// Status represents the lifecycle state of a subscription row.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
)

// IsManageable reports whether billing operations (auto-renew toggle, plan
// change, payment method update) may be performed in this status.
func (s Status) IsManageable() bool {
	return s == StatusActive || s == StatusTrialing
}

// BillingInterval is the renewal cadence of a paid plan. Free plans carry no
// interval at all (nil in the catalog row).
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// ProrationMode selects how a plan change is billed.
type ProrationMode string

const (
	// ProrationImmediate charges the prorated difference right away and
	// switches the plan in place.
	ProrationImmediate ProrationMode = "immediate"
	// ProrationNextPeriod defers the switch to the next renewal.
	ProrationNextPeriod ProrationMode = "next_billing_period"
)

// FreePlanName is the catalog name of the fallback plan every user resolves
// to when no paid entitlement exists. It must be seeded before the service
// accepts traffic.
const FreePlanName = "Free"
