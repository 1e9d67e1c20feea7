package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the mutable row binding a user to a plan for a billing
// window. Rows are never hard-deleted; expiry and cancellation are status
// transitions.
type Subscription struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	PlanID    uuid.UUID
	Status    Status
	StartsAt  time.Time
	EndsAt    *time.Time // nil = open-ended window
	AutoRenew bool
	CancelAt  *time.Time // scheduled-effective date of a pending cancellation
	// PaddleSubscriptionID is the provider's subscription id. Empty means a
	// locally managed Free subscription with no remote counterpart.
	PaddleSubscriptionID string
	UpdatedAt            time.Time
}

// WindowContains reports whether t falls inside the effective window
// [StartsAt, EndsAt). A nil EndsAt is treated as open.
func (s *Subscription) WindowContains(t time.Time) bool {
	if t.Before(s.StartsAt) {
		return false
	}
	return s.EndsAt == nil || t.Before(*s.EndsAt)
}

// IsLocallyManaged reports whether the subscription has no remote
// counterpart and renews without the billing provider.
func (s *Subscription) IsLocallyManaged() bool {
	return s.PaddleSubscriptionID == ""
}

// MonthWindow returns the calendar-month billing window containing t,
// [startOfMonth, startOfNextMonth) in UTC. Locally managed subscriptions
// roll forward to this window on every lapse.
func MonthWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
