// Package usage enforces plan allowances for metered capabilities. Each
// meter pairs an append-only ledger with the entitlement resolver and
// computes remaining quota over the subscription's effective window.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/voxnote/pkg/billing"
)

// EntitlementResolver yields the effective (subscription, plan) pair for a
// user. Satisfied by *billing.Resolver.
type EntitlementResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*billing.Subscription, *billing.Plan, error)
}

// warnFraction is the share of remaining quota beyond which Validate
// attaches a non-blocking warning.
const warnFraction = 0.8

// Meter evaluates and records usage for one metered capability.
//
// Validate is advisory; Record is the enforcement boundary and re-checks the
// quota at write time. There is no atomic check-and-insert: two concurrent
// requests can both pass the check and both insert, briefly overshooting the
// quota. That window is accepted; the next check sees the true sum.
type Meter struct {
	resolver EntitlementResolver
	ledger   Ledger
	metric   Metric
	log      *slog.Logger
	now      func() time.Time
}

// MeterOption configures a Meter.
type MeterOption func(*Meter)

// WithMeterClock overrides the time source. Used in tests.
func WithMeterClock(now func() time.Time) MeterOption {
	return func(m *Meter) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMeter creates a meter for the given metric.
func NewMeter(resolver EntitlementResolver, ledger Ledger, metric Metric, log *slog.Logger, opts ...MeterOption) *Meter {
	if resolver == nil {
		panic("usage: EntitlementResolver is required")
	}
	if ledger == nil {
		panic("usage: Ledger is required")
	}
	if metric.LimitOf == nil {
		panic("usage: Metric.LimitOf is required")
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Meter{
		resolver: resolver,
		ledger:   ledger,
		metric:   metric,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckLimit computes the current quota state for the user. Unlimited
// allowances return immediately without touching the ledger.
func (m *Meter) CheckLimit(ctx context.Context, userID uuid.UUID) (*LimitCheck, error) {
	sub, plan, err := m.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	check := &LimitCheck{
		Allowed:         true,
		FreePlan:        plan.IsFree(),
		WindowStart:     sub.StartsAt,
		WindowEnd:       sub.EndsAt,
		BillingInterval: plan.Interval,
	}

	limit := m.metric.LimitOf(plan)
	if limit == nil {
		return check, nil
	}

	used, err := m.ledger.SumRange(ctx, userID, sub.StartsAt, sub.EndsAt)
	if err != nil {
		return nil, err
	}

	remaining := *limit - used
	if remaining < 0 {
		remaining = 0
	}

	check.Used = used
	check.PlanLimit = limit
	check.Remaining = &remaining
	if remaining == 0 {
		check.Allowed = false
		check.Message = fmt.Sprintf("You have used all %d %s included in your plan. %s",
			*limit, m.metric.Unit, m.suggestion(check))
	}

	return check, nil
}

// Validate checks whether the requested quantity fits the remaining quota.
// It is advisory only: acceptance here does not reserve anything, and
// Record re-checks at write time. A request consuming more than 80% of the
// remaining quota gets a non-blocking warning.
func (m *Meter) Validate(ctx context.Context, userID uuid.UUID, requested int) (*LimitCheck, error) {
	if requested <= 0 {
		return nil, ErrInvalidQuantity
	}

	check, err := m.CheckLimit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if check.Remaining == nil {
		return check, nil
	}

	if !check.Allowed || requested > *check.Remaining {
		check.Allowed = false
		if check.Message == "" {
			check.Message = fmt.Sprintf("Requested %d %s exceeds your remaining %d %s. %s",
				requested, m.metric.Unit, *check.Remaining, m.metric.Unit, m.suggestion(check))
		}
		return check, ErrQuotaExceeded
	}

	if float64(requested) > warnFraction*float64(*check.Remaining) {
		check.Warning = fmt.Sprintf("This will use most of your remaining %d %s.",
			*check.Remaining, m.metric.Unit)
	}

	return check, nil
}

// Record is the enforcement boundary: it re-runs the quota check at write
// time, inserts the usage record only if the quantity still fits, and
// returns the freshly recomputed counters.
func (m *Meter) Record(ctx context.Context, userID uuid.UUID, quantity int) (*LimitCheck, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	check, err := m.CheckLimit(ctx, userID)
	if err != nil {
		return nil, err
	}

	if check.Remaining != nil && (!check.Allowed || quantity > *check.Remaining) {
		check.Allowed = false
		if check.Message == "" {
			check.Message = fmt.Sprintf("Recording %d %s would exceed your remaining %d %s.",
				quantity, m.metric.Unit, *check.Remaining, m.metric.Unit)
		}
		return check, ErrQuotaExceeded
	}

	if err := m.ledger.Insert(ctx, Entry{
		ID:        uuid.New(),
		UserID:    userID,
		Quantity:  quantity,
		CreatedAt: m.now(),
	}); err != nil {
		return nil, err
	}

	if check.Remaining != nil {
		check.Used += quantity
		remaining := *check.PlanLimit - check.Used
		if remaining < 0 {
			remaining = 0
		}
		check.Remaining = &remaining
	}

	m.log.InfoContext(ctx, "recorded usage",
		"metric", m.metric.Name, "user_id", userID, "quantity", quantity)

	return check, nil
}

// suggestion distinguishes "you need to subscribe" from "you need a bigger
// plan" so the UI can render the right call to action.
func (m *Meter) suggestion(check *LimitCheck) string {
	if check.FreePlan {
		return "Subscribe to a paid plan to increase your allowance."
	}
	return "Upgrade your plan to increase your allowance."
}
