package usage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/voxnote/pkg/billing"
	"github.com/dmitrymomot/voxnote/pkg/usage"
)

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func intPtr(v int) *int { return &v }

// staticResolver returns a fixed (subscription, plan) pair, or an error.
type staticResolver struct {
	sub  *billing.Subscription
	plan *billing.Plan
	err  error
}

func (r *staticResolver) Resolve(context.Context, uuid.UUID) (*billing.Subscription, *billing.Plan, error) {
	if r.err != nil {
		return nil, nil, r.err
	}
	return r.sub, r.plan, nil
}

func newResolver(limit *int) (*staticResolver, uuid.UUID) {
	userID := uuid.New()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	interval := billing.IntervalMonth

	return &staticResolver{
		sub: &billing.Subscription{
			ID:       uuid.New(),
			UserID:   userID,
			Status:   billing.StatusActive,
			StartsAt: start,
			EndsAt:   &end,
		},
		plan: &billing.Plan{
			ID:                   uuid.New(),
			Name:                 "Starter",
			TranscriptionMinutes: limit,
			Interval:             &interval,
			PaddlePriceID:        "pri_starter_monthly",
		},
	}, userID
}

func seedUsage(t *testing.T, ledger *usage.InMemLedger, userID uuid.UUID, quantity int) {
	t.Helper()
	require.NoError(t, ledger.Insert(context.Background(), usage.Entry{
		ID:        uuid.New(),
		UserID:    userID,
		Quantity:  quantity,
		CreatedAt: testNow.Add(-time.Hour),
	}))
}

func TestMeter_CheckLimit(t *testing.T) {
	t.Parallel()

	t.Run("reports remaining quota", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		ledger := usage.NewInMemLedger()
		seedUsage(t, ledger, userID, 45)

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.CheckLimit(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, check.Allowed)
		assert.Equal(t, 45, check.Used)
		require.NotNil(t, check.Remaining)
		assert.Equal(t, 15, *check.Remaining)
		assert.Equal(t, resolver.sub.StartsAt, check.WindowStart)
	})

	t.Run("exhausted quota blocks with a message", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		ledger := usage.NewInMemLedger()
		seedUsage(t, ledger, userID, 60)

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.CheckLimit(context.Background(), userID)
		require.NoError(t, err)
		assert.False(t, check.Allowed)
		assert.Contains(t, check.Message, "60 minutes")
		assert.Contains(t, check.Message, "Upgrade", "paid plan suggests an upgrade")
	})

	t.Run("free plan suggests subscribing", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		resolver.plan.Interval = nil
		resolver.plan.PaddlePriceID = ""
		ledger := usage.NewInMemLedger()
		seedUsage(t, ledger, userID, 60)

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.CheckLimit(context.Background(), userID)
		require.NoError(t, err)
		assert.False(t, check.Allowed)
		assert.Contains(t, check.Message, "Subscribe")
	})

	t.Run("unlimited allowance skips the ledger", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(nil)
		ledger := usage.NewInMemLedger()

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.CheckLimit(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, check.Allowed)
		assert.Nil(t, check.PlanLimit)
		assert.Nil(t, check.Remaining)
		assert.Equal(t, 0, ledger.SumCalls(), "no range query for unlimited plans")
	})

	t.Run("resolver errors propagate", func(t *testing.T) {
		t.Parallel()

		resolver := &staticResolver{err: billing.ErrProviderFailure}
		meter := usage.NewMeter(resolver, usage.NewInMemLedger(), usage.TranscriptionMinutes(), nil)

		_, err := meter.CheckLimit(context.Background(), uuid.New())
		require.ErrorIs(t, err, billing.ErrProviderFailure)
	})
}

func TestMeter_Validate(t *testing.T) {
	t.Parallel()

	t.Run("rejects more than remaining", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		ledger := usage.NewInMemLedger()
		seedUsage(t, ledger, userID, 45)

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.Validate(context.Background(), userID, 16)
		require.ErrorIs(t, err, usage.ErrQuotaExceeded)
		require.NotNil(t, check)
		assert.False(t, check.Allowed)
		assert.Contains(t, check.Message, "exceeds your remaining 15 minutes")
		assert.Contains(t, check.Message, "Upgrade", "paid plan suggests an upgrade")
	})

	t.Run("free plan rejection suggests subscribing", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		resolver.plan.PaddlePriceID = ""
		ledger := usage.NewInMemLedger()
		seedUsage(t, ledger, userID, 45)

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.Validate(context.Background(), userID, 16)
		require.ErrorIs(t, err, usage.ErrQuotaExceeded)
		require.NotNil(t, check)
		assert.True(t, check.FreePlan)
		assert.Contains(t, check.Message, "Subscribe")
	})

	t.Run("warns when most of the remainder is consumed", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		ledger := usage.NewInMemLedger()
		seedUsage(t, ledger, userID, 45)

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.Validate(context.Background(), userID, 15)
		require.NoError(t, err)
		assert.True(t, check.Allowed)
		assert.NotEmpty(t, check.Warning)
	})

	t.Run("small request passes without warning", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		ledger := usage.NewInMemLedger()
		seedUsage(t, ledger, userID, 45)

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.Validate(context.Background(), userID, 5)
		require.NoError(t, err)
		assert.True(t, check.Allowed)
		assert.Empty(t, check.Warning)
	})

	t.Run("rejects non-positive quantities", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		meter := usage.NewMeter(resolver, usage.NewInMemLedger(), usage.TranscriptionMinutes(), nil)

		_, err := meter.Validate(context.Background(), userID, 0)
		require.ErrorIs(t, err, usage.ErrInvalidQuantity)

		_, err = meter.Validate(context.Background(), userID, -3)
		require.ErrorIs(t, err, usage.ErrInvalidQuantity)
	})

	t.Run("unlimited allowance always validates", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(nil)
		meter := usage.NewMeter(resolver, usage.NewInMemLedger(), usage.TranscriptionMinutes(), nil)

		check, err := meter.Validate(context.Background(), userID, 100000)
		require.NoError(t, err)
		assert.True(t, check.Allowed)
	})
}

func TestMeter_Record(t *testing.T) {
	t.Parallel()

	t.Run("records and recomputes counters", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		ledger := usage.NewInMemLedger()
		seedUsage(t, ledger, userID, 45)

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.Record(context.Background(), userID, 15)
		require.NoError(t, err)
		assert.Equal(t, 60, check.Used)
		require.NotNil(t, check.Remaining)
		assert.Equal(t, 0, *check.Remaining)

		// The follow-up check sees the exhausted quota.
		next, err := meter.CheckLimit(context.Background(), userID)
		require.NoError(t, err)
		assert.False(t, next.Allowed)
	})

	t.Run("re-checks at write time", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		ledger := usage.NewInMemLedger()
		seedUsage(t, ledger, userID, 50)

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.Record(context.Background(), userID, 11)
		require.ErrorIs(t, err, usage.ErrQuotaExceeded)
		require.NotNil(t, check)

		// Nothing was written.
		sum, err := ledger.SumRange(context.Background(), userID, resolver.sub.StartsAt, resolver.sub.EndsAt)
		require.NoError(t, err)
		assert.Equal(t, 50, sum)
	})

	t.Run("usage outside the window does not count", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(intPtr(60))
		ledger := usage.NewInMemLedger()
		require.NoError(t, ledger.Insert(context.Background(), usage.Entry{
			ID:        uuid.New(),
			UserID:    userID,
			Quantity:  55,
			CreatedAt: resolver.sub.StartsAt.Add(-time.Hour),
		}))

		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.CheckLimit(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, 0, check.Used, "last window's usage resets with the window")
	})

	t.Run("unlimited allowance records without counters", func(t *testing.T) {
		t.Parallel()

		resolver, userID := newResolver(nil)
		ledger := usage.NewInMemLedger()
		meter := usage.NewMeter(resolver, ledger, usage.TranscriptionMinutes(), nil,
			usage.WithMeterClock(fixedClock))

		check, err := meter.Record(context.Background(), userID, 500)
		require.NoError(t, err)
		assert.True(t, check.Allowed)
		assert.Nil(t, check.Remaining)

		sum, err := ledger.SumRange(context.Background(), userID, resolver.sub.StartsAt, resolver.sub.EndsAt)
		require.NoError(t, err)
		assert.Equal(t, 500, sum, "usage is still tracked for reporting")
	})
}
