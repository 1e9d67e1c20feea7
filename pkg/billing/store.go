package billing

import (
	"context"

	"github.com/google/uuid"
)

// SubscriptionStore defines subscription row persistence.
//
// Implementations must guarantee single-row update atomicity; no multi-row
// transactions are assumed anywhere in this package.
type SubscriptionStore interface {
	// ActiveByUser returns the authoritative active subscription for the
	// user: the most recently updated row with status=active, ties broken
	// by the latest EndsAt (open-ended windows counting as latest).
	// Returns ErrSubscriptionNotFound when the user has no active row.
	ActiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// ByPaddleID returns the row with the given external subscription id.
	// Returns ErrSubscriptionNotFound when absent.
	ByPaddleID(ctx context.Context, paddleID string) (*Subscription, error)

	// Insert creates a new row. A store-level uniqueness violation (one
	// active locally managed row per user) is reported as
	// ErrSubscriptionExists so provisioning races stay idempotent.
	Insert(ctx context.Context, sub *Subscription) error

	// Update overwrites the row identified by sub.ID.
	Update(ctx context.Context, sub *Subscription) error

	// UpsertByPaddleID inserts the row or, when a row with the same
	// external subscription id already exists, overwrites its mutable
	// fields. This is the webhook ingestion write path and must be
	// idempotent under repeated delivery.
	UpsertByPaddleID(ctx context.Context, sub *Subscription) error
}

// PlanStore defines read access to the plan catalog plus the single
// out-of-band seeding write used at startup.
type PlanStore interface {
	// ByID returns the plan with the given id, or ErrPlanNotFound.
	ByID(ctx context.Context, id uuid.UUID) (*Plan, error)

	// ByName returns the plan with the given catalog name, or ErrPlanNotFound.
	ByName(ctx context.Context, name string) (*Plan, error)

	// ByPaddlePriceID resolves a plan from the provider's price id, or
	// ErrPlanNotFound.
	ByPaddlePriceID(ctx context.Context, priceID string) (*Plan, error)

	// Upsert inserts or updates a catalog row keyed by plan name. Used only
	// by the catalog seeder.
	Upsert(ctx context.Context, plan *Plan) error
}
