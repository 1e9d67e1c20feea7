package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/voxnote/pkg/pg"
)

// PostgresSubscriptionStore implements SubscriptionStore on pgx. All writes
// are single-row statements; atomicity beyond that is deliberately not
// assumed.
type PostgresSubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSubscriptionStore wraps the shared connection pool.
func NewPostgresSubscriptionStore(pool *pgxpool.Pool) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{pool: pool}
}

const subscriptionColumns = `id, user_id, plan_id, status, starts_at, ends_at,
	auto_renew, cancel_at, COALESCE(paddle_subscription_id, ''), updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status,
		&sub.StartsAt, &sub.EndsAt, &sub.AutoRenew, &sub.CancelAt,
		&sub.PaddleSubscriptionID, &sub.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &sub, nil
}

// nullablePaddleID maps the in-memory "" sentinel to SQL NULL so the
// partial unique index on paddle_subscription_id ignores free rows.
func nullablePaddleID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func (s *PostgresSubscriptionStore) ActiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	// Duplicate active rows can briefly exist under races; the ordering
	// makes the pick deterministic.
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY updated_at DESC, ends_at DESC NULLS FIRST
		LIMIT 1`, userID)
	return scanSubscription(row)
}

func (s *PostgresSubscriptionStore) ByPaddleID(ctx context.Context, paddleID string) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE paddle_subscription_id = $1`, paddleID)
	return scanSubscription(row)
}

func (s *PostgresSubscriptionStore) Insert(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions
			(id, user_id, plan_id, status, starts_at, ends_at, auto_renew,
			 cancel_at, paddle_subscription_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.UserID, sub.PlanID, sub.Status, sub.StartsAt, sub.EndsAt,
		sub.AutoRenew, sub.CancelAt, nullablePaddleID(sub.PaddleSubscriptionID),
		sub.UpdatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrSubscriptionExists
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *PostgresSubscriptionStore) Update(ctx context.Context, sub *Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET plan_id = $2, status = $3, starts_at = $4, ends_at = $5,
			auto_renew = $6, cancel_at = $7, paddle_subscription_id = $8,
			updated_at = $9
		WHERE id = $1`,
		sub.ID, sub.PlanID, sub.Status, sub.StartsAt, sub.EndsAt,
		sub.AutoRenew, sub.CancelAt, nullablePaddleID(sub.PaddleSubscriptionID),
		sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PostgresSubscriptionStore) UpsertByPaddleID(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions
			(id, user_id, plan_id, status, starts_at, ends_at, auto_renew,
			 cancel_at, paddle_subscription_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (paddle_subscription_id) WHERE paddle_subscription_id IS NOT NULL
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			auto_renew = EXCLUDED.auto_renew,
			cancel_at = EXCLUDED.cancel_at,
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.UserID, sub.PlanID, sub.Status, sub.StartsAt, sub.EndsAt,
		sub.AutoRenew, sub.CancelAt, nullablePaddleID(sub.PaddleSubscriptionID),
		sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// PostgresPlanStore implements PlanStore on pgx.
type PostgresPlanStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPlanStore wraps the shared connection pool.
func NewPostgresPlanStore(pool *pgxpool.Pool) *PostgresPlanStore {
	return &PostgresPlanStore{pool: pool}
}

const planColumns = `id, name, upload_limit_mb, transcription_minutes,
	summarization_limit, export_limit, billing_interval,
	COALESCE(paddle_price_id, ''), premium_templates, archive_access`

func scanPlan(row pgx.Row) (*Plan, error) {
	var plan Plan
	var interval *string
	err := row.Scan(&plan.ID, &plan.Name, &plan.UploadLimitMB,
		&plan.TranscriptionMinutes, &plan.SummarizationLimit, &plan.ExportLimit,
		&interval, &plan.PaddlePriceID, &plan.PremiumTemplates, &plan.ArchiveAccess)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	if interval != nil {
		bi := BillingInterval(*interval)
		plan.Interval = &bi
	}
	return &plan, nil
}

func (s *PostgresPlanStore) ByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id)
	return scanPlan(row)
}

func (s *PostgresPlanStore) ByName(ctx context.Context, name string) (*Plan, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE name = $1`, name)
	return scanPlan(row)
}

func (s *PostgresPlanStore) ByPaddlePriceID(ctx context.Context, priceID string) (*Plan, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE paddle_price_id = $1`, priceID)
	return scanPlan(row)
}

func (s *PostgresPlanStore) Upsert(ctx context.Context, plan *Plan) error {
	var interval *string
	if plan.Interval != nil {
		v := string(*plan.Interval)
		interval = &v
	}
	id := plan.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_plans
			(id, name, upload_limit_mb, transcription_minutes, summarization_limit,
			 export_limit, billing_interval, paddle_price_id, premium_templates,
			 archive_access)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET
			upload_limit_mb = EXCLUDED.upload_limit_mb,
			transcription_minutes = EXCLUDED.transcription_minutes,
			summarization_limit = EXCLUDED.summarization_limit,
			export_limit = EXCLUDED.export_limit,
			billing_interval = EXCLUDED.billing_interval,
			paddle_price_id = EXCLUDED.paddle_price_id,
			premium_templates = EXCLUDED.premium_templates,
			archive_access = EXCLUDED.archive_access`,
		id, plan.Name, plan.UploadLimitMB, plan.TranscriptionMinutes,
		plan.SummarizationLimit, plan.ExportLimit, interval,
		nullablePaddleID(plan.PaddlePriceID), plan.PremiumTemplates,
		plan.ArchiveAccess)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

var (
	_ SubscriptionStore = (*PostgresSubscriptionStore)(nil)
	_ PlanStore         = (*PostgresPlanStore)(nil)
	_ SubscriptionStore = (*InMemSubscriptionStore)(nil)
	_ PlanStore         = (*InMemPlanStore)(nil)
)
