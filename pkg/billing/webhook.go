package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is a provider-pushed billing event. Subscription state
// arrives in Data; user and plan identity travel in the event's custom
// metadata because the provider knows nothing about local ids otherwise.
type WebhookEvent struct {
	EventID    string              `json:"event_id"`
	EventType  string              `json:"event_type"`
	OccurredAt time.Time           `json:"occurred_at"`
	Data       WebhookSubscription `json:"data"`
}

// WebhookSubscription is the event-specific data object for
// subscription.* events.
type WebhookSubscription struct {
	ID              string              `json:"id"`
	Status          string              `json:"status"`
	CustomData      WebhookCustomData   `json:"custom_data"`
	BillingPeriod   *WebhookPeriod      `json:"current_billing_period"`
	Items           []WebhookItem       `json:"items"`
	ScheduledChange *WebhookSchedChange `json:"scheduled_change"`
}

type WebhookCustomData struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
}

type WebhookPeriod struct {
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

type WebhookItem struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

type WebhookSchedChange struct {
	Action      string    `json:"action"`
	EffectiveAt time.Time `json:"effective_at"`
}

// ParseWebhookEvent decodes a raw webhook body. Malformed JSON or a missing
// event type yields ErrInvalidEventPayload.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, errors.Join(ErrInvalidEventPayload, err)
	}
	if event.EventType == "" {
		return nil, ErrInvalidEventPayload
	}
	return &event, nil
}

// Deduper suppresses exact redeliveries of a webhook event. An event id is
// marked only after the event was applied, so a delivery that failed at the
// store stays retryable.
type Deduper interface {
	// Seen reports whether the event id was already marked as applied.
	Seen(ctx context.Context, eventID string) (bool, error)
	// Mark records the event id as applied.
	Mark(ctx context.Context, eventID string) error
}

// Ingestor applies provider-pushed events as idempotent upserts, keyed by
// the external subscription id. It runs independently of, and racing with,
// the resolver's pull-based reconciliation; both sides converge on the same
// row store.
type Ingestor struct {
	subs  SubscriptionStore
	plans PlanStore
	dedup Deduper
	log   *slog.Logger
	now   func() time.Time
}

// NewIngestor creates a webhook ingestor. The deduper is optional; without
// one, idempotency relies solely on the upsert write path.
func NewIngestor(subs SubscriptionStore, plans PlanStore, dedup Deduper, log *slog.Logger) *Ingestor {
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if plans == nil {
		panic("billing: PlanStore is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		subs:  subs,
		plans: plans,
		dedup: dedup,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Ingest applies a verified webhook event. Unrecognized event types return
// nil so the provider's delivery never fails for events this service does
// not model. ErrMissingEventMetadata marks a payload the provider must fix;
// store errors propagate as persistence failures.
func (i *Ingestor) Ingest(ctx context.Context, event *WebhookEvent) error {
	if event.EventID != "" && i.dedup != nil {
		seen, err := i.dedup.Seen(ctx, event.EventID)
		if err != nil {
			// Dedup is an optimization; a broken dedup store must not
			// block delivery. The upsert path stays idempotent anyway.
			i.log.WarnContext(ctx, "webhook dedup unavailable", "error", err)
		} else if seen {
			i.log.InfoContext(ctx, "skipping redelivered webhook event",
				"event_id", event.EventID, "event_type", event.EventType)
			return nil
		}
	}

	if err := i.apply(ctx, event); err != nil {
		return err
	}

	// Mark only after the store write landed. A delivery that failed above
	// returns an error, the provider retries, and the retry must apply the
	// event instead of being swallowed as a redelivery.
	if event.EventID != "" && i.dedup != nil {
		if err := i.dedup.Mark(ctx, event.EventID); err != nil {
			i.log.WarnContext(ctx, "webhook dedup mark failed",
				"event_id", event.EventID, "error", err)
		}
	}
	return nil
}

func (i *Ingestor) apply(ctx context.Context, event *WebhookEvent) error {
	switch event.EventType {
	case "subscription.created", "subscription.activated", "subscription.updated":
		return i.upsert(ctx, event)
	case "subscription.canceled", "subscription.paused":
		return i.transition(ctx, event)
	default:
		i.log.InfoContext(ctx, "ignoring unhandled webhook event",
			"event_type", event.EventType)
		return nil
	}
}

// upsert writes the subscription state carried by a creation/update event.
// Repeated delivery of the same event converges on a single row keyed by
// the external subscription id.
func (i *Ingestor) upsert(ctx context.Context, event *WebhookEvent) error {
	data := event.Data
	if data.ID == "" || data.CustomData.UserID == "" {
		return ErrMissingEventMetadata
	}

	userID, err := uuid.Parse(data.CustomData.UserID)
	if err != nil {
		return errors.Join(ErrMissingEventMetadata, err)
	}

	plan, err := i.resolvePlan(ctx, data)
	if err != nil {
		return err
	}

	now := i.now()
	sub := &Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		PlanID:               plan.ID,
		Status:               statusFromRemote(data.Status),
		StartsAt:             now,
		AutoRenew:            true,
		PaddleSubscriptionID: data.ID,
		UpdatedAt:            now,
	}
	if p := data.BillingPeriod; p != nil {
		sub.StartsAt = p.StartsAt
		sub.EndsAt = p.EndsAt
	}
	if sc := data.ScheduledChange; sc != nil && sc.Action == "cancel" {
		effective := sc.EffectiveAt
		sub.CancelAt = &effective
		sub.AutoRenew = false
	}

	if err := i.subs.UpsertByPaddleID(ctx, sub); err != nil {
		return err
	}

	i.log.InfoContext(ctx, "applied subscription webhook",
		"event_type", event.EventType,
		"paddle_subscription_id", data.ID,
		"user_id", userID,
		"status", sub.Status)

	return nil
}

// transition handles terminal events for subscriptions we already track.
// Events for unknown subscriptions are ignored: the pull path will learn
// the same fact on the next reconciliation.
func (i *Ingestor) transition(ctx context.Context, event *WebhookEvent) error {
	data := event.Data
	if data.ID == "" {
		return ErrMissingEventMetadata
	}

	sub, err := i.subs.ByPaddleID(ctx, data.ID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			i.log.InfoContext(ctx, "ignoring event for unknown subscription",
				"event_type", event.EventType, "paddle_subscription_id", data.ID)
			return nil
		}
		return err
	}

	now := i.now()
	sub.Status = statusFromRemote(data.Status)
	sub.AutoRenew = false
	if sub.EndsAt == nil {
		sub.EndsAt = &now
	}
	if sc := data.ScheduledChange; sc != nil {
		effective := sc.EffectiveAt
		sub.CancelAt = &effective
	} else if sub.CancelAt == nil {
		sub.CancelAt = sub.EndsAt
	}
	sub.UpdatedAt = now

	if err := i.subs.Update(ctx, sub); err != nil {
		return err
	}

	i.log.InfoContext(ctx, "applied subscription transition webhook",
		"event_type", event.EventType,
		"paddle_subscription_id", data.ID,
		"status", sub.Status)

	return nil
}

// resolvePlan maps event metadata to a catalog plan: the plan_id custom
// field first, the first item's price id as fallback.
func (i *Ingestor) resolvePlan(ctx context.Context, data WebhookSubscription) (*Plan, error) {
	if data.CustomData.PlanID != "" {
		planID, err := uuid.Parse(data.CustomData.PlanID)
		if err == nil {
			plan, err := i.plans.ByID(ctx, planID)
			if err == nil {
				return plan, nil
			}
			if !errors.Is(err, ErrPlanNotFound) {
				return nil, err
			}
		}
	}

	if len(data.Items) > 0 && data.Items[0].Price.ID != "" {
		plan, err := i.plans.ByPaddlePriceID(ctx, data.Items[0].Price.ID)
		if err == nil {
			return plan, nil
		}
		if !errors.Is(err, ErrPlanNotFound) {
			return nil, err
		}
	}

	return nil, ErrMissingEventMetadata
}

func statusFromRemote(remote string) Status {
	switch remote {
	case "trialing":
		return StatusTrialing
	case "paused":
		return StatusPaused
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return StatusActive
	}
}
