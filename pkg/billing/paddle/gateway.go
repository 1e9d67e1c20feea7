package paddle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	paddlesdk "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/voxnote/pkg/billing"
)

// Gateway implements billing.Gateway. Subscription reads and mutations go
// through the REST client; billing-portal sessions go through the official
// SDK, which already models that endpoint.
type Gateway struct {
	api *apiClient
	sdk *paddlesdk.SDK
}

// NewGateway creates the provider gateway from config.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}

	var sdk *paddlesdk.SDK
	var err error
	switch cfg.Environment {
	case "sandbox":
		sdk, err = paddlesdk.NewSandbox(cfg.APIKey)
	default:
		sdk, err = paddlesdk.New(cfg.APIKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle sdk client: %w", err)
	}

	return &Gateway{
		api: newAPIClient(cfg),
		sdk: sdk,
	}, nil
}

// Wire shapes. Optional nested fields stay pointers; conversion to the
// domain type encodes every fallback explicitly instead of chaining
// optional access at call sites.

type subscriptionEnvelope struct {
	Data wireSubscription `json:"data"`
}

type wireSubscription struct {
	ID                   string               `json:"id"`
	Status               string               `json:"status"`
	CustomerID           string               `json:"customer_id"`
	CurrentBillingPeriod *wirePeriod          `json:"current_billing_period"`
	Items                []wireItem           `json:"items"`
	ScheduledChange      *wireScheduledChange `json:"scheduled_change"`
}

type wirePeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type wireItem struct {
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

type wireScheduledChange struct {
	Action      string    `json:"action"`
	EffectiveAt time.Time `json:"effective_at"`
}

func (w wireSubscription) toDomain() *billing.RemoteSubscription {
	remote := &billing.RemoteSubscription{
		ID:         w.ID,
		Status:     w.Status,
		CustomerID: w.CustomerID,
	}
	if p := w.CurrentBillingPeriod; p != nil {
		start, end := p.StartsAt, p.EndsAt
		remote.CurrentPeriodStart = &start
		remote.CurrentPeriodEnd = &end
	}
	if len(w.Items) > 0 {
		remote.PriceID = w.Items[0].Price.ID
	}
	if sc := w.ScheduledChange; sc != nil {
		remote.ScheduledChange = &billing.RemoteScheduledChange{
			Action:      sc.Action,
			EffectiveAt: sc.EffectiveAt,
		}
	}
	return remote
}

func (g *Gateway) GetSubscription(ctx context.Context, paddleID string) (*billing.RemoteSubscription, error) {
	var envelope subscriptionEnvelope
	if err := g.api.do(ctx, http.MethodGet, "/subscriptions/"+paddleID, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data.toDomain(), nil
}

func (g *Gateway) ChangePlan(ctx context.Context, paddleID, priceID string) (*billing.RemoteSubscription, error) {
	body := map[string]any{
		"items": []map[string]any{
			{"price_id": priceID, "quantity": 1},
		},
		"proration_billing_mode": "prorated_immediately",
	}
	var envelope subscriptionEnvelope
	if err := g.api.do(ctx, http.MethodPatch, "/subscriptions/"+paddleID, body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data.toDomain(), nil
}

func (g *Gateway) ScheduleItemChange(ctx context.Context, paddleID, priceID string) (*billing.RemoteSubscription, error) {
	body := map[string]any{
		"items": []map[string]any{
			{"price_id": priceID, "quantity": 1},
		},
		"effective_from": "next_billing_period",
	}
	var envelope subscriptionEnvelope
	if err := g.api.do(ctx, http.MethodPost, "/subscriptions/"+paddleID+"/schedule_change", body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data.toDomain(), nil
}

func (g *Gateway) CancelAtPeriodEnd(ctx context.Context, paddleID string) (*billing.RemoteSubscription, error) {
	body := map[string]any{"effective_from": "next_billing_period"}
	var envelope subscriptionEnvelope
	if err := g.api.do(ctx, http.MethodPost, "/subscriptions/"+paddleID+"/cancel", body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data.toDomain(), nil
}

func (g *Gateway) ClearScheduledChange(ctx context.Context, paddleID string) (*billing.RemoteSubscription, error) {
	// An explicit null removes the pending change on the provider side.
	body := map[string]any{"scheduled_change": nil}
	var envelope subscriptionEnvelope
	if err := g.api.do(ctx, http.MethodPatch, "/subscriptions/"+paddleID, body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data.toDomain(), nil
}

func (g *Gateway) UpdatePaymentMethodURL(ctx context.Context, paddleID string) (string, error) {
	var envelope struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := g.api.do(ctx, http.MethodPost, "/subscriptions/"+paddleID+"/update-payment-method", nil, &envelope); err != nil {
		return "", err
	}
	if envelope.Data.URL == "" {
		return "", fmt.Errorf("%w: no payment method url returned", billing.ErrProviderFailure)
	}
	return envelope.Data.URL, nil
}

// PortalSessionURL creates a customer portal session through the SDK and
// prefers the subscription-specific update-payment-method URL over the
// general overview page.
func (g *Gateway) PortalSessionURL(ctx context.Context, customerID, paddleID string) (string, error) {
	session, err := g.sdk.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddlesdk.CreateCustomerPortalSessionRequest{
		CustomerID:      customerID,
		SubscriptionIDs: []string{paddleID},
	})
	if err != nil {
		return "", errors.Join(billing.ErrProviderFailure, err)
	}

	for _, subURL := range session.URLs.Subscriptions {
		if subURL.ID == paddleID && subURL.UpdateSubscriptionPaymentMethod != "" {
			return subURL.UpdateSubscriptionPaymentMethod, nil
		}
	}
	if session.URLs.General.Overview != "" {
		return session.URLs.General.Overview, nil
	}

	return "", fmt.Errorf("%w: no portal url returned", billing.ErrProviderFailure)
}

var _ billing.Gateway = (*Gateway)(nil)
