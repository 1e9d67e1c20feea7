package billing_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingmodule "github.com/dmitrymomot/voxnote/modules/billing"
	"github.com/dmitrymomot/voxnote/pkg/billing"
	"github.com/dmitrymomot/voxnote/pkg/billing/paddle"
	"github.com/dmitrymomot/voxnote/pkg/usage"
)

const webhookSecret = "whsec_module_test"

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func intPtr(v int) *int { return &v }

// stubGateway satisfies billing.Gateway for tests that never reach the
// provider. Any unexpected call fails the test through the nil responses.
type stubGateway struct {
	cancelAtPeriodEnd func(ctx context.Context, paddleID string) (*billing.RemoteSubscription, error)
}

func (g *stubGateway) GetSubscription(context.Context, string) (*billing.RemoteSubscription, error) {
	return nil, billing.ErrProviderFailure
}

func (g *stubGateway) ChangePlan(context.Context, string, string) (*billing.RemoteSubscription, error) {
	return nil, billing.ErrProviderFailure
}

func (g *stubGateway) ScheduleItemChange(context.Context, string, string) (*billing.RemoteSubscription, error) {
	return nil, billing.ErrProviderFailure
}

func (g *stubGateway) CancelAtPeriodEnd(ctx context.Context, paddleID string) (*billing.RemoteSubscription, error) {
	if g.cancelAtPeriodEnd != nil {
		return g.cancelAtPeriodEnd(ctx, paddleID)
	}
	return nil, billing.ErrProviderFailure
}

func (g *stubGateway) ClearScheduledChange(context.Context, string) (*billing.RemoteSubscription, error) {
	return nil, billing.ErrProviderFailure
}

func (g *stubGateway) UpdatePaymentMethodURL(context.Context, string) (string, error) {
	return "", billing.ErrProviderFailure
}

func (g *stubGateway) PortalSessionURL(context.Context, string, string) (string, error) {
	return "", billing.ErrProviderFailure
}

type moduleFixture struct {
	userID  uuid.UUID
	free    *billing.Plan
	pro     *billing.Plan
	subs    *billing.InMemSubscriptionStore
	ledger  *usage.InMemLedger
	gateway *stubGateway
	server  http.Handler
}

func newModuleFixture(t *testing.T) *moduleFixture {
	t.Helper()

	free := &billing.Plan{
		ID:                   uuid.New(),
		Name:                 billing.FreePlanName,
		TranscriptionMinutes: intPtr(60),
		ExportLimit:          intPtr(3),
	}
	interval := billing.IntervalMonth
	pro := &billing.Plan{
		ID:            uuid.New(),
		Name:          "Pro",
		Interval:      &interval,
		PaddlePriceID: "pri_pro_monthly",
	}

	subs := billing.NewInMemSubscriptionStore()
	plans := billing.NewInMemPlanStore(free, pro)
	gateway := &stubGateway{}

	resolver := billing.NewResolver(subs, plans, gateway, nil, billing.WithClock(fixedClock))
	service := billing.NewService(resolver, subs, plans, gateway, nil,
		billing.WithServiceClock(fixedClock))
	ingestor := billing.NewIngestor(subs, plans, nil, nil)

	transcriptionLedger := usage.NewInMemLedger()
	transcription := usage.NewMeter(resolver, transcriptionLedger, usage.TranscriptionMinutes(), nil,
		usage.WithMeterClock(fixedClock))
	exports := usage.NewMeter(resolver, usage.NewInMemLedger(), usage.DocumentExports(), nil,
		usage.WithMeterClock(fixedClock))

	handler := billingmodule.NewHandler(
		resolver, service,
		transcription, exports,
		paddle.NewSignatureVerifier(webhookSecret),
		ingestor,
		billingmodule.NewMetrics(prometheus.NewRegistry()),
		nil,
	)

	return &moduleFixture{
		userID:  uuid.New(),
		free:    free,
		pro:     pro,
		subs:    subs,
		ledger:  transcriptionLedger,
		gateway: gateway,
		server:  billingmodule.Router(handler),
	}
}

func (f *moduleFixture) request(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-User-ID", f.userID.String())

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestEntitlementEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("first call provisions free and reports the allowance", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		rec := f.request(t, http.MethodGet, "/entitlements/transcription", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, float64(60), body["planLimit"])
		assert.Equal(t, float64(60), body["remaining"])
		assert.Equal(t, float64(0), body["used"])
		assert.Equal(t, "minutes", body["unit"])
	})

	t.Run("missing identity is 401", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		req := httptest.NewRequest(http.MethodGet, "/entitlements/transcription", nil)
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("export entitlement uses its own allowance", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		rec := f.request(t, http.MethodGet, "/entitlements/export", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, float64(3), body["planLimit"])
		assert.Equal(t, "exports", body["unit"])
	})

	t.Run("usage summary reports both meters", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		rec := f.request(t, http.MethodGet, "/usage", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		transcription, ok := body["transcription"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(60), transcription["planLimit"])
		export, ok := body["export"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(3), export["planLimit"])
	})
}

func TestUsageRecording(t *testing.T) {
	t.Parallel()

	t.Run("records minutes and returns fresh counters", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		rec := f.request(t, http.MethodPost, "/usage/transcription", `{"minutes": 25}`)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, float64(25), body["used"])
		assert.Equal(t, float64(35), body["remaining"])
	})

	t.Run("over-quota recording is 429 with limits attached", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		rec := f.request(t, http.MethodPost, "/usage/transcription", `{"minutes": 61}`)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)

		body := decodeBody(t, rec)
		assert.NotEmpty(t, body["error"])
		limits, ok := body["limits"].(map[string]any)
		require.True(t, ok, "quota rejection carries the limit snapshot")
		assert.Equal(t, float64(60), limits["planLimit"])
	})

	t.Run("zero quantity is 400", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		rec := f.request(t, http.MethodPost, "/usage/transcription", `{"minutes": 0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		rec := f.request(t, http.MethodPost, "/usage/transcription", `{minutes}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubscriptionEndpoint(t *testing.T) {
	t.Parallel()

	f := newModuleFixture(t)
	rec := f.request(t, http.MethodGet, "/subscription", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, billing.FreePlanName, body["planName"])
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, true, body["locallyManaged"])
	assert.Equal(t, false, body["autoRenew"])

	features, ok := body["features"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, features["premium_templates"])
	assert.Equal(t, false, features["archive_access"])
}

func TestManagementEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("free subscription cannot toggle auto-renew", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		rec := f.request(t, http.MethodPost, "/subscription/auto-renew", `{"enabled": false}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("paid subscription schedules cancellation", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		end := testNow.AddDate(0, 0, 20)
		sub := &billing.Subscription{
			ID:                   uuid.New(),
			UserID:               f.userID,
			PlanID:               f.pro.ID,
			Status:               billing.StatusActive,
			StartsAt:             testNow.AddDate(0, 0, -10),
			EndsAt:               &end,
			AutoRenew:            true,
			PaddleSubscriptionID: "sub_mod_1",
			UpdatedAt:            testNow,
		}
		require.NoError(t, f.subs.Insert(context.Background(), sub))

		f.gateway.cancelAtPeriodEnd = func(_ context.Context, paddleID string) (*billing.RemoteSubscription, error) {
			assert.Equal(t, "sub_mod_1", paddleID)
			return &billing.RemoteSubscription{
				ID:              paddleID,
				Status:          "active",
				ScheduledChange: &billing.RemoteScheduledChange{Action: "cancel", EffectiveAt: end},
			}, nil
		}

		rec := f.request(t, http.MethodPost, "/subscription/auto-renew", `{"enabled": false}`)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, false, body["autoRenew"])
		assert.NotEmpty(t, body["cancelAt"])
	})

	t.Run("invalid plan id is 400", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		rec := f.request(t, http.MethodPost, "/subscription/plan", `{"plan_id": "not-a-uuid"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func signWebhook(ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%s:%s", ts, body)
	return fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	webhookBody := func(userID uuid.UUID, priceID string) []byte {
		return []byte(`{
			"event_id": "evt_mod_1",
			"event_type": "subscription.created",
			"occurred_at": "2025-03-15T12:00:00Z",
			"data": {
				"id": "sub_mod_wh",
				"status": "active",
				"custom_data": {"user_id": "` + userID.String() + `"},
				"current_billing_period": {
					"starts_at": "2025-03-15T00:00:00Z",
					"ends_at": "2025-04-15T00:00:00Z"
				},
				"items": [{"price": {"id": "` + priceID + `"}}]
			}
		}`)
	}

	t.Run("signed event is ingested", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		body := webhookBody(f.userID, f.pro.PaddlePriceID)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewReader(body))
		req.Header.Set("Paddle-Signature", signWebhook("1742040000", body))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		sub, err := f.subs.ByPaddleID(context.Background(), "sub_mod_wh")
		require.NoError(t, err)
		assert.Equal(t, f.userID, sub.UserID)
		assert.Equal(t, f.pro.ID, sub.PlanID)
	})

	t.Run("bad signature is 401 and nothing is written", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		body := webhookBody(f.userID, f.pro.PaddlePriceID)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewReader(body))
		req.Header.Set("Paddle-Signature", "ts=1742040000;h1="+strings.Repeat("ab", 32))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, 0, f.subs.Len())
	})

	t.Run("missing signature is 401", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		body := webhookBody(f.userID, f.pro.PaddlePriceID)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("signed but malformed payload is 400", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		body := []byte(`{broken`)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewReader(body))
		req.Header.Set("Paddle-Signature", signWebhook("1742040000", body))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unhandled event type is acknowledged", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		body := []byte(`{"event_id": "evt_x", "event_type": "transaction.completed"}`)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewReader(body))
		req.Header.Set("Paddle-Signature", signWebhook("1742040000", body))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing metadata is 400", func(t *testing.T) {
		t.Parallel()

		f := newModuleFixture(t)
		body := []byte(`{
			"event_id": "evt_y",
			"event_type": "subscription.created",
			"data": {"id": "sub_no_meta", "status": "active"}
		}`)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewReader(body))
		req.Header.Set("Paddle-Signature", signWebhook("1742040000", body))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
