package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	corebilling "github.com/dmitrymomot/voxnote/pkg/billing"
	"github.com/dmitrymomot/voxnote/pkg/billing/paddle"
	"github.com/dmitrymomot/voxnote/pkg/usage"
)

// maxWebhookBody caps the request body we are willing to HMAC and parse.
const maxWebhookBody = 1 << 20

// Handler exposes the billing module over HTTP: entitlement checks, usage
// recording, subscription management and the Paddle webhook endpoint.
type Handler struct {
	resolver      *corebilling.Resolver
	service       *corebilling.Service
	transcription *usage.Meter
	exports       *usage.Meter
	verifier      *paddle.SignatureVerifier
	ingestor      *corebilling.Ingestor
	metrics       *Metrics
	log           *slog.Logger
}

func NewHandler(
	resolver *corebilling.Resolver,
	service *corebilling.Service,
	transcription *usage.Meter,
	exports *usage.Meter,
	verifier *paddle.SignatureVerifier,
	ingestor *corebilling.Ingestor,
	metrics *Metrics,
	log *slog.Logger,
) *Handler {
	if resolver == nil || service == nil || transcription == nil || exports == nil {
		panic("billing: handler requires resolver, service and meters")
	}
	if verifier == nil || ingestor == nil {
		panic("billing: handler requires webhook verifier and ingestor")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		resolver:      resolver,
		service:       service,
		transcription: transcription,
		exports:       exports,
		verifier:      verifier,
		ingestor:      ingestor,
		metrics:       metrics,
		log:           log,
	}
}

type entitlementResponse struct {
	Allowed         bool    `json:"allowed"`
	Message         string  `json:"message,omitempty"`
	Warning         string  `json:"warning,omitempty"`
	Used            int     `json:"used"`
	PlanLimit       *int    `json:"planLimit"`
	Remaining       *int    `json:"remaining"`
	Unit            string  `json:"unit"`
	BillingInterval *string `json:"billingInterval,omitempty"`
	WindowStart     string  `json:"windowStart"`
	WindowEnd       *string `json:"windowEnd,omitempty"`
}

func entitlementFromCheck(check *usage.LimitCheck, unit string) entitlementResponse {
	resp := entitlementResponse{
		Allowed:     check.Allowed,
		Message:     check.Message,
		Warning:     check.Warning,
		Used:        check.Used,
		PlanLimit:   check.PlanLimit,
		Remaining:   check.Remaining,
		Unit:        unit,
		WindowStart: check.WindowStart.Format(time.RFC3339),
	}
	if check.BillingInterval != nil {
		interval := string(*check.BillingInterval)
		resp.BillingInterval = &interval
	}
	if check.WindowEnd != nil {
		end := check.WindowEnd.Format(time.RFC3339)
		resp.WindowEnd = &end
	}
	return resp
}

// TranscriptionEntitlement reports whether the user may start a
// transcription and how many minutes remain in the current window.
func (h *Handler) TranscriptionEntitlement(w http.ResponseWriter, r *http.Request) {
	h.entitlement(w, r, h.transcription, "minutes")
}

// ExportEntitlement reports whether the user may export another document.
func (h *Handler) ExportEntitlement(w http.ResponseWriter, r *http.Request) {
	h.entitlement(w, r, h.exports, "exports")
}

func (h *Handler) entitlement(w http.ResponseWriter, r *http.Request, meter *usage.Meter, unit string) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	check, err := meter.CheckLimit(r.Context(), userID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "entitlement check failed",
			slog.String("user_id", userID.String()), slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entitlementFromCheck(check, unit))
}

type recordTranscriptionRequest struct {
	Minutes int `json:"minutes"`
}

type recordExportRequest struct {
	Count int `json:"count"`
}

// RecordTranscription appends transcription minutes to the ledger after an
// authoritative quota re-check.
func (h *Handler) RecordTranscription(w http.ResponseWriter, r *http.Request) {
	var req recordTranscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	h.record(w, r, h.transcription, req.Minutes, "minutes")
}

// RecordExport appends document exports to the ledger after an authoritative
// quota re-check.
func (h *Handler) RecordExport(w http.ResponseWriter, r *http.Request) {
	var req recordExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	h.record(w, r, h.exports, req.Count, "exports")
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request, meter *usage.Meter, quantity int, unit string) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	check, err := meter.Record(r.Context(), userID, quantity)
	if err != nil {
		h.metrics.UsageRecorded(unit, "rejected")
		if check != nil {
			// Quota rejections carry the limit snapshot so the client can
			// render the paywall without a second round trip.
			status, _ := statusForError(err)
			body := struct {
				errorResponse
				Limits entitlementResponse `json:"limits"`
			}{
				errorResponse: errorResponse{Error: err.Error()},
				Limits:        entitlementFromCheck(check, unit),
			}
			writeJSON(w, status, body)
			return
		}
		writeError(w, err)
		return
	}
	h.metrics.UsageRecorded(unit, "accepted")
	writeJSON(w, http.StatusOK, entitlementFromCheck(check, unit))
}

// UsageSummary reports both meters at once so a dashboard renders with a
// single round trip.
func (h *Handler) UsageSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}

	transcription, err := h.transcription.CheckLimit(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	exports, err := h.exports.CheckLimit(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]entitlementResponse{
		"transcription": entitlementFromCheck(transcription, "minutes"),
		"export":        entitlementFromCheck(exports, "exports"),
	})
}

type subscriptionResponse struct {
	ID              string          `json:"id"`
	PlanID          string          `json:"planId"`
	PlanName        string          `json:"planName"`
	Status          string          `json:"status"`
	StartsAt        string          `json:"startsAt"`
	EndsAt          *string         `json:"endsAt,omitempty"`
	AutoRenew       bool            `json:"autoRenew"`
	CancelAt        *string         `json:"cancelAt,omitempty"`
	BillingInterval *string         `json:"billingInterval,omitempty"`
	LocallyManaged  bool            `json:"locallyManaged"`
	Features        map[string]bool `json:"features,omitempty"`
}

func subscriptionView(sub *corebilling.Subscription, plan *corebilling.Plan) subscriptionResponse {
	resp := subscriptionResponse{
		ID:             sub.ID.String(),
		PlanID:         sub.PlanID.String(),
		Status:         string(sub.Status),
		StartsAt:       sub.StartsAt.Format(time.RFC3339),
		AutoRenew:      sub.AutoRenew,
		LocallyManaged: sub.IsLocallyManaged(),
	}
	if plan != nil {
		resp.PlanName = plan.Name
		if plan.Interval != nil {
			interval := string(*plan.Interval)
			resp.BillingInterval = &interval
		}
		resp.Features = map[string]bool{
			string(corebilling.FeaturePremiumTemplates): plan.HasFeature(corebilling.FeaturePremiumTemplates),
			string(corebilling.FeatureArchiveAccess):    plan.HasFeature(corebilling.FeatureArchiveAccess),
		}
	}
	if sub.EndsAt != nil {
		ends := sub.EndsAt.Format(time.RFC3339)
		resp.EndsAt = &ends
	}
	if sub.CancelAt != nil {
		cancel := sub.CancelAt.Format(time.RFC3339)
		resp.CancelAt = &cancel
	}
	return resp
}

// Subscription resolves and returns the user's current subscription,
// reconciling it with the billing provider when the local window is stale.
func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	sub, plan, err := h.resolver.Resolve(r.Context(), userID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "subscription resolution failed",
			slog.String("user_id", userID.String()), slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView(sub, plan))
}

type setAutoRenewRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoRenew toggles renewal on the remote subscription first, then
// mirrors the outcome locally.
func (h *Handler) SetAutoRenew(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	var req setAutoRenewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	sub, err := h.service.SetAutoRenew(r.Context(), userID, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView(sub, nil))
}

type changePlanRequest struct {
	PlanID    string `json:"plan_id"`
	Proration string `json:"proration"`
}

// ChangePlan switches the subscription to another paid plan, either
// immediately with proration or scheduled for the next billing period.
func (h *Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid plan id"})
		return
	}
	mode := corebilling.ProrationImmediate
	if req.Proration == string(corebilling.ProrationNextPeriod) {
		mode = corebilling.ProrationNextPeriod
	}
	sub, err := h.service.ChangePlan(r.Context(), userID, planID, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView(sub, nil))
}

// PaymentMethodUpdateURL returns a provider-hosted page where the user can
// update their payment method.
func (h *Handler) PaymentMethodUpdateURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return
	}
	url, err := h.service.PaymentMethodUpdateURL(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Webhook verifies and ingests Paddle subscription lifecycle events. The
// signature is checked over the raw body before any parsing happens.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.WebhookProcessed("unknown", "read_error")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable request body"})
		return
	}
	if err := h.verifier.Verify(r.Header.Get("Paddle-Signature"), body); err != nil {
		h.metrics.WebhookProcessed("unknown", "bad_signature")
		h.log.WarnContext(r.Context(), "webhook signature rejected", slog.Any("error", err))
		writeError(w, err)
		return
	}
	event, err := corebilling.ParseWebhookEvent(body)
	if err != nil {
		h.metrics.WebhookProcessed("unknown", "bad_payload")
		writeError(w, err)
		return
	}
	if err := h.ingestor.Ingest(r.Context(), event); err != nil {
		h.metrics.WebhookProcessed(event.EventType, "error")
		h.log.ErrorContext(r.Context(), "webhook ingestion failed",
			slog.String("event_id", event.EventID),
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	h.metrics.WebhookProcessed(event.EventType, "ok")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
