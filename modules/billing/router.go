package billing

import (
	"github.com/go-chi/chi/v5"
)

// Router mounts the billing module. Authenticated routes sit behind
// TrustedHeaderAuth; the webhook endpoint is authenticated by its HMAC
// signature instead and stays outside the middleware.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(handler))
func Router(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(authed chi.Router) {
		authed.Use(TrustedHeaderAuth)

		authed.Get("/entitlements/transcription", h.TranscriptionEntitlement)
		authed.Get("/entitlements/export", h.ExportEntitlement)
		authed.Post("/usage/transcription", h.RecordTranscription)
		authed.Post("/usage/export", h.RecordExport)
		authed.Get("/usage", h.UsageSummary)

		authed.Get("/subscription", h.Subscription)
		authed.Post("/subscription/auto-renew", h.SetAutoRenew)
		authed.Post("/subscription/plan", h.ChangePlan)
		authed.Post("/subscription/payment-method", h.PaymentMethodUpdateURL)
	})

	r.Post("/webhooks/paddle", h.Webhook)

	return r
}
