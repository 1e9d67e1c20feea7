package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	corebilling "github.com/dmitrymomot/voxnote/pkg/billing"
	"github.com/dmitrymomot/voxnote/pkg/billing/paddle"
	"github.com/dmitrymomot/voxnote/pkg/usage"
)

type errorResponse struct {
	Error string `json:"error"`
	// Retryable distinguishes "something went wrong, try again" from "you
	// need to act" so the UI can render without inspecting internals.
	Retryable bool `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForError maps domain errors to HTTP status codes per the error
// taxonomy: conflicts 409, unknown targets 404, quota 429, upstream 502,
// everything unexpected 500.
func statusForError(err error) (int, bool) {
	switch {
	case errors.Is(err, usage.ErrQuotaExceeded):
		return http.StatusTooManyRequests, false
	case errors.Is(err, usage.ErrInvalidQuantity),
		errors.Is(err, corebilling.ErrInvalidEventPayload),
		errors.Is(err, corebilling.ErrMissingEventMetadata):
		return http.StatusBadRequest, false
	case errors.Is(err, corebilling.ErrNotManageable),
		errors.Is(err, corebilling.ErrPlanNotPurchasable):
		return http.StatusConflict, false
	case errors.Is(err, corebilling.ErrPlanNotFound),
		errors.Is(err, corebilling.ErrSubscriptionNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, paddle.ErrMissingSignature),
		errors.Is(err, paddle.ErrMalformedSignature),
		errors.Is(err, paddle.ErrSignatureMismatch),
		errors.Is(err, paddle.ErrMissingSecret):
		return http.StatusUnauthorized, false
	case errors.Is(err, corebilling.ErrProviderFailure),
		errors.Is(err, corebilling.ErrRemoteSubscriptionNotFound):
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, true
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, retryable := statusForError(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Retryable: retryable})
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
}
