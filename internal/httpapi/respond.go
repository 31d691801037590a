package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/service/checkout"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message, field string) {
	respondJSON(w, status, errorResponse{Error: code, Message: message, Field: field})
}

// respondDomainError переводит доменную ошибку в HTTP-ответ.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	var field string
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		field = verr.Field
	}
	respondError(w, status, code, err.Error(), field)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrCartLineNotFound):
		return http.StatusNotFound, "cart_line_not_found"
	case errors.Is(err, domain.ErrMenuItemNotFound):
		return http.StatusNotFound, "menu_item_not_found"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "wallet_not_found"
	case errors.Is(err, domain.ErrOrderNotCancelable):
		return http.StatusConflict, "order_not_cancelable"
	}

	status := checkout.StatusCode(err)
	switch status {
	case http.StatusBadRequest:
		return status, "validation_failed"
	case http.StatusPaymentRequired:
		return status, "insufficient_funds"
	case http.StatusConflict:
		if errors.Is(err, domain.ErrCheckoutInProgress) {
			return status, "checkout_in_progress"
		}
		return status, "idempotency_key_reused"
	case http.StatusBadGateway:
		return status, "order_submission_failed"
	case http.StatusServiceUnavailable:
		if domain.IsStorageError(err) {
			return status, "cart_storage_unavailable"
		}
		return status, "wallet_unavailable"
	case http.StatusRequestTimeout:
		return status, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body: "+err.Error(), "")
		return false
	}
	return true
}
