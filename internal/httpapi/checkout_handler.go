package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/service/checkout"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
)

type checkoutRequest struct {
	OrderType       domain.OrderType     `json:"order_type"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	DeliveryAddress string               `json:"delivery_address,omitempty"`
	TableNumber     string               `json:"table_number,omitempty"`
	Instructions    string               `json:"instructions,omitempty"`
}

func (a *api) placeOrder(w http.ResponseWriter, r *http.Request) {
	var body checkoutRequest
	if !decodeBody(w, r, &body) {
		return
	}
	svc, ok := a.session(w, r)
	if !ok {
		return
	}

	req := checkout.Request{
		UserID:          userFrom(r.Context()),
		Type:            body.OrderType,
		PaymentMethod:   body.PaymentMethod,
		DeliveryAddress: body.DeliveryAddress,
		TableNumber:     body.TableNumber,
		Instructions:    body.Instructions,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	}

	result, err := a.Checkout.PlaceOrder(r.Context(), svc, req)
	if err != nil {
		a.Logger.WithError(err).WithFields(log.Fields{
			"user_id":    req.UserID,
			"request_id": middleware.GetReqID(r.Context()),
		}).Info("checkout rejected")
		respondDomainError(w, err)
		return
	}
	if result.Replayed {
		w.Header().Set(replayedHeader, "true")
	}
	respondJSON(w, http.StatusCreated, result)
}
