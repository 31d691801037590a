package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

func (a *api) listMenu(w http.ResponseWriter, r *http.Request) {
	category := strings.ToLower(chi.URLParam(r, "category"))
	items, err := a.Menu.ListByCategory(r.Context(), category)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	out := make([]menuItemDTO, 0, len(items))
	for _, item := range items {
		out = append(out, toMenuItemDTO(item))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *api) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultOrdersLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondDomainError(w, domain.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	orders, err := a.Orders.ListByCustomer(r.Context(), userFrom(r.Context()), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *api) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := a.ownedOrder(w, r)
	if !ok {
		return
	}
	events, err := a.Orders.Timeline(r.Context(), order.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	dto := toOrderDTO(order)
	for _, e := range events {
		dto.Timeline = append(dto.Timeline, timelineEventDTO{Type: e.Type, CheckoutID: e.CheckoutID, Reason: e.Reason, Occurred: e.Occurred})
	}
	respondJSON(w, http.StatusOK, dto)
}

func (a *api) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := a.ownedOrder(w, r)
	if !ok {
		return
	}
	if err := a.Orders.CancelOrder(r.Context(), order.ID); err != nil {
		respondDomainError(w, err)
		return
	}
	a.getOrder(w, r)
}

// ownedOrder читает заказ и скрывает чужие заказы за 404.
func (a *api) ownedOrder(w http.ResponseWriter, r *http.Request) (domain.Order, bool) {
	order, err := a.Orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		respondDomainError(w, err)
		return domain.Order{}, false
	}
	if order.CustomerID != userFrom(r.Context()) {
		respondDomainError(w, domain.ErrOrderNotFound)
		return domain.Order{}, false
	}
	return order, true
}
