package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/service/cart"
)

type addItemRequest struct {
	Category    string `json:"category"`
	MenuItemID  string `json:"menu_item_id"`
	Temperature string `json:"temperature,omitempty"`
	Sugar       string `json:"sugar,omitempty"`
	Quantity    int32  `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity *int32 `json:"quantity"`
}

func (a *api) session(w http.ResponseWriter, r *http.Request) (*cart.Service, bool) {
	svc, err := a.Carts.Get(userFrom(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return nil, false
	}
	return svc, true
}

func (a *api) getCart(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.session(w, r)
	if !ok {
		return
	}
	c, err := svc.Cart(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c, a.Currency))
}

func (a *api) getTotals(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.session(w, r)
	if !ok {
		return
	}
	totals, err := svc.Totals(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toTotalsDTO(totals, a.Currency))
}

func (a *api) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	svc, ok := a.session(w, r)
	if !ok {
		return
	}

	lineID, err := svc.AddMenuItem(r.Context(), req.Category, req.MenuItemID, req.Temperature, req.Sugar, req.Quantity)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	c, err := svc.Cart(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, struct {
		LineID int64   `json:"line_id"`
		Cart   cartDTO `json:"cart"`
	}{LineID: lineID, Cart: toCartDTO(c, a.Currency)})
}

func (a *api) setQuantity(w http.ResponseWriter, r *http.Request) {
	lineID, ok := parseLineID(w, r)
	if !ok {
		return
	}
	var req setQuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		respondDomainError(w, domain.NewValidationError("quantity", "is required"))
		return
	}
	svc, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := svc.SetQuantity(r.Context(), lineID, *req.Quantity); err != nil {
		respondDomainError(w, err)
		return
	}
	a.getCart(w, r)
}

func (a *api) removeItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := parseLineID(w, r)
	if !ok {
		return
	}
	svc, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := svc.RemoveLine(r.Context(), lineID); err != nil {
		respondDomainError(w, err)
		return
	}
	a.getCart(w, r)
}

func (a *api) clearCart(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := svc.ClearCart(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamCart отдаёт снимки корзины как server-sent events; первым идёт текущее состояние.
func (a *api) streamCart(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response does not support streaming", "")
		return
	}
	svc, ok := a.session(w, r)
	if !ok {
		return
	}

	sub := svc.Observe(r.Context())
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case lines, open := <-sub.Updates():
			if !open {
				return
			}
			data, err := json.Marshal(toCartDTO(domain.NewCart(lines), a.Currency))
			if err != nil {
				a.Logger.WithError(err).Warn("encode cart snapshot")
				return
			}
			if _, err := fmt.Fprintf(w, "event: cart\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLineID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil || id <= 0 {
		respondDomainError(w, domain.NewValidationError("line_id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}
