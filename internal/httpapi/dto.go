package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

type cartLineDTO struct {
	ID             int64     `json:"id"`
	MenuItemID     string    `json:"menu_item_id"`
	Name           string    `json:"name"`
	Category       string    `json:"category,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	Temperature    string    `json:"temperature,omitempty"`
	Sugar          string    `json:"sugar,omitempty"`
	Quantity       int32     `json:"quantity"`
	UnitPriceMinor int64     `json:"unit_price_minor"`
	LineTotalMinor int64     `json:"line_total_minor"`
	CreatedAt      time.Time `json:"created_at"`
}

type totalsDTO struct {
	ItemCount  int64  `json:"item_count"`
	TotalMinor int64  `json:"total_minor"`
	Currency   string `json:"currency"`
}

type cartDTO struct {
	Lines  []cartLineDTO `json:"lines"`
	Totals totalsDTO     `json:"totals"`
}

func toCartDTO(c domain.Cart, currency string) cartDTO {
	lines := make([]cartLineDTO, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, cartLineDTO{
			ID:             l.ID,
			MenuItemID:     l.MenuItemID,
			Name:           l.Name,
			Category:       l.Category,
			ImageURL:       l.ImageURL,
			Temperature:    l.Temperature,
			Sugar:          l.Sugar,
			Quantity:       l.Quantity,
			UnitPriceMinor: l.UnitPriceMinor,
			LineTotalMinor: l.LineTotalMinor(),
			CreatedAt:      l.CreatedAt,
		})
	}
	return cartDTO{Lines: lines, Totals: toTotalsDTO(c.Totals, currency)}
}

func toTotalsDTO(t domain.CartTotals, currency string) totalsDTO {
	return totalsDTO{ItemCount: t.ItemCount, TotalMinor: t.TotalMinor, Currency: currency}
}

type menuItemDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Category     string   `json:"category"`
	PriceMinor   int64    `json:"price_minor"`
	ImageURL     string   `json:"image_url,omitempty"`
	Available    bool     `json:"available"`
	Temperatures []string `json:"temperatures,omitempty"`
	SugarLevels  []string `json:"sugar_levels,omitempty"`
}

func toMenuItemDTO(m domain.MenuItem) menuItemDTO {
	return menuItemDTO{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		Category:     m.Category,
		PriceMinor:   m.PriceMinor,
		ImageURL:     m.ImageURL,
		Available:    m.Available,
		Temperatures: m.Temperatures,
		SugarLevels:  m.SugarLevels,
	}
}

type orderItemDTO struct {
	MenuItemID string `json:"menu_item_id"`
	Name       string `json:"name"`
	Options    string `json:"options,omitempty"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type timelineEventDTO struct {
	Type       string    `json:"type"`
	CheckoutID string    `json:"checkout_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Occurred   time.Time `json:"occurred"`
}

type orderDTO struct {
	ID              string             `json:"id"`
	Status          string             `json:"status"`
	Type            string             `json:"order_type"`
	PaymentMethod   string             `json:"payment_method"`
	Currency        string             `json:"currency"`
	AmountMinor     int64              `json:"amount_minor"`
	DeliveryAddress string             `json:"delivery_address,omitempty"`
	TableNumber     string             `json:"table_number,omitempty"`
	Instructions    string             `json:"instructions,omitempty"`
	Items           []orderItemDTO     `json:"items"`
	Timeline        []timelineEventDTO `json:"timeline,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func toOrderDTO(o domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemDTO{
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Options:    it.Options,
			Qty:        it.Qty,
			PriceMinor: it.PriceMinor,
		})
	}
	return orderDTO{
		ID:              o.ID,
		Status:          string(o.Status),
		Type:            string(o.Type),
		PaymentMethod:   string(o.PaymentMethod),
		Currency:        o.Currency,
		AmountMinor:     o.AmountMinor,
		DeliveryAddress: o.DeliveryAddress,
		TableNumber:     o.TableNumber,
		Instructions:    o.Instructions,
		Items:           items,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}
