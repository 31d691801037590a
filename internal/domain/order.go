package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа в кофейне.
type OrderStatus string

const (
	// OrderStatusPending: заказ принят и оплачен (или будет оплачен на месте), ждёт бариста.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPreparing: заказ готовится.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady: заказ готов к выдаче или передан курьеру.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusCompleted: заказ выдан клиенту.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceled: заказ отменён до начала приготовления.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusReady, OrderStatusCompleted, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// Final сообщает, что статус больше не меняется.
func (s OrderStatus) Final() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}

// CanTransitionTo проверяет переход статуса: pending → preparing → ready → completed,
// отмена возможна только из pending.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPreparing || next == OrderStatusCanceled
	case OrderStatusPreparing:
		return next == OrderStatusReady
	case OrderStatusReady:
		return next == OrderStatusCompleted
	default:
		return false
	}
}

// OrderType: способ получения заказа.
type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypePickUp   OrderType = "pick_up"
	OrderTypeDelivery OrderType = "delivery"
)

// Valid проверяет тип заказа.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDineIn, OrderTypePickUp, OrderTypeDelivery:
		return true
	default:
		return false
	}
}

// PaymentMethod: способ оплаты. Только Wallet списывает средства внутри системы.
type PaymentMethod string

const (
	PaymentMethodWallet PaymentMethod = "Wallet"
	PaymentMethodCash   PaymentMethod = "Cash"
	PaymentMethodCard   PaymentMethod = "Card"
)

// Valid проверяет способ оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodWallet, PaymentMethodCash, PaymentMethodCard:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа, сконвертированную из позиции корзины.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID         string
	MenuItemID string
	Name       string
	// Options: подпись выбранных опций (температура, сахар).
	Options    string
	Qty        int32
	PriceMinor int64
	CreatedAt  time.Time
}

// OrderDraft: данные, которые оформление заказа передаёт во внешнее хранилище.
type OrderDraft struct {
	CustomerID      string
	Type            OrderType
	PaymentMethod   PaymentMethod
	Currency        string
	AmountMinor     int64
	Items           []OrderItem
	DeliveryAddress string
	TableNumber     string
	Instructions    string
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID              string
	CustomerID      string
	Status          OrderStatus
	Type            OrderType
	PaymentMethod   PaymentMethod
	Currency        string
	AmountMinor     int64
	Items           []OrderItem
	DeliveryAddress string
	TableNumber     string
	Instructions    string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItemsFromCart конвертирует снимок корзины в позиции заказа.
func OrderItemsFromCart(lines []CartLine, now time.Time) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, OrderItem{
			MenuItemID: line.MenuItemID,
			Name:       line.Name,
			Options:    line.OptionsLabel(),
			Qty:        line.Quantity,
			PriceMinor: line.UnitPriceMinor,
			CreatedAt:  now,
		})
	}
	return items
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error
	if o.CustomerID == "" {
		errs = append(errs, NewValidationError("customer_id", "is required"))
	}
	if o.Currency == "" {
		errs = append(errs, NewValidationError("currency", "is required"))
	}
	if len(o.Items) == 0 {
		errs = append(errs, NewValidationError("items", "order must contain at least one item"))
	}
	if o.AmountMinor < 0 {
		errs = append(errs, NewValidationError("amount_minor", "must be non-negative"))
	}
	if o.Type == OrderTypeDelivery && strings.TrimSpace(o.DeliveryAddress) == "" {
		errs = append(errs, NewValidationError("delivery_address", "is required for delivery"))
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, NewValidationError("items.qty", "must be greater than zero"))
		}
		if item.PriceMinor < 0 {
			errs = append(errs, NewValidationError("items.price_minor", "must be non-negative"))
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, NewValidationError("amount_minor", "does not match items sum"))
	}
	return errs
}
