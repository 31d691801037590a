// Package checkout оформляет заказ: проверка корзины, списание с кошелька, запись заказа
// и очистка корзины с компенсирующим зачислением при сбое записи заказа.
package checkout

import (
	"context"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// Step: состояние попытки оформления.
type Step string

const (
	StepValidating Step = "validating"
	StepFundsCheck Step = "funds_check"
	StepSubmitting Step = "submitting"
	StepClearing   Step = "clearing"
	StepCompleted  Step = "completed"
	StepFailed     Step = "failed"
)

// Типы событий оформления для outbox и timeline.
const (
	EventCheckoutStarted   = "CheckoutStarted"
	EventWalletDebited     = "WalletDebited"
	EventOrderSubmitted    = "OrderSubmitted"
	EventWalletCredited    = "WalletCredited"
	EventWalletCreditFail  = "WalletCreditFailed"
	EventCheckoutCompleted = "CheckoutCompleted"
	EventCheckoutFailed    = "CheckoutFailed"
	EventCartClearFailed   = "CartClearFailed"
)

// CartSession: корзина, из которой оформляется заказ.
type CartSession interface {
	Lines(ctx context.Context) ([]domain.CartLine, error)
	// RemoveOrdered убирает только оформленные позиции; добавленное во время оформления остаётся.
	RemoveOrdered(ctx context.Context, ordered []domain.CartLine) error
}

// BalanceLedger: операции кошелька, нужные оформлению.
type BalanceLedger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amountMinor int64) error
	Credit(ctx context.Context, userID string, amountMinor int64) error
}

// Request: параметры оформления заказа.
type Request struct {
	UserID          string               `json:"user_id"`
	Type            domain.OrderType     `json:"order_type"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	DeliveryAddress string               `json:"delivery_address,omitempty"`
	TableNumber     string               `json:"table_number,omitempty"`
	Instructions    string               `json:"instructions,omitempty"`
	// IdempotencyKey не входит в хэш запроса.
	IdempotencyKey string `json:"-"`
}

// Result: итог успешного оформления.
type Result struct {
	CheckoutID string `json:"checkout_id"`
	OrderID    string `json:"order_id"`
	TotalMinor int64  `json:"total_minor"`
	Currency   string `json:"currency"`
	ItemCount  int64  `json:"item_count"`
	Debited    bool   `json:"debited"`
	// ClearWarning заполнен, если заказ оформлен, но корзину очистить не удалось.
	ClearWarning string `json:"clear_warning,omitempty"`
	Replayed     bool   `json:"-"`
}
