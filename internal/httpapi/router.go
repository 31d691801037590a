// Package httpapi: HTTP-интерфейс кофейни: корзина, оформление, кошелёк, меню и заказы.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/service/cart"
	"github.com/vladislavdragonenkov/cafe/internal/service/checkout"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 1 << 20
	defaultOrdersLimit    = 50
)

// CartSessions выдаёт корзину пользователя.
type CartSessions interface {
	Get(userID string) (*cart.Service, error)
}

// Checkout оформляет заказ из корзины.
type Checkout interface {
	PlaceOrder(ctx context.Context, cart checkout.CartSession, req checkout.Request) (checkout.Result, error)
}

// Wallet: операции кошелька, доступные клиенту.
type Wallet interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Credit(ctx context.Context, userID string, amountMinor int64) error
}

// Orders: чтение и отмена заказов.
type Orders interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Deps: зависимости обработчиков.
type Deps struct {
	Carts    CartSessions
	Checkout Checkout
	Wallet   Wallet
	Orders   Orders
	Menu     domain.CatalogReader
	Currency string
	Logger   *log.Entry
	// RequestTimeout ограничивает обычные запросы; поток корзины живёт до отключения клиента.
	RequestTimeout time.Duration
}

type api struct {
	Deps
}

// NewRouter собирает chi-роутер с middleware и оборачивает его otelhttp.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = log.WithField("component", "http")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	if deps.Currency == "" {
		deps.Currency = "USD"
	}
	a := &api{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.Timeout(deps.RequestTimeout)).Get("/menu/{category}", a.listMenu)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			// SSE-поток без таймаута запроса.
			r.Get("/cart/stream", a.streamCart)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(deps.RequestTimeout))
				r.Use(middleware.RequestSize(maxBodyBytes))

				r.Get("/cart", a.getCart)
				r.Get("/cart/totals", a.getTotals)
				r.Post("/cart/items", a.addItem)
				r.Patch("/cart/items/{lineID}", a.setQuantity)
				r.Delete("/cart/items/{lineID}", a.removeItem)
				r.Delete("/cart", a.clearCart)

				r.Post("/checkout", a.placeOrder)

				r.Get("/wallet", a.getWallet)
				r.Post("/wallet/top-up", a.topUp)

				r.Get("/orders", a.listOrders)
				r.Get("/orders/{orderID}", a.getOrder)
				r.Post("/orders/{orderID}/cancel", a.cancelOrder)
			})
		})
	})

	return otelhttp.NewHandler(r, "cafe-http")
}
