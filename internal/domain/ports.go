package domain

import "context"

// CartSubscription: живой поток снимков корзины.
// Канал Updates закрывается после Close или отмены контекста подписки.
type CartSubscription interface {
	Updates() <-chan []CartLine
	Close()
}

// CartStore: долговременное хранилище позиций корзины одного владельца.
type CartStore interface {
	// Upsert вставляет позицию (ID == 0) или заменяет существующую по ID.
	// Проверку дедупликации выполняет вызывающий код через FindByConfiguration.
	Upsert(ctx context.Context, line CartLine) (int64, error)
	FindByConfiguration(ctx context.Context, cfg CartConfiguration) (CartLine, bool, error)
	Get(ctx context.Context, id int64) (CartLine, bool, error)
	// Remove удаляет позицию; отсутствие позиции не считается ошибкой.
	Remove(ctx context.Context, id int64) error
	// SetQuantity при qty <= 0 эквивалентен Remove.
	SetQuantity(ctx context.Context, id int64, qty int32) error
	// Clear удаляет все позиции атомарно.
	Clear(ctx context.Context) error
	List(ctx context.Context) ([]CartLine, error)
	// Observe подписывает на снимки; первым приходит текущее состояние.
	Observe(ctx context.Context) CartSubscription
}

// CatalogReader описывает чтение удалённого каталога меню.
type CatalogReader interface {
	GetMenuItem(ctx context.Context, category, id string) (MenuItem, error)
	ListByCategory(ctx context.Context, category string) ([]MenuItem, error)
}

// OrderSink описывает внешнее хранилище заказов.
type OrderSink interface {
	// SubmitOrder записывает заказ и возвращает назначенный хранилищем идентификатор.
	SubmitOrder(ctx context.Context, draft OrderDraft) (string, error)
	// CancelOrder отменяет ещё не начатый заказ.
	CancelOrder(ctx context.Context, orderID string) error
}

// AccountStore: хранилище балансов кошельков, на котором построен BalanceLedger.
type AccountStore interface {
	// ReadBalance возвращает ErrAccountNotFound, если кошелёк не заведён.
	ReadBalance(ctx context.Context, userID string) (int64, error)
	WriteBalance(ctx context.Context, userID string, amountMinor int64) error
}

// BalanceSwapper: опциональная возможность AccountStore атомарно сравнить и записать баланс.
// swapped=false означает, что текущий баланс уже не равен expected.
type BalanceSwapper interface {
	CompareAndSwapBalance(ctx context.Context, userID string, expected, next int64) (swapped bool, err error)
	// CreateBalance заводит кошелёк, только если его ещё нет; created=false, если он уже существует.
	CreateBalance(ctx context.Context, userID string, amountMinor int64) (created bool, err error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}
