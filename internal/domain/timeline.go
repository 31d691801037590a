package domain

import "time"

// TimelineEvent описывает событие в жизни оформления или заказа.
// AggregateID: идентификатор оформления до записи заказа, затем идентификатор заказа.
// CheckoutID связывает события заказа с породившим его оформлением; пуст для событий,
// пришедших от кухни или отмены.
type TimelineEvent struct {
	AggregateID string
	CheckoutID  string
	Type        string
	Reason      string
	Occurred    time.Time
}
