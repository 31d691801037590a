package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// TimelineRepository хранит хронологию оформлений и заказов в timeline_events.
type TimelineRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{db: store.DB(), now: func() time.Time { return time.Now().UTC() }}
}

// Append записывает событие; пустое Occurred заменяется текущим временем.
func (r *TimelineRepository) Append(event domain.TimelineEvent) error {
	if event.AggregateID == "" || event.Type == "" {
		return domain.NewValidationError("timeline_event", "aggregate id and type are required")
	}
	if event.Occurred.IsZero() {
		event.Occurred = r.now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	const q = `INSERT INTO timeline_events (aggregate_id, checkout_id, type, reason, occurred)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, q,
		event.AggregateID, event.CheckoutID, event.Type, event.Reason, event.Occurred.UTC(),
	); err != nil {
		return fmt.Errorf("append timeline %s: %w", event.AggregateID, err)
	}
	return nil
}

// List возвращает события агрегата по времени; события одного момента идут в порядке записи.
func (r *TimelineRepository) List(aggregateID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT aggregate_id, checkout_id, type, reason, occurred
		FROM timeline_events
		WHERE aggregate_id = $1
		ORDER BY occurred, id`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("list timeline %s: %w", aggregateID, err)
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.AggregateID, &event.CheckoutID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list timeline %s: %w", aggregateID, err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
