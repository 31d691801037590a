package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// TimelineRepository хранит историю оформлений и заказов в памяти, как timeline_events в Postgres.
type TimelineRepository struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{events: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие по времени; при равном Occurred сохраняется порядок записи.
func (r *TimelineRepository) Append(event domain.TimelineEvent) error {
	if event.AggregateID == "" || event.Type == "" {
		return domain.NewValidationError("timeline_event", "aggregate id and type are required")
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.events[event.AggregateID]
	pos := len(events)
	for pos > 0 && events[pos-1].Occurred.After(event.Occurred) {
		pos--
	}
	r.events[event.AggregateID] = slices.Insert(events, pos, event)
	return nil
}

func (r *TimelineRepository) List(aggregateID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events[aggregateID]), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
