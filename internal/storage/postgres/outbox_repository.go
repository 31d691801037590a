package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// defaultClaimTTL: сколько сообщение остаётся за relay, забравшим его через PullPending.
// После истечения срока неподтверждённое сообщение снова выдаётся любому экземпляру сервиса.
const defaultClaimTTL = 30 * time.Second

// OutboxRepository хранит события оформления и заказов до публикации в Kafka.
// Несколько экземпляров relay могут читать одну таблицу: PullPending захватывает
// строки через FOR UPDATE SKIP LOCKED и помечает их claimed_until.
type OutboxRepository struct {
	db       *sql.DB
	claimTTL time.Duration
}

func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{db: store.DB(), claimTTL: defaultClaimTTL}
}

// WithClaimTTL меняет срок захвата сообщений.
func (r *OutboxRepository) WithClaimTTL(ttl time.Duration) *OutboxRepository {
	if ttl > 0 {
		r.claimTTL = ttl
	}
	return r
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if len(msg.Payload) == 0 {
		msg.Payload = []byte("{}")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	const q = `INSERT INTO outbox_messages
		(id, aggregate_type, aggregate_id, event_type, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`
	if _, err := r.db.ExecContext(ctx, q, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s: %w", msg.EventType, err)
	}
	return msg, nil
}

// PullPending захватывает до limit незанятых pending-сообщений и возвращает их в порядке постановки.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		UPDATE outbox_messages
		SET claimed_until = NOW() + make_interval(secs => $2), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'pending' AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING seq, id, aggregate_type, aggregate_id, event_type, payload`,
		limit, r.claimTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		seq int64
		msg domain.OutboxMessage
	}
	batch := make([]claimed, 0, limit)
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.seq, &c.msg.ID, &c.msg.AggregateType, &c.msg.AggregateID, &c.msg.EventType, &c.msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}

	// RETURNING не гарантирует порядок.
	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })
	msgs := make([]domain.OutboxMessage, len(batch))
	for i, c := range batch {
		msgs[i] = c.msg
	}
	return msgs, nil
}

// Stats считает все pending-сообщения, в том числе захваченные.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'`,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error   { return r.finish(id, "sent") }
func (r *OutboxRepository) MarkFailed(id string) error { return r.finish(id, "failed") }

func (r *OutboxRepository) finish(id, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $1, attempt_count = attempt_count + 1, claimed_until = NULL, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'`, status, id)
	if err != nil {
		return fmt.Errorf("mark outbox %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("outbox message %s is not pending: %w", id, domain.ErrOutboxPublish)
	}
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
