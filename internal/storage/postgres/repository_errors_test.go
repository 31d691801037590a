package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewStore(db), mock
}

// Сбои timeline, outbox и ключей идемпотентности не должны выглядеть как сбой хранилища корзины.
func TestTimelineRepository_FailuresAreNotCartStorageErrors(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewTimelineRepository(store)
	connDown := errors.New("connection reset")

	mock.ExpectExec(`INSERT INTO timeline_events`).WillReturnError(connDown)
	mock.ExpectQuery(`SELECT aggregate_id, checkout_id, type, reason, occurred`).
		WithArgs("ord-1").
		WillReturnError(connDown)

	err := repo.Append(domain.TimelineEvent{AggregateID: "ord-1", Type: "order.placed", Occurred: time.Now()})
	require.Error(t, err)
	assert.ErrorIs(t, err, connDown)
	assert.False(t, domain.IsStorageError(err))
	assert.NotContains(t, err.Error(), "cart storage")
	assert.Contains(t, err.Error(), "append timeline ord-1")

	_, err = repo.List("ord-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, connDown)
	assert.False(t, domain.IsStorageError(err))
	assert.Contains(t, err.Error(), "list timeline ord-1")
}

func TestIdempotencyAndOutbox_FailuresAreNotCartStorageErrors(t *testing.T) {
	store, mock := newMockStore(t)
	idem := NewIdempotencyRepository(store)
	outbox := NewOutboxRepository(store)
	connDown := errors.New("connection reset")

	mock.ExpectQuery(`SELECT key, request_hash`).WithArgs("checkout:u1:k1").WillReturnError(connDown)
	mock.ExpectExec(`DELETE FROM idempotency_keys`).WillReturnError(connDown)
	mock.ExpectExec(`UPDATE outbox`).WillReturnError(connDown)

	_, err := idem.Get("checkout:u1:k1")
	assert.ErrorIs(t, err, connDown)
	assert.False(t, domain.IsStorageError(err))

	_, err = idem.DeleteExpired(time.Now(), 10)
	assert.ErrorIs(t, err, connDown)
	assert.False(t, domain.IsStorageError(err))

	err = outbox.MarkSent("msg-1")
	assert.ErrorIs(t, err, connDown)
	assert.False(t, domain.IsStorageError(err))
}
