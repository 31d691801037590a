package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/snapshot"
)

const lineColumns = `id, menu_item_id, name, unit_price_minor, category, image_url, temperature, sugar, quantity, created_at`

// CartStore хранит корзину одного владельца в общей таблице cart_lines.
type CartStore struct {
	db      *sql.DB
	ownerID string
	logger  *log.Entry
	now     func() time.Time

	// mu держится на время записи и публикации снимка, чтобы снимки шли в порядке записей.
	mu   sync.Mutex
	feed *snapshot.Feed[[]domain.CartLine]
}

// NewCartStore создаёт хранилище корзины для ownerID. Схема должна быть создана через Migrate.
func NewCartStore(db *sql.DB, ownerID string, logger *log.Entry) *CartStore {
	if logger == nil {
		logger = log.WithField("component", "sqlite-cart-store")
	}
	return &CartStore{
		db:      db,
		ownerID: ownerID,
		logger:  logger.WithField("owner_id", ownerID),
		now:     func() time.Time { return time.Now().UTC() },
		feed:    snapshot.NewFeed[[]domain.CartLine](),
	}
}

// Upsert вставляет позицию (ID == 0) или заменяет существующую по ID.
func (s *CartStore) Upsert(ctx context.Context, line domain.CartLine) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line.CreatedAt.IsZero() {
		line.CreatedAt = s.now()
	}

	var (
		res sql.Result
		err error
	)
	if line.ID == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO cart_lines (owner_id, menu_item_id, name, unit_price_minor, category, image_url, temperature, sugar, quantity, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ownerID, line.MenuItemID, line.Name, line.UnitPriceMinor, line.Category, line.ImageURL,
			line.Temperature, line.Sugar, line.Quantity, line.CreatedAt.UnixNano(),
		)
	} else {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO cart_lines (id, owner_id, menu_item_id, name, unit_price_minor, category, image_url, temperature, sugar, quantity, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				menu_item_id = excluded.menu_item_id,
				name = excluded.name,
				unit_price_minor = excluded.unit_price_minor,
				category = excluded.category,
				image_url = excluded.image_url,
				temperature = excluded.temperature,
				sugar = excluded.sugar,
				quantity = excluded.quantity
			WHERE cart_lines.owner_id = excluded.owner_id`,
			line.ID, s.ownerID, line.MenuItemID, line.Name, line.UnitPriceMinor, line.Category, line.ImageURL,
			line.Temperature, line.Sugar, line.Quantity, line.CreatedAt.UnixNano(),
		)
	}
	if err != nil {
		return 0, domain.NewStorageError("upsert", err)
	}

	id := line.ID
	if id == 0 {
		if id, err = res.LastInsertId(); err != nil {
			return 0, domain.NewStorageError("upsert", err)
		}
	}

	s.publishLocked(ctx)
	return id, nil
}

// FindByConfiguration использует индекс idx_cart_lines_configuration.
func (s *CartStore) FindByConfiguration(ctx context.Context, cfg domain.CartConfiguration) (domain.CartLine, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+lineColumns+`
		FROM cart_lines
		WHERE owner_id = ? AND menu_item_id = ? AND temperature = ? AND sugar = ?
		ORDER BY id
		LIMIT 1`,
		s.ownerID, cfg.MenuItemID, cfg.Temperature, cfg.Sugar,
	)
	return s.scanOne(row, "find")
}

// Get возвращает позицию по ID.
func (s *CartStore) Get(ctx context.Context, id int64) (domain.CartLine, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+lineColumns+`
		FROM cart_lines
		WHERE owner_id = ? AND id = ?`,
		s.ownerID, id,
	)
	return s.scanOne(row, "get")
}

// Remove удаляет позицию; отсутствие строки не ошибка.
func (s *CartStore) Remove(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeLocked(ctx, id)
}

// SetQuantity обновляет количество; qty <= 0 удаляет позицию.
func (s *CartStore) SetQuantity(ctx context.Context, id int64, qty int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty <= 0 {
		return s.removeLocked(ctx, id)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE cart_lines SET quantity = ? WHERE owner_id = ? AND id = ?`,
		qty, s.ownerID, id,
	)
	if err != nil {
		return domain.NewStorageError("set_quantity", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.NewStorageError("set_quantity", err)
	}
	if affected == 0 {
		return domain.ErrCartLineNotFound
	}

	s.publishLocked(ctx)
	return nil
}

// Clear удаляет все позиции владельца в одной транзакции.
func (s *CartStore) Clear(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStorageError("clear", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE owner_id = ?`, s.ownerID); err != nil {
		return domain.NewStorageError("clear", err)
	}
	if err = tx.Commit(); err != nil {
		return domain.NewStorageError("clear", err)
	}

	s.publishLocked(ctx)
	return nil
}

// List возвращает позиции в порядке создания.
func (s *CartStore) List(ctx context.Context) ([]domain.CartLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM cart_lines
		WHERE owner_id = ?
		ORDER BY created_at, id`,
		s.ownerID,
	)
	if err != nil {
		return nil, domain.NewStorageError("list", err)
	}
	defer func() { _ = rows.Close() }()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, domain.NewStorageError("list", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list", err)
	}
	return lines, nil
}

// Observe подписывает на снимки корзины; первым приходит текущее состояние.
func (s *CartStore) Observe(ctx context.Context) domain.CartSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.feed.Subscribe(ctx, s.snapshotLocked(ctx))
}

// Close завершает подписки. Соединение с базой закрывает владелец *sql.DB.
func (s *CartStore) Close() error {
	s.feed.Close()
	return nil
}

func (s *CartStore) removeLocked(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE owner_id = ? AND id = ?`, s.ownerID, id); err != nil {
		return domain.NewStorageError("remove", err)
	}
	s.publishLocked(ctx)
	return nil
}

// snapshotLocked не прерывает поток при ошибке чтения: подписчики получают пустой снимок.
func (s *CartStore) snapshotLocked(ctx context.Context) []domain.CartLine {
	lines, err := s.List(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.WithError(err).Warn("failed to read cart snapshot, publishing empty snapshot")
		return []domain.CartLine{}
	}
	return lines
}

func (s *CartStore) publishLocked(ctx context.Context) {
	s.feed.Publish(s.snapshotLocked(ctx))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *CartStore) scanOne(row *sql.Row, op string) (domain.CartLine, bool, error) {
	line, err := scanLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CartLine{}, false, nil
	}
	if err != nil {
		return domain.CartLine{}, false, domain.NewStorageError(op, err)
	}
	return line, true, nil
}

func scanLine(row rowScanner) (domain.CartLine, error) {
	var (
		line      domain.CartLine
		createdAt int64
	)
	if err := row.Scan(
		&line.ID,
		&line.MenuItemID,
		&line.Name,
		&line.UnitPriceMinor,
		&line.Category,
		&line.ImageURL,
		&line.Temperature,
		&line.Sugar,
		&line.Quantity,
		&createdAt,
	); err != nil {
		return domain.CartLine{}, err
	}
	line.CreatedAt = time.Unix(0, createdAt).UTC()
	return line, nil
}

var _ domain.CartStore = (*CartStore)(nil)
