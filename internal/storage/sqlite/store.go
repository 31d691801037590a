// Package sqlite содержит локальное хранилище корзины на встроенной SQLite (modernc.org/sqlite, без cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

var schema = []string{`
CREATE TABLE IF NOT EXISTS cart_lines (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id         TEXT    NOT NULL,
	menu_item_id     TEXT    NOT NULL,
	name             TEXT    NOT NULL DEFAULT '',
	unit_price_minor INTEGER NOT NULL,
	category         TEXT    NOT NULL DEFAULT '',
	image_url        TEXT    NOT NULL DEFAULT '',
	temperature      TEXT    NOT NULL DEFAULT '',
	sugar            TEXT    NOT NULL DEFAULT '',
	quantity         INTEGER NOT NULL CHECK (quantity > 0),
	created_at       INTEGER NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS idx_cart_lines_configuration
	ON cart_lines (owner_id, menu_item_id, temperature, sugar)`,
}

// Open открывает файл базы и настраивает соединение.
// SQLite допускает одного писателя, поэтому пул ограничен одним соединением.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Migrate создаёт таблицу корзины и индекс дедупликации, если их ещё нет.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate cart schema: %w", err)
		}
	}
	return nil
}
