package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// casBalanceScript атомарно заменяет баланс, если он равен ожидаемому.
// KEYS[1] = ключ кошелька, ARGV[1] = expected, ARGV[2] = next.
// Возвращает -1, если кошелька нет, 0 при несовпадении, 1 при успехе.
var casBalanceScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
    return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
    return 0
end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`)

// AccountStore хранит балансы кошельков строками в Redis.
type AccountStore struct {
	client goredis.UniversalClient
}

// NewAccountStore создаёт хранилище кошельков.
func NewAccountStore(client goredis.UniversalClient) *AccountStore {
	return &AccountStore{client: client}
}

func (s *AccountStore) ReadBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.client.Get(ctx, walletKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis get wallet %s: %w", userID, err)
	}
	return balance, nil
}

func (s *AccountStore) WriteBalance(ctx context.Context, userID string, amountMinor int64) error {
	if err := s.client.Set(ctx, walletKey(userID), amountMinor, 0).Err(); err != nil {
		return fmt.Errorf("redis set wallet %s: %w", userID, err)
	}
	return nil
}

func (s *AccountStore) CompareAndSwapBalance(ctx context.Context, userID string, expected, next int64) (bool, error) {
	res, err := casBalanceScript.Run(ctx, s.client, []string{walletKey(userID)}, expected, next).Int64()
	if err != nil {
		return false, fmt.Errorf("redis swap wallet %s: %w", userID, err)
	}
	switch res {
	case 1:
		return true, nil
	case -1:
		return false, domain.ErrAccountNotFound
	default:
		return false, nil
	}
}

// CreateBalance заводит кошелёк через SETNX.
func (s *AccountStore) CreateBalance(ctx context.Context, userID string, amountMinor int64) (bool, error) {
	created, err := s.client.SetNX(ctx, walletKey(userID), amountMinor, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis create wallet %s: %w", userID, err)
	}
	return created, nil
}

func walletKey(userID string) string {
	return keyPrefix + "wallet:" + userID
}

var (
	_ domain.AccountStore   = (*AccountStore)(nil)
	_ domain.BalanceSwapper = (*AccountStore)(nil)
)
