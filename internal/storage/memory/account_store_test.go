package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/storage/memory"
)

func TestAccountStore_ReadWrite(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAccountStore(map[string]int64{"alice": 2000})

	balance, err := store.ReadBalance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(2000), balance)

	_, err = store.ReadBalance(ctx, "bob")
	require.True(t, errors.Is(err, domain.ErrAccountNotFound))

	require.NoError(t, store.WriteBalance(ctx, "bob", 150))
	balance, err = store.ReadBalance(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(150), balance)
}

func TestAccountStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAccountStore(map[string]int64{"alice": 2000})

	swapped, err := store.CompareAndSwapBalance(ctx, "alice", 1500, 300)
	require.NoError(t, err)
	require.False(t, swapped)

	swapped, err = store.CompareAndSwapBalance(ctx, "alice", 2000, 800)
	require.NoError(t, err)
	require.True(t, swapped)

	balance, _ := store.ReadBalance(ctx, "alice")
	require.Equal(t, int64(800), balance)

	_, err = store.CompareAndSwapBalance(ctx, "ghost", 0, 10)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountStore_CreateBalanceKeepsExistingWallet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAccountStore(map[string]int64{"alice": 2000})

	created, err := store.CreateBalance(ctx, "alice", 10)
	require.NoError(t, err)
	require.False(t, created)

	created, err = store.CreateBalance(ctx, "bob", 75)
	require.NoError(t, err)
	require.True(t, created)

	alice, _ := store.ReadBalance(ctx, "alice")
	bob, _ := store.ReadBalance(ctx, "bob")
	require.Equal(t, int64(2000), alice)
	require.Equal(t, int64(75), bob)
}
