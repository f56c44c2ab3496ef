package query

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakewatch/internal/storage"
)

func newTestLeaderboard(t *testing.T) (*RedisLeaderboard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedisLeaderboard(cli, time.Minute), mr
}

func addresses(positions []storage.StakerPosition) []string {
	out := make([]string, 0, len(positions))
	for _, pos := range positions {
		out = append(out, pos.Address)
	}
	return out
}

func TestRedisLeaderboardMatchesStoreOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	stakes := map[string]string{
		"0xbbb": "1000000000",
		"0xaaa": "1000000000",
		"0x000": "1000000000.000000000000000001",
		"0xccc": "5",
	}
	for addr, amount := range stakes {
		require.NoError(t, store.UpsertPosition(ctx, storage.StakerPosition{
			Address:      addr,
			StakedAmount: decimal.RequireFromString(amount),
		}))
	}

	board, _ := newTestLeaderboard(t)
	svc := NewService(store, board, zerolog.Nop())

	cold, err := svc.TopPositions(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x000", "0xaaa", "0xbbb"}, addresses(cold))

	cached, ok, err := board.Top(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)

	warm, err := svc.TopPositions(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, addresses(cold), addresses(warm))
	assert.Equal(t, addresses(cold), addresses(cached))
	assert.True(t, warm[0].StakedAmount.Equal(decimal.RequireFromString("1000000000.000000000000000001")))

	smaller, ok, err := board.Top(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"0x000", "0xaaa"}, addresses(smaller))
}

func TestRedisLeaderboardMissesAndInvalidation(t *testing.T) {
	ctx := context.Background()
	board, mr := newTestLeaderboard(t)

	_, ok, err := board.Top(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "empty cache is a miss")

	last := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	positions := []storage.StakerPosition{
		{Address: "0xaaa", StakedAmount: decimal.NewFromInt(10), PendingRewards: decimal.RequireFromString("0.5"), LastStakeTime: &last, IsActive: true},
		{Address: "0xbbb", StakedAmount: decimal.NewFromInt(3), IsActive: true},
	}
	require.NoError(t, board.Replace(ctx, positions, 2))

	_, ok, err = board.Top(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok, "limit above cached size is a miss")

	top, ok, err := board.Top(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, top, 2)
	assert.True(t, top[0].PendingRewards.Equal(decimal.RequireFromString("0.5")))
	require.NotNil(t, top[0].LastStakeTime)
	assert.True(t, top[0].LastStakeTime.Equal(last))
	assert.Nil(t, top[1].LastStakeTime)

	mr.FastForward(2 * time.Minute)
	_, ok, err = board.Top(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok, "expired cache is a miss")

	require.NoError(t, board.Replace(ctx, positions, 2))
	require.NoError(t, board.Invalidate(ctx))
	_, ok, err = board.Top(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLeaderboardEmptyRanking(t *testing.T) {
	ctx := context.Background()
	board, _ := newTestLeaderboard(t)

	require.NoError(t, board.Replace(ctx, nil, 10))
	top, ok, err := board.Top(ctx, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, top)
}
