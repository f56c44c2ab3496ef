package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"stakewatch/internal/storage"
)

const (
	lbKey     = "stakewatch:positions:top"
	lbDataKey = "stakewatch:positions:top:data"
	lbSizeKey = "stakewatch:positions:top:size"
)

// Leaderboard caches the top positions by staked amount.
type Leaderboard interface {
	// Top returns up to limit cached positions; ok is false on a miss.
	Top(ctx context.Context, limit int) (positions []storage.StakerPosition, ok bool, err error)
	Replace(ctx context.Context, positions []storage.StakerPosition, size int) error
	Invalidate(ctx context.Context) error
}

// RedisLeaderboard keeps the ranking in a sorted set and each position's
// payload in a hash. The score is the position's rank in the store's
// ordering.
type RedisLeaderboard struct {
	cli *redis.Client
	ttl time.Duration
}

// NewRedisClient connects and pings redis.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}
	return cli, nil
}

// NewRedisLeaderboard wraps a redis client.
func NewRedisLeaderboard(cli *redis.Client, ttl time.Duration) *RedisLeaderboard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLeaderboard{cli: cli, ttl: ttl}
}

// Top reads the cached ranking.
func (r *RedisLeaderboard) Top(ctx context.Context, limit int) ([]storage.StakerPosition, bool, error) {
	sizeStr, err := r.cli.Get(ctx, lbSizeKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	size, _ := strconv.Atoi(sizeStr)
	if size < limit {
		return nil, false, nil
	}

	members, err := r.cli.ZRange(ctx, lbKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(members) == 0 {
		return []storage.StakerPosition{}, true, nil
	}

	payloads, err := r.cli.HMGet(ctx, lbDataKey, members...).Result()
	if err != nil {
		return nil, false, err
	}

	out := make([]storage.StakerPosition, 0, len(payloads))
	for _, raw := range payloads {
		text, ok := raw.(string)
		if !ok {
			// partially expired entry
			return nil, false, nil
		}
		var cached cachedPosition
		if err := json.Unmarshal([]byte(text), &cached); err != nil {
			return nil, false, fmt.Errorf("decode cached position: %w", err)
		}
		out = append(out, cached.toPosition())
	}
	return out, true, nil
}

// Replace rewrites the cached ranking atomically. positions must already be
// in ranking order.
func (r *RedisLeaderboard) Replace(ctx context.Context, positions []storage.StakerPosition, size int) error {
	pipe := r.cli.TxPipeline()
	pipe.Del(ctx, lbKey, lbDataKey)
	if len(positions) > 0 {
		zs := make([]redis.Z, 0, len(positions))
		fields := make(map[string]interface{}, len(positions))
		for rank, pos := range positions {
			zs = append(zs, redis.Z{Member: pos.Address, Score: float64(rank)})
			payload, err := json.Marshal(fromPosition(pos))
			if err != nil {
				return fmt.Errorf("encode position: %w", err)
			}
			fields[pos.Address] = payload
		}
		pipe.ZAdd(ctx, lbKey, zs...)
		pipe.HSet(ctx, lbDataKey, fields)
		pipe.Expire(ctx, lbKey, r.ttl)
		pipe.Expire(ctx, lbDataKey, r.ttl)
	}
	pipe.Set(ctx, lbSizeKey, strconv.Itoa(size), r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Invalidate drops the cached ranking.
func (r *RedisLeaderboard) Invalidate(ctx context.Context) error {
	return r.cli.Del(ctx, lbKey, lbDataKey, lbSizeKey).Err()
}

type cachedPosition struct {
	Address               string          `json:"address"`
	StakedAmount          decimal.Decimal `json:"staked_amount"`
	LifetimeRewardsEarned decimal.Decimal `json:"lifetime_rewards_earned"`
	PendingRewards        decimal.Decimal `json:"pending_rewards"`
	UnbondingAmount       decimal.Decimal `json:"unbonding_amount"`
	LastStakeTime         *time.Time      `json:"last_stake_time,omitempty"`
	IsActive              bool            `json:"is_active"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func fromPosition(pos storage.StakerPosition) cachedPosition {
	return cachedPosition(pos)
}

func (c cachedPosition) toPosition() storage.StakerPosition {
	return storage.StakerPosition(c)
}

var _ Leaderboard = (*RedisLeaderboard)(nil)
