package balancecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/betwallet/balance_engine/internal/ledger"
)

const (
	// WalletPrefix namespaces the single balance entry kept per wallet.
	WalletPrefix = "wallet_balance_"
	// GamePrefix is the namespace older game-path deployments wrote to. It is
	// evicted alongside WalletPrefix but never populated.
	GamePrefix = "game_balance_"

	versionPrefix = "wallet_balance_ver_"

	// DefaultTTL bounds how long a missed invalidation can be observed.
	DefaultTTL = time.Minute

	hookTimeout = 2 * time.Second
	scanCount   = 500
)

// ComputeFunc recomputes a wallet balance from the ledger.
type ComputeFunc func(ctx context.Context) (decimal.Decimal, error)

// Cache is a best-effort Redis accelerator for ledger balances. It is never
// authoritative: mutating paths lock the wallet and read the ledger.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// New builds a balance cache. A non-positive ttl falls back to DefaultTTL.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Key returns the cache key of a wallet's balance.
func Key(walletID int64) string {
	return WalletPrefix + strconv.FormatInt(walletID, 10)
}

func gameKey(walletID int64) string {
	return GamePrefix + strconv.FormatInt(walletID, 10)
}

func versionKey(walletID int64) string {
	return versionPrefix + strconv.FormatInt(walletID, 10)
}

// TTL reports the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// GetOrCompute returns the cached balance or computes, stores and returns it.
// A value computed while an invalidation for the same wallet lands is
// returned to the caller but not stored. Concurrent misses share one compute
// only when they observed the same invalidation version, so a read that
// starts after a committed write never receives a value computed before it.
func (c *Cache) GetOrCompute(ctx context.Context, walletID int64, compute ComputeFunc) (decimal.Decimal, error) {
	key := Key(walletID)

	version := "0"
	vals, err := c.client.MGet(ctx, key, versionKey(walletID)).Result()
	if err != nil {
		c.logger.Warn("balance cache read failed", slog.Int64("wallet_id", walletID), slog.Any("error", err))
		return compute(ctx)
	}
	if ver, ok := vals[1].(string); ok {
		version = ver
	}
	if raw, ok := vals[0].(string); ok {
		if balance, perr := decimal.NewFromString(raw); perr == nil {
			return balance, nil
		}
		c.logger.Warn("discarding malformed cached balance", slog.Int64("wallet_id", walletID), slog.String("value", raw))
	}

	v, err, _ := c.group.Do(key+":"+version, func() (any, error) {
		return c.computeAndStore(ctx, walletID, compute)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (c *Cache) computeAndStore(ctx context.Context, walletID int64, compute ComputeFunc) (decimal.Decimal, error) {
	var (
		balance    decimal.Decimal
		computeErr error
		computed   bool
	)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		balance, computeErr = compute(ctx)
		computed = true
		if computeErr != nil {
			return computeErr
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, Key(walletID), balance.String(), c.ttl)
			return nil
		})
		return err
	}, versionKey(walletID))

	if computeErr != nil {
		return decimal.Zero, computeErr
	}
	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("balance changed during recompute, not caching", slog.Int64("wallet_id", walletID))
	default:
		c.logger.Warn("balance cache write failed", slog.Int64("wallet_id", walletID), slog.Any("error", err))
	}
	if !computed {
		return compute(ctx)
	}
	return balance, nil
}

// Invalidate evicts the balance of every given wallet in both namespaces and
// bumps its version so in-flight recomputes do not repopulate a stale value.
func (c *Cache) Invalidate(ctx context.Context, walletIDs ...int64) error {
	if len(walletIDs) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range walletIDs {
			pipe.Del(ctx, Key(id), gameKey(id))
			pipe.Incr(ctx, versionKey(id))
			pipe.Expire(ctx, versionKey(id), 2*c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate balances: %w", err)
	}
	return nil
}

// Flush deletes every key starting with one of the given prefixes and reports how many were
// removed. It walks the keyspace with SCAN rather than KEYS.
func (c *Cache) Flush(ctx context.Context, prefixes ...string) (int, error) {
	if len(prefixes) == 0 {
		prefixes = []string{WalletPrefix, GamePrefix}
	}
	removed := 0
	for _, prefix := range prefixes {
		iter := c.client.Scan(ctx, 0, prefix+"*", scanCount).Iterator()
		batch := make([]string, 0, scanCount)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == scanCount {
				n, err := c.client.Del(ctx, batch...).Result()
				if err != nil {
					return removed, fmt.Errorf("flush %s: %w", prefix, err)
				}
				removed += int(n)
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("scan %s: %w", prefix, err)
		}
		if len(batch) > 0 {
			n, err := c.client.Del(ctx, batch...).Result()
			if err != nil {
				return removed, fmt.Errorf("flush %s: %w", prefix, err)
			}
			removed += int(n)
		}
	}
	return removed, nil
}

// InvalidateOnCommit returns the ledger commit hook that evicts every wallet a
// committed transaction wrote to. Failures are logged; the write is already
// durable and the TTL bounds the staleness.
func (c *Cache) InvalidateOnCommit() ledger.CommitHook {
	return func(ctx context.Context, walletIDs []int64) {
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
		defer cancel()
		if err := c.Invalidate(hookCtx, walletIDs...); err != nil {
			c.logger.Error("balance invalidation after commit failed",
				slog.Any("wallet_ids", walletIDs), slog.Any("error", err))
		}
	}
}
