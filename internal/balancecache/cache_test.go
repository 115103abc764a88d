package balancecache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/betwallet/balance_engine/internal/ledger"
	"github.com/betwallet/balance_engine/internal/logging"
)

func setupCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return New(client, ttl, logging.Discard()), mr
}

func constant(calls *int, v string) ComputeFunc {
	return func(context.Context) (decimal.Decimal, error) {
		*calls++
		return decimal.RequireFromString(v), nil
	}
}

func TestGetOrComputeCachesUntilTTL(t *testing.T) {
	c, mr := setupCache(t, 30*time.Second)
	ctx := context.Background()
	calls := 0

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute(ctx, 7, constant(&calls, "125.50"))
		if err != nil {
			t.Fatalf("get or compute: %v", err)
		}
		if !v.Equal(decimal.RequireFromString("125.5")) {
			t.Fatalf("unexpected balance %s", v)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single compute, got %d", calls)
	}
	if got, _ := mr.Get(Key(7)); got != "125.5" {
		t.Fatalf("expected stored balance 125.5, got %q", got)
	}

	mr.FastForward(31 * time.Second)
	if _, err := c.GetOrCompute(ctx, 7, constant(&calls, "1")); err != nil {
		t.Fatalf("get or compute: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected recompute after expiry, got %d computes", calls)
	}
}

func TestInvalidateEvictsBothNamespaces(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()
	calls := 0

	if _, err := c.GetOrCompute(ctx, 9, constant(&calls, "10")); err != nil {
		t.Fatalf("get or compute: %v", err)
	}
	_ = mr.Set(gameKey(9), "3")
	_ = mr.Set(Key(10), "99")

	if err := c.Invalidate(ctx, 9); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists(Key(9)) || mr.Exists(gameKey(9)) {
		t.Fatal("expected both balance keys to be evicted")
	}
	if !mr.Exists(Key(10)) {
		t.Fatal("invalidate touched an unrelated wallet")
	}

	if err := c.Invalidate(ctx, 9, 404); err != nil {
		t.Fatalf("invalidate must be idempotent, got %v", err)
	}
}

func TestRecomputeRacingInvalidationIsNotStored(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()

	v, err := c.GetOrCompute(ctx, 3, func(ctx context.Context) (decimal.Decimal, error) {
		if err := c.Invalidate(ctx, 3); err != nil {
			t.Fatalf("invalidate: %v", err)
		}
		return decimal.NewFromInt(50), nil
	})
	if err != nil {
		t.Fatalf("get or compute: %v", err)
	}
	if !v.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected balance %s", v)
	}
	if mr.Exists(Key(3)) {
		t.Fatal("a balance computed across an invalidation was cached")
	}
}

func TestComputeErrorIsNotCached(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	boom := errors.New("db down")

	_, err := c.GetOrCompute(context.Background(), 5, func(context.Context) (decimal.Decimal, error) {
		return decimal.Zero, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if mr.Exists(Key(5)) {
		t.Fatal("failed compute left a cache entry")
	}
}

func TestFlushByPrefix(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	for i := 0; i < 3; i++ {
		_ = mr.Set(Key(int64(i)), "1")
		_ = mr.Set(gameKey(int64(i)), "1")
	}
	_ = mr.Set("idempotency:v1:abc", "x")
	_ = mr.Set("reports:wallet_balance_1", "x")

	removed, err := c.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if removed != 6 {
		t.Fatalf("expected 6 keys removed, got %d", removed)
	}
	for _, k := range []string{"idempotency:v1:abc", "reports:wallet_balance_1"} {
		if !mr.Exists(k) {
			t.Fatalf("flush removed %s outside the balance namespaces", k)
		}
	}
}

func TestInvalidateOnCommitHook(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	store.OnCommit(c.InvalidateOnCommit())

	w, err := ledger.Seed(ctx, store, 1, decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := c.GetOrCompute(ctx, w.ID, func(ctx context.Context) (decimal.Decimal, error) {
		return store.Balance(ctx, w.ID)
	}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	err = store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Append(ctx, ledger.Entry{WalletID: w.ID, Amount: decimal.NewFromInt(-5)})
		return err
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if mr.Exists(Key(w.ID)) {
		t.Fatal("commit did not evict the cached balance")
	}

	v, _ := c.GetOrCompute(ctx, w.ID, func(ctx context.Context) (decimal.Decimal, error) {
		return store.Balance(ctx, w.ID)
	})
	if !v.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected fresh balance 15, got %s", v)
	}
}
