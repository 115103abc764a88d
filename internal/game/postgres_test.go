package game

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/betwallet/balance_engine/internal/balancecache"
	"github.com/betwallet/balance_engine/internal/infra"
	"github.com/betwallet/balance_engine/internal/ledger"
	"github.com/betwallet/balance_engine/internal/logging"
)

type pgFixture struct {
	engine *Engine
	store  *ledger.PostgresStore
}

// newPostgresFixture runs the engine against DATABASE_URL with row locks taken
// by Postgres itself. Skipped when no database is configured.
func newPostgresFixture(t *testing.T) pgFixture {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping Postgres integration test: DATABASE_URL must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := infra.NewPostgresPool(ctx, url, 16)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := ledger.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := ledger.NewPostgresStore(pool)
	cache := balancecache.New(client, balancecache.DefaultTTL, logging.Discard())
	store.OnCommit(cache.InvalidateOnCommit())
	return pgFixture{engine: NewEngine(store, cache, logging.Discard()), store: store}
}

func (f pgFixture) seed(t *testing.T, amount string) (int64, ledger.Wallet) {
	t.Helper()
	userID := rand.Int63n(1<<40) + 1
	w, err := ledger.Seed(context.Background(), f.store, userID, dec(amount))
	if err != nil {
		t.Fatalf("seed user %d: %v", userID, err)
	}
	return userID, w
}

func TestPostgresConcurrentBetsNeverOverdraw(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	userID, w := f.seed(t, "100")

	const bettors = 8
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < bettors; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.ProcessBet(ctx, userID, dec("30"), ledger.Metadata{})
			switch {
			case err == nil:
				mu.Lock()
				accepted++
				mu.Unlock()
			case !errors.Is(err, ledger.ErrInsufficientBalance):
				t.Errorf("unexpected bet error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if accepted != 3 {
		t.Fatalf("expected exactly 3 bets of 30 to fit in 100, got %d", accepted)
	}
	balance, err := f.store.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(dec("10")) {
		t.Fatalf("expected balance 10, got %s", balance)
	}
}

func TestPostgresConcurrentBetsOnlyOneFits(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	userID, w := f.seed(t, "100")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.ProcessBet(ctx, userID, dec("80"), ledger.Metadata{})
		}(i)
	}
	wg.Wait()

	if (errs[0] == nil) == (errs[1] == nil) {
		t.Fatalf("expected exactly one bet to succeed, got %v and %v", errs[0], errs[1])
	}
	balance, _ := f.store.Balance(ctx, w.ID)
	if !balance.Equal(dec("20")) {
		t.Fatalf("expected balance 20, got %s", balance)
	}
}

func TestPostgresBatchRollsBackOnInsufficientBet(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	rich, richWallet := f.seed(t, "50")
	poor, poorWallet := f.seed(t, "1")

	_, err := f.engine.BatchProcess(ctx, []Pending{
		{UserID: rich, Amount: dec("10"), Kind: KindWin},
		{UserID: rich, Amount: dec("20"), Kind: KindBet},
		{UserID: poor, Amount: dec("5"), Kind: KindBet},
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	for _, tc := range []struct {
		wallet ledger.Wallet
		want   string
		rows   int
	}{{richWallet, "50", 1}, {poorWallet, "1", 1}} {
		balance, _ := f.store.Balance(ctx, tc.wallet.ID)
		if !balance.Equal(dec(tc.want)) {
			t.Fatalf("wallet %d: expected %s after rollback, got %s", tc.wallet.ID, tc.want, balance)
		}
		rows, _ := f.store.Transactions(ctx, tc.wallet.ID)
		if len(rows) != tc.rows {
			t.Fatalf("wallet %d: expected %d entries after rollback, got %d", tc.wallet.ID, tc.rows, len(rows))
		}
	}

	results, err := f.engine.BatchProcess(ctx, []Pending{
		{UserID: rich, Amount: dec("10"), Kind: KindWin},
		{UserID: poor, Amount: dec("1"), Kind: KindBet},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if !results[0].NewBalance.Equal(dec("60")) || !results[1].NewBalance.Equal(dec("0")) {
		t.Fatalf("unexpected batch results %+v", results)
	}
}
