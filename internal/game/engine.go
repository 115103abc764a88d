// Package game applies game-provider bets and wins directly to the ledger.
//
// Every write path locks the affected wallets, reads the authoritative ledger
// sum under that lock and appends entries in one database transaction. The
// balance cache is only consulted by Balance; it is evicted by the ledger's
// commit hook once a write is durable.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/betwallet/balance_engine/internal/balancecache"
	"github.com/betwallet/balance_engine/internal/ledger"
)

// Kind selects the direction of a game entry.
type Kind string

const (
	KindBet Kind = "bet"
	KindWin Kind = "win"

	ActionBet     = "BET"
	ActionSettled = "SETTLED"
)

// ErrUnknownKind is returned for a pending entry that is neither bet nor win.
var ErrUnknownKind = errors.New("unknown game transaction kind")

// Pending is one game entry waiting to be applied.
type Pending struct {
	UserID int64
	Amount decimal.Decimal
	Kind   Kind
	Meta   ledger.Metadata
}

// Result describes an applied single bet or win.
type Result struct {
	TransactionID int64
	UUID          string
	Amount        decimal.Decimal
	NewBalance    decimal.Decimal
}

// BatchResult describes one applied entry of a batch, in input order.
type BatchResult struct {
	UserID        int64
	WalletID      int64
	TransactionID int64
	UUID          string
	Amount        decimal.Decimal
	Kind          Kind
	NewBalance    decimal.Decimal
}

// Engine is the fast path for game operations.
type Engine struct {
	store  ledger.Store
	cache  *balancecache.Cache
	logger *slog.Logger
}

// NewEngine builds the engine over a ledger store and its balance cache.
func NewEngine(store ledger.Store, cache *balancecache.Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cache: cache, logger: logger}
}

// ProcessBet debits amount from the user's wallet if the balance covers it.
func (e *Engine) ProcessBet(ctx context.Context, userID int64, amount decimal.Decimal, meta ledger.Metadata) (Result, error) {
	return e.single(ctx, Pending{UserID: userID, Amount: amount, Kind: KindBet, Meta: meta})
}

// ProcessWin credits amount to the user's wallet. Wins are always accepted.
func (e *Engine) ProcessWin(ctx context.Context, userID int64, amount decimal.Decimal, meta ledger.Metadata) (Result, error) {
	return e.single(ctx, Pending{UserID: userID, Amount: amount, Kind: KindWin, Meta: meta})
}

func (e *Engine) single(ctx context.Context, p Pending) (Result, error) {
	results, err := e.BatchProcess(ctx, []Pending{p})
	if err != nil {
		return Result{}, err
	}
	r := results[0]
	return Result{TransactionID: r.TransactionID, UUID: r.UUID, Amount: r.Amount, NewBalance: r.NewBalance}, nil
}

// BatchProcess applies batch in order as one transaction. Amounts are rounded
// to ledger.AmountScale first. Each wallet's running balance carries the
// effect of earlier entries of the same batch.
// An insufficient bet, a missing wallet or a storage failure rolls back the
// whole batch.
func (e *Engine) BatchProcess(ctx context.Context, batch []Pending) ([]BatchResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	batch = append([]Pending(nil), batch...)
	for i, p := range batch {
		if p.Kind != KindBet && p.Kind != KindWin {
			return nil, fmt.Errorf("batch entry %d: %w: %q", i, ErrUnknownKind, p.Kind)
		}
		amount := ledger.NormalizeAmount(p.Amount)
		if !amount.IsPositive() {
			return nil, fmt.Errorf("batch entry %d: %w: %s", i, ledger.ErrInvalidAmount, p.Amount)
		}
		batch[i].Amount = amount
	}

	var results []BatchResult
	err := e.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		wallets := make(map[int64]ledger.Wallet)
		walletIDs := make([]int64, 0, len(batch))
		for _, p := range batch {
			if _, ok := wallets[p.UserID]; ok {
				continue
			}
			w, err := tx.WalletByHolder(ctx, ledger.UserHolder(p.UserID))
			if err != nil {
				return fmt.Errorf("user %d: %w", p.UserID, err)
			}
			wallets[p.UserID] = w
			walletIDs = append(walletIDs, w.ID)
		}
		if err := ledger.LockWallets(ctx, tx, walletIDs...); err != nil {
			return err
		}

		running := make(map[int64]decimal.Decimal, len(walletIDs))
		results = make([]BatchResult, 0, len(batch))
		for i, p := range batch {
			w := wallets[p.UserID]
			balance, seen := running[w.ID]
			if !seen {
				var err error
				if balance, err = tx.Balance(ctx, w.ID); err != nil {
					return err
				}
			}

			row, next, err := e.write(ctx, tx, w, p, balance)
			if err != nil {
				return fmt.Errorf("batch entry %d: %w", i, err)
			}
			running[w.ID] = next
			results = append(results, BatchResult{
				UserID:        p.UserID,
				WalletID:      w.ID,
				TransactionID: row.ID,
				UUID:          row.UUID,
				Amount:        p.Amount,
				Kind:          p.Kind,
				NewBalance:    next,
			})
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("game batch rejected", slog.Int("entries", len(batch)), slog.Any("error", err))
		return nil, err
	}

	e.logger.Debug("game batch applied", slog.Int("entries", len(batch)))
	return results, nil
}

func (e *Engine) write(ctx context.Context, tx ledger.Tx, w ledger.Wallet, p Pending, opening decimal.Decimal) (ledger.Transaction, decimal.Decimal, error) {
	meta := p.Meta.WithOpeningBalance(opening)
	meta.TargetUserID = p.UserID

	amount := p.Amount
	name := ledger.NameDeposit
	if p.Kind == KindBet {
		if opening.LessThan(p.Amount) {
			return ledger.Transaction{}, opening, fmt.Errorf("user %d has %s, bet %s: %w",
				p.UserID, opening, p.Amount, ledger.ErrInsufficientBalance)
		}
		amount = amount.Neg()
		name = ledger.NameSettled
		if meta.ActionType == "" {
			meta.ActionType = ActionBet
		}
	} else if meta.Action == "" {
		meta.Action = ActionSettled
	}

	row, err := tx.Append(ctx, ledger.Entry{
		WalletID:     w.ID,
		Holder:       ledger.UserHolder(p.UserID),
		Amount:       amount,
		Name:         name,
		TargetUserID: p.UserID,
		Meta:         meta,
	})
	if err != nil {
		return ledger.Transaction{}, opening, err
	}
	return row, opening.Add(amount), nil
}

// Balance returns the user's balance through the cache. A user without a
// wallet has a zero balance.
func (e *Engine) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	w, err := e.store.WalletByHolder(ctx, ledger.UserHolder(userID))
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return e.cache.GetOrCompute(ctx, w.ID, func(ctx context.Context) (decimal.Decimal, error) {
		return e.store.Balance(ctx, w.ID)
	})
}

// InvalidateUsers evicts the cached balances of the given users' wallets.
func (e *Engine) InvalidateUsers(ctx context.Context, userIDs ...int64) error {
	walletIDs := make([]int64, 0, len(userIDs))
	for _, id := range userIDs {
		w, err := e.store.WalletByHolder(ctx, ledger.UserHolder(id))
		if errors.Is(err, ledger.ErrWalletNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		walletIDs = append(walletIDs, w.ID)
	}
	return e.cache.Invalidate(ctx, walletIDs...)
}
