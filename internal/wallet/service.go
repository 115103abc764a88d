package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/betwallet/balance_engine/internal/balancecache"
	"github.com/betwallet/balance_engine/internal/ledger"
)

// Service is the general-purpose wallet API: deposits, withdrawals and
// transfers with a consistent metadata envelope.
type Service struct {
	backend Backend
	store   ledger.Store
	cache   *balancecache.Cache
	logger  *slog.Logger
}

// NewService builds a wallet service.
func NewService(backend Backend, store ledger.Store, cache *balancecache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, store: store, cache: cache, logger: logger}
}

// Deposit credits the user. The wallet is created on first use.
func (s *Service) Deposit(ctx context.Context, userID int64, amount decimal.Decimal, name ledger.Name, meta ledger.Metadata) (ledger.Transaction, error) {
	s.evict(ctx, userID)
	return s.backend.Deposit(ctx, userID, amount, envelope(name, userID, meta))
}

// Withdraw debits the user if the balance covers amount.
func (s *Service) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, name ledger.Name, meta ledger.Metadata) (ledger.Transaction, error) {
	s.evict(ctx, userID)
	return s.backend.Withdraw(ctx, userID, amount, envelope(name, userID, meta))
}

// Transfer moves amount from one user to another. The sender leg targets the
// receiver and the receiver leg targets the sender.
func (s *Service) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, name ledger.Name, meta ledger.Metadata) (Transfer, error) {
	s.evict(ctx, fromID, toID)
	return s.backend.Transfer(ctx, fromID, toID, amount, envelope(name, toID, meta), envelope(name, fromID, meta))
}

// ForceTransfer is Transfer without the sender sufficiency check.
func (s *Service) ForceTransfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, name ledger.Name, meta ledger.Metadata) (Transfer, error) {
	s.evict(ctx, fromID, toID)
	return s.backend.ForceTransfer(ctx, fromID, toID, amount, envelope(name, toID, meta), envelope(name, fromID, meta))
}

// BatchDeposit applies every deposit in one transaction or none of them.
func (s *Service) BatchDeposit(ctx context.Context, deposits []DepositRequest) error {
	if len(deposits) == 0 {
		return nil
	}
	return s.store.Atomic(ctx, func(ctx context.Context, _ ledger.Tx) error {
		for i, d := range deposits {
			if _, err := s.Deposit(ctx, d.UserID, d.Amount, d.Name, d.Meta); err != nil {
				return fmt.Errorf("deposit %d for user %d: %w", i, d.UserID, err)
			}
		}
		return nil
	})
}

// CachedBalance reads the user's balance through the balance cache.
func (s *Service) CachedBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	w, err := s.store.WalletByHolder(ctx, ledger.UserHolder(userID))
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return s.cache.GetOrCompute(ctx, w.ID, func(ctx context.Context) (decimal.Decimal, error) {
		return s.backend.Balance(ctx, userID)
	})
}

// HasBalance is an advisory check against the cached balance. Writes re-check
// under the wallet lock.
func (s *Service) HasBalance(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	balance, err := s.CachedBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance.GreaterThanOrEqual(amount), nil
}

func (s *Service) evict(ctx context.Context, userIDs ...int64) {
	walletIDs := make([]int64, 0, len(userIDs))
	for _, id := range userIDs {
		w, err := s.store.WalletByHolder(ctx, ledger.UserHolder(id))
		if err != nil {
			continue
		}
		walletIDs = append(walletIDs, w.ID)
	}
	if err := s.cache.Invalidate(ctx, walletIDs...); err != nil {
		s.logger.Warn("balance cache eviction failed", slog.Any("user_ids", userIDs), slog.Any("error", err))
	}
}

// envelope fills the standard metadata fields the caller left empty; values
// the caller supplied win. opening_balance is always set by the backend under
// the wallet lock.
func envelope(name ledger.Name, targetUserID int64, meta ledger.Metadata) ledger.Metadata {
	if meta.Name == "" {
		meta.Name = name
	}
	if meta.TargetUserID == 0 {
		meta.TargetUserID = targetUserID
	}
	return meta
}
