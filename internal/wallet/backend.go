package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betwallet/balance_engine/internal/ledger"
)

// ErrSelfTransfer is returned when both sides of a transfer are the same user.
var ErrSelfTransfer = errors.New("cannot transfer to the same wallet")

// Backend is the wallet-library capability the Service delegates to. It owns
// locking, lazy wallet creation and sufficiency checks.
type Backend interface {
	Deposit(ctx context.Context, userID int64, amount decimal.Decimal, meta ledger.Metadata) (ledger.Transaction, error)
	Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, meta ledger.Metadata) (ledger.Transaction, error)
	Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, withdrawMeta, depositMeta ledger.Metadata) (Transfer, error)
	// ForceTransfer skips the sender sufficiency check and may overdraw.
	ForceTransfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, withdrawMeta, depositMeta ledger.Metadata) (Transfer, error)
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// LedgerBackend implements Backend directly on the ledger store.
type LedgerBackend struct {
	store ledger.Store
}

// NewLedgerBackend builds a Backend over store.
func NewLedgerBackend(store ledger.Store) *LedgerBackend {
	return &LedgerBackend{store: store}
}

func (b *LedgerBackend) Deposit(ctx context.Context, userID int64, amount decimal.Decimal, meta ledger.Metadata) (ledger.Transaction, error) {
	return b.post(ctx, userID, amount, meta, false)
}

func (b *LedgerBackend) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, meta ledger.Metadata) (ledger.Transaction, error) {
	return b.post(ctx, userID, amount, meta, true)
}

func (b *LedgerBackend) post(ctx context.Context, userID int64, amount decimal.Decimal, meta ledger.Metadata, debit bool) (ledger.Transaction, error) {
	amount = ledger.NormalizeAmount(amount)
	if !amount.IsPositive() {
		return ledger.Transaction{}, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, amount)
	}
	holder := ledger.UserHolder(userID)

	var row ledger.Transaction
	err := b.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		w, err := tx.EnsureWallet(ctx, holder)
		if err != nil {
			return err
		}
		if err := tx.LockWallet(ctx, w.ID); err != nil {
			return err
		}
		opening, err := tx.Balance(ctx, w.ID)
		if err != nil {
			return err
		}
		signed := amount
		if debit {
			if opening.LessThan(amount) {
				return fmt.Errorf("user %d has %s, withdraw %s: %w", userID, opening, amount, ledger.ErrInsufficientBalance)
			}
			signed = amount.Neg()
		}
		row, err = tx.Append(ctx, ledger.Entry{
			WalletID:     w.ID,
			Holder:       holder,
			Amount:       signed,
			Name:         meta.Name,
			TargetUserID: meta.TargetUserID,
			Meta:         meta.WithOpeningBalance(opening),
		})
		return err
	})
	return row, err
}

func (b *LedgerBackend) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, withdrawMeta, depositMeta ledger.Metadata) (Transfer, error) {
	return b.transfer(ctx, fromID, toID, amount, withdrawMeta, depositMeta, false)
}

func (b *LedgerBackend) ForceTransfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, withdrawMeta, depositMeta ledger.Metadata) (Transfer, error) {
	return b.transfer(ctx, fromID, toID, amount, withdrawMeta, depositMeta, true)
}

func (b *LedgerBackend) transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, withdrawMeta, depositMeta ledger.Metadata, force bool) (Transfer, error) {
	amount = ledger.NormalizeAmount(amount)
	if !amount.IsPositive() {
		return Transfer{}, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, amount)
	}
	if fromID == toID {
		return Transfer{}, ErrSelfTransfer
	}

	var out Transfer
	err := b.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		from, err := tx.EnsureWallet(ctx, ledger.UserHolder(fromID))
		if err != nil {
			return err
		}
		to, err := tx.EnsureWallet(ctx, ledger.UserHolder(toID))
		if err != nil {
			return err
		}
		if err := ledger.LockWallets(ctx, tx, from.ID, to.ID); err != nil {
			return err
		}

		fromOpening, err := tx.Balance(ctx, from.ID)
		if err != nil {
			return err
		}
		if !force && fromOpening.LessThan(amount) {
			return fmt.Errorf("user %d has %s, transfer %s: %w", fromID, fromOpening, amount, ledger.ErrInsufficientBalance)
		}
		toOpening, err := tx.Balance(ctx, to.ID)
		if err != nil {
			return err
		}

		if out.Withdraw, err = tx.Append(ctx, ledger.Entry{
			WalletID:     from.ID,
			Holder:       ledger.UserHolder(fromID),
			Amount:       amount.Neg(),
			Name:         withdrawMeta.Name,
			TargetUserID: withdrawMeta.TargetUserID,
			Meta:         withdrawMeta.WithOpeningBalance(fromOpening),
		}); err != nil {
			return err
		}
		out.Deposit, err = tx.Append(ctx, ledger.Entry{
			WalletID:     to.ID,
			Holder:       ledger.UserHolder(toID),
			Amount:       amount,
			Name:         depositMeta.Name,
			TargetUserID: depositMeta.TargetUserID,
			Meta:         depositMeta.WithOpeningBalance(toOpening),
		})
		return err
	})
	if err != nil {
		return Transfer{}, err
	}
	return out, nil
}

// Balance returns the authoritative ledger balance; zero without a wallet.
func (b *LedgerBackend) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	w, err := b.store.WalletByHolder(ctx, ledger.UserHolder(userID))
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return b.store.Balance(ctx, w.ID)
}
