package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance occurs when a debit would take the wallet below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrWalletNotFound indicates the holder has no wallet yet.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInvalidAmount is returned for zero, negative or otherwise unusable amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrPushBetNotFound is returned when no mirror row exists for a wager code.
	ErrPushBetNotFound = errors.New("push bet not found")
)

const (
	// HolderUser is the only holder kind wallets are currently opened for.
	HolderUser = "App\\Models\\User"

	// DefaultSlug is the slug given to a holder's primary wallet.
	DefaultSlug = "default"

	// TypeDeposit marks a credit entry.
	TypeDeposit = "deposit"
	// TypeWithdraw marks a debit entry.
	TypeWithdraw = "withdraw"

	// AmountScale is the number of decimal places the amount column keeps.
	AmountScale = 8
)

// Name labels what a ledger entry was recorded for.
type Name string

const (
	NameSettled  Name = "Settled"
	NameDeposit  Name = "Deposit"
	NameWithdraw Name = "Withdraw"
	NameTransfer Name = "Transfer"
)

// Holder identifies the owner of a wallet.
type Holder struct {
	Type string
	ID   int64
}

// UserHolder returns the holder reference for a platform user.
func UserHolder(userID int64) Holder {
	return Holder{Type: HolderUser, ID: userID}
}

// Wallet is the ledger-side account of a holder.
type Wallet struct {
	ID         int64
	HolderType string
	HolderID   int64
	Slug       string
	CreatedAt  time.Time
}

// Metadata is the typed envelope stored alongside every ledger entry.
type Metadata struct {
	Name                  Name             `json:"name,omitempty"`
	ActionType            string           `json:"action_type,omitempty"`
	Action                string           `json:"action,omitempty"`
	OpeningBalance        *decimal.Decimal `json:"opening_balance,omitempty"`
	TargetUserID          int64            `json:"target_user_id,omitempty"`
	FromAdmin             *int64           `json:"from_admin,omitempty"`
	SeamlessTransactionID string           `json:"seamless_transaction_id,omitempty"`
	WagerCode             string           `json:"wager_code,omitempty"`
	ProductCode           int64            `json:"product_code,omitempty"`
	GameCode              string           `json:"game_code,omitempty"`
	GameType              string           `json:"game_type,omitempty"`
	ChannelCode           string           `json:"channel_code,omitempty"`
	RawPayload            json.RawMessage  `json:"raw_payload,omitempty"`
}

// WithOpeningBalance returns a copy of m carrying the balance observed before the write.
func (m Metadata) WithOpeningBalance(balance decimal.Decimal) Metadata {
	m.OpeningBalance = &balance
	return m
}

// Entry is a ledger write request. Amount is signed: positive credits, negative debits.
type Entry struct {
	WalletID     int64
	Holder       Holder
	Amount       decimal.Decimal
	Name         Name
	TargetUserID int64
	Meta         Metadata
}

// Transaction is a committed, immutable ledger row.
type Transaction struct {
	ID                int64
	UUID              string
	WalletID          int64
	PayableType       string
	PayableID         int64
	Type              string
	Name              Name
	Amount            decimal.Decimal
	Confirmed         bool
	Meta              Metadata
	TargetUserID      int64
	IsReportGenerated bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PushBet mirrors the latest state of a provider wager, keyed by WagerCode.
type PushBet struct {
	ID                int64
	MemberAccount     string
	Currency          string
	ProductCode       int64
	GameCode          string
	GameType          string
	WagerCode         string
	WagerType         string
	WagerStatus       string
	BetAmount         decimal.Decimal
	ValidBetAmount    decimal.Decimal
	PrizeAmount       decimal.Decimal
	TipAmount         decimal.Decimal
	CreatedAtProvider *time.Time
	SettledAt         *time.Time
	Meta              json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CommitHook runs after a successful commit with the distinct wallets written to.
type CommitHook func(ctx context.Context, walletIDs []int64)

// Tx is the unit of work handed to Store.Atomic callbacks.
type Tx interface {
	// LockWallet takes the per-wallet lock until the enclosing transaction ends.
	LockWallet(ctx context.Context, walletID int64) error
	// Balance sums the confirmed entries of a wallet as seen by this transaction.
	Balance(ctx context.Context, walletID int64) (decimal.Decimal, error)
	// Append writes one confirmed ledger entry.
	Append(ctx context.Context, entry Entry) (Transaction, error)
	WalletByHolder(ctx context.Context, holder Holder) (Wallet, error)
	// EnsureWallet returns the holder's wallet, creating it on first use.
	EnsureWallet(ctx context.Context, holder Holder) (Wallet, error)
	// UpsertPushBet replaces the mirror row for the record's wager code.
	UpsertPushBet(ctx context.Context, record PushBet) error
}

// Store is the durable ledger. It is the only writer of transaction rows.
type Store interface {
	// Atomic runs fn in one database transaction. A context handed to fn can be
	// passed back into Atomic to join the same transaction.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// OnCommit registers a hook fired after every successful outermost commit.
	OnCommit(hook CommitHook)
	Balance(ctx context.Context, walletID int64) (decimal.Decimal, error)
	WalletByHolder(ctx context.Context, holder Holder) (Wallet, error)
	Transactions(ctx context.Context, walletID int64) ([]Transaction, error)
	PushBet(ctx context.Context, wagerCode string) (PushBet, error)
}

// NormalizeAmount rounds amount to the precision the ledger stores, so
// balances derived in memory match the persisted sum.
func NormalizeAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(AmountScale)
}

// EntryType derives the stored type column from the sign of the amount.
func EntryType(amount decimal.Decimal) string {
	if amount.IsPositive() {
		return TypeDeposit
	}
	return TypeWithdraw
}

type txKey struct{}

type boundTx struct {
	owner any
	tx    Tx
}

func withTx(ctx context.Context, owner any, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, boundTx{owner: owner, tx: tx})
}

func txFrom(ctx context.Context, owner any) (Tx, bool) {
	bound, ok := ctx.Value(txKey{}).(boundTx)
	if !ok || bound.owner != owner {
		return nil, false
	}
	return bound.tx, true
}

// touched collects distinct wallet ids in first-write order.
type touched struct {
	seen map[int64]struct{}
	ids  []int64
}

func (t *touched) add(id int64) {
	if t.seen == nil {
		t.seen = make(map[int64]struct{})
	}
	if _, ok := t.seen[id]; ok {
		return
	}
	t.seen[id] = struct{}{}
	t.ids = append(t.ids, id)
}

// LockWallets locks each distinct wallet in ascending id order. Every
// multi-wallet transaction goes through here so lock order is global.
func LockWallets(ctx context.Context, tx Tx, walletIDs ...int64) error {
	ordered := make([]int64, 0, len(walletIDs))
	seen := make(map[int64]struct{}, len(walletIDs))
	for _, id := range walletIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, id := range ordered {
		if err := tx.LockWallet(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type hookSet struct {
	mu    sync.RWMutex
	hooks []CommitHook
}

func (h *hookSet) add(hook CommitHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

func (h *hookSet) fire(ctx context.Context, walletIDs []int64) {
	if len(walletIDs) == 0 {
		return
	}
	h.mu.RLock()
	hooks := append([]CommitHook(nil), h.hooks...)
	h.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, walletIDs)
	}
}
