package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is a concurrency-safe in-process ledger useful for tests and
// for running the API without a database. Atomic blocks are serialized, which
// subsumes the per-wallet locks a database backend takes.
type MemoryStore struct {
	writeMu sync.Mutex

	mu           sync.RWMutex
	wallets      map[int64]Wallet
	byHolder     map[Holder]int64
	transactions []Transaction
	pushBets     map[string]PushBet

	nextWalletID  int64
	nextTxID      int64
	nextPushBetID int64

	hooks hookSet
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:  make(map[int64]Wallet),
		byHolder: make(map[Holder]int64),
		pushBets: make(map[string]PushBet),
	}
}

// OnCommit registers a post-commit hook.
func (s *MemoryStore) OnCommit(hook CommitHook) {
	s.hooks.add(hook)
}

// Atomic stages every write of fn and applies them only if fn succeeds.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := txFrom(ctx, s); ok {
		return fn(ctx, tx)
	}

	s.writeMu.Lock()
	tx := &memoryTx{
		store:    s,
		wallets:  make(map[int64]Wallet),
		byHolder: make(map[Holder]int64),
		pushBets: make(map[string]PushBet),
	}
	if err := fn(withTx(ctx, s, tx), tx); err != nil {
		s.writeMu.Unlock()
		return err
	}
	s.apply(tx)
	s.writeMu.Unlock()

	s.hooks.fire(ctx, tx.touched.ids)
	return nil
}

func (s *MemoryStore) apply(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for h, id := range tx.byHolder {
		s.byHolder[h] = id
	}
	s.transactions = append(s.transactions, tx.transactions...)
	for code, pb := range tx.pushBets {
		s.pushBets[code] = pb
	}
}

// Balance sums committed, confirmed entries for the wallet.
func (s *MemoryStore) Balance(_ context.Context, walletID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumConfirmed(s.transactions, walletID), nil
}

// WalletByHolder returns the committed wallet of a holder.
func (s *MemoryStore) WalletByHolder(_ context.Context, holder Holder) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHolder[holder]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return s.wallets[id], nil
}

// Transactions lists committed entries of a wallet oldest first.
func (s *MemoryStore) Transactions(_ context.Context, walletID int64) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, t := range s.transactions {
		if t.WalletID == walletID {
			out = append(out, t)
		}
	}
	return out, nil
}

// PushBet returns the mirror row for a wager code.
func (s *MemoryStore) PushBet(_ context.Context, wagerCode string) (PushBet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pb, ok := s.pushBets[wagerCode]
	if !ok {
		return PushBet{}, ErrPushBetNotFound
	}
	return pb, nil
}

// PushBetCount reports how many mirror rows exist.
func (s *MemoryStore) PushBetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pushBets)
}

type memoryTx struct {
	store        *MemoryStore
	wallets      map[int64]Wallet
	byHolder     map[Holder]int64
	transactions []Transaction
	pushBets     map[string]PushBet
	touched      touched
}

func (t *memoryTx) wallet(id int64) (Wallet, bool) {
	if w, ok := t.wallets[id]; ok {
		return w, true
	}
	w, ok := t.store.wallets[id]
	return w, ok
}

func (t *memoryTx) LockWallet(_ context.Context, walletID int64) error {
	if _, ok := t.wallet(walletID); !ok {
		return fmt.Errorf("lock wallet %d: %w", walletID, ErrWalletNotFound)
	}
	return nil
}

func (t *memoryTx) Balance(_ context.Context, walletID int64) (decimal.Decimal, error) {
	return sumConfirmed(t.store.transactions, walletID).Add(sumConfirmed(t.transactions, walletID)), nil
}

func (t *memoryTx) Append(_ context.Context, entry Entry) (Transaction, error) {
	entry.Amount = NormalizeAmount(entry.Amount)
	if entry.Amount.IsZero() {
		return Transaction{}, ErrInvalidAmount
	}
	if _, ok := t.wallet(entry.WalletID); !ok {
		return Transaction{}, fmt.Errorf("append to wallet %d: %w", entry.WalletID, ErrWalletNotFound)
	}
	t.store.nextTxID++
	now := time.Now().UTC()
	row := Transaction{
		ID:           t.store.nextTxID,
		UUID:         uuid.NewString(),
		WalletID:     entry.WalletID,
		PayableType:  entry.Holder.Type,
		PayableID:    entry.Holder.ID,
		Type:         EntryType(entry.Amount),
		Name:         entry.Name,
		Amount:       entry.Amount,
		Confirmed:    true,
		Meta:         entry.Meta,
		TargetUserID: entry.TargetUserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.transactions = append(t.transactions, row)
	t.touched.add(entry.WalletID)
	return row, nil
}

func (t *memoryTx) WalletByHolder(_ context.Context, holder Holder) (Wallet, error) {
	if id, ok := t.byHolder[holder]; ok {
		return t.wallets[id], nil
	}
	if id, ok := t.store.byHolder[holder]; ok {
		return t.store.wallets[id], nil
	}
	return Wallet{}, ErrWalletNotFound
}

func (t *memoryTx) EnsureWallet(ctx context.Context, holder Holder) (Wallet, error) {
	if w, err := t.WalletByHolder(ctx, holder); err == nil {
		return w, nil
	}
	t.store.nextWalletID++
	w := Wallet{
		ID:         t.store.nextWalletID,
		HolderType: holder.Type,
		HolderID:   holder.ID,
		Slug:       walletSlug(holder),
		CreatedAt:  time.Now().UTC(),
	}
	t.wallets[w.ID] = w
	t.byHolder[holder] = w.ID
	return w, nil
}

func (t *memoryTx) UpsertPushBet(_ context.Context, record PushBet) error {
	if record.WagerCode == "" {
		return fmt.Errorf("upsert push bet: empty wager code")
	}
	now := time.Now().UTC()
	existing, ok := t.pushBets[record.WagerCode]
	if !ok {
		existing, ok = t.store.pushBets[record.WagerCode]
	}
	if ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		t.store.nextPushBetID++
		record.ID = t.store.nextPushBetID
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	t.pushBets[record.WagerCode] = record
	return nil
}

func sumConfirmed(rows []Transaction, walletID int64) decimal.Decimal {
	total := decimal.Zero
	for _, t := range rows {
		if t.WalletID == walletID && t.Confirmed {
			total = total.Add(t.Amount)
		}
	}
	return total
}

func walletSlug(holder Holder) string {
	return fmt.Sprintf("%s-%d", DefaultSlug, holder.ID)
}
