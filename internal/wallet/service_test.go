package wallet

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/betwallet/balance_engine/internal/balancecache"
	"github.com/betwallet/balance_engine/internal/ledger"
	"github.com/betwallet/balance_engine/internal/logging"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Deposit(ctx context.Context, userID int64, amount decimal.Decimal, meta ledger.Metadata) (ledger.Transaction, error) {
	args := m.Called(ctx, userID, amount, meta)
	return args.Get(0).(ledger.Transaction), args.Error(1)
}

func (m *MockBackend) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, meta ledger.Metadata) (ledger.Transaction, error) {
	args := m.Called(ctx, userID, amount, meta)
	return args.Get(0).(ledger.Transaction), args.Error(1)
}

func (m *MockBackend) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, withdrawMeta, depositMeta ledger.Metadata) (Transfer, error) {
	args := m.Called(ctx, fromID, toID, amount, withdrawMeta, depositMeta)
	return args.Get(0).(Transfer), args.Error(1)
}

func (m *MockBackend) ForceTransfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, withdrawMeta, depositMeta ledger.Metadata) (Transfer, error) {
	args := m.Called(ctx, fromID, toID, amount, withdrawMeta, depositMeta)
	return args.Get(0).(Transfer), args.Error(1)
}

func (m *MockBackend) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type harness struct {
	svc   *Service
	store *ledger.MemoryStore
	redis *miniredis.Miniredis
}

func newHarness(t *testing.T, backend Backend) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := ledger.NewMemoryStore()
	cache := balancecache.New(client, balancecache.DefaultTTL, logging.Discard())
	store.OnCommit(cache.InvalidateOnCommit())
	if backend == nil {
		backend = NewLedgerBackend(store)
	}
	return harness{
		svc:   NewService(backend, store, cache, logging.Discard()),
		store: store,
		redis: mr,
	}
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func lastEntry(t *testing.T, store ledger.Store, userID int64) ledger.Transaction {
	t.Helper()
	ctx := context.Background()
	w, err := store.WalletByHolder(ctx, ledger.UserHolder(userID))
	require.NoError(t, err)
	rows, err := store.Transactions(ctx, w.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	return rows[len(rows)-1]
}

func TestService_TransferEnvelopeTargetsCounterparty(t *testing.T) {
	backend := new(MockBackend)
	h := newHarness(t, backend)
	amount := dec("12.5")

	backend.On("Transfer", mock.Anything, int64(1), int64(2), amount,
		ledger.Metadata{Name: ledger.NameTransfer, TargetUserID: 2, WagerCode: "W9"},
		ledger.Metadata{Name: ledger.NameTransfer, TargetUserID: 1, WagerCode: "W9"},
	).Return(Transfer{}, nil)

	_, err := h.svc.Transfer(context.Background(), 1, 2, amount, ledger.NameTransfer, ledger.Metadata{WagerCode: "W9"})
	require.NoError(t, err)
	backend.AssertExpectations(t)
}

func TestService_CallerMetadataOverridesEnvelope(t *testing.T) {
	backend := new(MockBackend)
	h := newHarness(t, backend)
	amount := dec("3")

	backend.On("Transfer", mock.Anything, int64(1), int64(2), amount,
		ledger.Metadata{Name: ledger.NameTransfer, TargetUserID: 7},
		ledger.Metadata{Name: ledger.NameTransfer, TargetUserID: 7},
	).Return(Transfer{}, nil)
	backend.On("Deposit", mock.Anything, int64(4), amount,
		ledger.Metadata{Name: ledger.NameSettled, TargetUserID: 4},
	).Return(ledger.Transaction{}, nil)

	ctx := context.Background()
	_, err := h.svc.Transfer(ctx, 1, 2, amount, ledger.NameTransfer, ledger.Metadata{TargetUserID: 7})
	require.NoError(t, err)
	_, err = h.svc.Deposit(ctx, 4, amount, ledger.NameDeposit, ledger.Metadata{Name: ledger.NameSettled})
	require.NoError(t, err)
	backend.AssertExpectations(t)
}

func TestService_DepositCreatesWalletLazily(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	row, err := h.svc.Deposit(ctx, 5, dec("40"), ledger.NameDeposit, ledger.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeDeposit, row.Type)
	assert.Equal(t, ledger.NameDeposit, row.Meta.Name)
	assert.Equal(t, int64(5), row.Meta.TargetUserID)
	require.NotNil(t, row.Meta.OpeningBalance)
	assert.True(t, row.Meta.OpeningBalance.IsZero())

	balance, err := h.svc.CachedBalance(ctx, 5)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("40")))
}

func TestService_Withdraw(t *testing.T) {
	tests := []struct {
		name    string
		seed    string
		amount  string
		wantErr error
		want    string
	}{
		{name: "covered", seed: "100", amount: "60", want: "40"},
		{name: "exact", seed: "60", amount: "60", want: "0"},
		{name: "insufficient", seed: "10", amount: "60", wantErr: ledger.ErrInsufficientBalance, want: "10"},
		{name: "zero amount", seed: "10", amount: "0", wantErr: ledger.ErrInvalidAmount, want: "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			_, err := ledger.Seed(ctx, h.store, 1, dec(tt.seed))
			require.NoError(t, err)

			_, err = h.svc.Withdraw(ctx, 1, dec(tt.amount), ledger.NameWithdraw, ledger.Metadata{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			balance, err := h.svc.CachedBalance(ctx, 1)
			require.NoError(t, err)
			assert.True(t, balance.Equal(dec(tt.want)), "balance %s", balance)
		})
	}
}

func TestService_TransferWritesBothLegs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := ledger.Seed(ctx, h.store, 1, dec("100"))
	require.NoError(t, err)

	res, err := h.svc.Transfer(ctx, 1, 2, dec("30"), ledger.NameTransfer, ledger.Metadata{})
	require.NoError(t, err)
	assert.True(t, res.Withdraw.Amount.Equal(dec("-30")))
	assert.True(t, res.Deposit.Amount.Equal(dec("30")))

	sender := lastEntry(t, h.store, 1)
	receiver := lastEntry(t, h.store, 2)
	assert.Equal(t, int64(2), sender.Meta.TargetUserID)
	assert.Equal(t, int64(1), receiver.Meta.TargetUserID)
	assert.True(t, sender.Meta.OpeningBalance.Equal(dec("100")))
	assert.True(t, receiver.Meta.OpeningBalance.IsZero())

	ok, err := h.svc.HasBalance(ctx, 1, dec("70"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.svc.HasBalance(ctx, 1, dec("70.01"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_TransferInsufficientLeavesNoLegs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	w, err := ledger.Seed(ctx, h.store, 1, dec("10"))
	require.NoError(t, err)

	_, err = h.svc.Transfer(ctx, 1, 2, dec("30"), ledger.NameTransfer, ledger.Metadata{})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	rows, err := h.store.Transactions(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	_, err = h.store.WalletByHolder(ctx, ledger.UserHolder(2))
	assert.ErrorIs(t, err, ledger.ErrWalletNotFound)
}

func TestService_ForceTransferMayOverdraw(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := ledger.Seed(ctx, h.store, 1, dec("10"))
	require.NoError(t, err)

	_, err = h.svc.ForceTransfer(ctx, 1, 2, dec("30"), ledger.NameTransfer, ledger.Metadata{})
	require.NoError(t, err)

	balance, err := h.svc.CachedBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("-20")))
}

func TestService_TransferToSelfRejected(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Transfer(context.Background(), 1, 1, dec("1"), ledger.NameTransfer, ledger.Metadata{})
	assert.ErrorIs(t, err, ErrSelfTransfer)
}

func TestService_BatchDepositIsAtomic(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	err := h.svc.BatchDeposit(ctx, []DepositRequest{
		{UserID: 1, Amount: dec("10"), Name: ledger.NameDeposit},
		{UserID: 2, Amount: dec("0"), Name: ledger.NameDeposit},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = h.store.WalletByHolder(ctx, ledger.UserHolder(1))
	assert.ErrorIs(t, err, ledger.ErrWalletNotFound)

	err = h.svc.BatchDeposit(ctx, []DepositRequest{
		{UserID: 1, Amount: dec("10"), Name: ledger.NameDeposit},
		{UserID: 2, Amount: dec("20"), Name: ledger.NameDeposit},
		{UserID: 1, Amount: dec("5"), Name: ledger.NameDeposit},
	})
	require.NoError(t, err)

	b1, _ := h.svc.CachedBalance(ctx, 1)
	b2, _ := h.svc.CachedBalance(ctx, 2)
	assert.True(t, b1.Equal(dec("15")))
	assert.True(t, b2.Equal(dec("20")))
	assert.True(t, lastEntry(t, h.store, 1).Meta.OpeningBalance.Equal(dec("10")))
}

func TestService_WriteEvictsCachedBalance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	w, err := ledger.Seed(ctx, h.store, 1, dec("50"))
	require.NoError(t, err)

	_, err = h.svc.CachedBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, h.redis.Exists(balancecache.Key(w.ID)))

	_, err = h.svc.Deposit(ctx, 1, dec("1"), ledger.NameDeposit, ledger.Metadata{})
	require.NoError(t, err)
	assert.False(t, h.redis.Exists(balancecache.Key(w.ID)))

	balance, err := h.svc.CachedBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("51")))
}
