package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists wallets, ledger entries and push bet mirrors in PostgreSQL.
type PostgresStore struct {
	db    *pgxpool.Pool
	hooks hookSet
}

// NewPostgresStore constructs a Postgres-backed ledger.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OnCommit registers a post-commit hook.
func (s *PostgresStore) OnCommit(hook CommitHook) {
	s.hooks.add(hook)
}

// Atomic runs fn inside a read-committed transaction. Wallet rows are locked
// explicitly through Tx.LockWallet; the isolation level alone is not relied on.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := txFrom(ctx, s); ok {
		return fn(ctx, tx)
	}

	pgTx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer pgTx.Rollback(ctx) // nolint:errcheck

	tx := &postgresTx{tx: pgTx}
	if err := fn(withTx(ctx, s, tx), tx); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	s.hooks.fire(ctx, tx.touched.ids)
	return nil
}

// Balance returns the summed confirmed amount of a wallet.
func (s *PostgresStore) Balance(ctx context.Context, walletID int64) (decimal.Decimal, error) {
	return balanceOf(ctx, s.db, walletID)
}

// WalletByHolder fetches the holder's wallet.
func (s *PostgresStore) WalletByHolder(ctx context.Context, holder Holder) (Wallet, error) {
	return walletByHolder(ctx, s.db, holder)
}

// Transactions lists a wallet's entries oldest first.
func (s *PostgresStore) Transactions(ctx context.Context, walletID int64) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT id, uuid, wallet_id, payable_type, payable_id, type, name,
        amount::text, confirmed, meta, target_user_id, is_report_generated, created_at, updated_at
        FROM transactions WHERE wallet_id = $1 ORDER BY id`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t        Transaction
			txUUID   uuid.UUID
			name     string
			amount   string
			meta     []byte
			targetID *int64
		)
		if err := rows.Scan(&t.ID, &txUUID, &t.WalletID, &t.PayableType, &t.PayableID, &t.Type, &name,
			&amount, &t.Confirmed, &meta, &targetID, &t.IsReportGenerated, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.UUID = txUUID.String()
		t.Name = Name(name)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount of transaction %d: %w", t.ID, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Meta); err != nil {
				return nil, fmt.Errorf("decode meta of transaction %d: %w", t.ID, err)
			}
		}
		if targetID != nil {
			t.TargetUserID = *targetID
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PushBet loads the mirror row for a wager code.
func (s *PostgresStore) PushBet(ctx context.Context, wagerCode string) (PushBet, error) {
	row := s.db.QueryRow(ctx, `SELECT id, member_account, currency, product_code, game_code, game_type,
        wager_code, wager_type, wager_status, bet_amount::text, valid_bet_amount::text, prize_amount::text,
        tip_amount::text, created_at_provider, settled_at, meta, created_at, updated_at
        FROM push_bets WHERE wager_code = $1`, wagerCode)

	var (
		pb                        PushBet
		bet, validBet, prize, tip string
		meta                      []byte
	)
	if err := row.Scan(&pb.ID, &pb.MemberAccount, &pb.Currency, &pb.ProductCode, &pb.GameCode, &pb.GameType,
		&pb.WagerCode, &pb.WagerType, &pb.WagerStatus, &bet, &validBet, &prize, &tip,
		&pb.CreatedAtProvider, &pb.SettledAt, &meta, &pb.CreatedAt, &pb.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PushBet{}, ErrPushBetNotFound
		}
		return PushBet{}, fmt.Errorf("load push bet %s: %w", wagerCode, err)
	}
	pb.Meta = meta
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{{bet, &pb.BetAmount}, {validBet, &pb.ValidBetAmount}, {prize, &pb.PrizeAmount}, {tip, &pb.TipAmount}} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return PushBet{}, fmt.Errorf("parse push bet %s amount: %w", wagerCode, err)
		}
		*f.dst = v
	}
	return pb, nil
}

type postgresTx struct {
	tx      pgx.Tx
	touched touched
}

func (t *postgresTx) LockWallet(ctx context.Context, walletID int64) error {
	var id int64
	if err := t.tx.QueryRow(ctx, `SELECT id FROM wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock wallet %d: %w", walletID, ErrWalletNotFound)
		}
		return fmt.Errorf("lock wallet %d: %w", walletID, err)
	}
	return nil
}

func (t *postgresTx) Balance(ctx context.Context, walletID int64) (decimal.Decimal, error) {
	return balanceOf(ctx, t.tx, walletID)
}

func (t *postgresTx) Append(ctx context.Context, entry Entry) (Transaction, error) {
	entry.Amount = NormalizeAmount(entry.Amount)
	if entry.Amount.IsZero() {
		return Transaction{}, ErrInvalidAmount
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return Transaction{}, fmt.Errorf("encode meta: %w", err)
	}

	now := time.Now().UTC()
	row := Transaction{
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

	const insert = `INSERT INTO transactions (payable_type, payable_id, wallet_id, type, amount, confirmed,
        meta, uuid, name, target_user_id, seamless_transaction_id, wager_code, is_report_generated,
        created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, TRUE, $6::jsonb, $7, $8, $9, $10, $11, FALSE, $12, $12)
        RETURNING id`
	err = t.tx.QueryRow(ctx, insert, row.PayableType, row.PayableID, row.WalletID, row.Type, row.Amount.String(),
		string(meta), row.UUID, string(row.Name), nullInt(row.TargetUserID),
		nullString(entry.Meta.SeamlessTransactionID), nullString(entry.Meta.WagerCode), now).Scan(&row.ID)
	if err != nil {
		return Transaction{}, fmt.Errorf("insert transaction for wallet %d: %w", entry.WalletID, err)
	}

	t.touched.add(entry.WalletID)
	return row, nil
}

func (t *postgresTx) WalletByHolder(ctx context.Context, holder Holder) (Wallet, error) {
	return walletByHolder(ctx, t.tx, holder)
}

func (t *postgresTx) EnsureWallet(ctx context.Context, holder Holder) (Wallet, error) {
	_, err := t.tx.Exec(ctx, `INSERT INTO wallets (holder_type, holder_id, name, slug, uuid, created_at, updated_at)
        VALUES ($1, $2, 'Default Wallet', $3, $4, now(), now())
        ON CONFLICT (holder_type, holder_id) DO NOTHING`, holder.Type, holder.ID, walletSlug(holder), uuid.New())
	if err != nil {
		return Wallet{}, fmt.Errorf("create wallet for holder %d: %w", holder.ID, err)
	}
	return walletByHolder(ctx, t.tx, holder)
}

func (t *postgresTx) UpsertPushBet(ctx context.Context, pb PushBet) error {
	if pb.WagerCode == "" {
		return fmt.Errorf("upsert push bet: empty wager code")
	}
	meta := pb.Meta
	if len(meta) == 0 {
		meta = json.RawMessage("null")
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO push_bets (member_account, currency, product_code, game_code, game_type,
        wager_code, wager_type, wager_status, bet_amount, valid_bet_amount, prize_amount, tip_amount,
        created_at_provider, settled_at, meta, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12::numeric,
        $13, $14, $15::jsonb, now(), now())
        ON CONFLICT (wager_code) DO UPDATE SET
            member_account = EXCLUDED.member_account,
            currency = EXCLUDED.currency,
            product_code = EXCLUDED.product_code,
            game_code = EXCLUDED.game_code,
            game_type = EXCLUDED.game_type,
            wager_type = EXCLUDED.wager_type,
            wager_status = EXCLUDED.wager_status,
            bet_amount = EXCLUDED.bet_amount,
            valid_bet_amount = EXCLUDED.valid_bet_amount,
            prize_amount = EXCLUDED.prize_amount,
            tip_amount = EXCLUDED.tip_amount,
            created_at_provider = EXCLUDED.created_at_provider,
            settled_at = EXCLUDED.settled_at,
            meta = EXCLUDED.meta,
            updated_at = now()`,
		pb.MemberAccount, pb.Currency, pb.ProductCode, pb.GameCode, pb.GameType,
		pb.WagerCode, pb.WagerType, pb.WagerStatus, pb.BetAmount.String(), pb.ValidBetAmount.String(),
		pb.PrizeAmount.String(), pb.TipAmount.String(), pb.CreatedAtProvider, pb.SettledAt, string(meta))
	if err != nil {
		return fmt.Errorf("upsert push bet %s: %w", pb.WagerCode, err)
	}
	return nil
}

func balanceOf(ctx context.Context, q querier, walletID int64) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0)::text FROM transactions WHERE wallet_id = $1 AND confirmed`
	var raw string
	if err := q.QueryRow(ctx, query, walletID).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("sum wallet %d: %w", walletID, err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance of wallet %d: %w", walletID, err)
	}
	return balance, nil
}

func walletByHolder(ctx context.Context, q querier, holder Holder) (Wallet, error) {
	row := q.QueryRow(ctx, `SELECT id, holder_type, holder_id, slug, created_at
        FROM wallets WHERE holder_type = $1 AND holder_id = $2`, holder.Type, holder.ID)
	var w Wallet
	if err := row.Scan(&w.ID, &w.HolderType, &w.HolderID, &w.Slug, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, fmt.Errorf("load wallet of holder %d: %w", holder.ID, err)
	}
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
