package ledger

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// HotIndexes back the balance sum, the payable lookup and the provider
// reconciliation queries. They are built CONCURRENTLY, so each statement must
// run outside a transaction.
var HotIndexes = []string{
	`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_transactions_wallet_created ON transactions (wallet_id, created_at)`,
	`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_transactions_payable ON transactions (payable_type, payable_id)`,
	`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_transactions_type_confirmed ON transactions (type, confirmed)`,
	`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_transactions_seamless_tx ON transactions (seamless_transaction_id)`,
	`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_transactions_wager_code ON transactions (wager_code)`,
	`CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_wallets_holder ON wallets (holder_type, holder_id)`,
}

// AnalyzedTables are refreshed by the optimize command.
var AnalyzedTables = []string{"transactions", "wallets", "users"}

// Migrate creates the ledger tables and their indexes.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return CreateIndexes(ctx, db)
}

// CreateIndexes builds any missing hot index.
func CreateIndexes(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range HotIndexes {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Analyze refreshes planner statistics for the ledger tables.
func Analyze(ctx context.Context, db *pgxpool.Pool) error {
	for _, table := range AnalyzedTables {
		if _, err := db.Exec(ctx, "ANALYZE "+table); err != nil {
			return fmt.Errorf("analyze %s: %w", table, err)
		}
	}
	return nil
}
