package wallet

import (
	"github.com/shopspring/decimal"

	"github.com/betwallet/balance_engine/internal/ledger"
)

// Transfer holds both legs of a wallet-to-wallet move.
type Transfer struct {
	Withdraw ledger.Transaction
	Deposit  ledger.Transaction
}

// DepositRequest is one credit of a BatchDeposit.
type DepositRequest struct {
	UserID int64
	Amount decimal.Decimal
	Name   ledger.Name
	Meta   ledger.Metadata
}
