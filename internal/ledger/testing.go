package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Seed opens a wallet for the user and credits it with amount. Test helper.
func Seed(ctx context.Context, s Store, userID int64, amount decimal.Decimal) (Wallet, error) {
	var wallet Wallet
	err := s.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.EnsureWallet(ctx, UserHolder(userID))
		if err != nil {
			return err
		}
		wallet = w
		if amount.IsZero() {
			return nil
		}
		_, err = tx.Append(ctx, Entry{
			WalletID:     w.ID,
			Holder:       UserHolder(userID),
			Amount:       amount,
			Name:         NameDeposit,
			TargetUserID: userID,
			Meta:         Metadata{Name: NameDeposit, TargetUserID: userID},
		})
		return err
	})
	return wallet, err
}
