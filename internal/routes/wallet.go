package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/betwallet/balance_engine/internal/wallet"
)

// RegisterWalletRoutes wires the user-facing wallet endpoints. Mutations go
// through the idempotency guard.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idempotency fiber.Handler) {
	wallets := r.Group("/wallets")
	wallets.Get("/:userId/balance", h.Balance)
	wallets.Post("/transfer", idempotency, h.Transfer)
	wallets.Post("/:userId/deposit", idempotency, h.Deposit)
	wallets.Post("/:userId/withdraw", idempotency, h.Withdraw)
}
