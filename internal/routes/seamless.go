package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/betwallet/balance_engine/internal/seamless"
)

// RegisterSeamlessRoutes wires the game provider webhooks.
func RegisterSeamlessRoutes(r fiber.Router, h *seamless.Handler) {
	r.Post("/seamless/pushbetdata", h.PushBetData)
}
