package seamless

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the provider webhook.
type Handler struct {
	service *Service
}

// NewHandler builds the webhook handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// PushBetData always answers 200; the outcome is in the body code.
func (h *Handler) PushBetData(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusOK).JSON(Response{
			Code:    InternalServerError,
			Message: "Validation failed",
			Errors:  map[string][]string{"body": {err.Error()}},
		})
	}
	return c.Status(http.StatusOK).JSON(h.service.PushBetData(c.UserContext(), req))
}
