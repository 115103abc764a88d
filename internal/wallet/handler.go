package wallet

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/betwallet/balance_engine/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Name   string          `json:"name"`
}

type transferRequest struct {
	FromUserID int64           `json:"from_user_id"`
	ToUserID   int64           `json:"to_user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Name       string          `json:"name"`
}

type entryResponse struct {
	TransactionID int64           `json:"transaction_id"`
	UUID          string          `json:"uuid"`
	WalletID      int64           `json:"wallet_id"`
	Type          string          `json:"type"`
	Name          ledger.Name     `json:"name"`
	Amount        decimal.Decimal `json:"amount"`
}

func toEntryResponse(row ledger.Transaction) entryResponse {
	return entryResponse{
		TransactionID: row.ID,
		UUID:          row.UUID,
		WalletID:      row.WalletID,
		Type:          row.Type,
		Name:          row.Name,
		Amount:        row.Amount,
	}
}

// Balance returns the user's cached balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	userID, err := userParam(c)
	if err != nil {
		return err
	}
	balance, err := h.service.CachedBalance(c.UserContext(), userID)
	if err != nil {
		return h.translate(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

// Deposit credits the user in the path.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	userID, err := userParam(c)
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	name, err := parseName(req.Name, ledger.NameDeposit)
	if err != nil {
		return err
	}
	row, err := h.service.Deposit(c.UserContext(), userID, req.Amount, name, ledger.Metadata{})
	if err != nil {
		return h.translate(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toEntryResponse(row))
}

// Withdraw debits the user in the path.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	userID, err := userParam(c)
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	name, err := parseName(req.Name, ledger.NameWithdraw)
	if err != nil {
		return err
	}
	row, err := h.service.Withdraw(c.UserContext(), userID, req.Amount, name, ledger.Metadata{})
	if err != nil {
		return h.translate(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toEntryResponse(row))
}

// Transfer moves funds between two users.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.FromUserID <= 0 || req.ToUserID <= 0 {
		return fiber.NewError(http.StatusBadRequest, "from_user_id and to_user_id are required")
	}
	name, err := parseName(req.Name, ledger.NameTransfer)
	if err != nil {
		return err
	}
	res, err := h.service.Transfer(c.UserContext(), req.FromUserID, req.ToUserID, req.Amount, name, ledger.Metadata{})
	if err != nil {
		return h.translate(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"withdraw": toEntryResponse(res.Withdraw),
		"deposit":  toEntryResponse(res.Deposit),
	})
}

func userParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("userId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid user id")
	}
	return id, nil
}

func parseName(raw string, fallback ledger.Name) (ledger.Name, error) {
	switch name := ledger.Name(raw); name {
	case "":
		return fallback, nil
	case ledger.NameDeposit, ledger.NameWithdraw, ledger.NameTransfer, ledger.NameSettled:
		return name, nil
	default:
		return "", fiber.NewError(http.StatusBadRequest, "unknown transaction name")
	}
}

// translate maps domain errors to HTTP errors. Anything unexpected is logged
// and answered with a generic message.
func (h *Handler) translate(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusBadRequest, "insufficient balance")
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, "amount must be positive")
	case errors.Is(err, ErrSelfTransfer):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	default:
		h.logger.Error("wallet request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "internal server error")
	}
}
