package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/service/wallet"
)

type WalletService interface {
	StartTopUp(ctx context.Context, amount decimal.Decimal) (wallet.Flow, error)
	Complete(ctx context.Context, orderID string, payload domain.CheckoutPayload) (wallet.Flow, error)
	Dismiss(orderID string) (wallet.Flow, error)
	Current() (wallet.Flow, bool)
	Balance() *domain.WalletBalance
	RefreshBalance(ctx context.Context) (*domain.WalletBalance, error)
}

type WalletHandler struct {
	wallet WalletService
	log    *zap.Logger
}

func NewWalletHandler(w WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{wallet: w, log: log}
}

func (h *WalletHandler) Register(r fiber.Router) {
	r.Get("/wallet/balance", h.GetBalance)
	r.Post("/wallet/topups", h.StartTopUp)
	r.Get("/wallet/topups/current", h.CurrentTopUp)
	r.Post("/wallet/topups/:orderId/checkout", h.CompleteCheckout)
	r.Post("/wallet/topups/:orderId/dismiss", h.DismissCheckout)
}

// GetBalance handles GET /api/v1/wallet/balance. ?refresh=true forces a fetch.
func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	balance := h.wallet.Balance()
	if balance == nil || c.QueryBool("refresh") {
		fresh, err := h.wallet.RefreshBalance(c.UserContext())
		if err != nil {
			return err
		}
		balance = fresh
	}
	return c.JSON(balance)
}

type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// StartTopUp handles POST /api/v1/wallet/topups
func (h *WalletHandler) StartTopUp(c *fiber.Ctx) error {
	var req TopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	flow, err := h.wallet.StartTopUp(c.UserContext(), req.Amount)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(flow)
}

// CurrentTopUp handles GET /api/v1/wallet/topups/current
func (h *WalletHandler) CurrentTopUp(c *fiber.Ctx) error {
	flow, ok := h.wallet.Current()
	if !ok {
		return c.JSON(fiber.Map{"state": wallet.StateIdle})
	}
	return c.JSON(flow)
}

// CompleteCheckout handles POST /api/v1/wallet/topups/:orderId/checkout with
// the gateway success payload.
func (h *WalletHandler) CompleteCheckout(c *fiber.Ctx) error {
	var payload domain.CheckoutPayload
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	flow, err := h.wallet.Complete(c.UserContext(), c.Params("orderId"), payload)
	if err != nil {
		return err
	}

	status := fiber.StatusOK
	if flow.State == wallet.StateSettlementPending {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(flow)
}

// DismissCheckout handles POST /api/v1/wallet/topups/:orderId/dismiss
func (h *WalletHandler) DismissCheckout(c *fiber.Ctx) error {
	flow, err := h.wallet.Dismiss(c.Params("orderId"))
	if err != nil {
		return err
	}
	return c.JSON(flow)
}
