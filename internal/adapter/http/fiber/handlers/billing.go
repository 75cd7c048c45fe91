package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

type BillingService interface {
	Subscribe(ctx context.Context, txID domain.TransactionID) <-chan domain.Settlement
}

// BillingHandler long-polls the settlement of a transaction.
type BillingHandler struct {
	billing BillingService
	wait    time.Duration
	log     *zap.Logger
}

func NewBillingHandler(billing BillingService, wait time.Duration, log *zap.Logger) *BillingHandler {
	if wait <= 0 {
		wait = 25 * time.Second
	}
	return &BillingHandler{billing: billing, wait: wait, log: log}
}

func (h *BillingHandler) Register(r fiber.Router) {
	r.Get("/billing/:transactionId", h.GetSettlement)
}

// GetSettlement handles GET /api/v1/billing/:transactionId. It answers 200 with
// the settlement once the transaction is terminal, or 202 when the wait ran out.
func (h *BillingHandler) GetSettlement(c *fiber.Ctx) error {
	txID, err := domain.ParseTransactionID(c.Params("transactionId"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.wait)
	defer cancel()

	settlement, ok := <-h.billing.Subscribe(ctx, txID)
	if !ok {
		h.log.Debug("Settlement not ready", zap.Stringer("transaction_id", txID))
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"transaction_id": txID,
			"status":         "pending",
		})
	}
	return c.JSON(settlement)
}
