package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/service/command"
	"github.com/seu-repo/sigec-ve-client/internal/service/session"
)

// SessionService is the slice of session.Manager used over HTTP.
type SessionService interface {
	ResolveSession(ctx context.Context, id string) (session.View, error)
	Refresh(ctx context.Context, id string) (session.View, error)
	Dismiss(ctx context.Context, id string) error
	Release(id string)
	DispatchStart(ctx context.Context, id string, connectorID int, idTag string) (*command.Receipt, error)
	DispatchStop(ctx context.Context, id string, reason string) (*command.Receipt, error)
	DispatchReset(ctx context.Context, id string, resetType domain.ResetType) (*command.Receipt, error)
	Cached(ctx context.Context, id string) (*session.CachedResource, error)
}

// SessionHandler exposes session views and charger commands.
type SessionHandler struct {
	sessions SessionService
	log      *zap.Logger
}

func NewSessionHandler(sessions SessionService, log *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, log: log}
}

func (h *SessionHandler) Register(r fiber.Router) {
	r.Get("/sessions/:chargePointId", h.GetSession)
	r.Delete("/sessions/:chargePointId", h.DismissSession)
	r.Post("/sessions/:chargePointId/refresh", h.RefreshSession)
	r.Delete("/sessions/:chargePointId/watch", h.ReleaseSession)

	r.Post("/chargers/:id/start", h.Start)
	r.Post("/chargers/:id/stop", h.Stop)
	r.Post("/chargers/:id/reset", h.Reset)
	r.Get("/chargers/:id/cached", h.Cached)
}

// GetSession handles GET /api/v1/sessions/:chargePointId
func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	view, err := h.sessions.ResolveSession(c.UserContext(), c.Params("chargePointId"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// RefreshSession handles POST /api/v1/sessions/:chargePointId/refresh
func (h *SessionHandler) RefreshSession(c *fiber.Ctx) error {
	view, err := h.sessions.Refresh(c.UserContext(), c.Params("chargePointId"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// DismissSession handles DELETE /api/v1/sessions/:chargePointId
func (h *SessionHandler) DismissSession(c *fiber.Ctx) error {
	id := c.Params("chargePointId")
	if err := h.sessions.Dismiss(c.UserContext(), id); err != nil {
		return err
	}
	h.log.Info("Session dismissed", zap.String("charge_point_id", id))
	return c.SendStatus(fiber.StatusNoContent)
}

// ReleaseSession handles DELETE /api/v1/sessions/:chargePointId/watch
func (h *SessionHandler) ReleaseSession(c *fiber.Ctx) error {
	h.sessions.Release(c.Params("chargePointId"))
	return c.SendStatus(fiber.StatusNoContent)
}

type StartRequest struct {
	ConnectorID int    `json:"connector_id"`
	IDTag       string `json:"id_tag"`
}

// Start handles POST /api/v1/chargers/:id/start
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	var req StartRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.IDTag == "" {
		return fiber.NewError(fiber.StatusBadRequest, "id_tag is required")
	}

	receipt, err := h.sessions.DispatchStart(c.UserContext(), c.Params("id"), req.ConnectorID, req.IDTag)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(receipt)
}

type StopRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Stop handles POST /api/v1/chargers/:id/stop. The body is optional.
func (h *SessionHandler) Stop(c *fiber.Ctx) error {
	var req StopRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}

	receipt, err := h.sessions.DispatchStop(c.UserContext(), c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(receipt)
}

type ResetRequest struct {
	Type domain.ResetType `json:"type,omitempty"`
}

// Reset handles POST /api/v1/chargers/:id/reset
func (h *SessionHandler) Reset(c *fiber.Ctx) error {
	var req ResetRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}

	receipt, err := h.sessions.DispatchReset(c.UserContext(), c.Params("id"), req.Type)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(receipt)
}

// Cached handles GET /api/v1/chargers/:id/cached
func (h *SessionHandler) Cached(c *fiber.Ctx) error {
	entry, err := h.sessions.Cached(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(entry)
}
