package health

import (
	"github.com/gofiber/fiber/v2"
)

// Handler serves the liveness and readiness probes.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r fiber.Router) {
	r.Use("/health", noStore)
	r.Get("/health/live", h.live)
	r.Get("/health/ready", h.ready)
	r.Get("/health/ready/:check", h.check)

	// Kubernetes aliases
	r.Get("/healthz", h.live)
	r.Get("/readyz", h.ready)
}

func noStore(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Next()
}

func (h *Handler) live(c *fiber.Ctx) error {
	return c.JSON(h.service.Health(c.UserContext()))
}

func (h *Handler) ready(c *fiber.Ctx) error {
	response := h.service.Ready(c.UserContext())
	if !response.Ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}

// check runs a single named dependency check, e.g. /health/ready/backend.
func (h *Handler) check(c *fiber.Ctx) error {
	result, ok := h.service.Check(c.UserContext(), c.Params("check"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown check "+c.Params("check"))
	}
	if result.Status == StatusUnhealthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(result)
	}
	return c.JSON(result)
}
