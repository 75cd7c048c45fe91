package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	fibercors "github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/seu-repo/sigec-ve-client/pkg/config"
)

// Headers the session and wallet API reads or answers with. Idempotency-Key is
// accepted on top-up creation; X-Request-ID is echoed by requestid.
var (
	defaultMethods = []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodDelete, fiber.MethodOptions}
	defaultHeaders = []string{
		fiber.HeaderOrigin, fiber.HeaderContentType, fiber.HeaderAccept, fiber.HeaderAuthorization,
		fiber.HeaderXRequestID, "Idempotency-Key",
		// websocket handshake
		"Sec-WebSocket-Protocol",
	}
	defaultExpose = []string{fiber.HeaderContentLength, fiber.HeaderXRequestID}
)

const defaultMaxAge = 24 * 60 * 60

// NewCORS builds the CORS middleware of the API. Empty lists fall back to the
// defaults above; credentials are refused with a wildcard origin.
func NewCORS(cfg config.CORSConfig) fiber.Handler {
	origins := joinOr(cfg.AllowedOrigins, []string{"*"})
	credentials := cfg.Credentials && origins != "*"

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	return fibercors.New(fibercors.Config{
		AllowOrigins:     origins,
		AllowMethods:     joinOr(cfg.AllowedMethods, defaultMethods),
		AllowHeaders:     joinOr(cfg.AllowedHeaders, defaultHeaders),
		ExposeHeaders:    joinOr(cfg.ExposeHeaders, defaultExpose),
		AllowCredentials: credentials,
		MaxAge:           maxAge,
	})
}

func joinOr(values, fallback []string) string {
	if len(values) == 0 {
		values = fallback
	}
	return strings.Join(values, ",")
}
