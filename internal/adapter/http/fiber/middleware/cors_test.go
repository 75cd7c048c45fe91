package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/seu-repo/sigec-ve-client/pkg/config"
)

func TestNewCORS_WildcardWithoutCredentials(t *testing.T) {
	app := fiber.New()
	app.Use(NewCORS(config.CORSConfig{Credentials: true}))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest(fiber.MethodGet, "/ping", nil)
	req.Header.Set(fiber.HeaderOrigin, "http://app.local")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if got := resp.Header.Get(fiber.HeaderAccessControlAllowOrigin); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
	if got := resp.Header.Get(fiber.HeaderAccessControlAllowCredentials); got != "" {
		t.Errorf("expected no credentials header, got %q", got)
	}
}
