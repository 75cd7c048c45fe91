package health

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func ok(ctx context.Context) error   { return nil }
func fail(ctx context.Context) error { return errors.New("connection refused") }

func TestReady_NonCriticalFailureDegrades(t *testing.T) {
	log := zap.NewNop()
	s := NewService(&Config{Version: "test"}, log)
	s.RegisterChecker("backend", PingChecker("backend", true, ok, log))
	s.RegisterChecker("cache", PingChecker("cache", false, fail, log))

	resp := s.Ready(context.Background())

	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusDegraded, resp.Checks["cache"].Status)
}

func TestReady_CriticalFailure(t *testing.T) {
	log := zap.NewNop()
	s := NewService(&Config{}, log)
	s.RegisterChecker("backend", PingChecker("backend", true, fail, log))

	resp := s.Ready(context.Background())

	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestFiberHandler_ReadyStatusCode(t *testing.T) {
	log := zap.NewNop()
	s := NewService(&Config{}, log)
	s.RegisterChecker("backend", PingChecker("backend", true, fail, log))
	app := fiber.New()
	NewHandler(s).Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/health/ready", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/health/live", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHandler_SingleCheck(t *testing.T) {
	log := zap.NewNop()
	s := NewService(&Config{}, log)
	s.RegisterChecker("cache", PingChecker("cache", false, fail, log))
	app := fiber.New()
	NewHandler(s).Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/health/ready/cache", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp, err = app.Test(httptest.NewRequest("GET", "/health/ready/vault", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
