package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.KindPreconditionFailed:    fiber.StatusUnprocessableEntity,
	domain.KindAlreadyInProgress:     fiber.StatusConflict,
	domain.KindNotConnected:          fiber.StatusConflict,
	domain.KindDeviceRejected:        fiber.StatusConflict,
	domain.KindTransient:             fiber.StatusServiceUnavailable,
	domain.KindVerificationAmbiguous: fiber.StatusAccepted,
	domain.KindSignatureRejected:     fiber.StatusConflict,
	domain.KindNotFound:              fiber.StatusNotFound,
	domain.KindUnauthorized:          fiber.StatusBadGateway,
}

// StatusFor returns the HTTP status and machine code for err.
func StatusFor(err error) (int, domain.ErrorKind) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, ""
	}
	kind := domain.KindOf(err)
	if code, ok := kindStatus[kind]; ok {
		return code, kind
	}
	return fiber.StatusInternalServerError, domain.KindInternal
}

func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, kind := StatusFor(err)

		if code == fiber.StatusInternalServerError {
			log.Error("Internal Server Error", zap.Error(err), zap.String("path", c.Path()))
		}

		body := fiber.Map{"error": err.Error()}
		if kind != "" {
			body["code"] = kind
		}
		return c.Status(code).JSON(body)
	}
}
